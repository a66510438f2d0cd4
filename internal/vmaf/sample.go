package vmaf

import "time"

// Window is one representative slice of the source selected for
// calibration.
type Window struct {
	Start    time.Duration
	Duration time.Duration
}

// fractionalPositions are the candidate window start points, in order:
// fractional positions {0.1, 0.5, 0.9} of the source duration.
var fractionalPositions = []float64{0.1, 0.5, 0.9}

// SelectWindows picks N = clamp(floor(budget/window), 1, 3) windows at
// the leading fractionalPositions entries, each clamped to lie fully
// within [0, duration). A source shorter than one window yields a
// single whole-file window.
func SelectWindows(duration time.Duration, window, budget time.Duration) []Window {
	if window <= 0 {
		window = time.Second
	}
	d := duration.Seconds()
	w := window.Seconds()

	if d <= 0 || d < w {
		return []Window{{Start: 0, Duration: duration}}
	}

	n := int(budget.Seconds() / w)
	if n < 1 {
		n = 1
	}
	if n > len(fractionalPositions) {
		n = len(fractionalPositions)
	}

	windows := make([]Window, 0, n)
	for _, frac := range fractionalPositions[:n] {
		start := d * frac
		if start+w > d {
			start = d - w
		}
		if start < 0 {
			start = 0
		}
		windows = append(windows, Window{
			Start:    time.Duration(start * float64(time.Second)),
			Duration: window,
		})
	}
	return windows
}

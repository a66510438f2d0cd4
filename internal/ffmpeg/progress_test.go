package ffmpeg

import (
	"strings"
	"testing"
	"time"
)

func TestProgressParser_BasicSample(t *testing.T) {
	input := strings.Join([]string{
		"frame=100",
		"fps=25.5",
		"total_size=102400",
		"out_time_us=2000000",
		"bitrate=1234.5kbits/s",
		"speed=1.2x",
		"progress=continue",
		"",
	}, "\n")

	out := make(chan Progress, 8)
	p := NewProgressParser(10 * time.Second)
	p.Run(strings.NewReader(input), out)

	select {
	case sample := <-out:
		if sample.Frame != 100 {
			t.Errorf("Frame = %d, want 100", sample.Frame)
		}
		if sample.FPS != 25.5 {
			t.Errorf("FPS = %v, want 25.5", sample.FPS)
		}
		if sample.Bitrate != 1234.5 {
			t.Errorf("Bitrate = %v, want 1234.5", sample.Bitrate)
		}
		if sample.Speed != 1.2 {
			t.Errorf("Speed = %v, want 1.2", sample.Speed)
		}
		if sample.Time != 2*time.Second {
			t.Errorf("Time = %v, want 2s", sample.Time)
		}
		if sample.Percent != 20 {
			t.Errorf("Percent = %v, want 20", sample.Percent)
		}
		if sample.Done {
			t.Error("Done should be false for progress=continue")
		}
	default:
		t.Fatal("expected a sample on the channel")
	}
}

func TestProgressParser_MissingKeysCarryForward(t *testing.T) {
	input := strings.Join([]string{
		"frame=1", "out_time_us=1000000", "speed=1.0x", "progress=continue",
		"frame=2", "progress=continue", // no out_time_us/speed this round
		"",
	}, "\n")

	out := make(chan Progress, 8)
	p := NewProgressParser(10 * time.Second)
	p.Run(strings.NewReader(input), out)

	var last Progress
	for i := 0; i < 2; i++ {
		last = <-out
	}
	if last.Frame != 2 {
		t.Errorf("Frame = %d, want 2 (updated)", last.Frame)
	}
	if last.Time != 1*time.Second {
		t.Errorf("Time = %v, want carried-forward 1s", last.Time)
	}
	if last.Speed != 1.0 {
		t.Errorf("Speed = %v, want carried-forward 1.0", last.Speed)
	}
}

func TestProgressParser_NAValuesIgnored(t *testing.T) {
	input := strings.Join([]string{
		"out_time_us=N/A", "bitrate=N/A", "speed=N/A", "progress=continue", "",
	}, "\n")

	out := make(chan Progress, 8)
	p := NewProgressParser(10 * time.Second)
	p.Run(strings.NewReader(input), out)

	sample := <-out
	if sample.Time != 0 || sample.Bitrate != 0 || sample.Speed != 0 {
		t.Errorf("N/A values should leave zero-value defaults, got %+v", sample)
	}
}

func TestProgressParser_EndSetsDone(t *testing.T) {
	input := "out_time_us=5000000\nprogress=end\n"
	out := make(chan Progress, 8)
	p := NewProgressParser(5 * time.Second)
	p.Run(strings.NewReader(input), out)

	sample := <-out
	if !sample.Done {
		t.Error("expected Done=true on progress=end")
	}
	if sample.Percent != 100 {
		t.Errorf("Percent = %v, want 100 at full duration", sample.Percent)
	}
}

func TestProgressParser_CoalescingDropsOldestWhenFull(t *testing.T) {
	out := make(chan Progress, 1)
	p := NewProgressParser(100 * time.Second)

	var sb strings.Builder
	for i := 1; i <= 3; i++ {
		sb.WriteString("frame=")
		sb.WriteString(itoa(i))
		sb.WriteString("\nprogress=continue\n")
	}
	p.Run(strings.NewReader(sb.String()), out)

	if len(out) != 1 {
		t.Fatalf("expected exactly 1 buffered sample, got %d", len(out))
	}
	last := <-out
	if last.Frame != 3 {
		t.Errorf("Frame = %d, want 3 (freshest sample retained)", last.Frame)
	}
}

func TestProgressParser_IgnoresUnknownKeys(t *testing.T) {
	input := "some_future_key=99\nframe=7\nprogress=continue\n"
	out := make(chan Progress, 8)
	p := NewProgressParser(10 * time.Second)
	p.Run(strings.NewReader(input), out)

	sample := <-out
	if sample.Frame != 7 {
		t.Errorf("Frame = %d, want 7", sample.Frame)
	}
}

package ffmpeg

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// Progress is one coalesced sample of encoder progress, grounded on the
// teacher's transcode.go Progress struct but computed from whichever
// pass-relevant duration the caller supplies rather than the full
// source duration (a calibration-sample pass measures progress against
// the window, not the whole file).
type Progress struct {
	Frame   int64
	FPS     float64
	Size    int64
	Time    time.Duration
	Bitrate float64 // kbit/s
	Speed   float64 // 1.0 = realtime
	Percent float64
	ETA     time.Duration
	Done    bool // true on the sample carrying progress=end
}

// ProgressParser turns a `-progress pipe:1` key=value stream into
// discrete Progress samples. It is stateless between samples except for
// missing-key carry-forward: a key absent from the current group keeps
// the previous sample's value.
type ProgressParser struct {
	targetDuration time.Duration
	last           Progress
}

// NewProgressParser creates a parser that computes Percent/ETA against
// targetDuration (the full file for a normal pass, the window length
// for a calibration sample).
func NewProgressParser(targetDuration time.Duration) *ProgressParser {
	return &ProgressParser{targetDuration: targetDuration}
}

// Run reads key=value lines from r until EOF, emitting one coalesced
// Progress sample per `progress=continue|end` sentinel onto out. out
// must be a buffered channel; when full, the oldest pending sample is
// dropped in favor of the new one, so the subprocess's stdout pipe is
// never backed up and late consumers see the freshest state. out is
// closed before Run returns, so a caller ranging over it (Pool.drainProgress)
// unblocks once the stream ends; out may be nil for an invocation with no
// progress consumer.
func (p *ProgressParser) Run(r io.Reader, out chan Progress) {
	if out != nil {
		defer close(out)
	}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := line[:idx]
		value := strings.TrimSpace(line[idx+1:])

		switch key {
		case "frame":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				p.last.Frame = n
			}
		case "fps":
			if f, err := strconv.ParseFloat(value, 64); err == nil {
				p.last.FPS = f
			}
		case "total_size":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil {
				p.last.Size = n
			}
		case "out_time_us":
			if value != "N/A" {
				if us, err := strconv.ParseInt(value, 10, 64); err == nil {
					p.last.Time = time.Duration(us) * time.Microsecond
				}
			}
		case "bitrate":
			if value != "N/A" {
				if f, err := strconv.ParseFloat(strings.TrimSuffix(value, "kbits/s"), 64); err == nil {
					p.last.Bitrate = f
				}
			}
		case "speed":
			if value != "N/A" {
				if f, err := strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64); err == nil {
					p.last.Speed = f
				}
			}
		case "progress":
			if value != "continue" && value != "end" {
				continue
			}
			p.last.Done = value == "end"
			p.computeDerived()
			sendNonBlocking(out, p.last)
		}
	}
}

func (p *ProgressParser) computeDerived() {
	if p.targetDuration <= 0 {
		return
	}
	p.last.Percent = float64(p.last.Time) / float64(p.targetDuration) * 100
	if p.last.Percent > 100 {
		p.last.Percent = 100
	}
	if p.last.Speed > 0 {
		remaining := p.targetDuration - p.last.Time
		if remaining < 0 {
			remaining = 0
		}
		p.last.ETA = time.Duration(float64(remaining) / p.last.Speed)
	}
}

// sendNonBlocking feeds out, dropping the oldest pending sample instead
// of the new one when the buffer is full.
func sendNonBlocking(out chan Progress, sample Progress) {
	select {
	case out <- sample:
		return
	default:
	}
	select {
	case <-out:
	default:
	}
	select {
	case out <- sample:
	default:
	}
}

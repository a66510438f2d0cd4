package ffmpeg

import (
	"bufio"
	"io"
)

// ringBuffer keeps only the last n lines written to it, for surfacing a
// bounded stderr tail on failure.
type ringBuffer struct {
	lines []string
	cap   int
}

func newRingBuffer(cap int) *ringBuffer {
	return &ringBuffer{cap: cap}
}

func (rb *ringBuffer) add(line string) {
	rb.lines = append(rb.lines, line)
	if len(rb.lines) > rb.cap {
		rb.lines = rb.lines[len(rb.lines)-rb.cap:]
	}
}

// Lines returns the retained tail, oldest first.
func (rb *ringBuffer) Lines() []string {
	return append([]string(nil), rb.lines...)
}

// drainStderrTail reads r to EOF, retaining only the last n lines.
func drainStderrTail(r io.Reader, n int) *ringBuffer {
	rb := newRingBuffer(n)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		rb.add(scanner.Text())
	}
	return rb
}

// Package window keeps the most recent classified lines of a service.
package window

import "github.com/oicur0t/loglwatch/internal/classify"

// Window is a fixed-capacity ring of classified lines in arrival order.
// It is owned by a single worker and is not safe for concurrent use.
type Window struct {
	buf   []classify.Line
	start int
	size  int
}

// New creates a window holding at most capacity lines
func New(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{buf: make([]classify.Line, capacity)}
}

// Push appends lines, dropping the oldest once the window is full
func (w *Window) Push(lines ...classify.Line) {
	for _, l := range lines {
		if w.size < len(w.buf) {
			w.buf[(w.start+w.size)%len(w.buf)] = l
			w.size++
			continue
		}
		w.buf[w.start] = l
		w.start = (w.start + 1) % len(w.buf)
	}
}

// Lines returns a copy of the window, oldest first
func (w *Window) Lines() []classify.Line {
	out := make([]classify.Line, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

// Tail returns the text of the last n lines, oldest first
func (w *Window) Tail(n int) []string {
	if n > w.size {
		n = w.size
	}
	if n < 0 {
		n = 0
	}
	out := make([]string, n)
	offset := w.size - n
	for i := 0; i < n; i++ {
		out[i] = w.buf[(w.start+offset+i)%len(w.buf)].Text
	}
	return out
}

// Len returns the number of lines held
func (w *Window) Len() int {
	return w.size
}

// Cap returns the window capacity
func (w *Window) Cap() int {
	return len(w.buf)
}

// Reset empties the window
func (w *Window) Reset() {
	clear(w.buf)
	w.start = 0
	w.size = 0
}

package window

import (
	"fmt"
	"testing"

	"github.com/oicur0t/loglwatch/internal/classify"
	"github.com/stretchr/testify/assert"
)

func lines(n int) []classify.Line {
	out := make([]classify.Line, n)
	for i := range out {
		out[i] = classify.Line{Text: fmt.Sprintf("line %d", i)}
	}
	return out
}

func texts(ls []classify.Line) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.Text
	}
	return out
}

func TestWindowKeepsArrivalOrder(t *testing.T) {
	w := New(3)
	w.Push(lines(2)...)
	assert.Equal(t, []string{"line 0", "line 1"}, texts(w.Lines()))
	assert.Equal(t, 2, w.Len())
}

func TestWindowDropsOldest(t *testing.T) {
	w := New(3)
	for _, l := range lines(5) {
		w.Push(l)
	}
	assert.Equal(t, []string{"line 2", "line 3", "line 4"}, texts(w.Lines()))
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, 3, w.Cap())
}

func TestWindowTail(t *testing.T) {
	w := New(4)
	w.Push(lines(6)...)

	assert.Equal(t, []string{"line 4", "line 5"}, w.Tail(2))
	assert.Equal(t, []string{"line 2", "line 3", "line 4", "line 5"}, w.Tail(10))
	assert.Empty(t, w.Tail(0))
}

func TestWindowLinesIsACopy(t *testing.T) {
	w := New(2)
	w.Push(lines(2)...)
	got := w.Lines()
	got[0].Text = "mutated"
	assert.Equal(t, "line 0", w.Lines()[0].Text)
}

func TestWindowReset(t *testing.T) {
	w := New(2)
	w.Push(lines(3)...)
	w.Reset()
	assert.Equal(t, 0, w.Len())
	assert.Empty(t, w.Lines())

	w.Push(classify.Line{Text: "fresh"})
	assert.Equal(t, []string{"fresh"}, w.Tail(5))
}

func TestNewClampsCapacity(t *testing.T) {
	w := New(0)
	w.Push(lines(2)...)
	assert.Equal(t, []string{"line 1"}, texts(w.Lines()))
}

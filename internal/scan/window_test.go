package scan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindow_CountsWithinBound(t *testing.T) {
	w := newWindow(6)

	assert.Equal(t, 1, w.push("a"))
	assert.Equal(t, 1, w.push("b"))
	assert.Equal(t, 2, w.push("a"))
	assert.Equal(t, 3, w.push("a"))
	assert.Equal(t, 4, w.len())
}

func TestWindow_OldReadsFallOut(t *testing.T) {
	w := newWindow(6)

	w.push("a")
	w.push("a")
	for range 5 {
		w.push("x")
	}
	// Only one "a" is left among the last six reads; the next one evicts it.
	assert.Equal(t, 6, w.len())
	assert.Equal(t, 1, w.count("a"))
	assert.Equal(t, 1, w.push("a"))
	assert.Equal(t, 5, w.count("x"))
}

func TestWindow_Reset(t *testing.T) {
	w := newWindow(3)
	w.push("a")
	w.push("a")
	w.reset()

	assert.Zero(t, w.len())
	assert.Equal(t, 1, w.push("a"))
}

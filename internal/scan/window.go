package scan

// window is the bounded history of the last raw reads in a session.
type window struct {
	reads []string
	size  int
	next  int
	full  bool
}

func newWindow(size int) *window {
	return &window{reads: make([]string, size), size: size}
}

// push records a read and returns how often it now appears in the window.
func (w *window) push(code string) int {
	w.reads[w.next] = code
	w.next = (w.next + 1) % w.size
	if w.next == 0 {
		w.full = true
	}
	return w.count(code)
}

func (w *window) count(code string) int {
	n := 0
	for _, r := range w.reads[:w.len()] {
		if r == code {
			n++
		}
	}
	return n
}

func (w *window) len() int {
	if w.full {
		return w.size
	}
	return w.next
}

func (w *window) reset() {
	clear(w.reads)
	w.next = 0
	w.full = false
}

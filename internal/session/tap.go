package session

import (
	"sync"

	"github.com/gopxl/beep"
)

// Tap passes a stream through unchanged while keeping a ring of the most
// recent mono samples for the amplitude extractor. It is written by the
// audio goroutine and read by the frame loop.
type Tap struct {
	src beep.Streamer
	rec *Recorder

	mu      sync.Mutex
	ring    []float32
	pos     int
	filled  int
	scratch []float32
}

// NewTap wraps src with a ring of size samples. rec may be nil.
func NewTap(src beep.Streamer, size int, rec *Recorder) *Tap {
	if size < 1 {
		size = 1
	}
	return &Tap{src: src, rec: rec, ring: make([]float32, size)}
}

// Stream implements beep.Streamer.
func (t *Tap) Stream(samples [][2]float64) (int, bool) {
	n, ok := t.src.Stream(samples)
	if n == 0 {
		return n, ok
	}

	t.mu.Lock()
	if cap(t.scratch) < n {
		t.scratch = make([]float32, n)
	}
	mono := t.scratch[:n]
	for i, frame := range samples[:n] {
		v := float32((frame[0] + frame[1]) / 2)
		mono[i] = v
		t.ring[t.pos] = v
		t.pos = (t.pos + 1) % len(t.ring)
	}
	t.filled = min(t.filled+n, len(t.ring))
	t.mu.Unlock()

	if t.rec != nil {
		t.rec.Write(mono)
	}
	return n, ok
}

// Err implements beep.Streamer.
func (t *Tap) Err() error { return t.src.Err() }

// Window copies the newest samples into dst, oldest first.
func (t *Tap) Window(dst []float32) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := min(len(dst), t.filled)
	start := (t.pos - n + len(t.ring)) % len(t.ring)
	for i := 0; i < n; i++ {
		dst[i] = t.ring[(start+i)%len(t.ring)]
	}
	return n
}

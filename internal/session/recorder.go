package session

import (
	"fmt"
	"io"
	"sync"

	"github.com/example/go-avatar-perf/internal/audio"
)

// Recorder streams the tapped output signal as a 16-bit mono WAV with an
// open-ended header, so an exporter can mux it without waiting for the end.
type Recorder struct {
	mu         sync.Mutex
	w          io.Writer
	sampleRate int
	header     bool
	frames     int64
	err        error
}

// NewRecorder returns a recorder writing to w at sampleRate.
func NewRecorder(w io.Writer, sampleRate int) *Recorder {
	return &Recorder{w: w, sampleRate: sampleRate}
}

// Write appends mono samples. After the first error every write is dropped.
func (r *Recorder) Write(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return
	}
	if !r.header {
		if _, err := audio.WriteWAVHeaderStreaming(r.w, r.sampleRate, 1); err != nil {
			r.err = fmt.Errorf("recorder header: %w", err)
			return
		}
		r.header = true
	}
	if _, err := audio.WritePCM16Samples(r.w, samples); err != nil {
		r.err = fmt.Errorf("recorder samples: %w", err)
		return
	}
	r.frames += int64(len(samples))
}

// Silence appends n zero samples, keeping the recording aligned with the
// frame clock while nothing plays.
func (r *Recorder) Silence(n int) {
	if n <= 0 {
		return
	}
	r.Write(make([]float32, n))
}

// Frames returns the number of samples written so far.
func (r *Recorder) Frames() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Err returns the first write error.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Package excite turns a live audio signal into a bounded per-frame
// excitation value that drives mouth and body motion.
package excite

import "math"

const (
	// WindowSize is the number of most recent samples analysed per frame.
	WindowSize = 1024

	levelGain  = 4.2
	levelCurve = 1.2
)

// Level maps window RMS onto [0, 1]. The gain and power curve suppress the
// noise floor and expand mid to loud speech. Negative and NaN inputs map to 0.
func Level(rms float64) float64 {
	if math.IsNaN(rms) || rms <= 0 {
		return 0
	}
	v := math.Pow(rms*levelGain, levelCurve)
	if v > 1 || math.IsInf(v, 1) {
		return 1
	}
	return v
}

// RMS returns the root mean square of samples, or 0 for an empty window.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		if math.IsNaN(v) {
			continue
		}
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Source supplies the most recent time-domain samples of a playing signal.
// Window copies up to len(dst) of the newest samples into dst, oldest
// first, and returns how many were written.
type Source interface {
	Window(dst []float32) int
}

// Extractor produces one excitation sample per rendered frame while a
// source is attached. It is not safe for concurrent use; it belongs to the
// frame loop.
//
// Windows are raw time-domain samples. An analyser's smoothing time
// constant (0.85 in the browser AnalyserNode) only averages successive
// frequency-domain frames, so it never reaches the RMS path: each value
// depends on its own window alone and drops to 0 as soon as the window is
// silent.
type Extractor struct {
	src    Source
	window []float32
	last   float64
}

// New returns an idle extractor.
func New() *Extractor {
	return &Extractor{window: make([]float32, WindowSize)}
}

// Start attaches src. Any previous source is dropped.
func (e *Extractor) Start(src Source) {
	e.src = src
}

// Stop detaches the source. Every Next call after Stop returns exactly 0
// until Start is called again.
func (e *Extractor) Stop() {
	e.src = nil
	e.last = 0
}

// Active reports whether a source is attached.
func (e *Extractor) Active() bool { return e.src != nil }

// Next reads the current window and returns its excitation.
func (e *Extractor) Next() float64 {
	if e.src == nil {
		e.last = 0
		return 0
	}
	n := e.src.Window(e.window)
	if n <= 0 {
		e.last = 0
		return 0
	}
	e.last = Level(RMS(e.window[:min(n, len(e.window))]))
	return e.last
}

// Last returns the most recent value returned by Next.
func (e *Extractor) Last() float64 { return e.last }

package audio

import (
	"math"

	"github.com/gopxl/beep"
)

// Hook is an in-place post-processing step over mono samples.
type Hook func(samples []float32) []float32

// ApplyHooks runs hooks in order, feeding each the previous result.
func ApplyHooks(samples []float32, hooks ...Hook) []float32 {
	out := samples
	for _, hook := range hooks {
		out = hook(out)
	}

	return out
}

// PeakNormalize scales samples so the peak amplitude reaches 1.0.
// Silence is returned unchanged.
func PeakNormalize(samples []float32) []float32 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		return samples
	}

	gain := 1 / peak
	for i, s := range samples {
		samples[i] = float32(float64(s) * gain)
	}

	return samples
}

// dcBlockCutoff is the corner frequency of the DC blocker in Hz.
const dcBlockCutoff = 20.0

// DCBlock removes DC offset with a one-pole high-pass filter.
func DCBlock(samples []float32, sampleRate int) []float32 {
	if len(samples) == 0 || sampleRate < 1 {
		return samples
	}

	r := math.Exp(-2 * math.Pi * dcBlockCutoff / float64(sampleRate))
	var x1, y1 float64
	for i, s := range samples {
		x := float64(s)
		y := x - x1 + r*y1
		x1, y1 = x, y
		samples[i] = float32(y)
	}

	return samples
}

// FadeIn applies a linear fade-in ramp over the given duration in milliseconds.
func FadeIn(samples []float32, sampleRate int, ms float64) []float32 {
	n := min(fadeLen(sampleRate, ms), len(samples))
	for i := 0; i < n; i++ {
		samples[i] *= float32(i) / float32(n)
	}

	return samples
}

// FadeOut applies a linear fade-out ramp over the given duration in
// milliseconds. The last sample is always zero.
func FadeOut(samples []float32, sampleRate int, ms float64) []float32 {
	n := min(fadeLen(sampleRate, ms), len(samples))
	last := len(samples) - 1
	for i := 0; i < n; i++ {
		samples[last-i] *= float32(i) / float32(n)
	}

	return samples
}

func fadeLen(sampleRate int, ms float64) int {
	if sampleRate < 1 || ms <= 0 {
		return 0
	}
	return int(ms / 1000.0 * float64(sampleRate))
}

// ShelfKind selects the shelving filter response.
type ShelfKind int

const (
	LowShelf ShelfKind = iota
	HighShelf
)

func (k ShelfKind) String() string {
	if k == HighShelf {
		return "highshelf"
	}
	return "lowshelf"
}

// ShelfFilter is a stereo biquad shelving EQ (RBJ cookbook, slope 1)
// applied to a beep stream.
type ShelfFilter struct {
	src beep.Streamer

	b0, b1, b2, a1, a2 float64
	x1, x2, y1, y2     [2]float64
}

// NewShelfFilter wraps src with a shelving filter at freq Hz boosting or
// cutting by gainDB. A zero gain passes the signal through unchanged.
func NewShelfFilter(src beep.Streamer, kind ShelfKind, freq, gainDB float64, sampleRate int) *ShelfFilter {
	f := &ShelfFilter{src: src}
	f.design(kind, freq, gainDB, float64(sampleRate))
	return f
}

func (f *ShelfFilter) design(kind ShelfKind, freq, gainDB, sr float64) {
	// Keep the corner below Nyquist for low sample rates.
	freq = math.Min(math.Max(freq, 1), sr*0.45)

	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * freq / sr
	cosw, sinw := math.Cos(w0), math.Sin(w0)
	alpha := sinw / 2 * math.Sqrt2
	sqA := 2 * math.Sqrt(a) * alpha

	var b0, b1, b2, a0, a1, a2 float64
	switch kind {
	case HighShelf:
		b0 = a * ((a + 1) + (a-1)*cosw + sqA)
		b1 = -2 * a * ((a - 1) + (a+1)*cosw)
		b2 = a * ((a + 1) + (a-1)*cosw - sqA)
		a0 = (a + 1) - (a-1)*cosw + sqA
		a1 = 2 * ((a - 1) - (a+1)*cosw)
		a2 = (a + 1) - (a-1)*cosw - sqA
	default:
		b0 = a * ((a + 1) - (a-1)*cosw + sqA)
		b1 = 2 * a * ((a - 1) - (a+1)*cosw)
		b2 = a * ((a + 1) - (a-1)*cosw - sqA)
		a0 = (a + 1) + (a-1)*cosw + sqA
		a1 = -2 * ((a - 1) + (a+1)*cosw)
		a2 = (a + 1) + (a-1)*cosw - sqA
	}

	f.b0, f.b1, f.b2 = b0/a0, b1/a0, b2/a0
	f.a1, f.a2 = a1/a0, a2/a0
}

// Stream implements beep.Streamer.
func (f *ShelfFilter) Stream(samples [][2]float64) (int, bool) {
	n, ok := f.src.Stream(samples)
	for i := range samples[:n] {
		for ch := 0; ch < 2; ch++ {
			x := samples[i][ch]
			y := f.b0*x + f.b1*f.x1[ch] + f.b2*f.x2[ch] - f.a1*f.y1[ch] - f.a2*f.y2[ch]
			f.x2[ch], f.x1[ch] = f.x1[ch], x
			f.y2[ch], f.y1[ch] = f.y1[ch], y
			samples[i][ch] = y
		}
	}
	return n, ok
}

// Err implements beep.Streamer.
func (f *ShelfFilter) Err() error { return f.src.Err() }

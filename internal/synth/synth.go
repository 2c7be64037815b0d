// Package synth fabricates an audible approximation of spoken text from raw
// characters: one short voiced tone per letter, shaped by an emotion profile.
// There is no phoneme model; vowels map to a fixed pitch table and every
// other character to a pitch derived from its code point.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"unicode"

	"github.com/example/go-avatar-perf/internal/audio"
	"github.com/example/go-avatar-perf/internal/emotion"
	"github.com/example/go-avatar-perf/internal/text"
)

const (
	// BaseCharDuration is the length of one character slot at unit tempo.
	BaseCharDuration = 0.14
	// Padding is the trailing silence appended to every utterance.
	Padding = 0.28
	// GapFraction is the silence after each character, as a share of one
	// character's duration.
	GapFraction = 0.6

	DefaultSampleRate = 44100
)

var vowelFreq = map[rune]float64{
	'a': 220.00,
	'e': 246.94,
	'i': 261.63,
	'o': 196.00,
	'u': 174.61,
	'y': 233.08,
}

// CharFrequency returns the pitched tone frequency of r and whether r is
// treated as a vowel. pitchShift is in semitones and is not clamped here.
func CharFrequency(r rune, pitchShift float64) (float64, bool) {
	ratio := math.Pow(2, pitchShift/12)
	if f, ok := vowelFreq[unicode.ToLower(r)]; ok {
		return f * ratio, true
	}
	base := 140 + float64(int64(r)%25)*4
	return base * ratio * 0.92, false
}

// CharDuration returns the slot length in seconds for tempo after clamping.
func CharDuration(tempo float64) float64 {
	return BaseCharDuration / emotion.Clamp(tempo, emotion.MinTempo, emotion.MaxTempo)
}

// CharSamples returns the voiced span of one character in frames.
func CharSamples(tempo float64, sampleRate int) int {
	return int(math.Round(CharDuration(tempo) * float64(sampleRate)))
}

// Stride returns how far the write cursor moves per character: the voiced
// span plus the trailing gap.
func Stride(tempo float64, sampleRate int) int {
	n := CharSamples(tempo, sampleRate)
	return n + int(math.Round(GapFraction*float64(n)))
}

// FrameCount returns the exact output length for runes characters. The
// buffer does not grow with the gaps; characters whose stride runs past
// the end are cut off.
func FrameCount(runes int, tempo float64, sampleRate int) int {
	if runes <= 0 {
		return 0
	}
	secs := float64(runes)*CharDuration(tempo) + Padding
	return int(math.Round(secs * float64(sampleRate)))
}

type options struct {
	sampleRate int
	rng        *rand.Rand
	logger     *slog.Logger
}

// Option configures a Synthesizer.
type Option func(*options)

// WithSampleRate sets the output sample rate. Values below 8000 Hz are ignored.
func WithSampleRate(hz int) Option {
	return func(o *options) {
		if hz >= 8000 {
			o.sampleRate = hz
		}
	}
}

// WithRand injects the noise source. Tests use a seeded generator.
func WithRand(rng *rand.Rand) Option {
	return func(o *options) { o.rng = rng }
}

// WithLogger sets the logger for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Synthesizer renders text into mono clips. It is safe for concurrent use.
type Synthesizer struct {
	sampleRate int
	log        *slog.Logger

	mu  sync.Mutex // guards rng; held only to draw per-call seeds
	rng *rand.Rand
}

// New returns a Synthesizer with the given options applied.
func New(opts ...Option) *Synthesizer {
	o := options{
		sampleRate: DefaultSampleRate,
		logger:     slog.Default(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Synthesizer{sampleRate: o.sampleRate, log: o.logger, rng: o.rng}
}

// SampleRate returns the output sample rate.
func (s *Synthesizer) SampleRate() int { return s.sampleRate }

// Synthesize renders input with profile p. Text that is blank after
// whitespace normalization yields (nil, nil). The only error is context
// cancellation.
func (s *Synthesizer) Synthesize(ctx context.Context, input string, p emotion.Profile) (*audio.Clip, error) {
	norm, err := text.Normalize(input)
	if errors.Is(err, text.ErrEmptyText) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p = p.Clamped()
	runes := []rune(norm)

	buf := make([]float32, FrameCount(len(runes), p.TempoMultiplier, s.sampleRate))
	stride := Stride(p.TempoMultiplier, s.sampleRate)

	v := voice{
		sampleRate: float64(s.sampleRate),
		toneLen:    CharSamples(p.TempoMultiplier, s.sampleRate),
		vibSpeed:   5 + math.Abs(p.PitchShift)*0.5,
		vibDepth:   0.004 + math.Abs(p.PitchShift)*0.002,
		brightness: 0.55 + p.BrowLift*0.2,
		vowelAmp:   emotion.Clamp(0.6+p.MouthIntensity*0.35, 0.05, 0.98),
		consAmp:    emotion.Clamp(0.35+p.MouthIntensity*0.2, 0.05, 0.98),
	}

	s.mu.Lock()
	seed1, seed2 := s.rng.Uint64(), s.rng.Uint64()
	s.mu.Unlock()
	rng := rand.New(rand.NewPCG(seed1, seed2))

	for i, r := range runes {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("synthesize: %w", err)
		}
		start := i * stride
		if start >= len(buf) {
			break
		}
		if unicode.IsSpace(r) {
			continue
		}
		freq, vowel := CharFrequency(r, p.PitchShift)
		v.render(buf, start, freq, vowel, rng)
	}

	clip, err := audio.NewClip(buf, s.sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("synthesize: %w", err)
	}

	s.log.Debug("synthesized utterance",
		slog.String("clip_id", clip.ID()),
		slog.Int("chars", len(runes)),
		slog.String("emotion", p.ID),
		slog.Duration("duration", clip.Duration()),
	)

	return clip, nil
}

// voice holds the per-utterance tone parameters.
type voice struct {
	sampleRate float64
	toneLen    int
	vibSpeed   float64
	vibDepth   float64
	brightness float64
	vowelAmp   float64
	consAmp    float64
}

// render writes one character tone into buf starting at frame start.
// Frames beyond the buffer are dropped.
func (v voice) render(buf []float32, start int, freq float64, vowel bool, rng *rand.Rand) {
	n := v.toneLen
	if n <= 0 {
		return
	}
	ramp := math.Min(0.25, 4/float64(n))

	amp, noiseAmp := v.consAmp, 0.12
	if vowel {
		amp, noiseAmp = v.vowelAmp, 0.015
	}

	var phase float64
	for i := 0; i < n; i++ {
		idx := start + i
		if idx >= len(buf) {
			return
		}

		pos := float64(i) / float64(n)
		env := 1.0
		switch {
		case pos < ramp:
			env = pos / ramp
		case pos > 1-ramp:
			env = (1 - pos) / ramp
		}

		t := float64(idx) / v.sampleRate
		vibrato := 1 + math.Sin(2*math.Pi*v.vibSpeed*t)*v.vibDepth
		phase += 2 * math.Pi * freq * vibrato / v.sampleRate

		sample := math.Sin(phase) * amp * env
		sample += (rng.Float64()*2 - 1) * noiseAmp * env
		if vowel {
			sample += math.Sin(2*phase) * v.brightness * 0.3 * amp * env
		}

		buf[idx] = float32(emotion.Clamp(sample, -1, 1))
	}
}

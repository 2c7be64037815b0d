// Package transform re-pitches, re-times and tone-colors uploaded audio
// according to an emotion profile.
//
// The transform is a plain resample: the source is played back at rate
// pitchRatio/tempo into a buffer of ceil(frames/tempo) frames. Pitch and
// tempo are therefore coupled; this is not an independent time-stretch.
// The output keeps the source sample rate and channel count.
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/effects"

	"github.com/example/go-avatar-perf/internal/audio"
	"github.com/example/go-avatar-perf/internal/emotion"
)

const (
	// ResampleQuality is the beep resampler interpolation quality.
	ResampleQuality = 4

	HighShelfFreq = 2800.0
	LowShelfFreq  = 180.0
	// ShelfGainPerBrow converts brow lift into shelf gain in dB.
	ShelfGainPerBrow = 18.0

	renderBlock = 4096
)

// Params are the derived render parameters for one profile.
type Params struct {
	PitchRatio   float64
	Tempo        float64
	PlaybackRate float64
	Gain         float64
	Shelf        audio.ShelfKind
	ShelfFreq    float64
	ShelfGainDB  float64
}

// ParamsFor derives render parameters from p after clamping.
func ParamsFor(p emotion.Profile) Params {
	p = p.Clamped()
	pitchRatio := math.Pow(2, p.PitchShift/12)
	tempo := p.TempoMultiplier

	params := Params{
		PitchRatio:   pitchRatio,
		Tempo:        tempo,
		PlaybackRate: pitchRatio / tempo,
		Gain:         emotion.Clamp(1+p.GestureIntensity*0.1, 0.5, 1.4),
		ShelfGainDB:  p.BrowLift * ShelfGainPerBrow,
	}
	if p.BrowLift >= 0 {
		params.Shelf, params.ShelfFreq = audio.HighShelf, HighShelfFreq
	} else {
		params.Shelf, params.ShelfFreq = audio.LowShelf, LowShelfFreq
	}
	return params
}

// OutputFrames returns the rendered length for a source of frames frames.
func OutputFrames(frames int, tempo float64) int {
	tempo = emotion.Clamp(tempo, emotion.MinTempo, emotion.MaxTempo)
	return int(math.Ceil(float64(frames) / tempo))
}

// Option configures a Transformer.
type Option func(*Transformer)

// WithLogger sets the logger for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transformer) { t.log = l }
}

// Transformer renders uploaded audio through the emotion chain.
// It holds no per-call state and is safe for concurrent use.
type Transformer struct {
	log *slog.Logger
}

// New returns a Transformer.
func New(opts ...Option) *Transformer {
	t := &Transformer{log: slog.Default()}
	for _, fn := range opts {
		fn(t)
	}
	return t
}

// Transform decodes data and renders it with profile p. Undecodable input
// returns a *audio.DecodeError; no partial clip is ever returned.
func (t *Transformer) Transform(ctx context.Context, data []byte, mime string, p emotion.Profile) (*audio.Clip, error) {
	src, err := audio.Decode(data, mime)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	return t.Render(ctx, src, p)
}

// Render applies the emotion chain to an already decoded clip. The source
// is left open; the caller keeps ownership. The output keeps the source
// channel count; clips with more than two channels are rendered one
// channel at a time because a beep stream carries at most two.
func (t *Transformer) Render(ctx context.Context, src *audio.Clip, p emotion.Profile) (*audio.Clip, error) {
	params := ParamsFor(p)
	rate := src.SampleRate()
	channels := src.Channels()
	frames := OutputFrames(src.Frames(), params.Tempo)

	var (
		out []float32
		err error
	)
	if channels <= 2 {
		out, err = renderStream(ctx, src.Streamer(), params, rate, frames, channels)
	} else {
		out, err = renderPerChannel(ctx, src, params, frames)
	}
	if err != nil {
		return nil, err
	}

	clip, err := audio.NewClip(out, rate, channels)
	if err != nil {
		return nil, fmt.Errorf("transform: %w", err)
	}

	t.log.Debug("transformed clip",
		slog.String("clip_id", clip.ID()),
		slog.String("source_id", src.ID()),
		slog.Float64("playback_rate", params.PlaybackRate),
		slog.String("shelf", params.Shelf.String()),
		slog.Float64("shelf_gain_db", params.ShelfGainDB),
		slog.Int("channels", channels),
		slog.Int("frames", frames),
	)

	return clip, nil
}

// renderStream runs src through resample, gain and shelf into exactly
// frames frames of interleaved output with one or two channels.
func renderStream(ctx context.Context, src beep.Streamer, params Params, rate, frames, channels int) ([]float32, error) {
	var s beep.Streamer = beep.ResampleRatio(ResampleQuality, params.PlaybackRate, src)
	s = &effects.Gain{Streamer: s, Gain: params.Gain - 1}
	s = audio.NewShelfFilter(s, params.Shelf, params.ShelfFreq, params.ShelfGainDB, rate)
	s = beep.Take(frames, s)

	out := make([]float32, frames*channels)
	block := make([][2]float64, renderBlock)
	pos := 0
	for pos < frames {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("transform: %w", err)
		}
		n, ok := s.Stream(block[:min(renderBlock, frames-pos)])
		for _, frame := range block[:n] {
			base := pos * channels
			if channels == 1 {
				out[base] = clampSample((frame[0] + frame[1]) / 2)
			} else {
				out[base] = clampSample(frame[0])
				out[base+1] = clampSample(frame[1])
			}
			pos++
		}
		if !ok || n == 0 {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("transform: render: %w", err)
	}
	// Frames past the end of the resampled source stay zero.
	return out, nil
}

func renderPerChannel(ctx context.Context, src *audio.Clip, params Params, frames int) ([]float32, error) {
	channels := src.Channels()
	in := src.Samples()
	out := make([]float32, frames*channels)

	for ch := 0; ch < channels; ch++ {
		mono := make([]float32, src.Frames())
		for i := range mono {
			mono[i] = in[i*channels+ch]
		}
		lane, err := audio.NewClip(mono, src.SampleRate(), 1)
		if err != nil {
			return nil, fmt.Errorf("transform: %w", err)
		}
		rendered, err := renderStream(ctx, lane.Streamer(), params, src.SampleRate(), frames, 1)
		lane.Close()
		if err != nil {
			return nil, err
		}
		for i, v := range rendered {
			out[i*channels+ch] = v
		}
	}
	return out, nil
}

func clampSample(v float64) float32 {
	if math.IsNaN(v) {
		return 0
	}
	return float32(emotion.Clamp(v, -1, 1))
}

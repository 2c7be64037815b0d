// Package emotion defines the parameter bundle that colors every stage of a
// performance: synthesis pitch and tempo, transform tone, mouth weight and
// gesture amplitude.
package emotion

import (
	"math"
	"math/rand/v2"
)

// Documented ranges for every numeric profile field.
const (
	MinTempo = 0.65
	MaxTempo = 1.45

	MinPitchShift = -6.0
	MaxPitchShift = 6.0

	MinGesture = 0.35
	MaxGesture = 1.4

	MinMouth = 0.4
	MaxMouth = 1.4

	MinBrowLift = -0.6
	MaxBrowLift = 1.2
)

// Profile is an immutable emotion parameter bundle. Consumers must call
// Clamped before reading numeric fields; derived variations are new values.
type Profile struct {
	ID          string `json:"id" yaml:"id"`
	Label       string `json:"label" yaml:"label"`
	Description string `json:"description,omitempty" yaml:"description"`

	TempoMultiplier  float64 `json:"tempoMultiplier" yaml:"tempo_multiplier"`
	PitchShift       float64 `json:"pitchShift" yaml:"pitch_shift"`
	GestureIntensity float64 `json:"gestureIntensity" yaml:"gesture_intensity"`
	MouthIntensity   float64 `json:"mouthIntensity" yaml:"mouth_intensity"`
	BrowLift         float64 `json:"browLift" yaml:"brow_lift"`

	// AccentColor is a display hint only.
	AccentColor string `json:"accentColor,omitempty" yaml:"accent_color"`
}

// Default returns the neutral profile: unit tempo, gesture and mouth weight,
// no pitch shift and no brow bias.
func Default() Profile {
	return Profile{
		ID:               "neutral",
		Label:            "Neutral",
		Description:      "Even delivery with relaxed idle motion",
		TempoMultiplier:  1,
		PitchShift:       0,
		GestureIntensity: 1,
		MouthIntensity:   1,
		BrowLift:         0,
		AccentColor:      "#8a94a6",
	}
}

// Clamped returns a copy with every numeric field inside its documented
// range. NaN falls back to the neutral value of the field.
func (p Profile) Clamped() Profile {
	p.TempoMultiplier = clampField(p.TempoMultiplier, MinTempo, MaxTempo, 1)
	p.PitchShift = clampField(p.PitchShift, MinPitchShift, MaxPitchShift, 0)
	p.GestureIntensity = clampField(p.GestureIntensity, MinGesture, MaxGesture, 1)
	p.MouthIntensity = clampField(p.MouthIntensity, MinMouth, MaxMouth, 1)
	p.BrowLift = clampField(p.BrowLift, MinBrowLift, MaxBrowLift, 0)
	return p
}

// Jitter derives a per-utterance variation of p. The receiver is left
// untouched and the result is already clamped.
func (p Profile) Jitter(rng *rand.Rand) Profile {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	base := p.Clamped()
	next := base
	next.TempoMultiplier = base.TempoMultiplier * (1 + symmetric(rng)*0.04)
	next.PitchShift = base.PitchShift + symmetric(rng)*0.35
	next.GestureIntensity = base.GestureIntensity * (1 + symmetric(rng)*0.08)
	next.MouthIntensity = base.MouthIntensity * (1 + symmetric(rng)*0.06)
	return next.Clamped()
}

// symmetric returns a uniform value in [-1, 1).
func symmetric(rng *rand.Rand) float64 {
	return rng.Float64()*2 - 1
}

func clampField(v, lo, hi, fallback float64) float64 {
	if math.IsNaN(v) {
		return fallback
	}
	return Clamp(v, lo, hi)
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

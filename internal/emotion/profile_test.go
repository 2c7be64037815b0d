package emotion

import (
	"errors"
	"math"
	"math/rand/v2"
	"strings"
	"testing"
)

func TestClamped(t *testing.T) {
	tests := []struct {
		name string
		in   Profile
		want Profile
	}{
		{
			name: "in range unchanged",
			in:   Default(),
			want: Default(),
		},
		{
			name: "upper bounds",
			in: Profile{
				TempoMultiplier: 5, PitchShift: 40, GestureIntensity: 9,
				MouthIntensity: 3, BrowLift: 7,
			},
			want: Profile{
				TempoMultiplier: MaxTempo, PitchShift: MaxPitchShift, GestureIntensity: MaxGesture,
				MouthIntensity: MaxMouth, BrowLift: MaxBrowLift,
			},
		},
		{
			name: "lower bounds",
			in: Profile{
				TempoMultiplier: 0, PitchShift: -12, GestureIntensity: -1,
				MouthIntensity: 0, BrowLift: -3,
			},
			want: Profile{
				TempoMultiplier: MinTempo, PitchShift: MinPitchShift, GestureIntensity: MinGesture,
				MouthIntensity: MinMouth, BrowLift: MinBrowLift,
			},
		},
		{
			name: "NaN falls back to neutral",
			in: Profile{
				TempoMultiplier: math.NaN(), PitchShift: math.NaN(), GestureIntensity: math.NaN(),
				MouthIntensity: math.NaN(), BrowLift: math.NaN(),
			},
			want: Profile{
				TempoMultiplier: 1, PitchShift: 0, GestureIntensity: 1,
				MouthIntensity: 1, BrowLift: 0,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Clamped()
			if got != tt.want {
				t.Errorf("Clamped() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestClamped_DoesNotMutateReceiver(t *testing.T) {
	p := Profile{TempoMultiplier: 5}
	_ = p.Clamped()
	if p.TempoMultiplier != 5 {
		t.Fatalf("receiver mutated: TempoMultiplier = %f", p.TempoMultiplier)
	}
}

func TestJitter_StaysInRangeAndLeavesSourceIntact(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	src := Profile{
		ID: "edge", TempoMultiplier: MaxTempo, PitchShift: MaxPitchShift,
		GestureIntensity: MaxGesture, MouthIntensity: MinMouth, BrowLift: 0.3,
	}
	orig := src

	for range 500 {
		j := src.Jitter(rng)
		if j != j.Clamped() {
			t.Fatalf("jittered profile out of range: %+v", j)
		}
		if j.ID != src.ID || j.BrowLift != src.BrowLift {
			t.Fatalf("jitter changed identity fields: %+v", j)
		}
	}
	if src != orig {
		t.Fatalf("source profile mutated: %+v", src)
	}
}

func TestJitter_NilRandDoesNotPanic(t *testing.T) {
	_ = Default().Jitter(nil)
}

func TestPresets_AreInRange(t *testing.T) {
	for _, p := range Presets() {
		if p != p.Clamped() {
			t.Errorf("preset %q outside documented ranges: %+v", p.ID, p)
		}
	}
}

func TestCatalog_Lookup(t *testing.T) {
	c := DefaultCatalog()

	p, err := c.Lookup("happy")
	if err != nil {
		t.Fatalf("Lookup(happy): %v", err)
	}
	if p.PitchShift <= 0 {
		t.Errorf("happy pitch = %f, want > 0", p.PitchShift)
	}

	first, err := c.Lookup("")
	if err != nil {
		t.Fatalf("Lookup(\"\"): %v", err)
	}
	if first.ID != "neutral" {
		t.Errorf("empty lookup = %q, want neutral", first.ID)
	}

	if _, err := c.Lookup("bored"); !errors.Is(err, ErrUnknownEmotion) {
		t.Error("expected error for unknown emotion")
	}
}

func TestNewCatalog_RejectsDuplicatesAndEmptyIDs(t *testing.T) {
	if _, err := NewCatalog([]Profile{{ID: "a"}, {ID: "a"}}); err == nil {
		t.Error("expected duplicate id error")
	}
	if _, err := NewCatalog([]Profile{{ID: " "}}); err == nil {
		t.Error("expected empty id error")
	}
}

func TestLoadCatalogFromReader(t *testing.T) {
	const doc = `
emotions:
  - id: happy
    label: Cheerful
    tempo_multiplier: 1.2
    pitch_shift: 2
    gesture_intensity: 1
    mouth_intensity: 1
    brow_lift: 0.5
  - id: sleepy
    tempo_multiplier: 0.7
    pitch_shift: -5
    gesture_intensity: 0.4
    mouth_intensity: 0.5
    brow_lift: -0.2
`
	c, err := LoadCatalogFromReader(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadCatalogFromReader: %v", err)
	}

	happy, err := c.Lookup("happy")
	if err != nil {
		t.Fatalf("Lookup(happy): %v", err)
	}
	if happy.Label != "Cheerful" {
		t.Errorf("happy label = %q, want override", happy.Label)
	}

	sleepy, err := c.Lookup("sleepy")
	if err != nil {
		t.Fatalf("Lookup(sleepy): %v", err)
	}
	if sleepy.Label != "sleepy" {
		t.Errorf("sleepy label = %q, want id fallback", sleepy.Label)
	}

	if got, want := len(c.List()), len(Presets())+1; got != want {
		t.Errorf("catalog size = %d, want %d", got, want)
	}
}

func TestLoadCatalogFromReader_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"duplicate ids", "emotions:\n  - id: x\n  - id: x\n"},
		{"empty id", "emotions:\n  - label: nameless\n"},
		{"unknown field", "emotions:\n  - id: x\n    loudness: 3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadCatalogFromReader(strings.NewReader(tt.doc)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadCatalog_EmptyPathUsesBuiltins(t *testing.T) {
	c, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(c.List()) != len(Presets()) {
		t.Errorf("got %d profiles, want %d", len(c.List()), len(Presets()))
	}
}

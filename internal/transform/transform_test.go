package transform

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/example/go-avatar-perf/internal/audio"
	"github.com/example/go-avatar-perf/internal/emotion"
)

func sineWAV(t *testing.T, hz float64, sr, frames, channels int) []byte {
	t.Helper()
	samples := make([]float32, frames*channels)
	for i := range frames {
		v := float32(0.3 * math.Sin(2*math.Pi*hz*float64(i)/float64(sr)))
		for ch := range channels {
			samples[i*channels+ch] = v
		}
	}
	data, err := audio.EncodeSamples(samples, sr, channels)
	if err != nil {
		t.Fatalf("EncodeSamples: %v", err)
	}
	return data
}

func TestParamsFor(t *testing.T) {
	tests := []struct {
		name      string
		profile   emotion.Profile
		wantShelf audio.ShelfKind
		wantFreq  float64
		wantDB    float64
		wantGain  float64
		wantRate  float64
	}{
		{
			name:      "neutral",
			profile:   emotion.Default(),
			wantShelf: audio.HighShelf, wantFreq: 2800, wantDB: 0, wantGain: 1.1, wantRate: 1,
		},
		{
			name:      "raised brows boost treble",
			profile:   emotion.Profile{TempoMultiplier: 1, PitchShift: 12, GestureIntensity: 1.4, MouthIntensity: 1, BrowLift: 0.5},
			wantShelf: audio.HighShelf, wantFreq: 2800, wantDB: 9, wantGain: 1.14, wantRate: math.Pow(2, 0.5),
		},
		{
			name:      "lowered brows cut bass",
			profile:   emotion.Profile{TempoMultiplier: 1.25, PitchShift: 0, GestureIntensity: 0.5, MouthIntensity: 1, BrowLift: -0.5},
			wantShelf: audio.LowShelf, wantFreq: 180, wantDB: -9, wantGain: 1.05, wantRate: 1 / 1.25,
		},
		{
			name:      "out of range values clamp",
			profile:   emotion.Profile{TempoMultiplier: 9, PitchShift: -60, GestureIntensity: 50, MouthIntensity: 1, BrowLift: -9},
			wantShelf: audio.LowShelf, wantFreq: 180, wantDB: -0.6 * 18, wantGain: 1.14, wantRate: math.Pow(2, -0.5) / 1.45,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParamsFor(tt.profile)
			if got.Shelf != tt.wantShelf || got.ShelfFreq != tt.wantFreq {
				t.Errorf("shelf = %v@%v, want %v@%v", got.Shelf, got.ShelfFreq, tt.wantShelf, tt.wantFreq)
			}
			if math.Abs(got.ShelfGainDB-tt.wantDB) > 1e-9 {
				t.Errorf("shelf gain = %f dB, want %f", got.ShelfGainDB, tt.wantDB)
			}
			if math.Abs(got.Gain-tt.wantGain) > 1e-9 {
				t.Errorf("gain = %f, want %f", got.Gain, tt.wantGain)
			}
			if math.Abs(got.PlaybackRate-tt.wantRate) > 1e-9 {
				t.Errorf("playback rate = %f, want %f", got.PlaybackRate, tt.wantRate)
			}
		})
	}
}

func TestTransform_LengthAndFormat(t *testing.T) {
	tests := []struct {
		name     string
		tempo    float64
		channels int
	}{
		{name: "unit tempo mono", tempo: 1, channels: 1},
		{name: "fast stereo", tempo: 1.45, channels: 2},
		{name: "slow mono", tempo: 0.65, channels: 1},
		{name: "clamped tempo", tempo: 3, channels: 2},
	}

	const sr, frames = 16000, 8000
	tr := New()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := emotion.Default()
			p.TempoMultiplier = tt.tempo

			clip, err := tr.Transform(context.Background(), sineWAV(t, 440, sr, frames, tt.channels), "audio/wav", p)
			if err != nil {
				t.Fatalf("Transform error: %v", err)
			}
			defer clip.Close()

			tempo := emotion.Clamp(tt.tempo, emotion.MinTempo, emotion.MaxTempo)
			want := int(math.Ceil(frames / tempo))
			if clip.Frames() != want {
				t.Errorf("frames = %d, want %d", clip.Frames(), want)
			}
			if clip.SampleRate() != sr {
				t.Errorf("sample rate = %d, want %d", clip.SampleRate(), sr)
			}
			if clip.Channels() != tt.channels {
				t.Errorf("channels = %d, want %d", clip.Channels(), tt.channels)
			}
			if math.Abs(clip.Seconds()-float64(want)/sr) > 1e-9 {
				t.Errorf("duration = %f, want %f", clip.Seconds(), float64(want)/sr)
			}
		})
	}
}

func TestTransform_NeutralAppliesGain(t *testing.T) {
	const sr, frames = 16000, 16000
	clip, err := New().Transform(context.Background(), sineWAV(t, 500, sr, frames, 1), "audio/wav", emotion.Default())
	if err != nil {
		t.Fatal(err)
	}

	got := rms(clip.Samples()[1000:15000])
	want := 0.3 / math.Sqrt2 * 1.1
	if math.Abs(got-want)/want > 0.02 {
		t.Errorf("rms = %f, want ~%f", got, want)
	}
}

func TestTransform_PitchRaisesFrequency(t *testing.T) {
	const sr, frames = 16000, 16000
	p := emotion.Default()
	p.PitchShift = 6

	clip, err := New().Transform(context.Background(), sineWAV(t, 400, sr, frames, 1), "audio/wav", p)
	if err != nil {
		t.Fatal(err)
	}

	// Source runs faster than the output buffer, so only the first part is voiced.
	voiced := clip.Samples()[200:8000]
	got := zeroCrossingHz(voiced, sr)
	want := 400 * math.Pow(2, 0.5)
	if math.Abs(got-want)/want > 0.03 {
		t.Errorf("frequency = %f Hz, want ~%f", got, want)
	}
}

func TestTransform_PadsTailWithSilence(t *testing.T) {
	const sr, frames = 8000, 4000
	p := emotion.Default()
	p.PitchShift = 6

	clip, err := New().Transform(context.Background(), sineWAV(t, 300, sr, frames, 1), "audio/wav", p)
	if err != nil {
		t.Fatal(err)
	}

	samples := clip.Samples()
	if len(samples) != frames {
		t.Fatalf("frames = %d, want %d", len(samples), frames)
	}
	// Source is consumed after frames/sqrt(2) output frames.
	for i := 3200; i < len(samples); i++ {
		if samples[i] != 0 {
			t.Fatalf("tail sample[%d] = %f, want 0", i, samples[i])
		}
	}
}

func TestTransform_DecodeError(t *testing.T) {
	clip, err := New().Transform(context.Background(), []byte("definitely not audio"), "application/octet-stream", emotion.Default())
	if clip != nil {
		t.Error("expected nil clip")
	}
	if !errors.Is(err, audio.ErrDecode) {
		t.Fatalf("error = %v, want ErrDecode", err)
	}
	var de *audio.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("error type = %T, want *audio.DecodeError", err)
	}
}

func TestTransform_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	clip, err := New().Transform(ctx, sineWAV(t, 440, 8000, 800, 1), "audio/wav", emotion.Default())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if clip != nil {
		t.Error("expected nil clip")
	}
}

func rms(s []float32) float64 {
	var sum float64
	for _, v := range s {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum / float64(len(s)))
}

func zeroCrossingHz(s []float32, sr int) float64 {
	crossings := 0
	for i := 1; i < len(s); i++ {
		if (s[i-1] < 0) != (s[i] < 0) {
			crossings++
		}
	}
	return float64(crossings) / 2 / (float64(len(s)) / float64(sr))
}

func TestRender_KeepsChannelCountAboveStereo(t *testing.T) {
	const sr, frames, channels = 16000, 4000, 4
	amps := []float64{0.6, 0, 0.3, 0.1}

	samples := make([]float32, frames*channels)
	for i := range frames {
		v := math.Sin(2 * math.Pi * 440 * float64(i) / sr)
		for ch, a := range amps {
			samples[i*channels+ch] = float32(a * v)
		}
	}
	src, err := audio.NewClip(samples, sr, channels)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	p := emotion.Default()
	p.TempoMultiplier = 1.2
	clip, err := New().Render(context.Background(), src, p)
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	defer clip.Close()

	if clip.Channels() != channels {
		t.Fatalf("channels = %d, want %d", clip.Channels(), channels)
	}
	if want := OutputFrames(frames, 1.2); clip.Frames() != want {
		t.Errorf("frames = %d, want %d", clip.Frames(), want)
	}

	out := clip.Samples()
	peaks := make([]float64, channels)
	for i, v := range out {
		ch := i % channels
		peaks[ch] = math.Max(peaks[ch], math.Abs(float64(v)))
	}
	if peaks[1] != 0 {
		t.Errorf("silent channel peak = %f, want 0", peaks[1])
	}
	if !(peaks[0] > peaks[2] && peaks[2] > peaks[3] && peaks[3] > 0) {
		t.Errorf("channel peaks %v lost their ordering", peaks)
	}
}

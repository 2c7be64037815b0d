// Package testutil provides shared fixtures and skip helpers for tests.
//
// Skip helpers call t.Skip with a clear human-readable reason when the named
// prerequisite is absent, so hardware-dependent tests remain runnable in
// headless environments without failing noisily.
//
// Typical usage:
//
//	func TestSpeakerPlayback(t *testing.T) {
//	    testutil.RequireAudioDevice(t)
//	    wav := testutil.ToneWAV(t, 44100, 1, 0.5, 440)
//	    ...
//	}
package testutil

import (
	"math"
	"os"
	"testing"

	"github.com/example/go-avatar-perf/internal/audio"
)

// AudioTestsEnv opts into tests that open the real audio device.
const AudioTestsEnv = "AVATARPERF_AUDIO_TESTS"

// RequireAudioDevice skips the test unless AVATARPERF_AUDIO_TESTS=1. CI
// runners and containers rarely have a usable sound card, and opening one
// can block.
func RequireAudioDevice(tb testing.TB) {
	tb.Helper()

	if os.Getenv(AudioTestsEnv) != "1" {
		tb.Skipf("audio device tests disabled; set %s=1 to enable", AudioTestsEnv)
	}
}

// ToneSamples returns interleaved samples of a sine at freq Hz with the
// given peak amplitude, identical on every channel.
func ToneSamples(sampleRate, channels int, seconds, freq, amp float64) []float32 {
	frames := int(math.Round(seconds * float64(sampleRate)))
	out := make([]float32, frames*channels)
	for i := 0; i < frames; i++ {
		v := float32(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
		for ch := 0; ch < channels; ch++ {
			out[i*channels+ch] = v
		}
	}
	return out
}

// ToneClip returns a clip of ToneSamples at amplitude 0.5.
func ToneClip(tb testing.TB, sampleRate, channels int, seconds, freq float64) *audio.Clip {
	tb.Helper()

	clip, err := audio.NewClip(ToneSamples(sampleRate, channels, seconds, freq, 0.5), sampleRate, channels)
	if err != nil {
		tb.Fatalf("tone clip: %v", err)
	}
	return clip
}

// ToneWAV returns a 16-bit PCM WAV file of ToneSamples at amplitude 0.5.
func ToneWAV(tb testing.TB, sampleRate, channels int, seconds, freq float64) []byte {
	tb.Helper()

	data, err := audio.EncodeSamples(ToneSamples(sampleRate, channels, seconds, freq, 0.5), sampleRate, channels)
	if err != nil {
		tb.Fatalf("tone wav: %v", err)
	}
	return data
}

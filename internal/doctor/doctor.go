// Package doctor provides environment preflight checks for avatarperf.
package doctor

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/example/go-avatar-perf/internal/audio"
	"github.com/example/go-avatar-perf/internal/emotion"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// Supported sample rate range in Hz.
const (
	MinSampleRate = 8000
	MaxSampleRate = 192000
)

// VersionFunc returns a version string or an error if the component is unavailable.
type VersionFunc func() (string, error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// GoVersion returns the runtime version (e.g. "go1.25.0").
	GoVersion VersionFunc
	// AudioProbe opens the playback device. Nil or SkipAudio skips the check.
	AudioProbe func() error
	// SkipAudio skips the device check (clock output mode).
	SkipAudio bool
	// SampleRate is the configured synthesis and playback rate.
	SampleRate int
	// EmotionsFile is an optional preset file to validate.
	EmotionsFile string
	// OutputDir must be writable when set.
	OutputDir string
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	// ---- Go runtime -------------------------------------------------------
	if cfg.GoVersion != nil {
		ver, err := cfg.GoVersion()
		if err != nil {
			res.fail(fmt.Sprintf("go runtime: %v", err))
			fmt.Fprintf(w, "%s go runtime: unknown (%v)\n", FailMark, err)
		} else if goErr := checkGoVersion(ver); goErr != nil {
			res.fail(fmt.Sprintf("go runtime: %v", goErr))
			fmt.Fprintf(w, "%s go runtime %s: %v\n", FailMark, ver, goErr)
		} else {
			fmt.Fprintf(w, "%s go runtime: %s\n", PassMark, ver)
		}
	}

	// ---- sample rate ------------------------------------------------------
	if cfg.SampleRate < MinSampleRate || cfg.SampleRate > MaxSampleRate {
		res.fail(fmt.Sprintf("sample rate: %d Hz outside [%d, %d]", cfg.SampleRate, MinSampleRate, MaxSampleRate))
		fmt.Fprintf(w, "%s sample rate: %d Hz unsupported\n", FailMark, cfg.SampleRate)
	} else {
		fmt.Fprintf(w, "%s sample rate: %d Hz\n", PassMark, cfg.SampleRate)
	}

	// ---- WAV codec --------------------------------------------------------
	if err := codecRoundTrip(max(cfg.SampleRate, MinSampleRate)); err != nil {
		res.fail(fmt.Sprintf("wav codec: %v", err))
		fmt.Fprintf(w, "%s wav codec: %v\n", FailMark, err)
	} else {
		fmt.Fprintf(w, "%s wav codec: ok\n", PassMark)
	}

	// ---- emotion presets --------------------------------------------------
	cat, err := emotion.LoadCatalog(cfg.EmotionsFile)
	switch {
	case err != nil:
		res.fail(fmt.Sprintf("emotion presets: %v", err))
		fmt.Fprintf(w, "%s emotion presets: %v\n", FailMark, err)
	case cfg.EmotionsFile == "":
		fmt.Fprintf(w, "%s emotion presets: %d built-in\n", PassMark, len(cat.List()))
	default:
		fmt.Fprintf(w, "%s emotion presets: %d from %s\n", PassMark, len(cat.List()), cfg.EmotionsFile)
	}

	// ---- output directory -------------------------------------------------
	if cfg.OutputDir != "" {
		if err := checkWritable(cfg.OutputDir); err != nil {
			res.fail(fmt.Sprintf("output dir %q: %v", cfg.OutputDir, err))
			fmt.Fprintf(w, "%s output dir %s: not writable\n", FailMark, cfg.OutputDir)
		} else {
			fmt.Fprintf(w, "%s output dir: %s\n", PassMark, cfg.OutputDir)
		}
	}

	// ---- audio device -----------------------------------------------------
	if cfg.SkipAudio || cfg.AudioProbe == nil {
		fmt.Fprintf(w, "%s audio device: skipped\n", PassMark)
	} else if err := cfg.AudioProbe(); err != nil {
		res.fail(fmt.Sprintf("audio device: %v", err))
		fmt.Fprintf(w, "%s audio device: unavailable (%v)\n", FailMark, err)
	} else {
		fmt.Fprintf(w, "%s audio device: ok\n", PassMark)
	}

	return res
}

// codecRoundTrip encodes and decodes a short tone.
func codecRoundTrip(sampleRate int) error {
	samples := make([]float32, sampleRate/100)
	for i := range samples {
		samples[i] = float32(i%20) / 40
	}
	data, err := audio.EncodeSamples(samples, sampleRate, 1)
	if err != nil {
		return err
	}
	clip, err := audio.Decode(data, audio.MIMEWAV)
	if err != nil {
		return err
	}
	defer clip.Close()
	if clip.Frames() != len(samples) || clip.SampleRate() != sampleRate {
		return fmt.Errorf("round trip changed format: %d frames at %d Hz", clip.Frames(), clip.SampleRate())
	}
	return nil
}

func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".avatarperf-doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// checkGoVersion returns an error if ver is older than go1.22.
// ver is expected to be a string like "go1.25.0".
func checkGoVersion(ver string) error {
	major, minor, err := parseMajorMinor(strings.TrimPrefix(ver, "go"))
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}
	if major != 1 {
		return fmt.Errorf("requires Go 1, got %d", major)
	}
	if minor < 22 {
		return fmt.Errorf("requires Go >=1.22, got 1.%d", minor)
	}
	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}
	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}
	// Pre-release suffixes such as "25rc1" keep their leading digits.
	digits := parts[1]
	if i := strings.IndexFunc(digits, func(r rune) bool { return r < '0' || r > '9' }); i >= 0 {
		digits = digits[:i]
	}
	minor, err = strconv.Atoi(digits)
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}
	return major, minor, nil
}

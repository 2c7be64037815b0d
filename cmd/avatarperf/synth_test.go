package main

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-avatar-perf/internal/config"
	"github.com/example/go-avatar-perf/internal/emotion"
	"github.com/example/go-avatar-perf/internal/testutil"
)

func TestBuildSynthesisChunks(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		chunk   bool
		max     int
		want    []string
		wantErr bool
	}{
		{name: "whole text", input: " One. Two. ", want: []string{"One. Two."}},
		{name: "chunked", input: "One. Two.", chunk: true, max: 4, want: []string{"One.", "Two."}},
		{name: "blank", input: "  ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildSynthesisChunks(tt.input, tt.chunk, tt.max)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("chunks = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadSynthText(t *testing.T) {
	got, err := readSynthText("Hi", strings.NewReader("ignored"))
	if err != nil || got != "Hi" {
		t.Errorf("flag text = (%q, %v)", got, err)
	}

	got, err = readSynthText("", strings.NewReader("  from stdin \n"))
	if err != nil || got != "from stdin" {
		t.Errorf("stdin text = (%q, %v)", got, err)
	}

	if _, err := readSynthText("", strings.NewReader(" ")); err == nil {
		t.Error("expected error for empty stdin")
	}
}

func TestEmotionOutputPath(t *testing.T) {
	tests := []struct {
		base, id, want string
	}{
		{"out.wav", "happy", "out-happy.wav"},
		{"renders/take.wav", "sad", "renders/take-sad.wav"},
		{"take", "calm", "take-calm.wav"},
	}
	for _, tt := range tests {
		if got := emotionOutputPath(tt.base, tt.id); got != filepath.FromSlash(tt.want) && got != tt.want {
			t.Errorf("emotionOutputPath(%q, %q) = %q, want %q", tt.base, tt.id, got, tt.want)
		}
	}
}

func TestResolveOutputPath(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Paths.OutputDir = "renders"

	if got := resolveOutputPath(cfg, "out.wav"); got != filepath.Join("renders", "out.wav") {
		t.Errorf("relative = %q", got)
	}
	if got := resolveOutputPath(cfg, "-"); got != "-" {
		t.Errorf("stdout = %q", got)
	}
	abs := filepath.Join(t.TempDir(), "x.wav")
	if got := resolveOutputPath(cfg, abs); got != abs {
		t.Errorf("absolute = %q", got)
	}
}

func TestApplyDSP_Normalize(t *testing.T) {
	samples := testutil.ToneSamples(8000, 1, 0.1, 220, 0.25)

	out := applyDSP(samples, 8000, synthDSPOptions{Normalize: true, FadeInMS: 5})

	var peak float64
	for _, s := range out {
		peak = math.Max(peak, math.Abs(float64(s)))
	}
	if math.Abs(peak-1) > 0.01 {
		t.Errorf("peak = %f, want 1", peak)
	}
	if out[0] != 0 {
		t.Errorf("first sample = %f, want 0 after fade-in", out[0])
	}
}

func TestWriteSynthOutput(t *testing.T) {
	var stdout bytes.Buffer
	if err := writeSynthOutput("-", []byte("RIFF"), &stdout); err != nil {
		t.Fatal(err)
	}
	if stdout.String() != "RIFF" {
		t.Errorf("stdout = %q", stdout.String())
	}

	path := filepath.Join(t.TempDir(), "nested", "dir", "out.wav")
	if err := writeSynthOutput(path, []byte("RIFF"), nil); err != nil {
		t.Fatalf("write nested: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("output missing: %v", err)
	}

	if err := writeSynthOutput("-", nil, nil); err == nil {
		t.Error("expected error for nil stdout")
	}
}

func TestSynthCmd_RendersEachEmotion(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	_, err := runCLI(t, "synth",
		"--text", "Hi there. How are you?",
		"--emotion", "happy,sad",
		"--sample-rate", "8000",
		"--seed", "7",
		"--fade-out-ms", "10",
		"--out", "take.wav",
	)
	if err != nil {
		t.Fatalf("synth: %v", err)
	}

	seconds := map[string]float64{}
	for _, id := range []string{"happy", "sad"} {
		data, err := os.ReadFile(filepath.Join(dir, "take-"+id+".wav"))
		if err != nil {
			t.Fatalf("read %s: %v", id, err)
		}
		seconds[id] = testutil.AssertValidWAV(t, data, 8000, 1).Seconds()
	}
	if seconds["happy"] >= seconds["sad"] {
		t.Errorf("happy %.3fs should be shorter than sad %.3fs", seconds["happy"], seconds["sad"])
	}
}

func TestSynthCmd_StdoutSingleEmotion(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := runCLI(t, "synth", "--text", "Hi.", "--sample-rate", "8000", "--chunk", "--out", "-")
	if err != nil {
		t.Fatalf("synth: %v", err)
	}
	testutil.AssertValidWAV(t, []byte(out), 8000, 1)
}

func TestSynthCmd_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		is   error
	}{
		{name: "unknown emotion", args: []string{"--text", "Hi", "--emotion", "bored"}, is: emotion.ErrUnknownEmotion},
		{name: "stdout with several emotions", args: []string{"--text", "Hi", "--emotion", "happy,sad", "--out", "-"}},
		{name: "no text", args: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())

			_, err := runCLI(t, append([]string{"synth", "--sample-rate", "8000"}, tt.args...)...)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("error = %v, want %v", err, tt.is)
			}
		})
	}
}

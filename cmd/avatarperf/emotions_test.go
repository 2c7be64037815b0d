package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/example/go-avatar-perf/internal/emotion"
)

func TestEmotionsCmd_Table(t *testing.T) {
	t.Chdir(t.TempDir())

	out, err := runCLI(t, "emotions")
	if err != nil {
		t.Fatalf("emotions: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if want := len(emotion.Presets()) + 1; len(lines) != want {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), want, out)
	}
	if !strings.HasPrefix(lines[0], "ID") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "neutral") {
		t.Errorf("first row = %q, want neutral", lines[1])
	}
}

func TestEmotionsCmd_JSONWithPresetFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	presets := filepath.Join(dir, "emotions.yaml")
	yaml := "emotions:\n  - id: wistful\n    label: Wistful\n    tempo_multiplier: 0.85\n    pitch_shift: -2\n"
	if err := os.WriteFile(presets, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "emotions", "--json", "--emotions-file", presets)
	if err != nil {
		t.Fatalf("emotions: %v", err)
	}

	var got []emotion.Profile
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(got) != len(emotion.Presets())+1 {
		t.Fatalf("got %d profiles", len(got))
	}
	if last := got[len(got)-1]; last.ID != "wistful" || last.TempoMultiplier != 0.85 {
		t.Errorf("appended profile = %+v", last)
	}
}

func TestProfileSummary(t *testing.T) {
	got := profileSummary(emotion.Default())
	want := "tempo x1.00, pitch +0.0 st, gesture 1.00, mouth 1.00, brows +0.00"
	if got != want {
		t.Errorf("profileSummary = %q, want %q", got, want)
	}
}

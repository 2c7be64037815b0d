package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

// fakeBinder wraps a pflag.FlagSet to satisfy the flagBinder interface.
type fakeBinder struct {
	fs *pflag.FlagSet
}

func (f *fakeBinder) Flags() *pflag.FlagSet { return f.fs }

// newFlagBinder creates a FlagSet with all config flags registered at their
// defaults and parses args into it.
func newFlagBinder(t *testing.T, defaults Config, args ...string) *fakeBinder {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse(%q): %v", args, err)
	}

	return &fakeBinder{fs: fs}
}

// --- DefaultConfig ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Audio.SampleRate != 44100 {
		t.Errorf("Audio.SampleRate = %d; want 44100", cfg.Audio.SampleRate)
	}

	if cfg.Audio.Output != OutputSpeaker {
		t.Errorf("Audio.Output = %q; want %q", cfg.Audio.Output, OutputSpeaker)
	}

	if cfg.Animation.FPS != 60 {
		t.Errorf("Animation.FPS = %d; want 60", cfg.Animation.FPS)
	}

	if cfg.Animation.Mode != Mode3D {
		t.Errorf("Animation.Mode = %q; want %q", cfg.Animation.Mode, Mode3D)
	}

	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":8080")
	}

	if cfg.Server.Workers != 2 {
		t.Errorf("Server.Workers = %d; want 2", cfg.Server.Workers)
	}

	if cfg.Server.MaxTextBytes != 4096 {
		t.Errorf("Server.MaxTextBytes = %d; want 4096", cfg.Server.MaxTextBytes)
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q; want /metrics", cfg.Metrics.Path)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "info")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

// --- NormalizeMode / NormalizeOutput ---

func TestNormalizeMode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"3d canonical", "3d", Mode3D, false},
		{"3d uppercase", "3D", Mode3D, false},
		{"empty defaults to 3d", "", Mode3D, false},
		{"portrait canonical", "portrait", ModePortrait, false},
		{"2d alias", "2d", ModePortrait, false},
		{"image alias with spaces", "  image ", ModePortrait, false},
		{"invalid", "vr", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeMode(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NormalizeMode(%q) = %q, nil; want error", tt.input, got)
				}

				return
			}

			if err != nil {
				t.Fatalf("NormalizeMode(%q) unexpected error: %v", tt.input, err)
			}

			if got != tt.want {
				t.Errorf("NormalizeMode(%q) = %q; want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeOutput(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"speaker", OutputSpeaker, false},
		{"", OutputSpeaker, false},
		{"Clock", OutputClock, false},
		{"none", OutputClock, false},
		{"headless", OutputClock, false},
		{"alsa", "", true},
	}

	for _, tt := range tests {
		got, err := NormalizeOutput(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizeOutput(%q) error = %v; wantErr %v", tt.input, err, tt.wantErr)
			continue
		}

		if got != tt.want {
			t.Errorf("NormalizeOutput(%q) = %q; want %q", tt.input, got, tt.want)
		}
	}
}

// --- Validate ---

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"mode alias normalized", func(c *Config) { c.Animation.Mode = "2d" }, false},
		{"bad mode", func(c *Config) { c.Animation.Mode = "x" }, true},
		{"bad output", func(c *Config) { c.Audio.Output = "x" }, true},
		{"low sample rate", func(c *Config) { c.Audio.SampleRate = 4000 }, true},
		{"zero fps", func(c *Config) { c.Animation.FPS = 0 }, true},
		{"zero workers", func(c *Config) { c.Server.Workers = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v; wantErr %v", err, tt.wantErr)
			}
		})
	}

	cfg := DefaultConfig()
	cfg.Animation.Mode = "image"
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Animation.Mode != ModePortrait {
		t.Errorf("Validate left mode %q; want %q", cfg.Animation.Mode, ModePortrait)
	}
}

// --- RegisterFlags ---

func TestRegisterFlags(t *testing.T) {
	defaults := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs, defaults)

	checks := []struct {
		flag string
		want string
	}{
		{"sample-rate", "44100"},
		{"mode", "3d"},
		{"listen-addr", ":8080"},
		{"audio-buffer", "100ms"},
		{"log-level", "info"},
	}

	for _, c := range checks {
		f := fs.Lookup(c.flag)
		if f == nil {
			t.Errorf("flag %q not registered", c.flag)
			continue
		}

		if f.DefValue != c.want {
			t.Errorf("flag %q default = %q; want %q", c.flag, f.DefValue, c.want)
		}
	}

	for _, b := range bindings {
		if fs.Lookup(b.flag) == nil {
			t.Errorf("binding %s -> %s has no flag", b.key, b.flag)
		}
	}
}

// --- Load ---

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:      newFlagBinder(t, defaults),
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Audio.SampleRate != defaults.Audio.SampleRate {
		t.Errorf("SampleRate = %d; want %d", cfg.Audio.SampleRate, defaults.Audio.SampleRate)
	}

	if cfg.Audio.Buffer != defaults.Audio.Buffer {
		t.Errorf("Buffer = %v; want %v", cfg.Audio.Buffer, defaults.Audio.Buffer)
	}

	if cfg.Server.Workers != defaults.Server.Workers {
		t.Errorf("Server.Workers = %d; want %d", cfg.Server.Workers, defaults.Server.Workers)
	}

	if cfg.LogLevel != defaults.LogLevel {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, defaults.LogLevel)
	}
}

func TestLoad_FlagOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:      newFlagBinder(t, defaults, "--mode=portrait", "--workers=8", "--log-level=debug", "--audio-buffer=250ms"),
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Animation.Mode != "portrait" {
		t.Errorf("Animation.Mode = %q; want portrait", cfg.Animation.Mode)
	}

	if cfg.Server.Workers != 8 {
		t.Errorf("Server.Workers = %d; want 8", cfg.Server.Workers)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "debug")
	}

	if cfg.Audio.Buffer != 250*time.Millisecond {
		t.Errorf("Audio.Buffer = %v; want 250ms", cfg.Audio.Buffer)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AVATARPERF_LOG_LEVEL", "warn")
	t.Setenv("AVATARPERF_SERVER_LISTEN_ADDR", ":9999")
	t.Setenv("AVATARPERF_ANIMATION_FPS", "30")

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:      newFlagBinder(t, defaults),
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "warn")
	}

	if cfg.Server.ListenAddr != ":9999" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":9999")
	}

	if cfg.Animation.FPS != 30 {
		t.Errorf("Animation.FPS = %d; want 30", cfg.Animation.FPS)
	}
}

func TestLoad_FlagBeatsEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("AVATARPERF_SERVER_WORKERS", "3")
	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:      newFlagBinder(t, defaults, "--workers=5"),
		Defaults: defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Workers != 5 {
		t.Errorf("Server.Workers = %d; want 5 from flag", cfg.Server.Workers)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "avatarperf.yaml")

	content := `
log_level: error
paths:
  emotions_file: presets.yaml
server:
  workers: 16
  listen_addr: ":7777"
animation:
  mode: portrait
  jitter: false
`

	if err := os.WriteFile(cfgFile, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	defaults := DefaultConfig()

	cfg, err := Load(LoadOptions{
		Cmd:        newFlagBinder(t, defaults),
		ConfigFile: cfgFile,
		Defaults:   defaults,
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel = %q; want %q", cfg.LogLevel, "error")
	}

	if cfg.Server.Workers != 16 {
		t.Errorf("Server.Workers = %d; want 16", cfg.Server.Workers)
	}

	if cfg.Server.ListenAddr != ":7777" {
		t.Errorf("Server.ListenAddr = %q; want %q", cfg.Server.ListenAddr, ":7777")
	}

	if cfg.Paths.EmotionsFile != "presets.yaml" {
		t.Errorf("Paths.EmotionsFile = %q; want presets.yaml", cfg.Paths.EmotionsFile)
	}

	if cfg.Animation.Mode != "portrait" || cfg.Animation.Jitter {
		t.Errorf("Animation = %+v; want portrait without jitter", cfg.Animation)
	}

	// Untouched keys keep their defaults.
	if cfg.Audio.SampleRate != 44100 {
		t.Errorf("Audio.SampleRate = %d; want default 44100", cfg.Audio.SampleRate)
	}
}

func TestLoad_DiscoversConfigInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	if err := os.WriteFile(filepath.Join(dir, "avatarperf.yaml"), []byte("audio:\n  sample_rate: 22050\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(LoadOptions{Defaults: DefaultConfig()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Audio.SampleRate != 22050 {
		t.Errorf("Audio.SampleRate = %d; want 22050", cfg.Audio.SampleRate)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "bad.yaml")

	if err := os.WriteFile(cfgFile, []byte(":\t:bad yaml:::"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(LoadOptions{
		ConfigFile: cfgFile,
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for invalid config file")
	}
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	_, err := Load(LoadOptions{
		ConfigFile: "/nonexistent/path/avatarperf.yaml",
		Defaults:   DefaultConfig(),
	})
	if err == nil {
		t.Error("Load() = nil; want error for missing explicit config file")
	}
}

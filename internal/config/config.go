package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Avatar modes accepted by NormalizeMode.
const (
	Mode3D       = "3d"
	ModePortrait = "portrait"
)

// Audio outputs accepted by NormalizeOutput.
const (
	OutputSpeaker = "speaker"
	OutputClock   = "clock"
)

type Config struct {
	Paths     PathsConfig     `mapstructure:"paths"`
	Audio     AudioConfig     `mapstructure:"audio"`
	Animation AnimationConfig `mapstructure:"animation"`
	Server    ServerConfig    `mapstructure:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	LogLevel  string          `mapstructure:"log_level"`
}

type PathsConfig struct {
	// EmotionsFile is an optional YAML preset file merged over the built-ins.
	EmotionsFile string `mapstructure:"emotions_file"`
	OutputDir    string `mapstructure:"output_dir"`
}

type AudioConfig struct {
	SampleRate int           `mapstructure:"sample_rate"`
	Output     string        `mapstructure:"output"`
	Buffer     time.Duration `mapstructure:"buffer"`
}

type AnimationConfig struct {
	FPS     int    `mapstructure:"fps"`
	Mode    string `mapstructure:"mode"`
	Emotion string `mapstructure:"emotion"`
	Jitter  bool   `mapstructure:"jitter"`
}

type ServerConfig struct {
	ListenAddr      string `mapstructure:"listen_addr"`
	Workers         int    `mapstructure:"workers"`
	MaxTextBytes    int    `mapstructure:"max_text_bytes"`
	MaxUploadBytes  int64  `mapstructure:"max_upload_bytes"`
	RequestTimeout  int    `mapstructure:"request_timeout"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			EmotionsFile: "",
			OutputDir:    ".",
		},
		Audio: AudioConfig{
			SampleRate: 44100,
			Output:     OutputSpeaker,
			Buffer:     100 * time.Millisecond,
		},
		Animation: AnimationConfig{
			FPS:     60,
			Mode:    Mode3D,
			Emotion: "neutral",
			Jitter:  true,
		},
		Server: ServerConfig{
			ListenAddr:      ":8080",
			Workers:         2,
			MaxTextBytes:    4096,
			MaxUploadBytes:  16 << 20,
			RequestTimeout:  60,
			ShutdownTimeout: 30,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		LogLevel: "info",
	}
}

// binding ties a config key to its command-line flag.
type binding struct {
	key  string
	flag string
}

var bindings = []binding{
	{"paths.emotions_file", "emotions-file"},
	{"paths.output_dir", "output-dir"},
	{"audio.sample_rate", "sample-rate"},
	{"audio.output", "audio-output"},
	{"audio.buffer", "audio-buffer"},
	{"animation.fps", "fps"},
	{"animation.mode", "mode"},
	{"animation.emotion", "emotion"},
	{"animation.jitter", "jitter"},
	{"server.listen_addr", "listen-addr"},
	{"server.workers", "workers"},
	{"server.max_text_bytes", "max-text-bytes"},
	{"server.max_upload_bytes", "max-upload-bytes"},
	{"server.request_timeout", "request-timeout"},
	{"server.shutdown_timeout", "shutdown-timeout"},
	{"metrics.enabled", "metrics"},
	{"metrics.path", "metrics-path"},
	{"log_level", "log-level"},
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("emotions-file", defaults.Paths.EmotionsFile, "YAML file with additional emotion presets")
	fs.String("output-dir", defaults.Paths.OutputDir, "Directory for rendered files")
	fs.Int("sample-rate", defaults.Audio.SampleRate, "Synthesis and playback sample rate in Hz")
	fs.String("audio-output", defaults.Audio.Output, "Audio output (speaker|clock)")
	fs.Duration("audio-buffer", defaults.Audio.Buffer, "Speaker buffer latency")
	fs.Int("fps", defaults.Animation.FPS, "Animation frame rate")
	fs.String("mode", defaults.Animation.Mode, "Avatar mode (3d|portrait)")
	fs.String("emotion", defaults.Animation.Emotion, "Emotion preset ID")
	fs.Bool("jitter", defaults.Animation.Jitter, "Vary the emotion slightly per utterance")
	fs.String("listen-addr", defaults.Server.ListenAddr, "HTTP listen address")
	fs.Int("workers", defaults.Server.Workers, "Max concurrent render requests")
	fs.Int("max-text-bytes", defaults.Server.MaxTextBytes, "Max synthesis text size in bytes")
	fs.Int64("max-upload-bytes", defaults.Server.MaxUploadBytes, "Max audio upload size in bytes")
	fs.Int("request-timeout", defaults.Server.RequestTimeout, "Per-request render timeout in seconds")
	fs.Int("shutdown-timeout", defaults.Server.ShutdownTimeout, "Graceful shutdown timeout in seconds")
	fs.Bool("metrics", defaults.Metrics.Enabled, "Serve Prometheus metrics")
	fs.String("metrics-path", defaults.Metrics.Path, "HTTP path for Prometheus metrics")
	fs.String("log-level", defaults.LogLevel, "Log level (debug|info|warn|error)")
}

// Load resolves configuration from, in decreasing precedence, explicitly
// set flags, AVATARPERF_* environment variables, the config file and the
// defaults.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		fs := opts.Cmd.Flags()
		for _, b := range bindings {
			f := fs.Lookup(b.flag)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(b.key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", b.flag, err)
			}
		}
	}

	v.SetEnvPrefix("AVATARPERF")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("avatarperf")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

// Validate normalizes enumerated fields in place and rejects values the
// engine cannot run with.
func (c *Config) Validate() error {
	mode, err := NormalizeMode(c.Animation.Mode)
	if err != nil {
		return err
	}
	c.Animation.Mode = mode

	out, err := NormalizeOutput(c.Audio.Output)
	if err != nil {
		return err
	}
	c.Audio.Output = out

	if c.Audio.SampleRate < 8000 || c.Audio.SampleRate > 192000 {
		return fmt.Errorf("sample rate %d out of range [8000, 192000]", c.Audio.SampleRate)
	}
	if c.Animation.FPS < 1 || c.Animation.FPS > 240 {
		return fmt.Errorf("fps %d out of range [1, 240]", c.Animation.FPS)
	}
	if c.Server.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Server.Workers)
	}
	return nil
}

// NormalizeMode canonicalizes an avatar mode. Empty selects 3d; "2d" and
// "image" are accepted for portrait.
func NormalizeMode(raw string) (string, error) {
	mode := strings.ToLower(strings.TrimSpace(raw))
	switch mode {
	case "", Mode3D:
		return Mode3D, nil
	case ModePortrait, "2d", "image":
		return ModePortrait, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected %s|%s)", raw, Mode3D, ModePortrait)
	}
}

// NormalizeOutput canonicalizes an audio output name. Empty selects the
// speaker; "none" and "headless" select the clock output.
func NormalizeOutput(raw string) (string, error) {
	out := strings.ToLower(strings.TrimSpace(raw))
	switch out {
	case "", OutputSpeaker:
		return OutputSpeaker, nil
	case OutputClock, "none", "headless":
		return OutputClock, nil
	default:
		return "", fmt.Errorf("invalid audio output %q (expected %s|%s)", raw, OutputSpeaker, OutputClock)
	}
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.emotions_file", c.Paths.EmotionsFile)
	v.SetDefault("paths.output_dir", c.Paths.OutputDir)
	v.SetDefault("audio.sample_rate", c.Audio.SampleRate)
	v.SetDefault("audio.output", c.Audio.Output)
	v.SetDefault("audio.buffer", c.Audio.Buffer)
	v.SetDefault("animation.fps", c.Animation.FPS)
	v.SetDefault("animation.mode", c.Animation.Mode)
	v.SetDefault("animation.emotion", c.Animation.Emotion)
	v.SetDefault("animation.jitter", c.Animation.Jitter)
	v.SetDefault("server.listen_addr", c.Server.ListenAddr)
	v.SetDefault("server.workers", c.Server.Workers)
	v.SetDefault("server.max_text_bytes", c.Server.MaxTextBytes)
	v.SetDefault("server.max_upload_bytes", c.Server.MaxUploadBytes)
	v.SetDefault("server.request_timeout", c.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", c.Server.ShutdownTimeout)
	v.SetDefault("metrics.enabled", c.Metrics.Enabled)
	v.SetDefault("metrics.path", c.Metrics.Path)
	v.SetDefault("log_level", c.LogLevel)
}

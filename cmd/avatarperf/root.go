package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/example/go-avatar-perf/internal/config"
	"github.com/example/go-avatar-perf/internal/emotion"
	"github.com/example/go-avatar-perf/internal/server"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	activeCfg config.Config
)

func NewRootCmd() *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:           "avatarperf",
		Short:         "Emotion-driven speech and avatar performance engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := config.Load(config.LoadOptions{
				Cmd:        cmd,
				ConfigFile: cfgFile,
				Defaults:   defaults,
			})
			if err != nil {
				return err
			}
			if err := loaded.Validate(); err != nil {
				return err
			}
			activeCfg = loaded
			setupLogger(loaded.LogLevel)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Optional config file (yaml|toml|json)")
	config.RegisterFlags(cmd.PersistentFlags(), defaults)

	cmd.AddCommand(newSynthCmd())
	cmd.AddCommand(newTransformCmd())
	cmd.AddCommand(newPerformCmd())
	cmd.AddCommand(newEmotionsCmd())
	cmd.AddCommand(newBenchCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newHealthCmd())
	cmd.AddCommand(newDoctorCmd())

	return cmd
}

// setupLogger configures the process-wide slog default logger.
func setupLogger(levelStr string) {
	lvl, err := server.ParseLogLevel(levelStr)
	if err != nil {
		lvl = slog.LevelInfo
	}
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(h))
}

func requireConfig() (config.Config, error) {
	if activeCfg.Audio.SampleRate == 0 {
		return config.Config{}, fmt.Errorf("configuration not loaded")
	}
	return activeCfg, nil
}

func loadCatalog(cfg config.Config) (*emotion.Catalog, error) {
	catalog, err := emotion.LoadCatalog(cfg.Paths.EmotionsFile)
	if err != nil {
		return nil, fmt.Errorf("load emotions: %w", err)
	}
	return catalog, nil
}

// parseEmotionList splits a comma-separated --emotion value, dropping
// blanks and duplicates while keeping order.
func parseEmotionList(raw string) []string {
	var ids []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		id := strings.TrimSpace(part)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// resolveEmotion looks up the single emotion named by raw. Blank resolves
// to the catalog's first profile.
func resolveEmotion(catalog *emotion.Catalog, raw string) (emotion.Profile, error) {
	ids := parseEmotionList(raw)
	switch len(ids) {
	case 0:
		return catalog.Lookup("")
	case 1:
		return catalog.Lookup(ids[0])
	default:
		return emotion.Profile{}, fmt.Errorf("this command takes a single --emotion, got %d", len(ids))
	}
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/example/go-avatar-perf/internal/audio"
	"github.com/example/go-avatar-perf/internal/bench"
	"github.com/example/go-avatar-perf/internal/synth"
	"github.com/example/go-avatar-perf/internal/transform"
	"github.com/spf13/cobra"
)

func newBenchCmd() *cobra.Command {
	var (
		text         string
		in           string
		runs         int
		format       string
		rtfThreshold float64
	)

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Benchmark render latency and realtime factor per emotion",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			if strings.TrimSpace(text) == "" && in == "" {
				return fmt.Errorf("--text or --in is required for bench")
			}
			if format != "table" && format != "json" {
				return fmt.Errorf("--format must be 'table' or 'json'")
			}

			catalog, err := loadCatalog(cfg)
			if err != nil {
				return err
			}
			profiles, err := lookupProfiles(catalog, parseEmotionList(cfg.Animation.Emotion))
			if err != nil {
				return err
			}
			ids := make([]string, len(profiles))
			for i, p := range profiles {
				ids[i] = p.ID
			}

			var render bench.RenderFunc
			if in != "" {
				data, declared, err := readAudioInput(in, "", cmd.InOrStdin())
				if err != nil {
					return err
				}
				tr := transform.New(transform.WithLogger(slog.Default()))
				render = func(ctx context.Context, id string) (*audio.Clip, error) {
					p, err := catalog.Lookup(id)
					if err != nil {
						return nil, err
					}
					return tr.Transform(ctx, data, declared, p)
				}
			} else {
				s := synth.New(
					synth.WithSampleRate(cfg.Audio.SampleRate),
					synth.WithRand(rand.New(rand.NewPCG(1, 2))),
				)
				render = func(ctx context.Context, id string) (*audio.Clip, error) {
					p, err := catalog.Lookup(id)
					if err != nil {
						return nil, err
					}
					return s.Synthesize(ctx, text, p)
				}
			}

			results, err := bench.Run(cmd.Context(), ids, runs, render)
			if err != nil {
				return err
			}
			stats := bench.ComputeStats(results)

			switch format {
			case "json":
				if err := bench.FormatJSON(results, stats, cmd.OutOrStdout()); err != nil {
					return err
				}
			default:
				bench.FormatTable(results, stats, cmd.OutOrStdout())
			}

			return bench.CheckRTFThreshold(stats.MeanRTF, rtfThreshold)
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Text to synthesize for each run")
	cmd.Flags().StringVar(&in, "in", "", "Benchmark the transformer on this audio file instead")
	cmd.Flags().IntVar(&runs, "runs", 5, "Number of runs per emotion")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table|json")
	cmd.Flags().Float64Var(&rtfThreshold, "rtf-threshold", 0, "Exit non-zero if mean RTF exceeds this value (0 = disabled)")

	return cmd
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"github.com/example/go-avatar-perf/internal/audio"
	"github.com/example/go-avatar-perf/internal/config"
	"github.com/example/go-avatar-perf/internal/emotion"
	"github.com/example/go-avatar-perf/internal/synth"
	textpkg "github.com/example/go-avatar-perf/internal/text"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type synthDSPOptions struct {
	Normalize bool
	DCBlock   bool
	FadeInMS  float64
	FadeOutMS float64
}

func (o synthDSPOptions) enabled() bool {
	return o.Normalize || o.DCBlock || o.FadeInMS > 0 || o.FadeOutMS > 0
}

func (o *synthDSPOptions) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.Normalize, "normalize", false, "Peak-normalize output audio")
	cmd.Flags().BoolVar(&o.DCBlock, "dc-block", false, "Apply DC-block high-pass filter")
	cmd.Flags().Float64Var(&o.FadeInMS, "fade-in-ms", 0, "Apply linear fade-in duration in milliseconds")
	cmd.Flags().Float64Var(&o.FadeOutMS, "fade-out-ms", 0, "Apply linear fade-out duration in milliseconds")
}

func newSynthCmd() *cobra.Command {
	var text string
	var out string
	var chunk bool
	var maxChunkChars int
	var seed uint64
	var dsp synthDSPOptions

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize text to WAV, one file per emotion",
		Long: "Synthesize text with one or more emotion presets. Pass a comma-separated\n" +
			"--emotion list to render every variant concurrently; each is written next\n" +
			"to --out with the emotion ID appended to the file name.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			catalog, err := loadCatalog(cfg)
			if err != nil {
				return err
			}

			inputText, err := readSynthText(text, cmd.InOrStdin())
			if err != nil {
				return err
			}
			chunks, err := buildSynthesisChunks(inputText, chunk, maxChunkChars)
			if err != nil {
				return err
			}

			profiles, err := lookupProfiles(catalog, parseEmotionList(cfg.Animation.Emotion))
			if err != nil {
				return err
			}
			if out == "-" && len(profiles) > 1 {
				return errors.New("--out - writes a single WAV; pass one --emotion")
			}

			synthOpts := []synth.Option{
				synth.WithSampleRate(cfg.Audio.SampleRate),
				synth.WithLogger(slog.Default()),
			}
			if seed != 0 {
				synthOpts = append(synthOpts, synth.WithRand(rand.New(rand.NewPCG(seed, seed))))
			}
			s := synth.New(synthOpts...)

			results, err := synthesizeEmotions(cmd.Context(), s, chunks, profiles, cfg.Server.Workers)
			if err != nil {
				return err
			}

			for i, p := range profiles {
				wavData, err := encodeSamples(results[i], s.SampleRate(), dsp)
				if err != nil {
					return err
				}
				path := out
				if len(profiles) > 1 {
					path = emotionOutputPath(out, p.ID)
				}
				path = resolveOutputPath(cfg, path)
				if err := writeSynthOutput(path, wavData, cmd.OutOrStdout()); err != nil {
					return err
				}
				slog.Info("synthesized", "emotion", p.ID, "path", path, "chunks", len(chunks))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Text to synthesize (if empty, read from stdin)")
	cmd.Flags().StringVar(&out, "out", "out.wav", "Output WAV path ('-' for stdout)")
	cmd.Flags().BoolVar(&chunk, "chunk", false, "Split text into sentence chunks and synthesize sequentially")
	cmd.Flags().IntVar(&maxChunkChars, "max-chunk-chars", 220, "Maximum characters per chunk when --chunk is enabled")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Noise seed for reproducible output (0 picks a random seed)")
	dsp.register(cmd)

	return cmd
}

func lookupProfiles(catalog *emotion.Catalog, ids []string) ([]emotion.Profile, error) {
	if len(ids) == 0 {
		p, err := catalog.Lookup("")
		if err != nil {
			return nil, err
		}
		return []emotion.Profile{p}, nil
	}

	profiles := make([]emotion.Profile, 0, len(ids))
	for _, id := range ids {
		p, err := catalog.Lookup(id)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// synthesizeEmotions renders every profile concurrently, at most workers at
// a time. results[i] holds the concatenated chunks for profiles[i].
func synthesizeEmotions(ctx context.Context, s *synth.Synthesizer, chunks []string, profiles []emotion.Profile, workers int) ([][]float32, error) {
	results := make([][]float32, len(profiles))

	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, p := range profiles {
		g.Go(func() error {
			samples, err := synthesizeChunks(gctx, s, chunks, p)
			if err != nil {
				return fmt.Errorf("emotion %q: %w", p.ID, err)
			}
			results[i] = samples
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func synthesizeChunks(ctx context.Context, s *synth.Synthesizer, chunks []string, p emotion.Profile) ([]float32, error) {
	merged := make([]float32, 0, s.SampleRate())
	for i, chunkText := range chunks {
		clip, err := s.Synthesize(ctx, chunkText, p)
		if err != nil {
			return nil, fmt.Errorf("chunk %d synthesis failed: %w", i+1, err)
		}
		if clip == nil {
			continue
		}
		merged = append(merged, clip.Samples()...)
		_ = clip.Close()
	}
	if len(merged) == 0 {
		return nil, errors.New("synthesis produced no samples")
	}
	return merged, nil
}

func buildSynthesisChunks(input string, chunk bool, maxChunkChars int) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("empty input text")
	}
	if !chunk {
		return []string{input}, nil
	}

	chunks := textpkg.ChunkBySentence(input, maxChunkChars)
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		c = strings.TrimSpace(c)
		if c != "" {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no non-empty chunks produced from input")
	}
	return out, nil
}

// encodeSamples applies the requested DSP hooks to mono samples and
// encodes the result as WAV.
func encodeSamples(samples []float32, sampleRate int, opts synthDSPOptions) ([]byte, error) {
	if opts.enabled() {
		samples = applyDSP(samples, sampleRate, opts)
	}
	out, err := audio.EncodeSamples(samples, sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("encode WAV: %w", err)
	}
	return out, nil
}

func applyDSP(samples []float32, sampleRate int, opts synthDSPOptions) []float32 {
	var hooks []audio.Hook
	if opts.Normalize {
		hooks = append(hooks, audio.PeakNormalize)
	}
	if opts.DCBlock {
		hooks = append(hooks, func(s []float32) []float32 { return audio.DCBlock(s, sampleRate) })
	}
	if opts.FadeInMS > 0 {
		hooks = append(hooks, func(s []float32) []float32 { return audio.FadeIn(s, sampleRate, opts.FadeInMS) })
	}
	if opts.FadeOutMS > 0 {
		hooks = append(hooks, func(s []float32) []float32 { return audio.FadeOut(s, sampleRate, opts.FadeOutMS) })
	}
	return audio.ApplyHooks(samples, hooks...)
}

// emotionOutputPath inserts the emotion ID before the extension:
// out.wav becomes out-happy.wav.
func emotionOutputPath(base, id string) string {
	ext := filepath.Ext(base)
	if ext == "" {
		ext = ".wav"
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) + "-" + id + ext
}

// resolveOutputPath places relative paths under the configured output
// directory. Stdout and absolute paths pass through.
func resolveOutputPath(cfg config.Config, path string) string {
	if path == "-" || filepath.IsAbs(path) || cfg.Paths.OutputDir == "" {
		return path
	}
	return filepath.Join(cfg.Paths.OutputDir, path)
}

func writeSynthOutput(outPath string, wavData []byte, stdout io.Writer) error {
	if outPath == "-" {
		if stdout == nil {
			return fmt.Errorf("stdout writer is nil")
		}
		_, err := stdout.Write(wavData)
		return err
	}
	if err := ensureDir(outPath); err != nil {
		return err
	}
	return os.WriteFile(outPath, wavData, 0o644)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return nil
}

func readSynthText(text string, stdin io.Reader) (string, error) {
	if strings.TrimSpace(text) != "" {
		return text, nil
	}

	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	input := strings.TrimSpace(string(b))
	if input == "" {
		return "", fmt.Errorf("either provide --text or pipe text on stdin")
	}
	return input, nil
}

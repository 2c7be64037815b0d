package main

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"

	"github.com/example/go-avatar-perf/internal/audio"
	"github.com/example/go-avatar-perf/internal/transform"
	"github.com/spf13/cobra"
)

func newTransformCmd() *cobra.Command {
	var in string
	var mimeType string
	var out string

	cmd := &cobra.Command{
		Use:   "transform",
		Short: "Apply an emotion to recorded speech (WAV, MP3, FLAC or Ogg)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			catalog, err := loadCatalog(cfg)
			if err != nil {
				return err
			}
			p, err := resolveEmotion(catalog, cfg.Animation.Emotion)
			if err != nil {
				return err
			}

			data, declared, err := readAudioInput(in, mimeType, cmd.InOrStdin())
			if err != nil {
				return err
			}

			clip, err := transform.New(transform.WithLogger(slog.Default())).Transform(cmd.Context(), data, declared, p)
			if err != nil {
				return err
			}
			defer clip.Close()

			wavData, err := audio.EncodeWAV(clip)
			if err != nil {
				return err
			}
			path := resolveOutputPath(cfg, out)
			if err := writeSynthOutput(path, wavData, cmd.OutOrStdout()); err != nil {
				return err
			}
			slog.Info("transformed", "emotion", p.ID, "path", path, "seconds", clip.Seconds())
			return nil
		},
	}

	cmd.Flags().StringVar(&in, "in", "-", "Input audio file ('-' for stdin)")
	cmd.Flags().StringVar(&mimeType, "mime", "", "Declared input MIME type (default: from extension, then content sniffing)")
	cmd.Flags().StringVar(&out, "out", "out.wav", "Output WAV path ('-' for stdout)")

	return cmd
}

// readAudioInput reads an upload from a file or stdin. When no MIME type is
// declared, one is guessed from the file extension; decoding still sniffs
// the content.
func readAudioInput(path, declared string, stdin io.Reader) ([]byte, string, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
		if declared == "" {
			declared = mime.TypeByExtension(filepath.Ext(path))
		}
	}
	if err != nil {
		return nil, "", fmt.Errorf("read audio input: %w", err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("audio input is empty")
	}
	return data, declared, nil
}

package main

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/example/go-avatar-perf/internal/config"
	"github.com/example/go-avatar-perf/internal/doctor"
	"github.com/example/go-avatar-perf/internal/session"
	"github.com/gopxl/beep"
	"github.com/spf13/cobra"
)

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run local runtime, preset and audio device checks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			stdout := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(stdout, "audio output: %s\n", cfg.Audio.Output)

			result := doctor.Run(doctor.Config{
				GoVersion:    func() (string, error) { return runtime.Version(), nil },
				AudioProbe:   func() error { return probeSpeaker(cfg) },
				SkipAudio:    cfg.Audio.Output != config.OutputSpeaker,
				SampleRate:   cfg.Audio.SampleRate,
				EmotionsFile: cfg.Paths.EmotionsFile,
				OutputDir:    cfg.Paths.OutputDir,
			}, stdout)

			if result.Failed() {
				for _, f := range result.Failures() {
					fmt.Fprintf(cmd.ErrOrStderr(), "FAIL: %s\n", f)
				}

				return errors.New("doctor checks failed")
			}

			_, _ = fmt.Fprintln(stdout, "doctor checks passed")

			return nil
		},
	}

	return cmd
}

// probeSpeaker opens the playback device, plays nothing and closes it.
func probeSpeaker(cfg config.Config) error {
	out := session.NewSpeakerOutput(cfg.Audio.SampleRate, cfg.Audio.Buffer)
	defer out.Close()
	return out.Start(beep.Silence(0))
}

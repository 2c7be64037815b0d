package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/go-avatar-perf/internal/audio"
	"github.com/example/go-avatar-perf/internal/config"
	"github.com/example/go-avatar-perf/internal/pose"
	"github.com/example/go-avatar-perf/internal/session"
	"github.com/example/go-avatar-perf/internal/synth"
	"github.com/example/go-avatar-perf/internal/transform"
	"github.com/spf13/cobra"
)

type performOptions struct {
	Text  string
	In    string
	MIME  string
	Out   string
	Track string
	Live  bool
	Seed  uint64
	Tail  float64
}

func newPerformCmd() *cobra.Command {
	var opts performOptions

	cmd := &cobra.Command{
		Use:   "perform",
		Short: "Render a performance: audio recording plus a per-frame pose track",
		Long: "Speak --text (or transform --in) with the selected emotion and drive the\n" +
			"avatar frame loop until playback ends. The output signal is recorded to\n" +
			"--out and every frame is written to --track as JSON lines. Without --live\n" +
			"the performance runs on a virtual clock and needs no audio device.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}
			if opts.Text == "" && opts.In == "" {
				return errors.New("provide --text or --in")
			}
			if opts.Text != "" && opts.In != "" {
				return errors.New("--text and --in are mutually exclusive")
			}
			if opts.Live && cfg.Audio.Output != config.OutputSpeaker {
				return fmt.Errorf("--live needs audio output %q, got %q", config.OutputSpeaker, cfg.Audio.Output)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runPerform(ctx, cfg, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.Text, "text", "", "Text to speak")
	cmd.Flags().StringVar(&opts.In, "in", "", "Recorded speech to perform ('-' for stdin)")
	cmd.Flags().StringVar(&opts.MIME, "mime", "", "Declared MIME type of --in")
	cmd.Flags().StringVar(&opts.Out, "out", "performance.wav", "Recording of the output signal (empty to skip)")
	cmd.Flags().StringVar(&opts.Track, "track", "performance.jsonl", "Frame track as JSON lines ('-' for stdout)")
	cmd.Flags().BoolVar(&opts.Live, "live", false, "Play through the speaker in real time")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 0, "Seed for synthesis noise and emotion jitter (0 picks a random seed)")
	cmd.Flags().Float64Var(&opts.Tail, "tail", 0.5, "Seconds of idle animation to render after playback ends")

	return cmd
}

func runPerform(ctx context.Context, cfg config.Config, opts performOptions, stdin io.Reader, stdout io.Writer) (err error) {
	catalog, err := loadCatalog(cfg)
	if err != nil {
		return err
	}
	profile, err := resolveEmotion(catalog, cfg.Animation.Emotion)
	if err != nil {
		return err
	}
	mode, err := pose.ParseMode(cfg.Animation.Mode)
	if err != nil {
		return err
	}

	var upload []byte
	var declared string
	if opts.In != "" {
		upload, declared, err = readAudioInput(opts.In, opts.MIME, stdin)
		if err != nil {
			return err
		}
	}

	seed := opts.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rate := cfg.Audio.SampleRate

	var rec *session.Recorder
	var recFile *os.File
	if opts.Out != "" {
		path := resolveOutputPath(cfg, opts.Out)
		recFile, err = createOutput(path)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := finishRecording(recFile, rec); cerr != nil && err == nil {
				err = cerr
			}
		}()
		rec = session.NewRecorder(recFile, rate)
	}

	trackOut, closeTrack, err := openTrack(cfg, opts.Track, stdout)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeTrack(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	track := session.NewTrackWriter(trackOut)

	var out session.Output
	if opts.Live {
		out = session.NewSpeakerOutput(rate, cfg.Audio.Buffer)
	} else {
		out = session.NewClockOutput(rate, rec)
	}

	meter := &mouthMeter{}
	sessOpts := []session.Option{
		session.WithLogger(slog.Default()),
		session.WithMode(mode),
		session.WithProfile(profile),
		session.WithRecorder(rec),
		session.WithSink(meter),
	}
	if cfg.Animation.Jitter {
		sessOpts = append(sessOpts, session.WithJitter(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))))
	}
	sess := session.New(
		synth.New(synth.WithSampleRate(rate), synth.WithRand(rand.New(rand.NewPCG(seed, seed)))),
		transform.New(),
		out,
		sessOpts...,
	)
	defer sess.Close()

	var clip *audio.Clip
	if opts.Text != "" {
		clip, err = sess.Speak(ctx, opts.Text, profile)
	} else {
		clip, err = sess.Perform(ctx, upload, declared, profile)
	}
	if err != nil {
		return err
	}
	if clip == nil {
		return errors.New("nothing to perform: input is blank")
	}

	var frames int
	if opts.Live {
		frames, err = runLiveLoop(ctx, sess, track, cfg.Animation.FPS, opts.Tail)
	} else {
		frames, err = runClockLoop(ctx, sess, track, cfg.Animation.FPS, clip.Seconds(), opts.Tail)
	}
	if err != nil {
		return err
	}
	if rec != nil {
		if rerr := rec.Err(); rerr != nil {
			return rerr
		}
	}

	slog.Info("performance rendered",
		slog.String("emotion", profile.ID),
		slog.String("mode", mode.String()),
		slog.String("clip_id", clip.ID()),
		slog.Float64("seconds", clip.Seconds()),
		slog.Int("frames", frames),
		slog.Float64("peak_mouth_open", meter.Peak()),
	)
	return nil
}

// mouthMeter is a pose sink that tracks how far the mouth opened. It runs
// on the frame loop only.
type mouthMeter struct {
	peak float64
}

func (m *mouthMeter) ApplyPose(p pose.Pose) {
	for _, n := range []pose.Node{pose.Mouth, pose.PortraitMouth} {
		if tr, ok := p.Get(n); ok {
			m.peak = max(m.peak, tr.Scale.Y())
		}
	}
}

func (m *mouthMeter) Peak() float64 { return m.peak }

// runClockLoop ticks the session at a fixed rate until playback ends and
// tail seconds of idle motion have been written. The frame count is capped
// at the clip length plus tail plus one second.
func runClockLoop(ctx context.Context, sess *session.Session, track *session.TrackWriter, fps int, clipSeconds, tail float64) (int, error) {
	dt := 1 / float64(fps)
	limit := int((clipSeconds+tail+1)*float64(fps)) + 1

	idle := 0.0
	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return track.Frames(), err
		}
		f := sess.Tick(dt)
		if err := track.WriteFrame(f); err != nil {
			return track.Frames(), err
		}
		if f.Playing {
			continue
		}
		idle += dt
		if idle >= tail {
			break
		}
	}
	return track.Frames(), nil
}

// runLiveLoop ticks on a wall-clock ticker while the speaker plays.
// Cancelling ctx stops playback and ends the loop cleanly.
func runLiveLoop(ctx context.Context, sess *session.Session, track *session.TrackWriter, fps int, tail float64) (int, error) {
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	last := time.Now()
	idle := 0.0
	for {
		select {
		case <-ctx.Done():
			sess.Stop()
			return track.Frames(), nil
		case now := <-ticker.C:
			dt := now.Sub(last).Seconds()
			last = now

			f := sess.Tick(dt)
			if err := track.WriteFrame(f); err != nil {
				return track.Frames(), err
			}
			if f.Playing {
				continue
			}
			idle += dt
			if idle >= tail {
				return track.Frames(), nil
			}
		}
	}
}

func createOutput(path string) (*os.File, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, nil
}

// finishRecording fixes up the streaming WAV header and closes f.
func finishRecording(f *os.File, rec *session.Recorder) error {
	var err error
	if rec != nil && rec.Frames() > 0 {
		err = audio.FinalizeWAVHeader(f, rec.Frames()*audio.BitDepth/8)
	}
	if cerr := f.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func openTrack(cfg config.Config, path string, stdout io.Writer) (io.Writer, func() error, error) {
	if path == "-" {
		return stdout, func() error { return nil }, nil
	}
	f, err := createOutput(resolveOutputPath(cfg, path))
	if err != nil {
		return nil, nil, err
	}
	bw := bufio.NewWriter(f)
	return bw, func() error {
		if err := bw.Flush(); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	}, nil
}

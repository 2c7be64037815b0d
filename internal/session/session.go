// Package session orchestrates one avatar performance: it renders clips off
// the frame path, keeps only the newest result, plays it, taps the output
// for the amplitude extractor and produces one pose per frame.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopxl/beep"

	"github.com/example/go-avatar-perf/internal/audio"
	"github.com/example/go-avatar-perf/internal/emotion"
	"github.com/example/go-avatar-perf/internal/excite"
	"github.com/example/go-avatar-perf/internal/observe"
	"github.com/example/go-avatar-perf/internal/pose"
)

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("session closed")

// Synthesizer renders text. A nil clip with a nil error means the text was blank.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, p emotion.Profile) (*audio.Clip, error)
}

// Transformer renders uploaded audio.
type Transformer interface {
	Transform(ctx context.Context, data []byte, mime string, p emotion.Profile) (*audio.Clip, error)
}

// Frame is the per-frame output handed to renderers and exporters.
type Frame struct {
	Elapsed    float64   `json:"t"`
	Excitation float64   `json:"excitation"`
	Playing    bool      `json:"playing"`
	ClipID     string    `json:"clipId,omitempty"`
	Pose       pose.Pose `json:"pose"`
}

type options struct {
	logger   *slog.Logger
	metrics  *observe.Metrics
	recorder *Recorder
	jitter   *rand.Rand
	mode     pose.Mode
	profile  emotion.Profile
	sink     pose.Sink
	tapSize  int
}

// Option configures a Session.
type Option func(*options)

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records render and frame metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithRecorder copies the tapped output signal to rec.
func WithRecorder(rec *Recorder) Option {
	return func(o *options) { o.recorder = rec }
}

// WithJitter derives a fresh profile variation for every utterance.
func WithJitter(rng *rand.Rand) Option {
	return func(o *options) { o.jitter = rng }
}

// WithMode sets the initial avatar mode.
func WithMode(m pose.Mode) Option {
	return func(o *options) { o.mode = m }
}

// WithSink hands every computed pose to a renderer. ApplyPose runs on the
// frame loop inside Tick and must not call back into the session.
func WithSink(sink pose.Sink) Option {
	return func(o *options) { o.sink = sink }
}

// WithProfile sets the idle profile used before the first clip.
func WithProfile(p emotion.Profile) Option {
	return func(o *options) { o.profile = p }
}

// Session is safe for concurrent use. Speak and Perform may be called from
// any goroutine; Tick is meant to be called from a single frame loop.
type Session struct {
	synth       Synthesizer
	transformer Transformer
	out         Output
	log         *slog.Logger
	metrics     *observe.Metrics
	recorder    *Recorder
	sink        pose.Sink
	tapSize     int

	mu         sync.Mutex
	gen        uint64
	cancel     context.CancelFunc
	clip       *audio.Clip
	tap        *Tap
	ended      *atomic.Bool
	playing    bool
	extractor  *excite.Extractor
	controller *pose.Controller
	profile    emotion.Profile
	mode       pose.Mode
	elapsed    float64
	jitter     *rand.Rand
	fatal      error
	closed     bool
}

// New returns a session playing through out. synth and transformer may be
// nil when the host only uses one of them.
func New(synth Synthesizer, transformer Transformer, out Output, opts ...Option) *Session {
	o := options{
		logger:  slog.Default(),
		profile: emotion.Default(),
		tapSize: excite.WindowSize * 2,
	}
	for _, fn := range opts {
		fn(&o)
	}

	return &Session{
		synth:       synth,
		transformer: transformer,
		out:         out,
		log:         o.logger,
		metrics:     o.metrics,
		recorder:    o.recorder,
		sink:        o.sink,
		tapSize:     o.tapSize,
		extractor:   excite.New(),
		controller:  pose.NewController(),
		profile:     o.profile.Clamped(),
		mode:        o.mode,
		jitter:      o.jitter,
	}
}

// Speak synthesizes text and plays it. It returns (nil, nil) when the text
// is blank or when a newer request superseded this one.
func (s *Session) Speak(ctx context.Context, text string, p emotion.Profile) (*audio.Clip, error) {
	if s.synth == nil {
		return nil, errors.New("speak: no synthesizer configured")
	}
	return s.run(ctx, observe.KindSynthesize, p, func(ctx context.Context, p emotion.Profile) (*audio.Clip, error) {
		return s.synth.Synthesize(ctx, text, p)
	})
}

// Perform transforms uploaded audio and plays it. Decode failures are
// returned as *audio.DecodeError.
func (s *Session) Perform(ctx context.Context, data []byte, mime string, p emotion.Profile) (*audio.Clip, error) {
	if s.transformer == nil {
		return nil, errors.New("perform: no transformer configured")
	}
	return s.run(ctx, observe.KindTransform, p, func(ctx context.Context, p emotion.Profile) (*audio.Clip, error) {
		return s.transformer.Transform(ctx, data, mime, p)
	})
}

type renderFunc func(ctx context.Context, p emotion.Profile) (*audio.Clip, error)

func (s *Session) run(ctx context.Context, kind string, p emotion.Profile, render renderFunc) (*audio.Clip, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.fatal != nil {
		s.mu.Unlock()
		return nil, s.fatal
	}
	s.gen++
	gen := s.gen
	if s.cancel != nil {
		s.cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	if s.jitter != nil {
		p = p.Jitter(s.jitter)
	} else {
		p = p.Clamped()
	}
	s.mu.Unlock()
	defer cancel()

	ctx, span := observe.StartSpan(ctx, "session."+kind)
	defer span.End()

	start := time.Now()
	clip, err := render(ctx, p)
	took := time.Since(start)

	s.mu.Lock()
	defer s.mu.Unlock()

	stale := gen != s.gen || s.closed
	switch {
	case err != nil && stale:
		s.metrics.RecordRender(ctx, kind, observe.StatusStale, took)
		s.log.Debug("discarded superseded request", slog.String("kind", kind), slog.Uint64("generation", gen))
		return nil, nil
	case err != nil:
		status := observe.StatusError
		if errors.Is(err, audio.ErrDecode) {
			status = observe.StatusDecodeError
		}
		s.metrics.RecordRender(ctx, kind, status, took)
		return nil, err
	case clip == nil:
		s.metrics.RecordRender(ctx, kind, observe.StatusEmpty, took)
		return nil, nil
	case stale:
		clip.Close()
		s.metrics.RecordRender(ctx, kind, observe.StatusStale, took)
		s.log.Debug("discarded stale clip",
			slog.String("kind", kind),
			slog.String("clip_id", clip.ID()),
			slog.Uint64("generation", gen),
		)
		return nil, nil
	}

	if err := s.commit(clip, p); err != nil {
		clip.Close()
		s.metrics.RecordRender(ctx, kind, observe.StatusError, took)
		if errors.Is(err, ErrUnsupportedEnvironment) {
			s.fatal = err
			s.log.Error("audio output unavailable", slog.Any("error", err))
		}
		return nil, err
	}

	s.metrics.RecordRender(ctx, kind, observe.StatusOK, took)
	s.metrics.RecordClip(ctx, kind, clip.Seconds())
	s.log.Info("playing clip",
		slog.String("kind", kind),
		slog.String("clip_id", clip.ID()),
		slog.String("emotion", p.ID),
		slog.Duration("duration", clip.Duration()),
		slog.Duration("render", took),
	)
	return clip, nil
}

// commit replaces the current playback with clip. Callers hold s.mu.
func (s *Session) commit(clip *audio.Clip, p emotion.Profile) error {
	s.stopPlayback()
	if s.clip != nil {
		s.clip.Close()
		s.clip = nil
	}

	var src beep.Streamer = clip.Streamer()
	if from, to := clip.Format().SampleRate, s.out.SampleRate(); from != to {
		src = beep.Resample(4, from, to, src)
	}
	tap := NewTap(src, s.tapSize, s.recorder)
	ended := new(atomic.Bool)
	// The callback runs on the audio goroutine and must not take s.mu.
	stream := beep.Seq(tap, beep.Callback(func() { ended.Store(true) }))

	if err := s.out.Start(stream); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}

	s.clip = clip
	s.tap = tap
	s.ended = ended
	s.playing = true
	s.profile = p
	s.extractor.Start(tap)
	return nil
}

// stopPlayback silences output and detaches the tap. Callers hold s.mu.
func (s *Session) stopPlayback() {
	if s.playing {
		s.out.Stop()
	}
	s.playing = false
	s.tap = nil
	s.ended = nil
	s.extractor.Stop()
}

// Stop invalidates in-flight requests and silences output. The next Tick
// reports excitation 0.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.stopPlayback()
}

// Tick advances the performance by dt seconds and returns the frame. It
// never fails; degenerate dt values are clamped.
func (s *Session) Tick(dt float64) Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	if math.IsNaN(dt) || dt < 0 {
		dt = 0
	}
	dt = math.Min(dt, pose.MaxFrameDelta)
	s.elapsed += dt

	if clock, ok := s.out.(Clock); ok && !s.closed {
		clock.Advance(time.Duration(dt * float64(time.Second)))
	}

	if s.playing && s.ended != nil && s.ended.Load() {
		s.playing = false
		s.tap = nil
		s.ended = nil
		s.extractor.Stop()
		s.log.Debug("playback ended")
	}

	e := s.extractor.Next()
	f := Frame{
		Elapsed:    s.elapsed,
		Excitation: e,
		Playing:    s.playing,
		Pose:       s.controller.ComputePose(s.elapsed, dt, e, s.profile, s.mode),
	}
	if s.playing && s.clip != nil {
		f.ClipID = s.clip.ID()
	}
	s.metrics.RecordFrame(context.Background(), s.mode.String(), f.Playing, e)
	if s.sink != nil {
		s.sink.ApplyPose(f.Pose)
	}
	return f
}

// SetMode switches the rig variant. Slots of the new mode are primed on
// their first frame.
func (s *Session) SetMode(m pose.Mode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
}

// Mode returns the current rig variant.
func (s *Session) Mode() pose.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetProfile sets the profile driving idle motion until the next clip.
func (s *Session) SetProfile(p emotion.Profile) {
	s.mu.Lock()
	s.profile = p.Clamped()
	s.mu.Unlock()
}

// Profile returns the profile currently driving motion.
func (s *Session) Profile() emotion.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// LastClip returns the most recently committed clip, or nil.
func (s *Session) LastClip() *audio.Clip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clip
}

// Playing reports whether a clip is audible right now.
func (s *Session) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing && s.ended != nil && !s.ended.Load()
}

// Err returns the fatal error that disabled the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

// Close stops playback, releases the last clip and the output. Later calls
// are no-ops.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.gen++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.stopPlayback()
	if s.clip != nil {
		s.clip.Close()
		s.clip = nil
	}
	return s.out.Close()
}

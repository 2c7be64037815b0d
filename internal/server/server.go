package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/example/go-avatar-perf/internal/audio"
	"github.com/example/go-avatar-perf/internal/config"
	"github.com/example/go-avatar-perf/internal/emotion"
	"github.com/example/go-avatar-perf/internal/observe"
	"github.com/example/go-avatar-perf/internal/pose"
	"github.com/example/go-avatar-perf/internal/text"
)

// ParseLogLevel converts a case-insensitive level string to slog.Level.
// An empty string returns slog.LevelInfo. Unknown strings return an error.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug|info|warn|error)", s)
	}
}

// Synthesizer renders text into a clip.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, p emotion.Profile) (*audio.Clip, error)
	SampleRate() int
}

// Transformer renders uploaded audio into a clip.
type Transformer interface {
	Transform(ctx context.Context, data []byte, mime string, p emotion.Profile) (*audio.Clip, error)
}

// Catalog resolves emotion presets.
type Catalog interface {
	List() []emotion.Profile
	Lookup(id string) (emotion.Profile, error)
}

// ---------------------------------------------------------------------------
// Functional options
// ---------------------------------------------------------------------------

type options struct {
	maxTextBytes   int
	maxUploadBytes int64
	workers        int
	requestTimeout time.Duration
	fps            int
	mode           pose.Mode
	jitter         bool
	logger         *slog.Logger
	metrics        *observe.Metrics
	metricsPath    string
	metricsHandler http.Handler
}

func defaultOptions() options {
	return options{
		maxTextBytes:   4096,
		maxUploadBytes: 16 << 20,
		workers:        2,
		requestTimeout: 60 * time.Second,
		fps:            60,
		mode:           pose.Mode3D,
		logger:         slog.Default(),
		metricsPath:    "/metrics",
	}
}

// Option configures the HTTP handler.
type Option func(*options)

// WithMaxTextBytes sets the maximum allowed text length in bytes.
func WithMaxTextBytes(n int) Option {
	return func(o *options) { o.maxTextBytes = n }
}

// WithMaxUploadBytes sets the maximum accepted audio upload size.
func WithMaxUploadBytes(n int64) Option {
	return func(o *options) { o.maxUploadBytes = n }
}

// WithWorkers sets the maximum number of concurrent renders. Zero disables
// throttling.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithRequestTimeout sets the per-render deadline. Zero or negative
// disables it.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithFPS sets the default frame rate of /perform streams.
func WithFPS(n int) Option {
	return func(o *options) { o.fps = n }
}

// WithMode sets the default avatar mode of /perform streams.
func WithMode(m pose.Mode) Option {
	return func(o *options) { o.mode = m }
}

// WithJitter varies the emotion slightly per utterance in /perform streams.
func WithJitter(on bool) Option {
	return func(o *options) { o.jitter = on }
}

// WithLogger sets the slog.Logger used for request logging.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records render and session metrics and wraps the handler in
// the tracing middleware.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithMetricsHandler serves h on path, typically the Prometheus exposition.
func WithMetricsHandler(path string, h http.Handler) Option {
	return func(o *options) {
		o.metricsPath = path
		o.metricsHandler = h
	}
}

// ---------------------------------------------------------------------------
// handler
// ---------------------------------------------------------------------------

// handler holds the dependencies needed to serve HTTP requests.
type handler struct {
	synth       Synthesizer
	transformer Transformer
	catalog     Catalog
	opts        options
	sem         chan struct{} // semaphore for worker pool
	log         *slog.Logger
	metrics     *observe.Metrics
}

// NewHandler returns an http.Handler serving /health, /emotions,
// POST /synthesize, POST /transform and the /perform WebSocket.
func NewHandler(synth Synthesizer, transformer Transformer, catalog Catalog, optFns ...Option) http.Handler {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handler{
		synth:       synth,
		transformer: transformer,
		catalog:     catalog,
		opts:        opts,
		log:         opts.logger,
		metrics:     opts.metrics,
	}
	if opts.workers > 0 {
		h.sem = make(chan struct{}, opts.workers)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/emotions", h.handleEmotions)
	mux.HandleFunc("/synthesize", h.handleSynthesize)
	mux.HandleFunc("/transform", h.handleTransform)
	mux.HandleFunc("/perform", h.handlePerform)
	if opts.metricsHandler != nil {
		mux.Handle(opts.metricsPath, opts.metricsHandler)
	}

	return observe.Middleware(opts.metrics, opts.logger)(mux)
}

func buildVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "dev"
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildVersion(),
	})
}

func (h *handler) handleEmotions(w http.ResponseWriter, _ *http.Request) {
	profiles := h.catalog.List()
	if profiles == nil {
		profiles = []emotion.Profile{}
	}
	writeJSON(w, http.StatusOK, profiles)
}

type synthesizeRequest struct {
	Text    string `json:"text"`
	Emotion string `json:"emotion"`
}

func (h *handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if r.Body == nil || r.Body == http.NoBody {
		writeError(w, http.StatusBadRequest, "request body is required")
		return
	}

	var req synthesizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	if _, err := text.Normalize(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, "text field is required")
		return
	}

	if len(req.Text) > h.opts.maxTextBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("text exceeds maximum size of %d bytes", h.opts.maxTextBytes))
		return
	}

	profile, ok := h.lookupEmotion(w, req.Emotion)
	if !ok {
		return
	}

	release, ok := h.acquire(w, r)
	if !ok {
		return
	}
	defer release()

	ctx, cancel := h.renderContext(r.Context())
	defer cancel()

	start := time.Now()
	clip, err := h.synth.Synthesize(ctx, req.Text, profile)
	took := time.Since(start)

	logAttrs := []any{
		slog.String("emotion", profile.ID),
		slog.Int("text_len", len(req.Text)),
		slog.Int64("duration_ms", took.Milliseconds()),
	}
	h.finishRender(w, r, observe.KindSynthesize, clip, err, took, logAttrs)
}

func (h *handler) handleTransform(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	profile, ok := h.lookupEmotion(w, r.URL.Query().Get("emotion"))
	if !ok {
		return
	}

	if r.Body == nil || r.Body == http.NoBody {
		writeError(w, http.StatusBadRequest, "audio body is required")
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.maxUploadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds maximum size of %d bytes", h.opts.maxUploadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "reading upload: "+err.Error())
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "audio body is required")
		return
	}

	release, ok := h.acquire(w, r)
	if !ok {
		return
	}
	defer release()

	ctx, cancel := h.renderContext(r.Context())
	defer cancel()

	mime := r.Header.Get("Content-Type")
	start := time.Now()
	clip, err := h.transformer.Transform(ctx, data, mime, profile)
	took := time.Since(start)

	logAttrs := []any{
		slog.String("emotion", profile.ID),
		slog.String("mime", mime),
		slog.Int("upload_bytes", len(data)),
		slog.Int64("duration_ms", took.Milliseconds()),
	}
	h.finishRender(w, r, observe.KindTransform, clip, err, took, logAttrs)
}

// finishRender maps a render outcome onto the response and records it.
func (h *handler) finishRender(w http.ResponseWriter, r *http.Request, kind string, clip *audio.Clip, err error, took time.Duration, logAttrs []any) {
	ctx := r.Context()
	log := observe.Logger(ctx, h.log)

	var decodeErr *audio.DecodeError
	switch {
	case errors.As(err, &decodeErr):
		h.metrics.RecordRender(ctx, kind, observe.StatusDecodeError, took)
		log.WarnContext(ctx, "upload rejected", append(logAttrs, slog.String("error", err.Error()))...)
		writeError(w, http.StatusUnsupportedMediaType, decodeErr.Reason)
		return
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		h.metrics.RecordRender(ctx, kind, observe.StatusError, took)
		log.WarnContext(ctx, kind+" timed out", append(logAttrs, slog.String("error", err.Error()))...)
		writeError(w, http.StatusGatewayTimeout, kind+" timed out")
		return
	case err != nil:
		h.metrics.RecordRender(ctx, kind, observe.StatusError, took)
		log.ErrorContext(ctx, kind+" failed", append(logAttrs, slog.String("error", err.Error()))...)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	case clip == nil:
		h.metrics.RecordRender(ctx, kind, observe.StatusEmpty, took)
		writeError(w, http.StatusBadRequest, "nothing to render")
		return
	}
	defer clip.Close()

	wav, err := audio.EncodeWAV(clip)
	if err != nil {
		h.metrics.RecordRender(ctx, kind, observe.StatusError, took)
		log.ErrorContext(ctx, "encode failed", append(logAttrs, slog.String("error", err.Error()))...)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.metrics.RecordRender(ctx, kind, observe.StatusOK, took)
	h.metrics.RecordClip(ctx, kind, clip.Seconds())
	log.InfoContext(ctx, kind+" complete",
		append(logAttrs,
			slog.String("clip_id", clip.ID()),
			slog.Int("wav_bytes", len(wav)),
		)...,
	)

	w.Header().Set("Content-Type", audio.MIMEWAV)
	w.Header().Set("X-Clip-Id", clip.ID())
	w.Header().Set("X-Clip-Duration", strconv.FormatFloat(clip.Seconds(), 'f', 3, 64))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

func (h *handler) lookupEmotion(w http.ResponseWriter, id string) (emotion.Profile, bool) {
	p, err := h.catalog.Lookup(id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return emotion.Profile{}, false
	}
	return p, true
}

// acquire takes a worker slot, honouring cancellation while waiting.
func (h *handler) acquire(w http.ResponseWriter, r *http.Request) (func(), bool) {
	if err := h.wait(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "request cancelled while waiting for worker")
		return nil, false
	}
	return h.done, true
}

func (h *handler) wait(ctx context.Context) error {
	if h.sem == nil {
		return nil
	}
	select {
	case h.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *handler) done() {
	if h.sem != nil {
		<-h.sem
	}
}

func (h *handler) newJitter() *rand.Rand {
	if !h.opts.jitter {
		return nil
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ---------------------------------------------------------------------------
// Server: wires the handler into net/http.Server with graceful shutdown
// ---------------------------------------------------------------------------

// Deps are the engine components the server exposes.
type Deps struct {
	Synth          Synthesizer
	Transformer    Transformer
	Catalog        Catalog
	Logger         *slog.Logger
	Metrics        *observe.Metrics
	MetricsHandler http.Handler
}

// Server wires the HTTP handler into a net/http.Server with graceful shutdown.
type Server struct {
	cfg             config.Config
	deps            Deps
	shutdownTimeout time.Duration
}

func New(cfg config.Config, deps Deps) *Server {
	shutdown := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	if shutdown <= 0 {
		shutdown = 30 * time.Second
	}
	return &Server{
		cfg:             cfg,
		deps:            deps,
		shutdownTimeout: shutdown,
	}
}

// WithShutdownTimeout overrides the graceful-shutdown drain period.
func (s *Server) WithShutdownTimeout(d time.Duration) *Server {
	s.shutdownTimeout = d
	return s
}

// Handler builds the configured HTTP handler.
func (s *Server) Handler() (http.Handler, error) {
	if s.deps.Synth == nil || s.deps.Transformer == nil || s.deps.Catalog == nil {
		return nil, errors.New("server: synthesizer, transformer and catalog are required")
	}

	mode, err := pose.ParseMode(s.cfg.Animation.Mode)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithWorkers(s.cfg.Server.Workers),
		WithMaxTextBytes(s.cfg.Server.MaxTextBytes),
		WithMaxUploadBytes(s.cfg.Server.MaxUploadBytes),
		WithRequestTimeout(time.Duration(s.cfg.Server.RequestTimeout) * time.Second),
		WithFPS(s.cfg.Animation.FPS),
		WithMode(mode),
		WithJitter(s.cfg.Animation.Jitter),
		WithMetrics(s.deps.Metrics),
	}
	if s.deps.Logger != nil {
		opts = append(opts, WithLogger(s.deps.Logger))
	}
	if s.cfg.Metrics.Enabled && s.deps.MetricsHandler != nil {
		opts = append(opts, WithMetricsHandler(s.cfg.Metrics.Path, s.deps.MetricsHandler))
	}

	return NewHandler(s.deps.Synth, s.deps.Transformer, s.deps.Catalog, opts...), nil
}

func (s *Server) Start(ctx context.Context) error {
	h, err := s.Handler()
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              s.cfg.Server.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http listen: %w", err)
	}
}

func ProbeHTTP(addr string) error {
	resp, err := http.Get("http://" + addr + "/health") //nolint:noctx
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected health status: %s", resp.Status)
	}
	return nil
}

package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/go-avatar-perf/internal/audio"
	"github.com/example/go-avatar-perf/internal/emotion"
	"github.com/example/go-avatar-perf/internal/observe"
	"github.com/example/go-avatar-perf/internal/pose"
	"github.com/example/go-avatar-perf/internal/session"
	"github.com/example/go-avatar-perf/internal/text"
)

const (
	maxStreamFPS = 120
	writeWait    = 5 * time.Second
)

// Client message types on /perform.
const (
	msgSpeak   = "speak"
	msgPerform = "perform"
	msgStop    = "stop"
)

// Server message types on /perform.
const (
	msgFrame = "frame"
	msgEnd   = "end"
	msgError = "error"
)

// performRequest is one client message. The first message starts the
// performance; later ones interrupt it. Audio is base64 in JSON.
type performRequest struct {
	Type    string `json:"type,omitempty"`
	Text    string `json:"text,omitempty"`
	Audio   []byte `json:"audio,omitempty"`
	MIME    string `json:"mime,omitempty"`
	Emotion string `json:"emotion,omitempty"`
	Mode    string `json:"mode,omitempty"`
	FPS     int    `json:"fps,omitempty"`
}

type performMessage struct {
	Type  string         `json:"type"`
	Frame *session.Frame `json:"frame,omitempty"`
	Error string         `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Renderers are served from arbitrary origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handlePerform streams pose frames over a WebSocket. Frames are paced at
// the requested rate until playback ends, then a final rest frame is sent
// and the connection is closed.
func (h *handler) handlePerform(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		h.log.WarnContext(r.Context(), "websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()
	conn.SetReadLimit(h.opts.maxUploadBytes*4/3 + 4096)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := observe.Logger(ctx, h.log)

	var first performRequest
	if err := conn.ReadJSON(&first); err != nil {
		log.WarnContext(ctx, "reading perform request", slog.String("error", err.Error()))
		return
	}

	mode := h.opts.mode
	if first.Mode != "" {
		if mode, err = pose.ParseMode(first.Mode); err != nil {
			h.closeWithError(conn, err.Error())
			return
		}
	}
	fps := h.opts.fps
	if first.FPS != 0 {
		fps = first.FPS
	}
	if fps < 1 || fps > maxStreamFPS {
		h.closeWithError(conn, "fps must be between 1 and 120")
		return
	}

	opts := []session.Option{
		session.WithLogger(log),
		session.WithMetrics(h.metrics),
		session.WithMode(mode),
	}
	if rng := h.newJitter(); rng != nil {
		opts = append(opts, session.WithJitter(rng))
	}
	sess := session.New(h.synth, h.transformer, session.NewClockOutput(h.synth.SampleRate(), nil), opts...)
	defer sess.Close()

	h.metrics.SessionStarted(ctx)
	defer h.metrics.SessionEnded(ctx)

	results := make(chan error)
	pending := 0
	start := func(req performRequest) error {
		p, run, err := h.prepare(sess, req)
		if err != nil {
			return err
		}
		sess.SetProfile(p)
		pending++
		go func() {
			err := h.runRender(ctx, run)
			select {
			case results <- err:
			case <-ctx.Done():
			}
		}()
		return nil
	}

	if err := start(first); err != nil {
		h.closeWithError(conn, err.Error())
		return
	}

	requests := make(chan performRequest)
	go func() {
		defer close(requests)
		for {
			var req performRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			select {
			case requests <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	dt := 1 / float64(fps)
	ticker := time.NewTicker(time.Duration(dt * float64(time.Second)))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-requests:
			if !ok {
				log.DebugContext(ctx, "perform client went away")
				return
			}
			if req.Type == msgStop {
				sess.Stop()
				continue
			}
			if err := start(req); err != nil {
				if werr := h.send(conn, performMessage{Type: msgError, Error: err.Error()}); werr != nil {
					return
				}
			}
		case err := <-results:
			pending--
			if err != nil {
				log.WarnContext(ctx, "perform render failed", slog.String("error", err.Error()))
				if werr := h.send(conn, performMessage{Type: msgError, Error: renderErrorMessage(err)}); werr != nil {
					return
				}
			}
		case <-ticker.C:
			f := sess.Tick(dt)
			if pending == 0 && !f.Playing {
				if err := h.send(conn, performMessage{Type: msgEnd, Frame: &f}); err != nil {
					return
				}
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "performance complete"),
					time.Now().Add(writeWait))
				return
			}
			if err := h.send(conn, performMessage{Type: msgFrame, Frame: &f}); err != nil {
				log.DebugContext(ctx, "perform write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// prepare validates a speak or perform request and returns the render to
// run on the session.
func (h *handler) prepare(sess *session.Session, req performRequest) (emotion.Profile, func(context.Context) error, error) {
	p, err := h.catalog.Lookup(req.Emotion)
	if err != nil {
		return emotion.Profile{}, nil, err
	}

	switch req.Type {
	case "", msgSpeak:
		if _, err := text.Normalize(req.Text); err != nil {
			return emotion.Profile{}, nil, errors.New("text field is required")
		}
		if len(req.Text) > h.opts.maxTextBytes {
			return emotion.Profile{}, nil, errors.New("text exceeds maximum size")
		}
		return p, func(ctx context.Context) error {
			_, err := sess.Speak(ctx, req.Text, p)
			return err
		}, nil
	case msgPerform:
		if len(req.Audio) == 0 {
			return emotion.Profile{}, nil, errors.New("audio field is required")
		}
		if int64(len(req.Audio)) > h.opts.maxUploadBytes {
			return emotion.Profile{}, nil, errors.New("audio exceeds maximum size")
		}
		return p, func(ctx context.Context) error {
			_, err := sess.Perform(ctx, req.Audio, req.MIME, p)
			return err
		}, nil
	default:
		return emotion.Profile{}, nil, errors.New("unknown message type " + req.Type)
	}
}

// runRender runs one render under a worker slot and the request timeout.
// Superseded renders return nil.
func (h *handler) runRender(ctx context.Context, run func(context.Context) error) error {
	if err := h.wait(ctx); err != nil {
		return err
	}
	defer h.done()

	ctx, cancel := h.renderContext(ctx)
	defer cancel()
	return run(ctx)
}

func (h *handler) renderContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.opts.requestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.opts.requestTimeout)
}

func (h *handler) send(conn *websocket.Conn, msg performMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func (h *handler) closeWithError(conn *websocket.Conn, msg string) {
	_ = h.send(conn, performMessage{Type: msgError, Error: msg})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg),
		time.Now().Add(writeWait))
}

func renderErrorMessage(err error) string {
	var decodeErr *audio.DecodeError
	switch {
	case errors.As(err, &decodeErr):
		return decodeErr.Reason
	case errors.Is(err, context.DeadlineExceeded):
		return "render timed out"
	default:
		return err.Error()
	}
}

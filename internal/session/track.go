package session

import (
	"encoding/json"
	"fmt"
	"io"
)

// TrackWriter writes frames as JSON lines, one per rendered frame. It is
// the pose half of the exporter tap; Recorder is the audio half.
type TrackWriter struct {
	enc    *json.Encoder
	frames int
}

// NewTrackWriter returns a writer emitting to w.
func NewTrackWriter(w io.Writer) *TrackWriter {
	return &TrackWriter{enc: json.NewEncoder(w)}
}

// WriteFrame appends one frame.
func (t *TrackWriter) WriteFrame(f Frame) error {
	if err := t.enc.Encode(f); err != nil {
		return fmt.Errorf("write frame %d: %w", t.frames, err)
	}
	t.frames++
	return nil
}

// Frames returns the number of frames written.
func (t *TrackWriter) Frames() int { return t.frames }

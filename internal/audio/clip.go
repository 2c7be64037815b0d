// Package audio holds the decoded PCM clip type shared by synthesis,
// transform and playback, plus the codecs and DSP helpers around it.
package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gopxl/beep"
)

// Clip is an immutable buffer of interleaved float32 PCM frames.
// Producers hand ownership of the sample slice to the clip; nothing may
// mutate it afterwards.
type Clip struct {
	id         string
	sampleRate int
	channels   int
	data       []float32

	closeOnce sync.Once
	released  atomic.Bool
	release   func()
}

// ClipOption configures a Clip at construction.
type ClipOption func(*Clip)

// WithRelease registers a hook run exactly once when the clip is closed.
func WithRelease(fn func()) ClipOption {
	return func(c *Clip) { c.release = fn }
}

// NewClip wraps interleaved samples. The clip takes ownership of samples.
func NewClip(samples []float32, sampleRate, channels int, opts ...ClipOption) (*Clip, error) {
	if sampleRate < 1 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count: %d", channels)
	}
	if len(samples)%channels != 0 {
		return nil, fmt.Errorf("sample count %d is not a multiple of %d channels", len(samples), channels)
	}

	c := &Clip{
		id:         uuid.NewString(),
		sampleRate: sampleRate,
		channels:   channels,
		data:       samples,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Clip) ID() string      { return c.id }
func (c *Clip) SampleRate() int { return c.sampleRate }
func (c *Clip) Channels() int   { return c.channels }

// Frames returns the number of sample frames (samples per channel).
func (c *Clip) Frames() int { return len(c.data) / c.channels }

// Seconds returns the clip duration in seconds.
func (c *Clip) Seconds() float64 {
	return float64(c.Frames()) / float64(c.sampleRate)
}

// Duration returns the clip duration.
func (c *Clip) Duration() time.Duration {
	return time.Duration(c.Seconds() * float64(time.Second))
}

// Samples returns a copy of the interleaved samples.
func (c *Clip) Samples() []float32 {
	return append([]float32(nil), c.data...)
}

// Format describes the clip in beep terms.
func (c *Clip) Format() beep.Format {
	ch := c.channels
	if ch > 2 {
		ch = 2
	}
	return beep.Format{SampleRate: beep.SampleRate(c.sampleRate), NumChannels: ch, Precision: 2}
}

// Streamer returns a fresh read-only streamer positioned at the start.
// Mono clips are duplicated onto both beep channels; clips with more than
// two channels expose the first two.
func (c *Clip) Streamer() beep.StreamSeeker {
	return &clipStreamer{data: c.data, channels: c.channels}
}

// Close runs the release hook once. Closing an already closed clip is a no-op.
func (c *Clip) Close() error {
	c.closeOnce.Do(func() {
		c.released.Store(true)
		if c.release != nil {
			c.release()
		}
	})
	return nil
}

// Released reports whether Close has been called.
func (c *Clip) Released() bool { return c.released.Load() }

var errSeekRange = errors.New("seek position out of range")

type clipStreamer struct {
	data     []float32
	channels int
	pos      int
}

func (s *clipStreamer) Stream(samples [][2]float64) (int, bool) {
	frames := len(s.data) / s.channels
	if s.pos >= frames {
		return 0, false
	}
	n := 0
	for n < len(samples) && s.pos < frames {
		base := s.pos * s.channels
		left := float64(s.data[base])
		right := left
		if s.channels > 1 {
			right = float64(s.data[base+1])
		}
		samples[n] = [2]float64{left, right}
		n++
		s.pos++
	}
	return n, true
}

func (s *clipStreamer) Err() error    { return nil }
func (s *clipStreamer) Len() int      { return len(s.data) / s.channels }
func (s *clipStreamer) Position() int { return s.pos }

func (s *clipStreamer) Seek(p int) error {
	if p < 0 || p > s.Len() {
		return fmt.Errorf("%w: %d", errSeekRange, p)
	}
	s.pos = p
	return nil
}

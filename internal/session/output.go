package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"
)

// ErrUnsupportedEnvironment reports that no audio output device is usable.
// It is fatal for the session that hit it.
var ErrUnsupportedEnvironment = errors.New("audio output unavailable")

// Output is the audio device a session plays through. Start replaces
// whatever is playing; the stream is already at SampleRate.
type Output interface {
	SampleRate() beep.SampleRate
	Start(s beep.Streamer) error
	Stop()
	Close() error
}

// Clock is implemented by outputs driven by the frame loop rather than a
// hardware callback.
type Clock interface {
	Advance(d time.Duration) int
}

type deviceState int

const (
	deviceUnopened deviceState = iota
	deviceOpen
	deviceFailed
	deviceClosed
)

// SpeakerOutput plays through the process-wide beep speaker. The device is
// opened lazily on first Start and closed exactly once. A failed open is
// remembered and never retried.
type SpeakerOutput struct {
	rate   beep.SampleRate
	buffer time.Duration

	mu      sync.Mutex
	state   deviceState
	initErr error
}

// NewSpeakerOutput returns an unopened speaker output. buffer is the device
// latency; values below 10ms are raised to 10ms.
func NewSpeakerOutput(sampleRate int, buffer time.Duration) *SpeakerOutput {
	return &SpeakerOutput{
		rate:   beep.SampleRate(sampleRate),
		buffer: max(buffer, 10*time.Millisecond),
	}
}

func (o *SpeakerOutput) SampleRate() beep.SampleRate { return o.rate }

// Start opens the device if needed, clears it and plays s.
func (o *SpeakerOutput) Start(s beep.Streamer) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case deviceFailed:
		return o.initErr
	case deviceClosed:
		return fmt.Errorf("%w: output closed", ErrUnsupportedEnvironment)
	case deviceUnopened:
		if err := speaker.Init(o.rate, o.rate.N(o.buffer)); err != nil {
			o.state = deviceFailed
			o.initErr = fmt.Errorf("%w: %v", ErrUnsupportedEnvironment, err)
			return o.initErr
		}
		o.state = deviceOpen
	}

	speaker.Clear()
	speaker.Play(s)
	return nil
}

// Stop silences the device. It is a no-op unless the device is open.
func (o *SpeakerOutput) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == deviceOpen {
		speaker.Clear()
	}
}

// Close releases the device. Later calls are no-ops.
func (o *SpeakerOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == deviceOpen {
		speaker.Clear()
		speaker.Close()
	}
	o.state = deviceClosed
	return nil
}

// ClockOutput is a virtual device. Audio only advances when the frame loop
// calls Advance, which makes renders deterministic and lets headless hosts
// run performances without a sound card.
type ClockOutput struct {
	rate beep.SampleRate
	rec  *Recorder

	mu      sync.Mutex
	current beep.Streamer
	buf     [][2]float64
	closed  bool
}

// NewClockOutput returns a virtual device at sampleRate. If rec is non-nil,
// idle time is recorded as silence.
func NewClockOutput(sampleRate int, rec *Recorder) *ClockOutput {
	return &ClockOutput{rate: beep.SampleRate(sampleRate), rec: rec}
}

func (o *ClockOutput) SampleRate() beep.SampleRate { return o.rate }

func (o *ClockOutput) Start(s beep.Streamer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return fmt.Errorf("%w: output closed", ErrUnsupportedEnvironment)
	}
	o.current = s
	return nil
}

func (o *ClockOutput) Stop() {
	o.mu.Lock()
	o.current = nil
	o.mu.Unlock()
}

func (o *ClockOutput) Close() error {
	o.mu.Lock()
	o.closed = true
	o.current = nil
	o.mu.Unlock()
	return nil
}

// Advance pulls d worth of frames through the current stream and returns
// how many the stream produced.
func (o *ClockOutput) Advance(d time.Duration) int {
	o.mu.Lock()
	defer o.mu.Unlock()

	want := o.rate.N(d)
	if want <= 0 {
		return 0
	}
	if o.current == nil {
		if o.rec != nil {
			o.rec.Silence(want)
		}
		return 0
	}
	if len(o.buf) < want {
		o.buf = make([][2]float64, want)
	}

	got := 0
	for got < want {
		n, ok := o.current.Stream(o.buf[got:want])
		got += n
		if !ok {
			o.current = nil
			break
		}
		if n == 0 {
			break
		}
	}
	if o.rec != nil && got < want {
		o.rec.Silence(want - got)
	}
	return got
}

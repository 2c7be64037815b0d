package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"
)

// BitDepth is the sample width of every WAV this package writes.
const BitDepth = 16

// EncodeWAV encodes a clip as 16-bit PCM WAV at the clip's own sample rate
// and channel count.
func EncodeWAV(clip *Clip) ([]byte, error) {
	if clip == nil {
		return nil, errors.New("encode WAV: nil clip")
	}

	return EncodeSamples(clip.data, clip.sampleRate, clip.channels)
}

// EncodeSamples encodes interleaved float32 samples as 16-bit PCM WAV.
func EncodeSamples(samples []float32, sampleRate, channels int) ([]byte, error) {
	if sampleRate < 1 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count: %d", channels)
	}

	var buf bytes.Buffer

	// wav.NewEncoder requires an io.WriteSeeker; bytes.Buffer is not one.
	sw := &seekBuffer{buf: &buf}

	enc := wav.NewEncoder(sw, sampleRate, BitDepth, channels, 1) // 1 = PCM

	pcmBuf := &goaudio.Float32Buffer{
		Data:           clampSamples(samples),
		Format:         &goaudio.Format{SampleRate: sampleRate, NumChannels: channels},
		SourceBitDepth: BitDepth,
	}

	if err := enc.Write(pcmBuf); err != nil {
		return nil, fmt.Errorf("writing PCM: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("closing encoder: %w", err)
	}

	return buf.Bytes(), nil
}

func clampSamples(samples []float32) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		switch {
		case math.IsNaN(float64(s)):
			out[i] = 0
		case s > 1:
			out[i] = 1
		case s < -1:
			out[i] = -1
		default:
			out[i] = s
		}
	}
	return out
}

// seekBuffer wraps a bytes.Buffer to satisfy io.WriteSeeker.
type seekBuffer struct {
	buf *bytes.Buffer
	pos int
}

func (s *seekBuffer) Write(p []byte) (int, error) {
	if s.pos == s.buf.Len() {
		n, err := s.buf.Write(p)
		s.pos += n
		return n, err
	}
	// Writing in the middle overwrites existing bytes (header patch-up).
	data := s.buf.Bytes()
	n := copy(data[s.pos:], p)
	if n < len(p) {
		s.buf.Write(p[n:])
		n = len(p)
	}
	s.pos += n
	return n, nil
}

func (s *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var newPos int
	switch whence {
	case io.SeekStart:
		newPos = int(offset)
	case io.SeekCurrent:
		newPos = s.pos + int(offset)
	case io.SeekEnd:
		newPos = s.buf.Len() + int(offset)
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if newPos < 0 || newPos > s.buf.Len() {
		return 0, fmt.Errorf("seek out of range: %d", newPos)
	}
	s.pos = newPos
	return int64(newPos), nil
}

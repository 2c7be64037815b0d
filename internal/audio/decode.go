package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/cwbudde/wav"
	"github.com/gabriel-vasile/mimetype"
	"github.com/gopxl/beep"
	"github.com/gopxl/beep/flac"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/vorbis"
)

// Canonical MIME types of the supported upload containers.
const (
	MIMEWAV  = "audio/wav"
	MIMEMP3  = "audio/mpeg"
	MIMEFLAC = "audio/flac"
	MIMEOgg  = "audio/ogg"
)

// ErrDecode is matched by every DecodeError.
var ErrDecode = errors.New("audio decode failed")

// DecodeError reports an unsupported or corrupt upload. Reason is safe to
// show to end users.
type DecodeError struct {
	MIME   string
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "decode audio"
	if e.MIME != "" {
		msg += " (" + e.MIME + ")"
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDecode) true for any DecodeError.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

var mimeAliases = map[string]string{
	"audio/wav":       MIMEWAV,
	"audio/wave":      MIMEWAV,
	"audio/x-wav":     MIMEWAV,
	"audio/vnd.wave":  MIMEWAV,
	"audio/mpeg":      MIMEMP3,
	"audio/mp3":       MIMEMP3,
	"audio/mpeg3":     MIMEMP3,
	"audio/x-mpeg-3":  MIMEMP3,
	"audio/flac":      MIMEFLAC,
	"audio/x-flac":    MIMEFLAC,
	"audio/ogg":       MIMEOgg,
	"audio/vorbis":    MIMEOgg,
	"application/ogg": MIMEOgg,
}

// CanonicalMIME maps a declared or sniffed MIME type onto one of the
// supported canonical types. It returns "" for anything else.
func CanonicalMIME(declared string) string {
	mt, _, err := mime.ParseMediaType(strings.TrimSpace(declared))
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(declared))
	}
	return mimeAliases[mt]
}

// SniffMIME resolves the container of data. Content sniffing wins over the
// declared type whenever it recognizes a supported container; otherwise the
// declared type is used. The result is "" when neither is supported.
func SniffMIME(data []byte, declared string) string {
	if len(data) > 0 {
		detected := mimetype.Detect(data)
		for m := detected; m != nil; m = m.Parent() {
			if canon := CanonicalMIME(m.String()); canon != "" {
				return canon
			}
		}
	}
	return CanonicalMIME(declared)
}

// Decode decodes an uploaded audio file into a clip. Unsupported or corrupt
// input returns a *DecodeError and never a partial clip.
func Decode(data []byte, declaredMIME string) (*Clip, error) {
	if len(data) == 0 {
		return nil, &DecodeError{MIME: declaredMIME, Reason: "empty input"}
	}

	kind := SniffMIME(data, declaredMIME)
	switch kind {
	case MIMEWAV:
		return decodeWAV(data)
	case MIMEMP3:
		s, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(data)))
		if err != nil {
			return nil, &DecodeError{MIME: kind, Reason: "invalid MP3 stream", Err: err}
		}
		return drain(kind, s, format)
	case MIMEFLAC:
		s, format, err := flac.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, &DecodeError{MIME: kind, Reason: "invalid FLAC stream", Err: err}
		}
		return drain(kind, s, format)
	case MIMEOgg:
		s, format, err := vorbis.Decode(io.NopCloser(bytes.NewReader(data)))
		if err != nil {
			return nil, &DecodeError{MIME: kind, Reason: "invalid Ogg Vorbis stream", Err: err}
		}
		return drain(kind, s, format)
	default:
		label := declaredMIME
		if label == "" {
			label = mimetype.Detect(data).String()
		}
		return nil, &DecodeError{MIME: label, Reason: "unsupported audio format"}
	}
}

func decodeWAV(data []byte) (*Clip, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, &DecodeError{MIME: MIMEWAV, Reason: "invalid WAV file"}
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, &DecodeError{MIME: MIMEWAV, Reason: "reading PCM data", Err: err}
	}

	channels := int(dec.NumChans)
	if channels < 1 || int(dec.SampleRate) < 1 {
		return nil, &DecodeError{MIME: MIMEWAV, Reason: fmt.Sprintf("bad format: %d Hz, %d channels", dec.SampleRate, dec.NumChans)}
	}
	samples := buf.Data
	samples = samples[:len(samples)-len(samples)%channels]
	if len(samples) == 0 {
		return nil, &DecodeError{MIME: MIMEWAV, Reason: "no audio frames"}
	}

	clip, err := NewClip(samples, int(dec.SampleRate), channels)
	if err != nil {
		return nil, &DecodeError{MIME: MIMEWAV, Reason: "bad format", Err: err}
	}
	return clip, nil
}

// drain reads a beep decoder to the end and closes it on every path.
func drain(kind string, s beep.StreamSeekCloser, format beep.Format) (_ *Clip, err error) {
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = &DecodeError{MIME: kind, Reason: "closing decoder", Err: cerr}
		}
	}()

	channels := format.NumChannels
	if channels < 1 || channels > 2 {
		channels = 2
	}
	if format.SampleRate <= 0 {
		return nil, &DecodeError{MIME: kind, Reason: "missing sample rate"}
	}

	out := make([]float32, 0, max(s.Len(), 0)*channels)
	block := make([][2]float64, 1024)
	for {
		n, ok := s.Stream(block)
		for _, frame := range block[:n] {
			out = append(out, float32(frame[0]))
			if channels == 2 {
				out = append(out, float32(frame[1]))
			}
		}
		if !ok {
			break
		}
	}
	if serr := s.Err(); serr != nil {
		return nil, &DecodeError{MIME: kind, Reason: "corrupt audio data", Err: serr}
	}
	if len(out) == 0 {
		return nil, &DecodeError{MIME: kind, Reason: "no audio frames"}
	}

	clip, err := NewClip(out, int(format.SampleRate), channels)
	if err != nil {
		return nil, &DecodeError{MIME: kind, Reason: "bad format", Err: err}
	}
	return clip, nil
}

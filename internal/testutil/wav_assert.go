package testutil

import (
	"encoding/binary"
	"errors"
	"testing"
)

// WAVInfo is the format of a parsed PCM WAV file.
type WAVInfo struct {
	SampleRate int
	Channels   int
	BitDepth   int
	DataBytes  int
}

// Seconds returns the audio duration.
func (w WAVInfo) Seconds() float64 {
	frameBytes := w.Channels * w.BitDepth / 8
	if frameBytes == 0 || w.SampleRate == 0 {
		return 0
	}
	return float64(w.DataBytes/frameBytes) / float64(w.SampleRate)
}

// ParseWAV reads the RIFF header of a PCM WAV file.
func ParseWAV(tb testing.TB, data []byte) WAVInfo {
	tb.Helper()

	if len(data) < 44 {
		tb.Fatalf("WAV data too short: %d bytes", len(data))
	}

	if string(data[0:4]) != "RIFF" {
		tb.Fatalf("WAV: missing RIFF header (got %q)", string(data[0:4]))
	}

	if string(data[8:12]) != "WAVE" {
		tb.Fatalf("WAV: missing WAVE marker (got %q)", string(data[8:12]))
	}

	if string(data[12:16]) != "fmt " {
		tb.Fatalf("WAV: missing fmt chunk (got %q)", string(data[12:16]))
	}

	// fmt chunk fields (little-endian).
	audioFmt := binary.LittleEndian.Uint16(data[20:22])
	if audioFmt != 1 {
		tb.Fatalf("WAV: expected PCM format (1), got %d", audioFmt)
	}

	dataSize, err := findDataChunkSize(data)
	if err != nil {
		tb.Fatalf("WAV: %v", err)
	}

	return WAVInfo{
		SampleRate: int(binary.LittleEndian.Uint32(data[24:28])),
		Channels:   int(binary.LittleEndian.Uint16(data[22:24])),
		BitDepth:   int(binary.LittleEndian.Uint16(data[34:36])),
		DataBytes:  int(dataSize),
	}
}

// AssertValidWAV checks that data is a 16-bit PCM WAV file with the
// expected sample rate and channel count and at least one sample.
func AssertValidWAV(tb testing.TB, data []byte, sampleRate, channels int) WAVInfo {
	tb.Helper()

	info := ParseWAV(tb, data)
	if info.Channels != channels {
		tb.Fatalf("WAV: expected %d channels, got %d", channels, info.Channels)
	}

	if info.SampleRate != sampleRate {
		tb.Fatalf("WAV: expected sample rate %d, got %d", sampleRate, info.SampleRate)
	}

	if info.BitDepth != 16 {
		tb.Fatalf("WAV: expected 16-bit depth, got %d", info.BitDepth)
	}

	if info.DataBytes == 0 {
		tb.Fatal("WAV: data chunk contains zero samples")
	}
	return info
}

// AssertWAVDurationApprox asserts that the WAV audio duration falls within
// [minSec, maxSec], using the sample rate and channel count of the header.
func AssertWAVDurationApprox(tb testing.TB, data []byte, minSec, maxSec float64) {
	tb.Helper()

	durationSec := ParseWAV(tb, data).Seconds()
	if durationSec < minSec || durationSec > maxSec {
		tb.Fatalf("WAV duration %.3fs out of expected range [%.3fs, %.3fs]", durationSec, minSec, maxSec)
	}
}

// findDataChunkSize walks the WAV chunk list to locate the "data" sub-chunk
// and returns its size in bytes.
func findDataChunkSize(data []byte) (uint32, error) {
	// Start after the 12-byte RIFF/WAVE header.
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])

		size := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		if id == "data" {
			return size, nil
		}

		offset += 8 + int(size)
		// Pad to even boundary.
		if size%2 != 0 {
			offset++
		}
	}

	return 0, errors.New("data chunk not found in WAV")
}

package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// WriteWAVHeaderStreaming writes a 44-byte 16-bit PCM WAV header for a
// stream whose total length is not known in advance. Both the RIFF chunk
// size and the data sub-chunk size are set to 0xFFFFFFFF, the conventional
// marker for an unknown length.
func WriteWAVHeaderStreaming(w io.Writer, sampleRate, channels int) (int, error) {
	if sampleRate < 1 || channels < 1 {
		return 0, fmt.Errorf("invalid stream format: %d Hz, %d channels", sampleRate, channels)
	}

	blockAlign := channels * BitDepth / 8
	byteRate := sampleRate * blockAlign

	var hdr [44]byte
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], 0xFFFFFFFF)
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(hdr[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(hdr[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(hdr[34:36], BitDepth)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], 0xFFFFFFFF)

	return w.Write(hdr[:])
}

// WritePCM16Samples encodes float32 samples as little-endian 16-bit signed
// integers and writes them to w. Samples are clamped to [-1, 1]; NaN is
// written as silence.
func WritePCM16Samples(w io.Writer, samples []float32) (int, error) {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s)
		if math.IsNaN(v) {
			v = 0
		}
		clamped := math.Max(-1.0, math.Min(1.0, v))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(clamped*32767)))
	}

	return w.Write(buf)
}

// FinalizeWAVHeader rewrites the size fields of a header written by
// WriteWAVHeaderStreaming once the stream is complete. dataBytes is the
// length of the PCM payload. The writer is left positioned at the end.
func FinalizeWAVHeader(ws io.WriteSeeker, dataBytes int64) error {
	if dataBytes < 0 || dataBytes > math.MaxUint32-36 {
		return fmt.Errorf("data size out of range: %d", dataBytes)
	}

	var field [4]byte
	binary.LittleEndian.PutUint32(field[:], uint32(dataBytes+36))
	if _, err := ws.Seek(4, io.SeekStart); err != nil {
		return err
	}
	if _, err := ws.Write(field[:]); err != nil {
		return err
	}

	binary.LittleEndian.PutUint32(field[:], uint32(dataBytes))
	if _, err := ws.Seek(40, io.SeekStart); err != nil {
		return err
	}
	if _, err := ws.Write(field[:]); err != nil {
		return err
	}

	_, err := ws.Seek(0, io.SeekEnd)
	return err
}

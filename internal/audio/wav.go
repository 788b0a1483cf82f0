package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const wavHeaderSize = 44

// ErrNotWAV indicates the payload is not a RIFF/WAVE container.
var ErrNotWAV = errors.New("not a RIFF/WAVE payload")

// EncodeWAV wraps little-endian PCM16 samples in a canonical 44-byte WAV header.
func EncodeWAV(pcm []byte, sampleRate int, channels int) []byte {
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8

	out := make([]byte, wavHeaderSize, wavHeaderSize+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], bitsPerSample)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	return append(out, pcm...)
}

// PCM is decoded 16-bit audio ready for a playback sink.
type PCM struct {
	SampleRate int
	Channels   int
	Samples    []int16
}

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE"))
}

// DecodeWAV parses a PCM16 WAV payload, walking chunks until fmt and data are found.
func DecodeWAV(data []byte) (PCM, error) {
	if !IsWAV(data) {
		return PCM{}, ErrNotWAV
	}

	var (
		out       PCM
		haveFmt   bool
		bitsPer   uint16
		offset    = 12
		audioData []byte
	)

	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		end := body + size
		if end > len(data) {
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return PCM{}, errors.New("wav fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return PCM{}, fmt.Errorf("unsupported wav format %d (only PCM)", format)
			}
			out.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			out.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPer = binary.LittleEndian.Uint16(data[body+14 : body+16])
			haveFmt = true
		case "data":
			audioData = data[body:end]
		}

		// chunks are word aligned
		offset = body + size + size%2
	}

	if !haveFmt {
		return PCM{}, errors.New("wav fmt chunk missing")
	}
	if bitsPer != 16 {
		return PCM{}, fmt.Errorf("unsupported wav sample width %d bits", bitsPer)
	}
	if out.Channels <= 0 || out.SampleRate <= 0 {
		return PCM{}, errors.New("wav header has invalid channel count or sample rate")
	}
	if audioData == nil {
		return PCM{}, errors.New("wav data chunk missing")
	}

	out.Samples = make([]int16, len(audioData)/2)
	for i := range out.Samples {
		out.Samples[i] = int16(binary.LittleEndian.Uint16(audioData[2*i:]))
	}
	return out, nil
}

// SamplesToBytes encodes PCM16 samples as little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

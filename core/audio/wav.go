package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const wavHeaderSize = 44

// IsWAV reports whether data starts with a RIFF/WAVE header.
func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// WAVDuration walks the RIFF chunks and returns the duration of the data chunk in seconds.
// A data chunk size of 0 or 0xFFFFFFFF (streamed writers) falls back to the remaining bytes.
func WAVDuration(data []byte) (float64, error) {
	if !IsWAV(data) {
		return 0, fmt.Errorf("%w: missing RIFF/WAVE header", ErrUndecodable)
	}

	var byteRate uint32
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		body := offset + 8

		switch id {
		case "fmt ":
			if body+16 > len(data) {
				return 0, fmt.Errorf("%w: truncated fmt chunk", ErrUndecodable)
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			if byteRate == 0 {
				return 0, fmt.Errorf("%w: data chunk before fmt chunk", ErrUndecodable)
			}
			remaining := uint32(len(data) - body)
			if size == 0 || size == 0xFFFFFFFF || size > remaining {
				size = remaining
			}
			return float64(size) / float64(byteRate), nil
		}

		// chunks are padded to an even size
		next := body + int(size) + int(size&1)
		if next <= offset {
			break
		}
		offset = next
	}
	return 0, fmt.Errorf("%w: no data chunk", ErrUndecodable)
}

// EncodeWAV wraps 16-bit little-endian PCM in a canonical 44-byte WAV header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// Silence returns a mono 16-bit WAV of the given length, handy for fixtures and probes.
func Silence(seconds float64, sampleRate int) []byte {
	samples := int(seconds * float64(sampleRate))
	return EncodeWAV(make([]byte, samples*2), sampleRate, 1)
}

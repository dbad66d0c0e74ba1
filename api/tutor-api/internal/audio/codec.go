// Copyright (c) 2024-2026 SpeakLab AI
// Author: Platform Team <platform@speaklab.ai>
//
// Licensed under GPL-2.0 with SpeakLab Additional Terms.
// See LICENSE.md or contact sales@speaklab.ai for commercial usage.
package internal_audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/zaf/g711"

	"github.com/speaklab-ai/voice-gateway/pkg/commons"
)

// Codec normalizes whatever container the client sends into 16-bit signed
// little-endian mono PCM at a fixed target rate, and wraps raw PCM back into
// a WAV container for playback. Both directions are pure transforms.
type Codec struct {
	logger     commons.Logger
	targetRate int
}

// NewCodec builds a codec that normalizes to the given sample rate.
func NewCodec(logger commons.Logger, targetRate int) *Codec {
	return &Codec{logger: logger, targetRate: targetRate}
}

// TargetRate returns the rate DecodeToPCM normalizes to.
func (c *Codec) TargetRate() int { return c.targetRate }

// wavFormat is the parsed fmt chunk of a RIFF/WAVE container.
type wavFormat struct {
	formatTag     uint16
	channels      int
	sampleRate    int
	bitsPerSample int
}

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
	wavFormatAlaw  = 6
	wavFormatMulaw = 7
)

// DecodeToPCM converts a client audio blob to mono PCM16 at the target rate.
// RIFF/WAVE containers (PCM 8/16/24/32-bit, float32, G.711 µ-law/A-law) are
// parsed; anything else is treated as raw PCM16 already at the target rate.
// A result shorter than the minimum commit window is returned as-is with a
// warning; the caller decides what to do with it.
func (c *Codec) DecodeToPCM(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty audio blob")
	}

	var samples []int16
	var sourceRate int

	if isRIFF(blob) {
		format, data, err := parseWAV(blob)
		if err != nil {
			return nil, err
		}
		samples, err = decodeSamples(format, data)
		if err != nil {
			return nil, err
		}
		if format.channels > 1 {
			samples = mixdown(samples, format.channels)
		}
		sourceRate = format.sampleRate
	} else {
		if len(blob)%AudioBytesPerSample != 0 {
			return nil, fmt.Errorf("raw blob of %d bytes is not 16-bit aligned", len(blob))
		}
		samples = bytesToPCM(blob)
		sourceRate = c.targetRate
	}

	if sourceRate != c.targetRate {
		samples = resample(samples, sourceRate, c.targetRate)
	}

	pcm := pcmToBytes(samples)
	if len(pcm) < MinCommitBytes(c.targetRate) {
		c.logger.Warnf("decoded audio is only %d bytes, below the %dms commit window at %dHz",
			len(pcm), MinCommitWindow.Milliseconds(), c.targetRate)
	}
	return pcm, nil
}

// PCMToWAV prepends a minimal RIFF/WAVE header so the buffer is a
// self-contained mono 16-bit WAV at the given rate.
func PCMToWAV(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	bps := BytesPerSecond(sampleRate)

	buf.Write([]byte("RIFF"))
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.Write([]byte("WAVE"))

	buf.Write([]byte("fmt "))
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioPCMFormat))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(bps))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioBytesPerSample))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioBitsPerSample))

	// data chunk
	buf.Write([]byte("data"))
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

func isRIFF(blob []byte) bool {
	return len(blob) >= 12 && bytes.Equal(blob[0:4], []byte("RIFF")) && bytes.Equal(blob[8:12], []byte("WAVE"))
}

// parseWAV scans the chunk list for fmt and data. Scanning instead of fixed
// offsets keeps containers with LIST/INFO chunks working.
func parseWAV(blob []byte) (wavFormat, []byte, error) {
	var format wavFormat
	var data []byte
	haveFmt := false

	offset := 12
	for offset+8 <= len(blob) {
		chunkID := string(blob[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(blob[offset+4 : offset+8]))
		offset += 8

		available := len(blob) - offset
		if chunkSize > available {
			// Truncated or badly written header: use what is there.
			chunkSize = available
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return format, nil, fmt.Errorf("fmt chunk too short: %d bytes", chunkSize)
			}
			body := blob[offset : offset+chunkSize]
			format.formatTag = binary.LittleEndian.Uint16(body[0:2])
			format.channels = int(binary.LittleEndian.Uint16(body[2:4]))
			format.sampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			format.bitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			haveFmt = true
		case "data":
			data = blob[offset : offset+chunkSize]
		}

		offset += chunkSize
		if chunkSize%2 == 1 {
			offset++ // chunks are word aligned
		}
	}

	if !haveFmt {
		return format, nil, fmt.Errorf("fmt chunk not found in WAV")
	}
	if data == nil {
		return format, nil, fmt.Errorf("data chunk not found in WAV")
	}
	if format.channels <= 0 || format.sampleRate <= 0 {
		return format, nil, fmt.Errorf("invalid WAV format: channels=%d rate=%d", format.channels, format.sampleRate)
	}
	return format, data, nil
}

func decodeSamples(format wavFormat, data []byte) ([]int16, error) {
	switch format.formatTag {
	case wavFormatMulaw:
		return bytesToPCM(g711.DecodeUlaw(data)), nil
	case wavFormatAlaw:
		return bytesToPCM(g711.DecodeAlaw(data)), nil
	case wavFormatPCM:
		switch format.bitsPerSample {
		case 8:
			out := make([]int16, len(data))
			for i, b := range data {
				out[i] = (int16(b) - 128) << 8
			}
			return out, nil
		case 16:
			if len(data)%2 != 0 {
				data = data[:len(data)-1]
			}
			return bytesToPCM(data), nil
		case 24:
			n := len(data) / 3
			out := make([]int16, n)
			for i := 0; i < n; i++ {
				v := int32(data[i*3]) | int32(data[i*3+1])<<8 | int32(data[i*3+2])<<16
				if v&0x800000 != 0 {
					v |= ^int32(0xffffff)
				}
				out[i] = int16(v >> 8)
			}
			return out, nil
		case 32:
			n := len(data) / 4
			out := make([]int16, n)
			for i := 0; i < n; i++ {
				v := int32(binary.LittleEndian.Uint32(data[i*4 : i*4+4]))
				out[i] = int16(v >> 16)
			}
			return out, nil
		default:
			return nil, fmt.Errorf("unsupported PCM bit depth: %d", format.bitsPerSample)
		}
	case wavFormatFloat:
		if format.bitsPerSample != 32 {
			return nil, fmt.Errorf("unsupported float bit depth: %d", format.bitsPerSample)
		}
		n := len(data) / 4
		out := make([]int16, n)
		for i := 0; i < n; i++ {
			f := math.Float32frombits(binary.LittleEndian.Uint32(data[i*4 : i*4+4]))
			if f > 1 {
				f = 1
			} else if f < -1 {
				f = -1
			}
			out[i] = int16(f * math.MaxInt16)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported WAV format tag: %d", format.formatTag)
	}
}

// mixdown averages interleaved channels into mono.
func mixdown(samples []int16, channels int) []int16 {
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += int(samples[i*channels+ch])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// resample converts between rates with linear interpolation. Good enough for
// speech headed into a model; no filter ringing, no allocation churn.
func resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}
	ratio := float64(fromRate) / float64(toRate)
	n := int(float64(len(samples)) / ratio)
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		pos := float64(i) * ratio
		left := int(pos)
		if left >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(left)
		a := float64(samples[left])
		b := float64(samples[left+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}

func bytesToPCM(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
	}
	return out
}

func pcmToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(s))
	}
	return out
}

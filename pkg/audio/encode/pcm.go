// ABOUTME: Raw PCM and streaming WAV encoders
// ABOUTME: Encode int32 samples to little-endian 16-bit or 24-bit PCM blocks
package encode

import (
	"encoding/binary"
	"fmt"

	"github.com/Resonate-Protocol/resonate-proxy/pkg/audio"
)

// PCMFrameSize is the number of samples per channel in one PCM block.
const PCMFrameSize = 4096

// PCMEncoder encodes PCM audio
type PCMEncoder struct {
	format audio.Format
}

// NewPCM creates a new PCM encoder
func NewPCM(format audio.Format) (*PCMEncoder, error) {
	if format.Codec != audio.CodecPCM && format.Codec != audio.CodecWAV {
		return nil, fmt.Errorf("invalid codec for PCM encoder: %s", format.Codec)
	}
	if format.BitDepth != 16 && format.BitDepth != 24 {
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24)", format.BitDepth)
	}
	if format.Channels < 1 {
		return nil, fmt.Errorf("invalid channel count: %d", format.Channels)
	}
	return &PCMEncoder{format: format}, nil
}

func (e *PCMEncoder) Format() audio.Format { return e.format }
func (e *PCMEncoder) Header() []byte       { return nil }
func (e *PCMEncoder) FrameSize() int       { return PCMFrameSize }

// Encode converts int32 samples to PCM bytes
func (e *PCMEncoder) Encode(samples []int32) ([]byte, error) {
	if e.format.BitDepth == 24 {
		output := make([]byte, len(samples)*3)
		for i, sample := range samples {
			b := audio.SampleTo24Bit(sample)
			copy(output[i*3:], b[:])
		}
		return output, nil
	}

	output := make([]byte, len(samples)*2)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(output[i*2:], uint16(audio.SampleToInt16(sample)))
	}
	return output, nil
}

// Close releases resources
func (e *PCMEncoder) Close() error {
	return nil
}

// WAVEncoder is a PCMEncoder preceded by a RIFF header whose sizes are left
// at 0xFFFFFFFF, the convention for WAV streams of unknown length.
type WAVEncoder struct {
	*PCMEncoder
	header []byte
}

// NewWAV creates a streaming WAV encoder
func NewWAV(format audio.Format) (*WAVEncoder, error) {
	pcm, err := NewPCM(format)
	if err != nil {
		return nil, err
	}
	return &WAVEncoder{PCMEncoder: pcm, header: wavHeader(format)}, nil
}

func (e *WAVEncoder) Header() []byte {
	return e.header
}

func wavHeader(f audio.Format) []byte {
	blockAlign := f.Channels * f.BitDepth / 8
	h := make([]byte, 44)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 0xFFFFFFFF)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1)
	binary.LittleEndian.PutUint16(h[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(f.SampleRate*blockAlign))
	binary.LittleEndian.PutUint16(h[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(h[34:36], uint16(f.BitDepth))
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], 0xFFFFFFFF)
	return h
}

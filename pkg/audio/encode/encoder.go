// ABOUTME: Frame encoder interface and constructor by codec name
// ABOUTME: Every encoded frame is independently decodable once the header is known
package encode

import (
	"errors"
	"fmt"

	"github.com/Resonate-Protocol/resonate-proxy/pkg/audio"
)

// ErrUnsupported is returned by New for codecs without an encoder.
var ErrUnsupported = errors.New("encode: unsupported codec")

// Encoder encodes fixed-size blocks of PCM into self-contained output frames.
type Encoder interface {
	// Format describes the PCM the encoder expects.
	Format() audio.Format

	// Header returns the container preamble written before the first frame.
	// It may be empty.
	Header() []byte

	// FrameSize returns how many samples per channel one Encode call consumes.
	FrameSize() int

	// Encode converts exactly FrameSize()*Channels interleaved samples (fewer
	// for the final frame) into one output frame.
	Encode(samples []int32) ([]byte, error)

	// Close releases encoder resources
	Close() error
}

// New returns an encoder for codec. channels and sampleRate describe the
// decoded source; encoders that need a fixed rate report it through Format.
func New(codec string, sampleRate, channels, bitrate int) (Encoder, error) {
	if channels > 2 {
		channels = 2
	}

	switch codec {
	case audio.CodecOpus:
		return NewOggOpus(audio.Format{
			Codec:      audio.CodecOpus,
			SampleRate: OpusSampleRate,
			Channels:   channels,
			BitDepth:   16,
			Bitrate:    bitrate,
		})
	case audio.CodecWAV:
		return NewWAV(audio.Format{
			Codec:      audio.CodecWAV,
			SampleRate: sampleRate,
			Channels:   channels,
			BitDepth:   16,
		})
	case audio.CodecPCM:
		return NewPCM(audio.Format{
			Codec:      audio.CodecPCM,
			SampleRate: sampleRate,
			Channels:   channels,
			BitDepth:   16,
		})
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupported, codec)
}

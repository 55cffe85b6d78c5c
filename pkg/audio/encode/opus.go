// ABOUTME: Opus encoder producing one Ogg page per 20ms packet
// ABOUTME: Uses hraban/opus for encoding and pion's oggwriter for page framing
package encode

import (
	"bytes"
	"fmt"
	"math/rand"

	"github.com/Resonate-Protocol/resonate-proxy/pkg/audio"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"gopkg.in/hraban/opus.v2"
)

const (
	// OpusSampleRate is the rate the encoder always runs at.
	OpusSampleRate = 48000

	// Max Opus packet size
	maxOpusPacket = 4000

	opusPayloadType = 111
)

// OpusEncoder encodes raw Opus packets.
type OpusEncoder struct {
	encoder   *opus.Encoder
	format    audio.Format
	frameSize int
	pcm       []int16
}

// NewOpus creates a new Opus encoder
func NewOpus(format audio.Format) (*OpusEncoder, error) {
	if format.Codec != audio.CodecOpus {
		return nil, fmt.Errorf("invalid codec for Opus encoder: %s", format.Codec)
	}

	encoder, err := opus.NewEncoder(format.SampleRate, format.Channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	if format.Bitrate > 0 {
		if err := encoder.SetBitrate(format.Bitrate); err != nil {
			return nil, fmt.Errorf("failed to set opus bitrate %d: %w", format.Bitrate, err)
		}
	}

	frameSize := format.SampleRate / 50 // 20ms frame

	return &OpusEncoder{
		encoder:   encoder,
		format:    format,
		frameSize: frameSize,
		pcm:       make([]int16, frameSize*format.Channels),
	}, nil
}

func (e *OpusEncoder) Format() audio.Format { return e.format }
func (e *OpusEncoder) Header() []byte       { return nil }
func (e *OpusEncoder) FrameSize() int       { return e.frameSize }

// Encode converts int32 samples to one Opus packet. A short final frame is
// padded with silence since Opus only accepts fixed frame durations.
func (e *OpusEncoder) Encode(samples []int32) ([]byte, error) {
	if len(samples) > len(e.pcm) {
		return nil, fmt.Errorf("opus frame too large: %d samples, max %d", len(samples), len(e.pcm))
	}
	for i := range e.pcm {
		if i < len(samples) {
			e.pcm[i] = audio.SampleToInt16(samples[i])
		} else {
			e.pcm[i] = 0
		}
	}

	data := make([]byte, maxOpusPacket)
	n, err := e.encoder.Encode(e.pcm, data)
	if err != nil {
		return nil, fmt.Errorf("opus encode error: %w", err)
	}
	return data[:n], nil
}

// Close releases resources
func (e *OpusEncoder) Close() error {
	return nil
}

// OggOpusEncoder wraps each Opus packet in its own Ogg page so a stream can be
// cut at any page boundary.
type OggOpusEncoder struct {
	*OpusEncoder
	writer *oggwriter.OggWriter
	out    bytes.Buffer
	header []byte
	seq    uint16
	ts     uint32
	ssrc   uint32
}

// NewOggOpus creates an Ogg Opus encoder. The OpusHead and OpusTags pages
// become the Header.
func NewOggOpus(format audio.Format) (*OggOpusEncoder, error) {
	enc, err := NewOpus(format)
	if err != nil {
		return nil, err
	}

	e := &OggOpusEncoder{OpusEncoder: enc, ssrc: rand.Uint32()}
	w, err := oggwriter.NewWith(&e.out, uint32(format.SampleRate), uint16(format.Channels))
	if err != nil {
		return nil, fmt.Errorf("failed to create ogg writer: %w", err)
	}
	e.writer = w
	e.header = append([]byte(nil), e.out.Bytes()...)
	e.out.Reset()
	return e, nil
}

func (e *OggOpusEncoder) Header() []byte {
	return e.header
}

// Encode returns one complete Ogg page holding one Opus packet.
func (e *OggOpusEncoder) Encode(samples []int32) ([]byte, error) {
	packet, err := e.OpusEncoder.Encode(samples)
	if err != nil {
		return nil, err
	}

	e.ts += uint32(e.frameSize)
	e.seq++
	e.out.Reset()
	err = e.writer.WriteRTP(&rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: e.seq,
			Timestamp:      e.ts,
			SSRC:           e.ssrc,
		},
		Payload: packet,
	})
	if err != nil {
		return nil, fmt.Errorf("ogg page write error: %w", err)
	}
	return append([]byte(nil), e.out.Bytes()...), nil
}

// ABOUTME: MPEG audio frame header parsing
// ABOUTME: Bitrate and sample-rate tables, frame length and ID3v2 tag size
package mpeg

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrNoSync is returned when bytes do not start with a valid frame header.
var ErrNoSync = errors.New("mpeg: no frame sync")

// MPEG audio version/layer/bitrate lookup tables (ISO 11172-3 / 13818-3), kbps.
var bitrateTable = [2][3][16]int{
	// MPEG-1
	{
		{0, 32, 64, 96, 128, 160, 192, 224, 256, 288, 320, 352, 384, 416, 448, 0},
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 384, 0},
		{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0},
	},
	// MPEG-2 / MPEG-2.5
	{
		{0, 32, 48, 56, 64, 80, 96, 112, 128, 144, 160, 176, 192, 224, 256, 0},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0},
		{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0},
	},
}

var sampleRateTable = [3][4]int{
	{44100, 48000, 32000, 0}, // MPEG-1
	{22050, 24000, 16000, 0}, // MPEG-2
	{11025, 12000, 8000, 0},  // MPEG-2.5
}

// Version of the MPEG audio stream.
type Version int

const (
	MPEG1 Version = iota
	MPEG2
	MPEG25
)

func (v Version) String() string {
	switch v {
	case MPEG1:
		return "MPEG-1"
	case MPEG2:
		return "MPEG-2"
	default:
		return "MPEG-2.5"
	}
}

// Header is a decoded 4-byte frame header.
type Header struct {
	Version    Version
	Layer      int // 1, 2 or 3
	Bitrate    int // bits per second
	SampleRate int
	Padding    bool
	Channels   int
}

// ParseHeader decodes the frame header at the start of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < 4 || b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return Header{}, ErrNoSync
	}

	hdr := binary.BigEndian.Uint32(b[:4])
	versionBits := (hdr >> 19) & 0x03
	layerBits := (hdr >> 17) & 0x03
	bitrateIdx := (hdr >> 12) & 0x0F
	sampleIdx := (hdr >> 10) & 0x03
	padding := (hdr>>9)&0x01 == 1
	mode := (hdr >> 6) & 0x03

	if bitrateIdx == 0 || bitrateIdx == 15 || sampleIdx == 3 || layerBits == 0 {
		return Header{}, ErrNoSync
	}

	var h Header
	tableIdx := 1
	switch versionBits {
	case 3:
		h.Version = MPEG1
		tableIdx = 0
	case 2:
		h.Version = MPEG2
	case 0:
		h.Version = MPEG25
	default:
		return Header{}, ErrNoSync
	}

	// Layer bits: 1=III, 2=II, 3=I
	h.Layer = 4 - int(layerBits)
	h.Bitrate = bitrateTable[tableIdx][h.Layer-1][bitrateIdx] * 1000
	h.SampleRate = sampleRateTable[h.Version][sampleIdx]
	h.Padding = padding
	h.Channels = 2
	if mode == 3 {
		h.Channels = 1
	}

	if h.Bitrate == 0 || h.SampleRate == 0 {
		return Header{}, ErrNoSync
	}
	return h, nil
}

// SamplesPerFrame returns the number of PCM samples per channel in one frame.
func (h Header) SamplesPerFrame() int {
	switch {
	case h.Layer == 1:
		return 384
	case h.Layer == 3 && h.Version != MPEG1:
		return 576
	default:
		return 1152
	}
}

// FrameLength returns the length of the frame in bytes, header included.
func (h Header) FrameLength() int {
	pad := 0
	if h.Padding {
		pad = 1
	}
	if h.Layer == 1 {
		return (12*h.Bitrate/h.SampleRate + pad) * 4
	}
	return h.SamplesPerFrame()/8*h.Bitrate/h.SampleRate + pad
}

func (h Header) String() string {
	return fmt.Sprintf("%s layer %d %dkbps %dHz", h.Version, h.Layer, h.Bitrate/1000, h.SampleRate)
}

// ID3v2Size returns the total size of an ID3v2 tag at the start of b, or 0.
// b must hold at least 10 bytes for a tag to be recognised.
func ID3v2Size(b []byte) int64 {
	if len(b) < 10 || string(b[:3]) != "ID3" {
		return 0
	}
	// Synchsafe integer (4 bytes, 7 bits each)
	size := int64(b[6]&0x7F)<<21 | int64(b[7]&0x7F)<<14 | int64(b[8]&0x7F)<<7 | int64(b[9]&0x7F)
	size += 10
	if b[5]&0x10 != 0 { // footer present
		size += 10
	}
	return size
}

// EncodeHeader builds a frame header for h. The protection bit is set (no CRC).
func EncodeHeader(h Header) ([4]byte, error) {
	var versionBits uint32
	tableIdx := 1
	switch h.Version {
	case MPEG1:
		versionBits, tableIdx = 3, 0
	case MPEG2:
		versionBits = 2
	case MPEG25:
		versionBits = 0
	}
	if h.Layer < 1 || h.Layer > 3 {
		return [4]byte{}, fmt.Errorf("mpeg: invalid layer %d", h.Layer)
	}

	bitrateIdx := -1
	for i, kbps := range bitrateTable[tableIdx][h.Layer-1] {
		if kbps != 0 && kbps*1000 == h.Bitrate {
			bitrateIdx = i
			break
		}
	}
	sampleIdx := -1
	for i, sr := range sampleRateTable[h.Version] {
		if sr != 0 && sr == h.SampleRate {
			sampleIdx = i
			break
		}
	}
	if bitrateIdx < 0 || sampleIdx < 0 {
		return [4]byte{}, fmt.Errorf("mpeg: unsupported bitrate/sample rate %d/%d", h.Bitrate, h.SampleRate)
	}

	hdr := uint32(0xFFE00000)
	hdr |= versionBits << 19
	hdr |= uint32(4-h.Layer) << 17
	hdr |= 1 << 16
	hdr |= uint32(bitrateIdx) << 12
	hdr |= uint32(sampleIdx) << 10
	if h.Padding {
		hdr |= 1 << 9
	}
	if h.Channels == 1 {
		hdr |= 3 << 6
	}

	var out [4]byte
	binary.BigEndian.PutUint32(out[:], hdr)
	return out, nil
}

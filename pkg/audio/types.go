// ABOUTME: Audio type definitions shared by decoders, encoders and the streaming engine
// ABOUTME: Defines formats, codec names, MIME mapping and sample conversions
package audio

import (
	"fmt"
	"strings"
	"time"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// Codec names used on the wire and in configuration.
const (
	CodecMP3  = "mp3"
	CodecFLAC = "flac"
	CodecOpus = "opus"
	CodecWAV  = "wav"
	CodecPCM  = "pcm"
	CodecOgg  = "ogg"
)

// Format describes an audio stream.
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
	Bitrate    int // bits per second, 0 when unknown or not meaningful
}

func (f Format) String() string {
	if f.Bitrate > 0 {
		return fmt.Sprintf("%s %dHz %dch %dkbps", f.Codec, f.SampleRate, f.Channels, f.Bitrate/1000)
	}
	return fmt.Sprintf("%s %dHz %dch %dbit", f.Codec, f.SampleRate, f.Channels, f.BitDepth)
}

// Duration returns how long frames samples-per-channel last in this format.
func (f Format) Duration(frames int64) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

var mimeTypes = map[string]string{
	CodecMP3:  "audio/mpeg",
	CodecFLAC: "audio/flac",
	CodecOpus: "audio/ogg; codecs=opus",
	CodecOgg:  "audio/ogg",
	CodecWAV:  "audio/wav",
	CodecPCM:  "audio/L16",
}

// MimeType returns the Content-Type for codec, or application/octet-stream.
func MimeType(codec string) string {
	if m, ok := mimeTypes[codec]; ok {
		return m
	}
	return "application/octet-stream"
}

// CodecFromMime maps a Content-Type or file suffix to a codec name, or "".
func CodecFromMime(mimeOrSuffix string) string {
	s := strings.ToLower(strings.TrimSpace(mimeOrSuffix))
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	switch s {
	case "audio/mpeg", "audio/mp3", "audio/x-mp3", "mp3":
		return CodecMP3
	case "audio/flac", "audio/x-flac", "flac":
		return CodecFLAC
	case "audio/ogg", "application/ogg", "ogg", "oga":
		return CodecOgg
	case "opus", "audio/opus":
		return CodecOpus
	case "audio/wav", "audio/x-wav", "audio/wave", "wav":
		return CodecWAV
	}
	return ""
}

// SampleToInt16 converts int32 sample to int16 (for 16-bit playback)
func SampleToInt16(sample int32) int16 {
	return int16(sample >> 8)
}

// SampleFromInt16 converts int16 sample to int32 (left-justified in 24-bit)
func SampleFromInt16(sample int16) int32 {
	return int32(sample) << 8
}

// SampleFromDepth scales a sample of the given bit depth into the 24-bit range.
func SampleFromDepth(sample int32, bitDepth int) int32 {
	switch {
	case bitDepth == 24:
		return sample
	case bitDepth < 24:
		return sample << uint(24-bitDepth)
	default:
		return sample >> uint(bitDepth-24)
	}
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}

// SampleFrom24Bit converts 24-bit packed bytes to int32 (little-endian)
func SampleFrom24Bit(b [3]byte) int32 {
	val := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
	if val&0x800000 != 0 {
		val |= ^0xFFFFFF
	}
	return val
}

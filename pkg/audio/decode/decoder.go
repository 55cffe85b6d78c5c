// ABOUTME: Streaming decoder interface and format sniffing
// ABOUTME: Decoders pull compressed bytes from an io.Reader and yield int32 PCM
package decode

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/Resonate-Protocol/resonate-proxy/pkg/audio"
	"github.com/Resonate-Protocol/resonate-proxy/pkg/audio/mpeg"
)

// ErrUnsupported is returned by Open for codecs without a decoder.
var ErrUnsupported = errors.New("decode: unsupported codec")

// Source decodes audio incrementally. Bytes are only read from the underlying
// reader when Read needs more samples.
type Source interface {
	// Format describes the decoded PCM (Codec is the source codec).
	Format() audio.Format

	// Read fills samples with interleaved PCM in the 24-bit range and returns
	// the number written. It returns io.EOF once the stream is exhausted.
	Read(samples []int32) (int, error)

	// Close releases decoder resources. It does not close the reader.
	Close() error
}

// Open returns a decoder for codec reading from r.
func Open(codec string, r io.Reader) (Source, error) {
	switch codec {
	case audio.CodecMP3:
		return NewMP3(r)
	case audio.CodecFLAC:
		return NewFLAC(r)
	case audio.CodecWAV:
		return NewWAV(r)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupported, codec)
}

// SniffLen is the number of leading bytes Sniff wants to see.
const SniffLen = 16

// Sniff identifies the container of a stream from its first bytes.
// It returns "" when the bytes are not recognised.
func Sniff(head []byte) string {
	switch {
	case bytes.HasPrefix(head, []byte("fLaC")):
		return audio.CodecFLAC
	case bytes.HasPrefix(head, []byte("OggS")):
		return audio.CodecOgg
	case len(head) >= 12 && bytes.HasPrefix(head, []byte("RIFF")) && string(head[8:12]) == "WAVE":
		return audio.CodecWAV
	case bytes.HasPrefix(head, []byte("ID3")):
		return audio.CodecMP3
	}
	if _, err := mpeg.ParseHeader(head); err == nil {
		return audio.CodecMP3
	}
	return ""
}

// ABOUTME: MP3 streaming decoder
// ABOUTME: Wraps hajimehoshi/go-mp3 over a non-seekable reader
package decode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Resonate-Protocol/resonate-proxy/pkg/audio"
	"github.com/hajimehoshi/go-mp3"
)

// MP3 decodes MPEG layer III audio. go-mp3 always yields 16-bit stereo.
type MP3 struct {
	decoder *mp3.Decoder
	format  audio.Format
	buf     []byte
}

// NewMP3 reads the first frame from r to learn the sample rate.
func NewMP3(r io.Reader) (*MP3, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}

	return &MP3{
		decoder: decoder,
		format: audio.Format{
			Codec:      audio.CodecMP3,
			SampleRate: decoder.SampleRate(),
			Channels:   2,
			BitDepth:   16,
		},
	}, nil
}

func (d *MP3) Format() audio.Format { return d.format }

// Read converts decoded int16 PCM to int32 samples.
func (d *MP3) Read(samples []int32) (int, error) {
	need := len(samples) * 2
	if cap(d.buf) < need {
		d.buf = make([]byte, need)
	}
	buf := d.buf[:need]

	n, err := io.ReadFull(d.decoder, buf)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	if err != nil && err != io.EOF {
		return 0, fmt.Errorf("mp3 decode error: %w", err)
	}

	count := n / 2
	for i := 0; i < count; i++ {
		samples[i] = audio.SampleFromInt16(int16(binary.LittleEndian.Uint16(buf[i*2:])))
	}
	if count > 0 {
		return count, nil
	}
	return 0, err
}

func (d *MP3) Close() error {
	return nil
}

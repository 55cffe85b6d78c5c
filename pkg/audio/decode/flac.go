// ABOUTME: FLAC streaming decoder
// ABOUTME: Parses frames on demand with mewkiz/flac and interleaves channels
package decode

import (
	"fmt"
	"io"

	"github.com/Resonate-Protocol/resonate-proxy/pkg/audio"
	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
)

// FLAC decodes a FLAC stream frame by frame.
type FLAC struct {
	stream  *flac.Stream
	format  audio.Format
	pending []int32 // interleaved samples left over from the last frame
}

// NewFLAC parses the stream header (StreamInfo and metadata blocks) from r.
func NewFLAC(r io.Reader) (*FLAC, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	return &FLAC{
		stream: stream,
		format: audio.Format{
			Codec:      audio.CodecFLAC,
			SampleRate: int(info.SampleRate),
			Channels:   int(info.NChannels),
			BitDepth:   int(info.BitsPerSample),
		},
	}, nil
}

func (d *FLAC) Format() audio.Format { return d.format }

// TotalSamples returns the per-channel sample count from StreamInfo, 0 if unknown.
func (d *FLAC) TotalSamples() uint64 {
	return d.stream.Info.NSamples
}

func (d *FLAC) Read(samples []int32) (int, error) {
	written := 0
	for written < len(samples) {
		if len(d.pending) == 0 {
			f, err := d.stream.ParseNext()
			if err == io.EOF {
				if written > 0 {
					return written, nil
				}
				return 0, io.EOF
			}
			if err != nil {
				return written, fmt.Errorf("flac decode error: %w", err)
			}
			d.pending = d.interleave(f.BlockSize, f.Subframes)
		}

		n := copy(samples[written:], d.pending)
		written += n
		d.pending = d.pending[n:]
	}
	return written, nil
}

func (d *FLAC) interleave(blockSize uint16, subframes []*frame.Subframe) []int32 {
	channels := d.format.Channels
	out := make([]int32, int(blockSize)*channels)
	for i := 0; i < int(blockSize); i++ {
		for ch := 0; ch < channels; ch++ {
			out[i*channels+ch] = audio.SampleFromDepth(subframes[ch].Samples[i], d.format.BitDepth)
		}
	}
	return out
}

func (d *FLAC) Close() error {
	return nil
}

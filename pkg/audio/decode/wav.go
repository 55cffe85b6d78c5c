// ABOUTME: WAV streaming decoder
// ABOUTME: Walks RIFF chunks to the data chunk and converts 16/24-bit PCM
package decode

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Resonate-Protocol/resonate-proxy/pkg/audio"
)

// WAV decodes uncompressed PCM in a RIFF/WAVE container.
type WAV struct {
	r         io.Reader
	format    audio.Format
	remaining int64 // bytes left in the data chunk, -1 for streaming headers
	buf       []byte
}

// NewWAV reads chunks up to the start of the data chunk.
func NewWAV(r io.Reader) (*WAV, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, fmt.Errorf("failed to read RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a WAVE stream")
	}

	d := &WAV{r: r}
	haveFmt := false
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, fmt.Errorf("failed to read chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := binary.LittleEndian.Uint32(hdr[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("short fmt chunk: %d bytes", size)
			}
			body := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, fmt.Errorf("failed to read fmt chunk: %w", err)
			}
			tag := binary.LittleEndian.Uint16(body[0:2])
			if tag != 1 && tag != 0xFFFE {
				return nil, fmt.Errorf("unsupported WAV format tag %#x", tag)
			}
			d.format = audio.Format{
				Codec:      audio.CodecWAV,
				Channels:   int(binary.LittleEndian.Uint16(body[2:4])),
				SampleRate: int(binary.LittleEndian.Uint32(body[4:8])),
				BitDepth:   int(binary.LittleEndian.Uint16(body[14:16])),
			}
			if d.format.BitDepth != 16 && d.format.BitDepth != 24 {
				return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24)", d.format.BitDepth)
			}
			if d.format.Channels < 1 {
				return nil, fmt.Errorf("invalid channel count %d", d.format.Channels)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, fmt.Errorf("data chunk before fmt chunk")
			}
			d.remaining = int64(size)
			if size == 0xFFFFFFFF || size == 0 {
				d.remaining = -1
			}
			return d, nil
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size+size%2)); err != nil {
				return nil, fmt.Errorf("failed to skip %q chunk: %w", id, err)
			}
		}
	}
}

func (d *WAV) Format() audio.Format { return d.format }

func (d *WAV) Read(samples []int32) (int, error) {
	bps := d.format.BitDepth / 8
	frameBytes := bps * d.format.Channels
	want := (len(samples) / d.format.Channels) * frameBytes
	if d.remaining >= 0 && int64(want) > d.remaining {
		want = int(d.remaining) / frameBytes * frameBytes
	}
	if want == 0 {
		return 0, io.EOF
	}
	if cap(d.buf) < want {
		d.buf = make([]byte, want)
	}
	buf := d.buf[:want]

	n, err := io.ReadFull(d.r, buf)
	n -= n % frameBytes
	if d.remaining >= 0 {
		d.remaining -= int64(n)
	}

	count := n / bps
	for i := 0; i < count; i++ {
		if bps == 3 {
			samples[i] = audio.SampleFrom24Bit([3]byte{buf[i*3], buf[i*3+1], buf[i*3+2]})
		} else {
			samples[i] = audio.SampleFromInt16(int16(binary.LittleEndian.Uint16(buf[i*2:])))
		}
	}

	switch {
	case count > 0:
		return count, nil
	case err == io.ErrUnexpectedEOF || err == io.EOF:
		return 0, io.EOF
	case err != nil:
		return 0, fmt.Errorf("wav read error: %w", err)
	}
	return 0, io.EOF
}

func (d *WAV) Close() error {
	return nil
}

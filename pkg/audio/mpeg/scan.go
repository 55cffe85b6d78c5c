// ABOUTME: MPEG audio frame scanning over a byte stream
// ABOUTME: Locates frame boundaries and probes bitrate and duration
package mpeg

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Frame locates one frame in a stream.
type Frame struct {
	Offset int64 // byte offset of the header from the start of the stream
	Header Header
}

// Info summarises a stream.
type Info struct {
	Header
	DataOffset int64   // first frame offset (after any ID3v2 tag)
	Duration   float64 // seconds
	Frames     int     // frames counted, 0 when estimated
}

// ErrStop may be returned by a Scan callback to end the scan early without error.
var ErrStop = errors.New("mpeg: stop scan")

// Scan walks r frame by frame, calling fn for each frame found. An ID3v2 tag at
// the start is skipped and garbage between frames is resynchronised over.
// Only the header of each frame is buffered.
func Scan(r io.Reader, fn func(Frame) error) error {
	br := bufio.NewReaderSize(r, 8192)
	var offset int64

	if head, err := br.Peek(10); err == nil {
		if tag := ID3v2Size(head); tag > 0 {
			n, err := br.Discard(int(tag))
			offset += int64(n)
			if err != nil {
				return eofOK(err)
			}
		}
	}

	for {
		b, err := br.Peek(4)
		if err != nil {
			return eofOK(err)
		}

		h, perr := ParseHeader(b)
		if perr != nil {
			if _, err := br.Discard(1); err != nil {
				return eofOK(err)
			}
			offset++
			continue
		}

		if err := fn(Frame{Offset: offset, Header: h}); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}

		n, err := br.Discard(h.FrameLength())
		offset += int64(n)
		if err != nil {
			return eofOK(err)
		}
	}
}

func eofOK(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// Probe reads the start of an MPEG stream of total length size and estimates
// its duration from the first confirmed frame's bitrate. A header is only
// trusted when the next header follows exactly one frame length later.
func Probe(r io.Reader, size int64) (Info, error) {
	var (
		info  Info
		prev  *Frame
		found bool
	)

	err := Scan(io.LimitReader(r, 256*1024), func(f Frame) error {
		if prev != nil && prev.Offset+int64(prev.Header.FrameLength()) == f.Offset {
			info.Header = prev.Header
			info.DataOffset = prev.Offset
			found = true
			return ErrStop
		}
		fc := f
		prev = &fc
		return nil
	})
	if err != nil {
		return Info{}, err
	}
	if !found {
		return Info{}, fmt.Errorf("no valid MPEG frame found")
	}

	audioSize := size - info.DataOffset
	if audioSize > 0 {
		info.Duration = float64(audioSize*8) / float64(info.Bitrate)
	}
	return info, nil
}

// Measure scans the whole stream and returns the exact frame count and
// duration. Suitable for VBR files where Probe's estimate drifts.
func Measure(r io.Reader) (Info, error) {
	var info Info
	var samples int64

	err := Scan(r, func(f Frame) error {
		if info.Frames == 0 {
			info.Header = f.Header
			info.DataOffset = f.Offset
		}
		info.Frames++
		samples += int64(f.Header.SamplesPerFrame())
		return nil
	})
	if err != nil {
		return Info{}, err
	}
	if info.Frames == 0 {
		return Info{}, fmt.Errorf("no valid MPEG frame found")
	}

	info.Duration = float64(samples) / float64(info.SampleRate)
	return info, nil
}

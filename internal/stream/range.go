// ABOUTME: HTTP Range header parsing
// ABOUTME: Supports a single bytes range in a-b, a- or -n form
package stream

import (
	"strconv"
	"strings"

	"github.com/Resonate-Protocol/resonate-proxy/internal/apperr"
	"github.com/Resonate-Protocol/resonate-proxy/internal/catalog"
)

// Range is a requested byte range. Suffix > 0 selects the last Suffix bytes
// and leaves ByteRange unset.
type Range struct {
	catalog.ByteRange
	Suffix int64
}

// ParseRange parses a Range header. An empty header yields nil.
func ParseRange(header string) (*Range, error) {
	const op = "stream.ParseRange"
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}

	rangeSet, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, apperr.E(apperr.InvalidArgument, op, "unsupported range unit in %q", header)
	}
	if strings.Contains(rangeSet, ",") {
		return nil, apperr.E(apperr.InvalidArgument, op, "multiple ranges are not supported")
	}

	startStr, endStr, ok := strings.Cut(strings.TrimSpace(rangeSet), "-")
	if !ok {
		return nil, apperr.E(apperr.InvalidArgument, op, "malformed range %q", header)
	}
	startStr, endStr = strings.TrimSpace(startStr), strings.TrimSpace(endStr)

	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return nil, apperr.E(apperr.InvalidArgument, op, "malformed suffix range %q", header)
		}
		return &Range{Suffix: n}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return nil, apperr.E(apperr.InvalidArgument, op, "malformed range start in %q", header)
	}
	r := &Range{ByteRange: catalog.ByteRange{Start: start, End: -1}}
	if endStr != "" {
		end, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return nil, apperr.E(apperr.InvalidArgument, op, "malformed range end in %q", header)
		}
		r.End = end
	}
	return r, nil
}

// resolve turns r into an absolute range over total bytes. A suffix longer
// than the content selects all of it.
func (r Range) resolve(total int64) (catalog.ByteRange, error) {
	if r.Suffix > 0 {
		if total <= 0 {
			return catalog.ByteRange{}, apperr.E(apperr.RangeNotSatisfiable, "stream.resolve",
				"suffix range needs a known content length")
		}
		start := total - r.Suffix
		if start < 0 {
			start = 0
		}
		return catalog.ByteRange{Start: start, End: total - 1}, nil
	}
	return r.ByteRange.Resolve(total)
}

// String renders r in header form.
func (r Range) String() string {
	if r.Suffix > 0 {
		return "bytes=-" + strconv.FormatInt(r.Suffix, 10)
	}
	return r.ByteRange.String()
}

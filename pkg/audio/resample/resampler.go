// ABOUTME: Simple linear resampler for converting audio sample rates
// ABOUTME: Keeps the last input frame between chunks so streams resample seamlessly
package resample

// Resampler performs linear interpolation to convert between sample rates
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	position   int64   // read position in 1/outputRate frames, relative to prev when havePrev
	prev       []int32 // last input frame of the previous chunk
	havePrev   bool
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		prev:       make([]int32, channels),
	}
}

// Passthrough reports whether input and output rates match.
func (r *Resampler) Passthrough() bool {
	return r.inputRate == r.outputRate
}

// Process resamples interleaved input and appends the result to out.
// Input may be split into chunks of any size; the output is the same as if
// the whole stream had been passed at once.
func (r *Resampler) Process(input []int32, out []int32) []int32 {
	if r.Passthrough() {
		return append(out, input...)
	}

	inputFrames := len(input) / r.channels
	if inputFrames == 0 {
		return out
	}

	offset := 0
	if r.havePrev {
		offset = 1
	}
	total := inputFrames + offset

	frame := func(idx, ch int) int32 {
		if idx < offset {
			return r.prev[ch]
		}
		return input[(idx-offset)*r.channels+ch]
	}

	out64 := int64(r.outputRate)
	for {
		idx := int(r.position / out64)
		if idx+1 >= total {
			break
		}
		frac := float64(r.position%out64) / float64(out64)
		for ch := 0; ch < r.channels; ch++ {
			s1 := float64(frame(idx, ch))
			s2 := float64(frame(idx+1, ch))
			out = append(out, int32(s1*(1.0-frac)+s2*frac))
		}
		r.position += int64(r.inputRate)
	}

	// The last input frame becomes index 0 of the next chunk.
	copy(r.prev, input[(inputFrames-1)*r.channels:inputFrames*r.channels])
	r.havePrev = true
	r.position -= int64(total-1) * out64

	return out
}

// Flush emits the final frame held back for interpolation.
func (r *Resampler) Flush(out []int32) []int32 {
	if !r.havePrev || r.Passthrough() {
		return out
	}
	if r.position < int64(r.outputRate) {
		out = append(out, r.prev...)
	}
	r.havePrev = false
	r.position = 0
	return out
}

// ABOUTME: Tests for audio resampler
// ABOUTME: Tests linear interpolation and chunk-boundary continuity
package resample

import "testing"

func ramp(frames, channels int) []int32 {
	input := make([]int32, frames*channels)
	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			input[i*channels+ch] = int32(i * 100)
		}
	}
	return input
}

func TestNewResampler(t *testing.T) {
	r := New(44100, 48000, 2)
	if r.inputRate != 44100 || r.outputRate != 48000 || r.channels != 2 {
		t.Errorf("unexpected resampler %+v", r)
	}
	if r.Passthrough() {
		t.Error("expected 44100->48000 not to be passthrough")
	}
}

func TestProcessRates(t *testing.T) {
	tests := []struct {
		name string
		in   int
		out  int
	}{
		{"upsampling", 44100, 48000},
		{"downsampling", 48000, 44100},
		{"double", 24000, 48000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(tt.in, tt.out, 2)
			input := ramp(1000, 2)

			out := r.Process(input, nil)
			out = r.Flush(out)

			expected := int(float64(1000)*float64(tt.out)/float64(tt.in)) * 2
			if len(out) < expected-4 || len(out) > expected+4 {
				t.Errorf("expected ~%d samples, got %d", expected, len(out))
			}
			if len(out)%2 != 0 {
				t.Errorf("expected whole stereo frames, got %d samples", len(out))
			}
		})
	}
}

func TestProcessChunkedMatchesWhole(t *testing.T) {
	input := ramp(960, 2)

	whole := New(44100, 48000, 2).Process(input, nil)

	r := New(44100, 48000, 2)
	var chunked []int32
	for start := 0; start < len(input); start += 2 * 97 {
		end := start + 2*97
		if end > len(input) {
			end = len(input)
		}
		chunked = r.Process(input[start:end], chunked)
	}

	if len(whole) != len(chunked) {
		t.Fatalf("expected %d samples from chunked input, got %d", len(whole), len(chunked))
	}
	for i := range whole {
		if whole[i] != chunked[i] {
			t.Fatalf("sample %d: expected %d, got %d", i, whole[i], chunked[i])
		}
	}
}

func TestProcessInterpolatesRamp(t *testing.T) {
	r := New(24000, 48000, 1)
	out := r.Process([]int32{0, 100, 200, 300}, nil)

	expected := []int32{0, 50, 100, 150, 200, 250}
	if len(out) != len(expected) {
		t.Fatalf("expected %d samples, got %d (%v)", len(expected), len(out), out)
	}
	for i := range expected {
		if out[i] != expected[i] {
			t.Errorf("sample %d: expected %d, got %d", i, expected[i], out[i])
		}
	}
}

func TestPassthrough(t *testing.T) {
	r := New(48000, 48000, 2)
	input := ramp(10, 2)
	out := r.Process(input, nil)
	if len(out) != len(input) {
		t.Fatalf("expected %d samples, got %d", len(input), len(out))
	}
}

// ABOUTME: Frame encoders for the transcode pipeline
// ABOUTME: Provides Encoder interface and Ogg Opus, WAV and raw PCM implementations
// Package encode turns PCM into output frames that can be cut between any two
// frames without producing undecodable bytes.
//
// All encoders accept int32 samples in 24-bit range. Header returns the
// container preamble, then each Encode call yields exactly one frame.
//
// Example:
//
//	enc, err := encode.New(audio.CodecOpus, 44100, 2, 96000)
//	w.Write(enc.Header())
//	page, err := enc.Encode(block)
package encode

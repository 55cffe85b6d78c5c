// ABOUTME: Streaming audio decoders for the transcode pipeline
// ABOUTME: MP3, FLAC and WAV sources reading from any io.Reader
// Package decode turns compressed audio arriving over the network into PCM.
//
// Every decoder implements Source and reads from a plain io.Reader, so an
// upstream HTTP body can be decoded as it arrives without buffering the track.
// Samples are interleaved int32 in the 24-bit range.
//
// Example:
//
//	src, err := decode.Open(decode.Sniff(head), body)
//	n, err := src.Read(samples)
package decode

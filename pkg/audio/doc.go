// ABOUTME: Audio fundamentals shared by the streaming engine
// ABOUTME: Defines Format, codec names and sample conversion functions
// Package audio provides the audio types used by the transcode pipeline.
//
// Decoded PCM is carried as interleaved int32 samples left-justified in the
// 24-bit range regardless of the source bit depth, so decoders, the resampler
// and encoders agree on one representation.
//
// Example:
//
//	format := audio.Format{
//	    Codec:      audio.CodecOpus,
//	    SampleRate: 48000,
//	    Channels:   2,
//	    Bitrate:    96000,
//	}
//	w.Header().Set("Content-Type", audio.MimeType(format.Codec))
package audio

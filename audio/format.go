// Package audio holds the negotiated stream format and frame arithmetic
// shared by the detector, pipeline, and transport.
package audio

import "time"

// Codec identifies the frame encoding on the wire.
type Codec string

const (
	CodecOpus  Codec = "opus"
	CodecPCM16 Codec = "pcm16"
)

// Format is the audio format negotiated at connection open and fixed for the
// session lifetime.
type Format struct {
	Codec         Codec         `json:"codec" yaml:"codec"`
	SampleRate    int           `json:"sample_rate" yaml:"sample_rate"`
	Channels      int           `json:"channels" yaml:"channels"`
	FrameDuration time.Duration `json:"frame_duration" yaml:"frame_duration"`
}

// DefaultFormat matches the embedded devices this server was built for:
// 16 kHz mono with 60 ms frames.
func DefaultFormat() Format {
	return Format{
		Codec:         CodecOpus,
		SampleRate:    16000,
		Channels:      1,
		FrameDuration: 60 * time.Millisecond,
	}
}

// Valid reports whether the format is usable for a session.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0 && f.FrameDuration > 0
}

// FramesFor returns how many frames cover the given duration, rounding up.
func (f Format) FramesFor(d time.Duration) int {
	if f.FrameDuration <= 0 {
		return 0
	}
	return int((d + f.FrameDuration - 1) / f.FrameDuration)
}

// Duration returns the playback time of n frames.
func (f Format) Duration(n int) time.Duration {
	return time.Duration(n) * f.FrameDuration
}

// FrameBytes returns the byte length of one frame of raw PCM, or 0 for
// compressed codecs whose frame boundaries are opaque.
func (f Format) FrameBytes() int {
	if f.Codec != CodecPCM16 {
		return 0
	}
	samples := int(int64(f.SampleRate) * int64(f.FrameDuration) / int64(time.Second))
	return samples * f.Channels * 2
}

// Package audio defines the audio primitives shared by the capture and
// playback pipelines of voxcall.
//
// The two boundary abstractions are:
//
//   - [Source]: a microphone (or test double) that delivers [AudioFrame]
//     values to a callback on its own goroutine.
//   - [Sink]: an append-only streaming playback target with a busy flag,
//     modelled on a media source buffer: one append may be in flight at a
//     time and the stream is finalised exactly once.
//
// Concrete implementations live in sub-packages (audio/mic, audio/player,
// audio/mock). This package lives under pkg/ because third-party capture
// devices and players are expected to implement [Source] and [Sink].
package audio

import "time"

// Wire format of every frame produced by the capture pipeline.
const (
	// SampleRate is the capture sample rate in Hz.
	SampleRate = 16000

	// Channels is the capture channel count (mono).
	Channels = 1

	// BytesPerSample is the width of one little-endian signed 16-bit sample.
	BytesPerSample = 2
)

// AudioFrame is a single block of captured PCM audio.
//
// Ownership: a frame handed to a [FrameHandler] belongs to the receiver. The
// producer must not reuse Data after delivery.
type AudioFrame struct {
	// Data holds little-endian int16 PCM samples.
	Data []byte

	// SampleRate in Hz. Frames entering the capture pipeline are 16 kHz.
	SampleRate int

	// Channels is the interleaved channel count; 1 for the capture pipeline.
	Channels int

	// Timestamp marks when this frame was captured, relative to capture start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame, or zero when the
// format fields are unset.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / (BytesPerSample * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

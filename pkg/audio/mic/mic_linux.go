//go:build linux && cgo

package mic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"

	"github.com/MrWong99/voxcall/pkg/audio"
)

// Start opens the microphone and delivers normalised frames to handler from
// a dedicated read goroutine until Stop or ctx cancellation.
func (s *Source) Start(ctx context.Context, handler audio.FrameHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("mic: already started")
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(audio.SampleRate)
			c.ChannelCount = prop.Int(audio.Channels)
			if s.device != "" {
				c.DeviceID = prop.String(s.deviceID())
			}
		},
	})
	if err != nil {
		return &audio.DeviceAccessError{Device: s.device, Err: err}
	}

	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return &audio.DeviceAccessError{Device: s.device, Err: errors.New("no audio track")}
	}
	track, ok := tracks[0].(*mediadevices.AudioTrack)
	if !ok {
		for _, t := range tracks {
			t.Close()
		}
		return &audio.DeviceAccessError{Device: s.device, Err: fmt.Errorf("unexpected track type %T", tracks[0])}
	}

	reader := track.NewReader(false)
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.stop = func() {
		cancel()
		for _, t := range tracks {
			t.Close()
		}
		<-done
	}
	s.running = true

	go func() {
		defer close(done)
		var norm audio.Normalizer
		start := time.Now()
		for {
			if ctx.Err() != nil {
				return
			}
			chunk, release, err := reader.Read()
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("mic: read failed, stopping capture", "err", err)
				}
				return
			}
			frame, ok := toFrame(chunk)
			release()
			if !ok {
				continue
			}
			frame.Timestamp = time.Since(start)
			frame = norm.Normalize(frame)
			if len(frame.Data) == 0 {
				continue
			}
			handler(frame)
		}
	}()
	return nil
}

// deviceID maps the configured label to a mediadevices device ID, falling back
// to the label itself.
func (s *Source) deviceID() string {
	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind == mediadevices.AudioInput && d.Label == s.device {
			return d.DeviceID
		}
	}
	return s.device
}

// toFrame copies a mediadevices chunk into an AudioFrame of interleaved int16.
func toFrame(chunk wave.Audio) (audio.AudioFrame, bool) {
	info := chunk.ChunkInfo()
	var samples []int16
	switch c := chunk.(type) {
	case *wave.Int16Interleaved:
		samples = make([]int16, len(c.Data))
		copy(samples, c.Data)
	case *wave.Float32Interleaved:
		samples = make([]int16, len(c.Data))
		for i, v := range c.Data {
			samples[i] = int16(max(-1, min(1, v)) * 32767)
		}
	default:
		return audio.AudioFrame{}, false
	}
	if len(samples) == 0 {
		return audio.AudioFrame{}, false
	}
	return audio.AudioFrame{
		Data:       audio.EncodeInt16(samples),
		SampleRate: info.SamplingRate,
		Channels:   info.Channels,
	}, true
}

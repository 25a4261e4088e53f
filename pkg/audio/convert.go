package audio

import (
	"encoding/binary"
	"log/slog"
	"sync"
)

// Normalizer converts frames of any interleaved int16 layout to the capture
// wire format (16 kHz mono). It warns once on the first mismatching frame.
// Create one per source; it is not safe for concurrent use.
type Normalizer struct {
	warnOnce    sync.Once
	corruptOnce sync.Once
}

// Normalize returns frame in capture format. Frames already at 16 kHz mono
// are returned unchanged. A frame whose byte length is not a whole number of
// samples is dropped and an empty frame is returned.
func (n *Normalizer) Normalize(frame AudioFrame) AudioFrame {
	channels := max(frame.Channels, 1)
	if len(frame.Data)%(BytesPerSample*channels) != 0 {
		n.corruptOnce.Do(func() {
			slog.Warn("audio: partial sample in PCM frame, dropping",
				"bytes", len(frame.Data),
				"channels", channels,
			)
		})
		return AudioFrame{SampleRate: SampleRate, Channels: Channels, Timestamp: frame.Timestamp}
	}

	if frame.SampleRate == SampleRate && channels == Channels {
		frame.Channels = Channels
		return frame
	}

	n.warnOnce.Do(func() {
		slog.Info("audio: converting source frames",
			"from_rate", frame.SampleRate,
			"from_channels", channels,
			"to_rate", SampleRate,
		)
	})

	// Downmix first so only one channel is resampled.
	pcm := Downmix(frame.Data, channels)
	if frame.SampleRate > 0 {
		pcm = Resample(pcm, frame.SampleRate, SampleRate)
	}
	return AudioFrame{
		Data:       pcm,
		SampleRate: SampleRate,
		Channels:   Channels,
		Timestamp:  frame.Timestamp,
	}
}

// Downmix averages each interleaved group of channels into one mono sample.
// Mono input is returned unchanged.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	stride := channels * BytesPerSample
	frames := len(pcm) / stride
	out := make([]byte, frames*BytesPerSample)
	for i := range frames {
		var sum int32
		for ch := range channels {
			off := i*stride + ch*BytesPerSample
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(clamp16(sum/int32(channels))))
	}
	return out
}

// Resample converts mono int16 PCM from srcRate to dstRate by linear
// interpolation. Equal or invalid rates return the input unchanged.
func Resample(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < BytesPerSample {
		return pcm
	}
	n := len(pcm) / BytesPerSample
	outN := int(int64(n) * int64(dstRate) / int64(srcRate))
	if outN == 0 {
		return nil
	}

	sample := func(i int) float64 {
		if i >= n {
			i = n - 1
		}
		return float64(int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:])))
	}

	out := make([]byte, outN*BytesPerSample)
	step := float64(srcRate) / float64(dstRate)
	for i := range outN {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		v := sample(idx)*(1-frac) + sample(idx+1)*frac
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(int16(v)))
	}
	return out
}

// EncodeInt16 packs samples as little-endian bytes.
func EncodeInt16(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(s))
	}
	return out
}

// DecodeInt16 unpacks little-endian bytes into samples. A trailing odd byte
// is ignored.
func DecodeInt16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:]))
	}
	return out
}

func clamp16(v int32) int16 {
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}

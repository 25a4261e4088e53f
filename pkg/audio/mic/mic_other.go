//go:build !linux || !cgo

package mic

import (
	"context"
	"errors"

	"github.com/MrWong99/voxcall/pkg/audio"
)

// Start always fails on builds without the mediadevices capture driver.
func (s *Source) Start(context.Context, audio.FrameHandler) error {
	return &audio.DeviceAccessError{
		Device: s.device,
		Err:    errors.New("microphone capture requires linux with cgo"),
	}
}

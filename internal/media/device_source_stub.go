//go:build !mediadevices

package media

import (
	"context"
	"fmt"
)

// DeviceSource needs the mediadevices build tag; without it every request fails.
type DeviceSource struct {
	Width   int
	Height  int
	BitRate int
}

func (DeviceSource) GetUserMedia(context.Context, Constraints) (*LocalStream, error) {
	return nil, fmt.Errorf("%w: built without mediadevices support", ErrDeviceUnavailable)
}

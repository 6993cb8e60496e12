//go:build !linux

package camera

import (
	"context"
	"errors"

	"manual-shutter/pkg/device"
	"manual-shutter/pkg/ov"
	"manual-shutter/pkg/session"
)

var (
	ErrNotStarted  = errors.New("camera not started")
	ErrUnsupported = errors.New("V4L2 cameras need linux")
)

type Source struct {
	Preview *Broadcaster
}

func NewSource(Config) *Source {
	return &Source{Preview: NewBroadcaster()}
}

func (s *Source) ListDevices(context.Context) ([]device.Facts, error) {
	return nil, ErrUnsupported
}

func (s *Source) OpenDevice(context.Context, string, session.Listener) (session.Backend, error) {
	return nil, ErrUnsupported
}

func (s *Source) Controls() ([]ov.Control, error) {
	return nil, ErrNotStarted
}

func Inspect(string) (device.Facts, []ov.Control, error) {
	return device.Facts{}, nil, ErrUnsupported
}

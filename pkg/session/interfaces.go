package session

import (
	"context"
	"image"

	"manual-shutter/pkg/device"
	"manual-shutter/pkg/histogram"
	"manual-shutter/pkg/persist"
)

// Source enumerates devices and opens one of them.
type Source interface {
	ListDevices(ctx context.Context) ([]device.Facts, error)
	OpenDevice(ctx context.Context, id string, l Listener) (Backend, error)
}

// Backend is an open device. Triggers (AFTrigger) in a repeating request
// fire once per submission.
type Backend interface {
	SubmitRepeating(req Request) error
	SubmitOnce(req Request) error
	StopRepeating() error
	Close() error
}

// Listener receives hardware callbacks on the device delivery goroutine.
type Listener interface {
	OnMetering(r Result)
	OnPreviewFrame(l histogram.Luma)
	OnArtifact(a Artifact)
	OnCaptureCompleted(r Result)
	OnCaptureFailed(txID string, err error)
	OnDeviceError(err error)
}

// Display renders what the session reports. Calls come from the control goroutine.
type Display interface {
	ShowStatus(s Status)
	ShowHistogram(img image.Image, c histogram.Class)
	ShowMessage(level Level, msg string)
}

// MemoryProbe reports how much memory a capture could still use.
type MemoryProbe interface {
	AvailableMB() (uint64, error)
}

// Locator provides the last known position when location tagging is on.
type Locator interface {
	Location() (*persist.Location, bool)
}

// Timelapse collects the compressed frames of a sequence run.
type Timelapse interface {
	Begin(name string, width, height, fps int) error
	End() error
}

// Analyzer runs histogram analysis away from the control goroutine.
type Analyzer interface {
	Submit(l histogram.Luma) uint64
	Close()
}

package camera

import (
	"time"

	"manual-shutter/pkg/device"
)

const (
	DefaultDevices = "/dev/video*"
	DefaultFPS     = 15
)

type Config struct {
	// Devices is a glob of the device nodes to probe.
	Devices string
	Preview device.Resolution
	FPS     int
	// BufferSize is the number of driver buffers per stream.
	BufferSize int
	// MeterInterval is how often controls are read back during preview.
	MeterInterval time.Duration
	// WarmupFrames are dropped after a still stream starts so the new
	// controls take effect.
	WarmupFrames   int
	CaptureTimeout time.Duration
	PreviewQuality int
}

func DefaultConfig() Config {
	return Config{
		Devices:        DefaultDevices,
		Preview:        device.Resolution{Width: 640, Height: 480},
		FPS:            DefaultFPS,
		BufferSize:     2,
		MeterInterval:  200 * time.Millisecond,
		WarmupFrames:   2,
		CaptureTimeout: 10 * time.Second,
		PreviewQuality: 70,
	}
}

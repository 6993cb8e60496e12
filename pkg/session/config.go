package session

import (
	"time"

	"manual-shutter/pkg/device"
	"manual-shutter/pkg/histogram"
	"manual-shutter/pkg/persist"
	"manual-shutter/pkg/timer"
)

type Config struct {
	Device    device.Config
	Histogram histogram.Config

	// SettleFrames is how many preview frames are ignored after a rebuild.
	SettleFrames int
	// FocusRegion is the tap region size as a fraction of sensor width.
	FocusRegion float64
	JPEGQuality int
	FilePrefix  string

	AdmissionRetryDelay time.Duration
	// AdmissionRetryLimit caps deferred admission attempts; 0 retries forever.
	AdmissionRetryLimit int
	SelectDebounce      time.Duration

	TimelapseFPS int
}

func DefaultConfig() Config {
	return Config{
		Device:              device.DefaultConfig(),
		Histogram:           histogram.DefaultConfig(),
		SettleFrames:        3,
		FocusRegion:         0.1,
		JPEGQuality:         95,
		FilePrefix:          "IMG_",
		AdmissionRetryDelay: 250 * time.Millisecond,
		SelectDebounce:      300 * time.Millisecond,
		TimelapseFPS:        10,
	}
}

// Deps are the collaborators supplied by the host. Source, Display and Sink
// are required.
type Deps struct {
	Source     Source
	Display    Display
	Sink       persist.Sink
	Memory     MemoryProbe
	RawEncoder persist.RawEncoder
	Locator    Locator
	Timelapse  Timelapse
	Scheduler  timer.Scheduler
	Now        func() time.Time
	// NewAnalyzer defaults to histogram.NewWorker.
	NewAnalyzer func(cfg histogram.Config, result func(histogram.Analysis)) Analyzer
}

func (d *Deps) defaults() {
	if d.RawEncoder == nil {
		d.RawEncoder = persist.TaggedRaw{}
	}
	if d.Scheduler == nil {
		d.Scheduler = timer.Real
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewAnalyzer == nil {
		d.NewAnalyzer = func(cfg histogram.Config, result func(histogram.Analysis)) Analyzer {
			return histogram.NewWorker(cfg, result)
		}
	}
}

// Package device derives the immutable per-device capability record used by
// the capture session, including the discrete ISO and shutter speed tables
// manual controls step through.
package device

import (
	"context"
	"errors"
	"fmt"
	"image"

	"go.uber.org/zap"

	"manual-shutter/pkg/utils"
)

var (
	ErrNoQualifyingDevice = errors.New("no device meets the minimum capability tier")
	ErrUnknownDevice      = errors.New("unknown device")
)

// MinLevel is the lowest hardware level accepted by the catalog.
const MinLevel = LevelLimited

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

// Lister enumerates raw device facts.
type Lister interface {
	ListDevices(ctx context.Context) ([]Facts, error)
}

// Qualifies reports why a device cannot be driven manually, or nil.
func Qualifies(f Facts) error {
	switch {
	case f.Level < MinLevel:
		return fmt.Errorf("device %s: hardware level %s below %s", f.ID, f.Level, MinLevel)
	case f.Sensitivity == nil:
		return fmt.Errorf("device %s: missing sensitivity range", f.ID)
	case f.ExposureTime == nil:
		return fmt.Errorf("device %s: missing exposure time range", f.ID)
	case f.MinFocusDistance == nil:
		return fmt.Errorf("device %s: missing focus distance", f.ID)
	case f.ActiveArray == nil || f.ActiveArray.Empty():
		return fmt.Errorf("device %s: missing active array size", f.ID)
	}

	return nil
}

// Build derives the capability record for a qualifying device.
func Build(f Facts, cfg Config) (*Capabilities, error) {
	if err := Qualifies(f); err != nil {
		return nil, err
	}

	c := &Capabilities{
		ID:                           f.ID,
		Level:                        f.Level.String(),
		Resolution:                   f.Resolution,
		RawResolution:                f.RawResolution,
		Orientation:                  f.Orientation,
		ISORange:                     *f.Sensitivity,
		SpeedRange:                   *f.ExposureTime,
		Active:                       *f.ActiveArray,
		MinFocusDistance:             *f.MinFocusDistance,
		HyperfocalDistance:           f.HyperfocalDistance,
		HasFlash:                     f.HasFlash,
		SupportsOpticalStabilization: f.SupportsOpticalStabilization,
		SupportsManualFocus:          f.SupportsManualFocus && *f.MinFocusDistance > 0,
		SupportsFaceDetection:        f.SupportsFaceDetection,
		SupportsRaw:                  f.SupportsRaw,
	}
	if c.Resolution.Pixels() == 0 {
		c.Resolution = Resolution{Width: c.Active.Dx(), Height: c.Active.Dy()}
	}
	if c.SupportsRaw && c.RawResolution.Pixels() == 0 {
		c.RawResolution = Resolution{Width: c.Active.Dx(), Height: c.Active.Dy()}
	}
	c.Compensation, c.CompensationMultiplier = CompensationRange(f.Compensation, f.CompensationStep, cfg.AppStepsPerEV)
	c.ISOSteps = ISOSteps(c.ISORange, cfg.StepsPerStop)
	c.SpeedSteps = SpeedSteps(c.SpeedRange, cfg.StepsPerStop, cfg.MaxManualExposure)

	return c, nil
}

// Catalog holds the accepted devices in enumeration order.
type Catalog struct {
	devices []*Capabilities
}

// Load enumerates devices and keeps the qualifying ones. A catalog with no
// device is an error the session cannot recover from.
func Load(ctx context.Context, l Lister, cfg Config) (*Catalog, error) {
	facts, err := l.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	return NewCatalog(facts, cfg)
}

func NewCatalog(facts []Facts, cfg Config) (*Catalog, error) {
	c := &Catalog{}
	for _, f := range facts {
		caps, err := Build(f, cfg)
		if err != nil {
			logger.Infof("catalog: skip %s", err)
			continue
		}
		logger.Debugf("catalog: accept %s iso=%v speed=%v steps=%d/%d",
			caps.ID, caps.ISORange, caps.SpeedRange, len(caps.ISOSteps), len(caps.SpeedSteps))
		c.devices = append(c.devices, caps)
	}
	if len(c.devices) == 0 {
		return nil, ErrNoQualifyingDevice
	}

	return c, nil
}

func (c *Catalog) Devices() []*Capabilities {
	return c.devices
}

// Find returns the device with id, or the first device when id is empty.
func (c *Catalog) Find(id string) (*Capabilities, error) {
	if id == "" {
		return c.devices[0], nil
	}
	for _, d := range c.devices {
		if d.ID == id {
			return d, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
}

// FocusRegion returns a square of frac*sensor width centred on (x, y) in
// sensor coordinates, shifted to stay inside the active array.
func (c *Capabilities) FocusRegion(x, y int, frac float64) image.Rectangle {
	a := c.Active
	size := int(float64(a.Dx()) * frac)
	size = min(max(size, 1), a.Dx(), a.Dy())
	half := size / 2

	minX := min(max(x-half, a.Min.X), a.Max.X-size)
	minY := min(max(y-half, a.Min.Y), a.Max.Y-size)

	return image.Rect(minX, minY, minX+size, minY+size)
}

// RawBytes is the size of one 16 bit raw frame.
func (c *Capabilities) RawBytes() uint64 {
	return uint64(c.RawResolution.Pixels()) * 2
}

// CompressedBytes estimates the worst case size of one compressed frame.
func (c *Capabilities) CompressedBytes() uint64 {
	return uint64(c.Resolution.Pixels()) * 3 / 2
}

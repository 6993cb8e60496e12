package camera

import (
	"fmt"
	"image"
	"math"
	"time"

	"go.uber.org/zap"

	"manual-shutter/pkg/device"
	"manual-shutter/pkg/ov"
	"manual-shutter/pkg/session"
	"manual-shutter/pkg/types"
	"manual-shutter/pkg/utils"
)

var logger *zap.SugaredLogger

func init() {
	logger = utils.GetLogger()
}

// V4L2 control ids used by the backend.
const (
	CtrlExposureAuto     types.CtrlID = 10094849
	CtrlExposureAbsolute types.CtrlID = 10094850 // 100us units
	CtrlFocusAbsolute    types.CtrlID = 10094858
	CtrlFocusAuto        types.CtrlID = 10094860
	CtrlExposureBias     types.CtrlID = 10094867 // 1/1000 EV units
	CtrlStabilization    types.CtrlID = 10094870
	CtrlISO              types.CtrlID = 10094871
	CtrlISOAuto          types.CtrlID = 10094872
	CtrlAFStart          types.CtrlID = 10094876
	CtrlAFStatus         types.CtrlID = 10094878
	CtrlSensorRotation   types.CtrlID = 10094883
	CtrlGain             types.CtrlID = 9963795
	CtrlFlashLEDMode     types.CtrlID = 10225921
	CtrlJPEGQuality      types.CtrlID = 10291459
)

// KnownControls are reported on the controls endpoint.
var KnownControls = []types.CtrlID{
	CtrlExposureAuto, CtrlExposureAbsolute, CtrlFocusAbsolute, CtrlFocusAuto,
	CtrlExposureBias, CtrlStabilization, CtrlISO, CtrlISOAuto, CtrlAFStatus,
	CtrlSensorRotation, CtrlGain, CtrlFlashLEDMode, CtrlJPEGQuality,
}

const (
	exposureAuto   = 0
	exposureManual = 1

	afBusy    = 1
	afReached = 2
	afFailed  = 4

	flashNone  = 0
	flashFlash = 1

	exposureUnit = 100 * time.Microsecond
	// gain at its minimum is reported as ISO 100
	baseISO = 100
	// the focus control is mapped linearly onto [0, maxDiopters]
	maxDiopters = 10
	hyperfocal  = 0.5
)

// Control is the part of a V4L2 control description the mapping needs.
type Control struct {
	ID      types.CtrlID
	Name    string
	Minimum int32
	Maximum int32
	Step    int32
	Default int32
	Value   int32
	// Menu holds the item names of a menu control; Items the values of an
	// integer menu, indexed like the control value.
	Menu  []string
	Items []int64
}

func (c Control) String() string {
	return fmt.Sprintf("Control id (%d) name: %s\t[min: %d; max: %d; step: %d; default: %d current_val: %d]",
		c.ID, c.Name, c.Minimum, c.Maximum, c.Step, c.Default, c.Value)
}

func (c Control) OV() ov.Control {
	return ov.Control{
		ID:        c.ID,
		Value:     types.CtrlValue(c.Value),
		Name:      c.Name,
		IsMenu:    len(c.Menu) > 0 || len(c.Items) > 0,
		MenuItems: c.Menu,
		Minimum:   c.Minimum,
		Maximum:   c.Maximum,
		Step:      c.Step,
	}
}

// Map translates between session requests and results and the controls one
// device exposes.
type Map struct {
	ctrls map[types.CtrlID]Control
}

func NewMap(ctrls []Control) *Map {
	m := &Map{ctrls: make(map[types.CtrlID]Control, len(ctrls))}
	for _, c := range ctrls {
		m.ctrls[c.ID] = c
	}
	return m
}

func (m *Map) Has(id types.CtrlID) bool {
	_, ok := m.ctrls[id]
	return ok
}

func (m *Map) Control(id types.CtrlID) (Control, bool) {
	c, ok := m.ctrls[id]
	return c, ok
}

// Facts derives the device facts from its controls and frame sizes. raw is
// the largest uncompressed frame size, zero when there is none.
func (m *Map) Facts(id string, jpeg, raw device.Resolution) device.Facts {
	f := device.Facts{
		ID:                 id,
		Level:              device.LevelLegacy,
		Resolution:         jpeg,
		RawResolution:      raw,
		HyperfocalDistance: hyperfocal,
		SupportsRaw:        raw.Pixels() > 0,
	}
	if jpeg.Pixels() > 0 {
		active := image.Rect(0, 0, jpeg.Width, jpeg.Height)
		f.ActiveArray = &active
	}
	if r, ok := m.isoRange(); ok {
		f.Sensitivity = &r
	}
	if c, ok := m.ctrls[CtrlExposureAbsolute]; ok {
		f.ExposureTime = &device.Int64Range{
			Lower: int64(max(c.Minimum, 1)) * int64(exposureUnit),
			Upper: int64(max(c.Maximum, 1)) * int64(exposureUnit),
		}
	}

	var minFocus float32
	if c, ok := m.ctrls[CtrlFocusAbsolute]; ok && c.Maximum > c.Minimum {
		minFocus = maxDiopters
		f.SupportsManualFocus = true
	}
	f.MinFocusDistance = &minFocus

	if c, ok := m.ctrls[CtrlExposureBias]; ok {
		step := max(c.Step, 1)
		f.Compensation = device.IntRange{Lower: int(c.Minimum / step), Upper: int(c.Maximum / step)}
		f.CompensationStep = float64(step) / 1000
	}
	if c, ok := m.ctrls[CtrlSensorRotation]; ok {
		f.Orientation = int(c.Value)
	}
	f.HasFlash = m.Has(CtrlFlashLEDMode)
	f.SupportsOpticalStabilization = m.Has(CtrlStabilization)

	switch {
	case !m.Has(CtrlExposureAuto):
	case f.Sensitivity != nil && f.ExposureTime != nil && f.SupportsManualFocus:
		f.Level = device.LevelFull
	default:
		f.Level = device.LevelLimited
	}

	return f
}

func (m *Map) isoRange() (device.IntRange, bool) {
	if c, ok := m.ctrls[CtrlISO]; ok {
		if len(c.Items) > 0 {
			lo, hi := c.Items[0], c.Items[0]
			for _, v := range c.Items {
				lo, hi = min(lo, v), max(hi, v)
			}
			return device.IntRange{Lower: int(lo), Upper: int(hi)}, true
		}
		if c.Minimum > 0 {
			return device.IntRange{Lower: int(c.Minimum), Upper: int(c.Maximum)}, true
		}
	}
	if c, ok := m.ctrls[CtrlGain]; ok && c.Maximum > 0 {
		lo := max(c.Minimum, 1)
		return device.IntRange{Lower: baseISO, Upper: baseISO * int(c.Maximum) / int(lo)}, true
	}
	return device.IntRange{}, false
}

// Settings returns the control values that realise req. Controls the device
// lacks are left out.
func (m *Map) Settings(req session.Request) types.CameraSettings {
	s := make(types.CameraSettings)
	set := func(id types.CtrlID, v int64) {
		c, ok := m.ctrls[id]
		if !ok {
			return
		}
		if c.Maximum > c.Minimum {
			v = min(max(v, int64(c.Minimum)), int64(c.Maximum))
		}
		s[id] = types.CtrlValue(v)
	}

	if req.JPEGQuality > 0 {
		set(CtrlJPEGQuality, int64(req.JPEGQuality))
	}
	set(CtrlStabilization, boolValue(req.Stabilization))

	if req.AutoExposure {
		set(CtrlExposureAuto, exposureAuto)
		set(CtrlISOAuto, 1)
		if c, ok := m.ctrls[CtrlExposureBias]; ok {
			set(CtrlExposureBias, int64(req.Compensation)*int64(max(c.Step, 1)))
		}
	} else {
		set(CtrlExposureAuto, exposureManual)
		set(CtrlISOAuto, 0)
		set(CtrlExposureAbsolute, max(req.Speed/int64(exposureUnit), 1))
		m.setISO(s, set, req.ISO)
	}

	if req.AutoFocus {
		// a tap scan is one shot, otherwise the driver focuses continuously
		set(CtrlFocusAuto, boolValue(req.FocusRegion.Empty() && !req.AFTrigger))
	} else {
		set(CtrlFocusAuto, 0)
		if c, ok := m.ctrls[CtrlFocusAbsolute]; ok {
			span := float64(c.Maximum - c.Minimum)
			v := float64(c.Minimum) + span*float64(req.FocusDistance)/maxDiopters
			set(CtrlFocusAbsolute, int64(math.Round(v)))
		}
	}

	if req.Template == session.TemplateStill && req.Flash == session.FlashOn {
		set(CtrlFlashLEDMode, flashFlash)
	} else {
		set(CtrlFlashLEDMode, flashNone)
	}

	return s
}

func (m *Map) setISO(s types.CameraSettings, set func(types.CtrlID, int64), iso int) {
	if c, ok := m.ctrls[CtrlISO]; ok {
		if len(c.Items) > 0 {
			s[CtrlISO] = types.CtrlValue(nearest(c.Items, int64(iso)))
			return
		}
		if c.Minimum > 0 {
			set(CtrlISO, int64(iso))
			return
		}
	}
	if c, ok := m.ctrls[CtrlGain]; ok {
		set(CtrlGain, int64(iso)*int64(max(c.Minimum, 1))/baseISO)
	}
}

// Result reads a metering result back from control values.
func (m *Map) Result(values types.CameraSettings, now time.Time) session.Result {
	r := session.Result{Timestamp: now}
	if v, ok := values[CtrlExposureAbsolute]; ok {
		r.Speed = int64(v) * int64(exposureUnit)
	}

	if c, ok := m.ctrls[CtrlISO]; ok && (len(c.Items) > 0 || c.Minimum > 0) {
		if v, ok := values[CtrlISO]; ok {
			if len(c.Items) > 0 {
				if int(v) >= 0 && int(v) < len(c.Items) {
					r.ISO = int(c.Items[v])
				}
			} else {
				r.ISO = int(v)
			}
		}
	} else if c, ok := m.ctrls[CtrlGain]; ok {
		if v, ok := values[CtrlGain]; ok {
			r.ISO = baseISO * int(v) / int(max(c.Minimum, 1))
		}
	}

	if c, ok := m.ctrls[CtrlFocusAbsolute]; ok && c.Maximum > c.Minimum {
		if v, ok := values[CtrlFocusAbsolute]; ok {
			r.FocusDistance = float32(maxDiopters * float64(int32(v)-c.Minimum) / float64(c.Maximum-c.Minimum))
		}
	}
	if v, ok := values[CtrlSensorRotation]; ok {
		r.Orientation = int(v)
	}
	r.AF = AFState(values[CtrlAFStatus])

	return r
}

// AFState decodes the V4L2 auto focus status bits.
func AFState(status types.CtrlValue) session.AFState {
	switch {
	case status&afBusy != 0:
		return session.AFScanning
	case status&afFailed != 0:
		return session.AFNotFocusedLocked
	case status&afReached != 0:
		return session.AFLocked
	default:
		return session.AFInactive
	}
}

func nearest(items []int64, v int64) int {
	best := 0
	for i, it := range items {
		if abs(it-v) < abs(items[best]-v) {
			best = i
		}
	}
	return best
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func boolValue(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

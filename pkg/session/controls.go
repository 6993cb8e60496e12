package session

import (
	"fmt"
	"image"

	"manual-shutter/pkg/device"
	"manual-shutter/pkg/exposure"
)

// focusDivisions is how many manual focus steps span the device focus range.
const focusDivisions = 20

// tap arms tap-to-focus at a point given in normalized preview coordinates.
func (m *Machine) tap(x, y float64) {
	st := &m.st
	if st.caps == nil || (st.state != PreviewStreaming && st.state != PhotoConfigured) {
		return
	}
	x, y = min(max(x, 0), 1), min(max(y, 0), 1)
	a := st.caps.Active
	px := a.Min.X + int(x*float64(a.Dx()))
	py := a.Min.Y + int(y*float64(a.Dy()))

	st.focusRegion = st.caps.FocusRegion(px, py, m.cfg.FocusRegion)
	st.focus = FocusClickRequested
	m.logger.Debugf("session: focus requested at %v", st.focusRegion)
	m.refresh()
}

func (m *Machine) setFocus(mode FocusMode, distance float32) {
	st := &m.st
	st.opts.Focus = mode
	st.opts.FocusDistance = distance
	m.resetFocus()
	m.sanitizeOptions()
	m.refresh()
}

func (m *Machine) resetFocus() {
	m.st.focus = FocusStateManual
	m.st.focusRegion = image.Rectangle{}
}

func (m *Machine) setExposure(s exposure.Setting) {
	m.st.opts.Exposure = s
	m.sanitizeOptions()
	m.refresh()
}

// step moves one manual control by one table entry. A control in auto mode
// switches to manual, starting from what is currently in effect.
func (m *Machine) step(c Control, dir int) {
	st := &m.st
	if st.caps == nil {
		return
	}
	caps := st.caps
	eff := m.effective()
	s := &st.opts.Exposure

	switch c {
	case ControlISO:
		if !s.ISOMode.IsManual() {
			s.ISOMode = exposure.Manual
			s.ISO = eff.ISO
		}
		s.ISO = device.Step(caps.ISOSteps, s.ISO, dir)
	case ControlSpeed:
		if !s.SpeedMode.IsManual() {
			s.SpeedMode = exposure.Manual
			s.Speed = eff.Speed
		}
		s.Speed = device.Step(caps.SpeedSteps, s.Speed, dir)
	case ControlFocus:
		if !caps.SupportsManualFocus {
			return
		}
		if st.opts.Focus != FocusManual {
			st.opts.Focus = FocusManual
			m.resetFocus()
		}
		inc := caps.MinFocusDistance / focusDivisions
		st.opts.FocusDistance = min(max(st.opts.FocusDistance+float32(dir)*inc, 0), caps.MinFocusDistance)
	case ControlCompensation:
		st.opts.Compensation = caps.Compensation.Clamp(st.opts.Compensation + dir)
	default:
		return
	}
	m.refresh()
}

func (m *Machine) setCompensation(v int) {
	if m.st.caps != nil {
		v = m.st.caps.Compensation.Clamp(v)
	}
	m.st.opts.Compensation = v
	m.refresh()
}

func (m *Machine) setOptions(o Options) {
	st := &m.st
	if o.Focus != st.opts.Focus || o.FocusDistance != st.opts.FocusDistance {
		m.resetFocus()
	}
	st.opts = o
	m.sanitizeOptions()
	m.refresh()
}

// sanitizeOptions fits the options to the open device.
func (m *Machine) sanitizeOptions() {
	st := &m.st
	o := &st.opts
	if o.Exposure.ISOMode == exposure.ProtectHighlights {
		o.Exposure.ISOMode = exposure.Manual
	}
	if st.caps == nil {
		return
	}
	caps := st.caps

	if o.Exposure.ISOMode.IsManual() {
		if o.Exposure.ISO <= 0 {
			o.Exposure.ISO = st.metered.ISO
		}
		o.Exposure.ISO = caps.ISORange.Clamp(o.Exposure.ISO)
	}
	if o.Exposure.SpeedMode.IsManual() {
		if o.Exposure.Speed <= 0 {
			o.Exposure.Speed = st.metered.Speed
		}
		if o.Exposure.Speed <= 0 {
			o.Exposure.Speed = defaultSpeed
		}
		o.Exposure.Speed = caps.SpeedRange.Clamp(o.Exposure.Speed)
	}
	o.Compensation = caps.Compensation.Clamp(o.Compensation)
	o.FocusDistance = min(max(o.FocusDistance, 0), caps.MinFocusDistance)
	if o.Output != OutputJPEG && !caps.SupportsRaw {
		m.logger.Warnf("session: %s does not deliver raw frames, using jpeg", caps.ID)
		o.Output = OutputJPEG
	}
}

func (m *Machine) status() Status {
	st := &m.st
	s := Status{
		State:   st.state.String(),
		Output:  st.opts.Output.String(),
		Busy:    st.tx != nil || st.admitting,
		Backlog: m.queue.Len(),
		Exposure: fmt.Sprintf("iso:%s speed:%s",
			st.opts.Exposure.ISOMode, st.opts.Exposure.SpeedMode),
		Focus:       st.opts.Focus.String(),
		FocusRegion: st.focusRegion,
		Histogram:   st.lastClass.String(),
	}
	if st.focus != FocusStateManual {
		s.Focus = st.focus.String()
	}
	if st.fatal != nil {
		s.Fatal = st.fatal.Error()
	}
	seq := m.seq.Status()
	s.Sequence = SequenceStatus{
		State:     seq.State.String(),
		Shots:     seq.Shots,
		Target:    st.opts.Sequence.Target,
		Countdown: seq.Remaining,
	}
	if st.caps == nil {
		return s
	}

	s.DeviceID = st.caps.ID
	eff := m.effective()
	s.ISO = exposure.FormatISO(eff.ISO)
	s.Speed = exposure.FormatSpeed(eff.Speed)
	if st.opts.Exposure.ISOMode.IsManual() || st.opts.Exposure.SpeedMode.IsManual() {
		s.Deviation = exposure.FormatDeviation(eff.Deviation)
	}

	return s
}

func (m *Machine) publish() {
	m.deps.Display.ShowStatus(m.status())
}

func (m *Machine) snapshot() Snapshot {
	return Snapshot{Status: m.status(), Options: m.st.opts, Capabilities: m.st.caps}
}

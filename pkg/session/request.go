package session

import (
	"math"

	"manual-shutter/pkg/exposure"
)

// buildRequest assembles the request for template from the current state.
func (m *Machine) buildRequest(t Template) Request {
	st := &m.st
	caps := st.caps
	opts := st.opts

	req := Request{
		Template:      t,
		Stabilization: caps.SupportsOpticalStabilization,
		JPEGQuality:   m.cfg.JPEGQuality,
		Thumbnail:     false,
		Orientation:   caps.Orientation,
	}

	m.applyExposure(&req)
	m.applyFocus(&req)

	if t == TemplateStill {
		req.StillIntent = true
		req.Edge = QualityHigh
		req.Aberration = QualityHigh
		req.NoiseReduction = opts.NoiseReduction
		req.Outputs = opts.Output.Kinds()
		if caps.HasFlash {
			req.Flash = opts.Flash
		}
		if opts.Location && m.deps.Locator != nil {
			if loc, ok := m.deps.Locator.Location(); ok {
				req.Location = loc
			}
		}
	} else {
		req.Edge = QualityFast
		req.Aberration = QualityFast
		req.NoiseReduction = QualityFast
	}

	return req
}

func (m *Machine) applyExposure(req *Request) {
	st := &m.st
	s := st.opts.Exposure

	// Some sensors stall when the manual exposure path runs during an active
	// focus scan; meter automatically until the scan settles.
	if s.FullyManual() && (st.focus == FocusClickRequested || st.focus == FocusSearching) {
		req.AutoExposure = true
		req.Compensation = 0
		return
	}
	if !s.ISOMode.IsManual() && !s.SpeedMode.IsManual() {
		req.AutoExposure = true
		req.Compensation = int(math.Round(float64(st.opts.Compensation) * st.caps.CompensationMultiplier))
		return
	}

	eff := m.effective()
	req.AutoExposure = false
	req.ISO = eff.ISO
	req.Speed = eff.Speed
}

// effective is the exposure a capture would use right now. Before the first
// metering result, held values stand in for the metered ones.
func (m *Machine) effective() exposure.Result {
	st := &m.st
	s := st.opts.Exposure
	metered := st.metered
	if !metered.Valid() {
		metered = exposure.Metered{ISO: s.ISO, Speed: s.Speed}
		if metered.ISO <= 0 {
			metered.ISO = st.caps.ISORange.Lower
		}
		if metered.Speed <= 0 {
			metered.Speed = st.caps.SpeedRange.Clamp(defaultSpeed)
		}
	}
	r := exposure.Resolve(metered, s, st.caps.ISORange, st.caps.SpeedRange)
	r.ISO = st.caps.ISORange.Clamp(r.ISO)
	r.Speed = st.caps.SpeedRange.Clamp(r.Speed)

	return r
}

func (m *Machine) applyFocus(req *Request) {
	st := &m.st
	switch st.focus {
	case FocusClickRequested, FocusSearching, FocusLocked:
		req.AutoFocus = true
		req.FocusRegion = st.focusRegion
		req.AFTrigger = st.focus == FocusClickRequested
		return
	}

	switch st.opts.Focus {
	case FocusManual:
		if st.caps.SupportsManualFocus {
			req.FocusDistance = min(max(st.opts.FocusDistance, 0), st.caps.MinFocusDistance)
			return
		}
	case FocusHyperfocal:
		if st.caps.SupportsManualFocus {
			req.FocusDistance = st.caps.HyperfocalDistance
			return
		}
	}
	req.AutoFocus = true
}

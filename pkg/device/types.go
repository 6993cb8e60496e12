package device

import (
	"image"
	"time"
)

// HardwareLevel mirrors the capability tier a device reports.
type HardwareLevel int

const (
	LevelLegacy HardwareLevel = iota
	LevelExternal
	LevelLimited
	LevelFull
	Level3
)

func (l HardwareLevel) String() string {
	switch l {
	case LevelLegacy:
		return "legacy"
	case LevelExternal:
		return "external"
	case LevelLimited:
		return "limited"
	case LevelFull:
		return "full"
	case Level3:
		return "level3"
	default:
		return "unknown"
	}
}

type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Resolution) Pixels() int {
	return r.Width * r.Height
}

type IntRange struct {
	Lower int `json:"lower"`
	Upper int `json:"upper"`
}

func (r IntRange) Clamp(v int) int {
	return min(max(v, r.Lower), r.Upper)
}

func (r IntRange) Contains(v int) bool {
	return v >= r.Lower && v <= r.Upper
}

type Int64Range struct {
	Lower int64 `json:"lower"`
	Upper int64 `json:"upper"`
}

func (r Int64Range) Clamp(v int64) int64 {
	return min(max(v, r.Lower), r.Upper)
}

// Facts is what a capability source reports for one device. Optional facts are
// pointers so a missing fact can be told apart from a zero value.
type Facts struct {
	ID            string
	Level         HardwareLevel
	Resolution    Resolution
	RawResolution Resolution
	Orientation   int

	Sensitivity  *IntRange
	ExposureTime *Int64Range
	// MinFocusDistance is in diopters; zero means fixed focus.
	MinFocusDistance   *float32
	HyperfocalDistance float32
	ActiveArray        *image.Rectangle

	// Compensation is in device native steps of CompensationStep EV.
	Compensation     IntRange
	CompensationStep float64

	HasFlash                     bool
	SupportsOpticalStabilization bool
	SupportsManualFocus          bool
	SupportsFaceDetection        bool
	SupportsRaw                  bool
}

// Capabilities is the immutable, derived view of a device owned by a session.
type Capabilities struct {
	ID            string     `json:"id"`
	Level         string     `json:"level"`
	Resolution    Resolution `json:"resolution"`
	RawResolution Resolution `json:"rawResolution"`
	Orientation   int        `json:"orientation"`

	ISORange   IntRange        `json:"isoRange"`
	SpeedRange Int64Range      `json:"speedRange"`
	Active     image.Rectangle `json:"activeArray"`

	// Compensation is expressed in application steps (1/AppStepsPerEV EV).
	Compensation IntRange `json:"compensation"`
	// CompensationMultiplier converts one application step into native steps.
	CompensationMultiplier float64 `json:"compensationMultiplier"`

	MinFocusDistance   float32 `json:"minFocusDistance"`
	HyperfocalDistance float32 `json:"hyperfocalDistance"`

	HasFlash                     bool `json:"hasFlash"`
	SupportsOpticalStabilization bool `json:"supportsOpticalStabilization"`
	SupportsManualFocus          bool `json:"supportsManualFocus"`
	SupportsFaceDetection        bool `json:"supportsFaceDetection"`
	SupportsRaw                  bool `json:"supportsRaw"`

	ISOSteps   []int   `json:"isoSteps"`
	SpeedSteps []int64 `json:"speedSteps"`
}

// Config controls step table derivation.
type Config struct {
	// StepsPerStop is the number of table entries per doubling.
	StepsPerStop int
	// MaxManualExposure caps long exposures regardless of device maximum.
	MaxManualExposure time.Duration
	// AppStepsPerEV is the fixed compensation unit of the application.
	AppStepsPerEV int
}

func DefaultConfig() Config {
	return Config{
		StepsPerStop:      3,
		MaxManualExposure: 30 * time.Second,
		AppStepsPerEV:     3,
	}
}

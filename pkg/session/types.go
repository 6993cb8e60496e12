package session

import (
	"fmt"
	"image"
	"strings"
	"time"

	"manual-shutter/pkg/exposure"
	"manual-shutter/pkg/persist"
	"manual-shutter/pkg/sequence"
)

// State of the duplex preview/photo request.
type State int

const (
	Closed State = iota
	PreviewStreaming
	// PhotoConfigured: still parameters are loaded but nothing was submitted,
	// either because admission is pending or a chained capture is about to start.
	PhotoConfigured
	CaptureInFlight
	Failed
)

func (s State) String() string {
	switch s {
	case PreviewStreaming:
		return "preview"
	case PhotoConfigured:
		return "photo-configured"
	case CaptureInFlight:
		return "capturing"
	case Failed:
		return "failed"
	default:
		return "closed"
	}
}

// Template selects between the preview and still flavours of the request.
type Template int

const (
	TemplateNone Template = iota
	TemplatePreview
	TemplateStill
)

func (t Template) String() string {
	switch t {
	case TemplatePreview:
		return "preview"
	case TemplateStill:
		return "still"
	default:
		return "none"
	}
}

// OutputMode is which encodings one still capture produces.
type OutputMode int

const (
	OutputJPEG OutputMode = iota
	OutputRaw
	OutputJPEGAndRaw
)

func (o OutputMode) String() string {
	switch o {
	case OutputRaw:
		return "raw"
	case OutputJPEGAndRaw:
		return "jpeg+raw"
	default:
		return "jpeg"
	}
}

func ParseOutputMode(s string) (OutputMode, error) {
	switch strings.ToLower(s) {
	case "jpeg", "jpg", "":
		return OutputJPEG, nil
	case "raw", "dng":
		return OutputRaw, nil
	case "jpeg+raw", "both":
		return OutputJPEGAndRaw, nil
	}
	return OutputJPEG, fmt.Errorf("unknown output mode %q", s)
}

func (o OutputMode) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *OutputMode) UnmarshalText(b []byte) error {
	v, err := ParseOutputMode(string(b))
	if err != nil {
		return err
	}
	*o = v
	return nil
}

// Kinds lists the image artifacts this mode produces.
func (o OutputMode) Kinds() []ArtifactKind {
	switch o {
	case OutputRaw:
		return []ArtifactKind{ArtifactRaw}
	case OutputJPEGAndRaw:
		return []ArtifactKind{ArtifactCompressed, ArtifactRaw}
	default:
		return []ArtifactKind{ArtifactCompressed}
	}
}

type FocusMode int

const (
	FocusAuto FocusMode = iota
	FocusManual
	FocusHyperfocal
)

func (f FocusMode) String() string {
	switch f {
	case FocusManual:
		return "manual"
	case FocusHyperfocal:
		return "hyperfocal"
	default:
		return "auto"
	}
}

func ParseFocusMode(s string) (FocusMode, error) {
	switch strings.ToLower(s) {
	case "auto", "":
		return FocusAuto, nil
	case "manual":
		return FocusManual, nil
	case "hyperfocal":
		return FocusHyperfocal, nil
	}
	return FocusAuto, fmt.Errorf("unknown focus mode %q", s)
}

func (f FocusMode) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *FocusMode) UnmarshalText(b []byte) error {
	v, err := ParseFocusMode(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// FocusState is the tap-to-focus sub machine.
type FocusState int

const (
	FocusStateManual FocusState = iota
	FocusClickRequested
	FocusSearching
	FocusLocked
)

func (f FocusState) String() string {
	switch f {
	case FocusClickRequested:
		return "click"
	case FocusSearching:
		return "searching"
	case FocusLocked:
		return "locked"
	default:
		return "manual"
	}
}

type FlashMode int

const (
	FlashOff FlashMode = iota
	FlashOn
	FlashAuto
)

func (f FlashMode) String() string {
	switch f {
	case FlashOn:
		return "on"
	case FlashAuto:
		return "auto"
	default:
		return "off"
	}
}

func (f FlashMode) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *FlashMode) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "off", "":
		*f = FlashOff
	case "on":
		*f = FlashOn
	case "auto":
		*f = FlashAuto
	default:
		return fmt.Errorf("unknown flash mode %q", b)
	}
	return nil
}

type Quality int

const (
	QualityOff Quality = iota
	QualityFast
	QualityHigh
)

func (q Quality) String() string {
	switch q {
	case QualityFast:
		return "fast"
	case QualityHigh:
		return "high"
	default:
		return "off"
	}
}

func (q Quality) MarshalText() ([]byte, error) { return []byte(q.String()), nil }

func (q *Quality) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "off", "":
		*q = QualityOff
	case "fast":
		*q = QualityFast
	case "high", "highquality":
		*q = QualityHigh
	default:
		return fmt.Errorf("unknown quality %q", b)
	}
	return nil
}

// AFState is reported by the device with every result.
type AFState int

const (
	AFInactive AFState = iota
	AFScanning
	AFFocused
	AFLocked
	AFNotFocusedLocked
)

func (a AFState) Settled() bool {
	return a == AFLocked || a == AFNotFocusedLocked
}

// Options are the user controlled parameters of the session.
type Options struct {
	Exposure exposure.Setting `json:"exposure"`
	// Compensation is in application steps.
	Compensation   int        `json:"compensation"`
	Focus          FocusMode  `json:"focus"`
	FocusDistance  float32    `json:"focusDistance"`
	Output         OutputMode `json:"output"`
	Flash          FlashMode  `json:"flash"`
	NoiseReduction Quality    `json:"noiseReduction"`
	Location       bool       `json:"location"`

	Sequence  sequence.Config `json:"sequence"`
	Timelapse bool            `json:"timelapse"`
}

// Result is per-frame metadata: metering for the repeating request and the
// completed metadata of a still capture.
type Result struct {
	TxID          string
	ISO           int
	Speed         int64
	FocusDistance float32
	AF            AFState
	Orientation   int
	Timestamp     time.Time
}

// Artifact is one image payload delivered by an output surface.
type Artifact struct {
	Kind      ArtifactKind
	TxID      string
	Data      []byte
	Width     int
	Height    int
	Timestamp time.Time
	// Release returns the underlying buffer to the device. May be nil.
	Release func()
}

func (a *Artifact) release() {
	if a != nil && a.Release != nil {
		a.Release()
		a.Release = nil
	}
}

// Request is the full parameter set submitted to the backend.
type Request struct {
	Template Template
	TxID     string

	AutoExposure bool
	ISO          int
	Speed        int64
	// Compensation is in device native steps.
	Compensation int

	AutoFocus     bool
	AFTrigger     bool
	FocusDistance float32
	FocusRegion   image.Rectangle

	Stabilization  bool
	JPEGQuality    int
	Thumbnail      bool
	NoiseReduction Quality
	Edge           Quality
	Aberration     Quality
	StillIntent    bool

	Orientation int
	Location    *persist.Location
	Flash       FlashMode
	Outputs     []ArtifactKind
}

type Level int

const (
	LevelInfo Level = iota
	LevelWarn
	LevelError
)

// Status is the snapshot the display renders.
type Status struct {
	State       string          `json:"state"`
	DeviceID    string          `json:"deviceId"`
	ISO         string          `json:"iso"`
	Speed       string          `json:"speed"`
	Focus       string          `json:"focus"`
	FocusRegion image.Rectangle `json:"focusRegion"`
	Deviation   string          `json:"deviation"`
	Histogram   string          `json:"histogram"`
	Exposure    string          `json:"exposure"`
	Output      string          `json:"output"`
	Busy        bool            `json:"busy"`
	Backlog     int             `json:"backlog"`
	Sequence    SequenceStatus  `json:"sequence"`
	Fatal       string          `json:"fatal,omitempty"`
}

type SequenceStatus struct {
	State     string `json:"state"`
	Shots     int    `json:"shots"`
	Target    int    `json:"target"`
	Countdown int    `json:"countdown"`
}

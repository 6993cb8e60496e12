package session

import (
	"fmt"
	"strings"

	"manual-shutter/pkg/device"
	"manual-shutter/pkg/exposure"
	"manual-shutter/pkg/histogram"
	"manual-shutter/pkg/sequence"
)

// event is anything the control goroutine handles. Each concrete type maps to
// exactly one transition method in Machine.Handle.
type event interface{}

type (
	openEvent struct {
		id    string
		reply chan error
	}
	selectDeviceEvent struct{ id string }
	deviceErrorEvent  struct{ err error }

	meteringEvent     struct{ r Result }
	previewFrameEvent struct{ l histogram.Luma }
	histogramEvent    struct{ a histogram.Analysis }

	captureEvent     struct{ source captureSource }
	holdTriggerEvent struct{ held bool }
	artifactEvent    struct{ a Artifact }
	completedEvent   struct{ r Result }
	failedEvent      struct {
		txID string
		err  error
	}

	tapEvent   struct{ x, y float64 }
	focusEvent struct {
		mode     FocusMode
		distance float32
	}
	exposureEvent struct{ s exposure.Setting }
	stepEvent     struct {
		control Control
		dir     int
	}
	compensationEvent struct{ value int }
	optionsEvent      struct{ o Options }

	sequenceStartEvent struct {
		cfg   sequence.Config
		reply chan error
	}
	sequenceStopEvent struct{}

	snapshotEvent struct{ reply chan Snapshot }
	// funcEvent carries deferred task firings and persistence completions.
	funcEvent struct{ fn func() }
)

// Control names a manual control for stepping.
type Control int

const (
	ControlISO Control = iota
	ControlSpeed
	ControlFocus
	ControlCompensation
)

func ParseControl(s string) (Control, error) {
	switch strings.ToLower(s) {
	case "iso":
		return ControlISO, nil
	case "speed", "shutter":
		return ControlSpeed, nil
	case "focus":
		return ControlFocus, nil
	case "compensation", "ev":
		return ControlCompensation, nil
	}
	return ControlISO, fmt.Errorf("unknown control %q", s)
}

type captureSource int

const (
	sourceUser captureSource = iota
	sourceContinuous
	sourceSequence
)

func (c captureSource) String() string {
	switch c {
	case sourceContinuous:
		return "continuous"
	case sourceSequence:
		return "sequence"
	default:
		return "user"
	}
}

// Snapshot is a consistent copy of the session for callers outside the loop.
type Snapshot struct {
	Status       Status
	Options      Options
	Capabilities *device.Capabilities
}

// listener turns hardware callbacks into events. Only buffer hand-off
// happens here; everything else runs on the control goroutine.
type listener struct {
	post      func(event)
	postFrame func(event) bool
}

func (l listener) OnMetering(r Result) { l.post(meteringEvent{r: r}) }

func (l listener) OnPreviewFrame(f histogram.Luma) { l.postFrame(previewFrameEvent{l: f}) }

func (l listener) OnArtifact(a Artifact) { l.post(artifactEvent{a: a}) }

func (l listener) OnCaptureCompleted(r Result) { l.post(completedEvent{r: r}) }

func (l listener) OnCaptureFailed(txID string, err error) {
	l.post(failedEvent{txID: txID, err: err})
}

func (l listener) OnDeviceError(err error) { l.post(deviceErrorEvent{err: err}) }

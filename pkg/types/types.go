package types

import (
	"time"
)

// CtrlID and CtrlValue mirror the V4L2 control types without tying callers
// to the linux-only driver package.
type (
	CtrlID    uint32
	CtrlValue int32
)

// CameraSettings is a set of control values applied together.
type CameraSettings map[CtrlID]CtrlValue

// TimelapseSetting controls the AVI built from a capture sequence.
type TimelapseSetting struct {
	Enable    bool `json:"enable"`
	FPS       int  `json:"fps"`
	MaxFrames int  `json:"maxFrames"`
}

type File struct {
	Name    string    `json:"name"`
	Size    string    `json:"size"`
	ModTime time.Time `json:"modTime"`
}

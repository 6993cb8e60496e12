package ov

import (
	"time"

	"manual-shutter/pkg/types"
)

// Control describes one device control for the settings page.
type Control struct {
	ID    types.CtrlID    `json:"id"`
	Value types.CtrlValue `json:"value"`
	Name  string          `json:"name"`

	IsMenu bool `json:"isMenu"`

	MenuItems []string `json:"menuItems,omitempty"`

	Minimum int32 `json:"minimum"`
	Maximum int32 `json:"maximum"`
	Step    int32 `json:"step"`
}

type Tap struct {
	X float64 `json:"x" binding:"min=0,max=1"`
	Y float64 `json:"y" binding:"min=0,max=1"`
}

type Focus struct {
	Mode     string  `json:"mode" binding:"required"`
	Distance float32 `json:"distance"`
}

type Exposure struct {
	ISOMode   string        `json:"isoMode" binding:"required"`
	ISO       int           `json:"iso"`
	SpeedMode string        `json:"speedMode" binding:"required"`
	Speed     time.Duration `json:"speed"`
}

type Step struct {
	Control string `json:"control" binding:"required"`
	Dir     int    `json:"dir" binding:"min=-1,max=1"`
}

type Compensation struct {
	Value int `json:"value"`
}

type Hold struct {
	Held bool `json:"held"`
}

// Sequence fields left zero fall back to the saved settings.
type Sequence struct {
	StartDelay time.Duration `json:"startDelay"`
	Interval   time.Duration `json:"interval"`
	Target     int           `json:"target" binding:"min=0"`
}

type System struct {
	CPUPercent  float64 `json:"cpuPercent"`
	MemoryUsed  string  `json:"memoryUsed"`
	MemoryTotal string  `json:"memoryTotal"`
	AvailableMB uint64  `json:"availableMB"`
	DiskUsed    string  `json:"diskUsed"`
	DiskTotal   string  `json:"diskTotal"`
	FolderSize  string  `json:"folderSize"`
	ClockOffset string  `json:"clockOffset"`
}

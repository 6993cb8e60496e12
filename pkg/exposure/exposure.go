// Package exposure holds the pure exposure arithmetic shared by the live
// preview and the still capture path.
package exposure

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"

	"manual-shutter/pkg/device"
)

type Mode int

const (
	Auto Mode = iota
	Manual
	// ProtectHighlights keeps a manual speed that the histogram corrector
	// nudges to avoid clipped highlights and shadows.
	ProtectHighlights
)

func (m Mode) String() string {
	switch m {
	case Auto:
		return "auto"
	case Manual:
		return "manual"
	case ProtectHighlights:
		return "protect"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "auto", "":
		return Auto, nil
	case "manual":
		return Manual, nil
	case "protect", "protecthighlights":
		return ProtectHighlights, nil
	}
	return Auto, fmt.Errorf("unknown exposure mode %q", s)
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// IsManual is true for every mode where the value is held rather than metered.
func (m Mode) IsManual() bool {
	return m != Auto
}

// Setting is the exposure the user asked for. ProtectHighlights is only
// meaningful for the speed.
type Setting struct {
	ISOMode   Mode  `json:"isoMode"`
	ISO       int   `json:"iso"`
	SpeedMode Mode  `json:"speedMode"`
	Speed     int64 `json:"speedNs"`
}

// FullyManual is true when neither value follows metering.
func (s Setting) FullyManual() bool {
	return s.ISOMode.IsManual() && s.SpeedMode.IsManual()
}

// Metered is what the live auto exposure loop reports.
type Metered struct {
	ISO   int
	Speed int64
}

func (m Metered) Valid() bool {
	return m.ISO > 0 && m.Speed > 0
}

// Deviation is the signed number of stops between a metered exposure and a
// target one. Positive means the target is darker than metering suggests.
func Deviation(meteredISO int, meteredSpeed int64, targetISO int, targetSpeed int64) float64 {
	if meteredISO <= 0 || meteredSpeed <= 0 || targetISO <= 0 || targetSpeed <= 0 {
		return 0
	}

	return stops(float64(meteredISO), float64(targetISO)) + stops(float64(meteredSpeed), float64(targetSpeed))
}

func stops(metered, target float64) float64 {
	return math.Log2(metered / target)
}

// Result is the exposure the next still capture will use.
type Result struct {
	ISO       int
	Speed     int64
	Deviation float64
}

// Resolve combines metering with the user setting. It is the only place that
// decides which ISO and speed a capture is submitted with.
func Resolve(m Metered, s Setting, isoRange device.IntRange, speedRange device.Int64Range) Result {
	isoManual, speedManual := s.ISOMode.IsManual(), s.SpeedMode.IsManual()

	switch {
	case !isoManual && !speedManual:
		return Result{ISO: m.ISO, Speed: m.Speed}
	case isoManual && speedManual:
		return Result{ISO: s.ISO, Speed: s.Speed, Deviation: Deviation(m.ISO, m.Speed, s.ISO, s.Speed)}
	case isoManual:
		speed := m.Speed
		if s.ISO > 0 && m.ISO > 0 {
			speed = int64(math.Round(float64(m.Speed) * float64(m.ISO) / float64(s.ISO)))
		}
		speed = speedRange.Clamp(speed)
		return Result{ISO: s.ISO, Speed: speed, Deviation: Deviation(m.ISO, m.Speed, s.ISO, speed)}
	default:
		iso := m.ISO
		if s.Speed > 0 && m.Speed > 0 {
			iso = int(math.Round(float64(m.ISO) * float64(m.Speed) / float64(s.Speed)))
		}
		iso = isoRange.Clamp(iso)
		return Result{ISO: iso, Speed: s.Speed, Deviation: Deviation(m.ISO, m.Speed, iso, s.Speed)}
	}
}

// Correction is the direction the highlight protection loop asks for.
type Correction int

const (
	Hold    Correction = 0
	Darker  Correction = -1
	Lighter Correction = 1
)

// SuggestSpeed moves the speed one table step in the corrected direction.
// Only the speed is ever adjusted; ISO stays where the user put it.
func SuggestSpeed(speed int64, table []int64, c Correction) int64 {
	if c == Hold {
		return speed
	}
	return device.Step(table, speed, int(c))
}

// FormatSpeed renders a duration in nanoseconds the way a shutter dial does.
func FormatSpeed(ns int64) string {
	if ns <= 0 {
		return "--"
	}
	sec := float64(ns) / 1e9
	if sec >= 1 {
		return humanize.FtoaWithDigits(sec, 1) + `"`
	}
	return fmt.Sprintf("1/%d", int(math.Round(1/sec)))
}

func FormatISO(iso int) string {
	if iso <= 0 {
		return "ISO --"
	}
	return fmt.Sprintf("ISO %d", iso)
}

// FormatDeviation renders a stop difference with one decimal and sign.
func FormatDeviation(ev float64) string {
	if math.Abs(ev) < 0.05 {
		return "±0.0 EV"
	}
	return fmt.Sprintf("%+.1f EV", ev)
}

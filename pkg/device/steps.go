package device

import (
	"cmp"
	"math"
	"slices"
	"sort"
	"time"
)

// ISOSteps walks doublings from lo and inserts stepsPerStop-1 log spaced values
// inside each stop. No value exceeds hi.
func ISOSteps(r IntRange, stepsPerStop int) []int {
	if r.Lower <= 0 || r.Upper < r.Lower {
		return nil
	}
	stepsPerStop = max(stepsPerStop, 1)

	var res []int
	for base := r.Lower; base <= r.Upper; base *= 2 {
		for i := 0; i < stepsPerStop; i++ {
			v := int(math.Round(float64(base) * math.Exp2(float64(i)/float64(stepsPerStop))))
			if v > r.Upper {
				break
			}
			if len(res) > 0 && v <= res[len(res)-1] {
				continue
			}
			res = append(res, v)
		}
	}

	return res
}

const (
	second        = int64(time.Second)
	halfSecond    = int64(500 * time.Millisecond)
	longStepLimit = 4 * second
)

// SpeedSteps builds the shutter table in nanoseconds. Below one second the
// table halves from 1s with stepsPerStop entries per stop down to the device
// minimum; from one second up it advances by 0.5s until 4s and by 1s after,
// capped by the device maximum and ceiling.
func SpeedSteps(r Int64Range, stepsPerStop int, ceiling time.Duration) []int64 {
	if r.Lower <= 0 || r.Upper < r.Lower {
		return nil
	}
	stepsPerStop = max(stepsPerStop, 1)
	upper := r.Upper
	if ceiling > 0 {
		upper = min(upper, int64(ceiling))
	}

	var short []int64
	for k := 1; ; k++ {
		v := int64(math.Round(float64(second) * math.Exp2(-float64(k)/float64(stepsPerStop))))
		if v < r.Lower {
			break
		}
		if v <= upper {
			short = append(short, v)
		}
	}
	slices.Reverse(short)

	var res []int64
	if len(short) == 0 || short[0] != r.Lower {
		res = append(res, r.Lower)
	}
	res = append(res, short...)

	for v := second; v <= upper; {
		if v > res[len(res)-1] {
			res = append(res, v)
		}
		if v < longStepLimit {
			v += halfSecond
		} else {
			v += second
		}
	}

	return res
}

// CompensationRange converts a native compensation range expressed in
// nativeStep EV units into application steps of 1/appStepsPerEV EV. The
// returned multiplier converts one application step back to native steps.
func CompensationRange(native IntRange, nativeStep float64, appStepsPerEV int) (IntRange, float64) {
	if nativeStep <= 0 || appStepsPerEV <= 0 {
		return IntRange{}, 0
	}
	appStep := 1 / float64(appStepsPerEV)
	multiplier := appStep / nativeStep

	return IntRange{
		Lower: int(math.Ceil(snap(float64(native.Lower) / multiplier))),
		Upper: int(math.Floor(snap(float64(native.Upper) / multiplier))),
	}, multiplier
}

// snap removes float noise so exact multiples survive Ceil and Floor.
func snap(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// Index finds the greatest entry not above v. Values below the table map to 0.
func Index[T cmp.Ordered](table []T, v T) int {
	i := sort.Search(len(table), func(i int) bool { return table[i] > v })
	return max(i-1, 0)
}

// Step moves dir entries from the slot holding v and clamps to the table.
// An empty table returns v unchanged.
func Step[T cmp.Ordered](table []T, v T, dir int) T {
	if len(table) == 0 {
		return v
	}
	i := min(max(Index(table, v)+dir, 0), len(table)-1)

	return table[i]
}

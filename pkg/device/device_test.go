package device

import (
	"context"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFacts(id string) Facts {
	minFocus := float32(10)
	active := image.Rect(0, 0, 4000, 3000)
	return Facts{
		ID:                           id,
		Level:                        LevelFull,
		Resolution:                   Resolution{Width: 4000, Height: 3000},
		Sensitivity:                  &IntRange{Lower: 100, Upper: 3200},
		ExposureTime:                 &Int64Range{Lower: int64(time.Second / 8000), Upper: int64(32 * time.Second)},
		MinFocusDistance:             &minFocus,
		HyperfocalDistance:           0.4,
		ActiveArray:                  &active,
		Compensation:                 IntRange{Lower: -12, Upper: 12},
		CompensationStep:             1.0 / 6,
		SupportsOpticalStabilization: true,
		SupportsManualFocus:          true,
		SupportsRaw:                  true,
	}
}

func TestISOSteps(t *testing.T) {
	ranges := []IntRange{{100, 3200}, {50, 6400}, {64, 1000}, {1, 40}, {100, 100}}
	for _, r := range ranges {
		for _, n := range []int{1, 2, 3, 6} {
			steps := ISOSteps(r, n)
			require.NotEmpty(t, steps)
			assert.Equal(t, r.Lower, steps[0], "range %v", r)
			for i := 1; i < len(steps); i++ {
				assert.Greater(t, steps[i], steps[i-1], "range %v n=%d", r, n)
			}
			for _, v := range steps {
				assert.LessOrEqual(t, v, r.Upper)
			}
			for b := r.Lower; b <= r.Upper; b *= 2 {
				assert.Contains(t, steps, b, "doubling %d missing for %v n=%d", b, r, n)
			}
		}
	}
}

func TestISOStepsThirds(t *testing.T) {
	assert.Equal(t, []int{100, 126, 159, 200, 252, 317, 400, 504, 635, 800}, ISOSteps(IntRange{100, 800}, 3))
}

func TestSpeedSteps(t *testing.T) {
	r := Int64Range{Lower: int64(time.Second / 8000), Upper: int64(32 * time.Second)}
	steps := SpeedSteps(r, 3, 10*time.Second)

	require.NotEmpty(t, steps)
	assert.Equal(t, r.Lower, steps[0])
	assert.Equal(t, int64(10*time.Second), steps[len(steps)-1])
	for i := 1; i < len(steps); i++ {
		assert.Greater(t, steps[i], steps[i-1])
	}
	assert.Contains(t, steps, int64(time.Second/2))
	assert.Contains(t, steps, int64(time.Second/4))
	for _, v := range []time.Duration{time.Second, 1500 * time.Millisecond, 3500 * time.Millisecond, 4 * time.Second, 5 * time.Second} {
		assert.Contains(t, steps, int64(v))
	}
	assert.NotContains(t, steps, int64(4500*time.Millisecond))
}

func TestSpeedStepsDeviceMaxBelowCeiling(t *testing.T) {
	r := Int64Range{Lower: 100_000, Upper: int64(2 * time.Second)}
	steps := SpeedSteps(r, 2, 30*time.Second)
	assert.Equal(t, int64(2*time.Second), steps[len(steps)-1])
	assert.Equal(t, int64(100_000), steps[0])
}

func TestStepClampsAtBounds(t *testing.T) {
	table := []int{100, 200, 400, 800}

	v := 800
	for i := 0; i < 5; i++ {
		v = Step(table, v, 1)
		assert.Equal(t, 800, v)
	}
	v = 100
	for i := 0; i < 5; i++ {
		v = Step(table, v, -1)
		assert.Equal(t, 100, v)
	}
	assert.Equal(t, 100, Step(table, 12, 0))
	assert.Equal(t, 200, Step(table, 12, 1))
	assert.Equal(t, 800, Step(table, 100000, 0))
}

func TestStepFromDriftedValue(t *testing.T) {
	table := []int64{10, 20, 40, 80}
	assert.Equal(t, int64(20), Step(table, 39, 0))
	assert.Equal(t, int64(40), Step(table, 39, 1))
	assert.Equal(t, int64(10), Step(table, 39, -1))
	assert.Equal(t, 2, Index(table, 79))
	assert.Equal(t, 0, Index[int64](nil, 5))
	assert.Equal(t, int64(5), Step[int64](nil, 5, 1))
}

func TestCompensationRange(t *testing.T) {
	r, mult := CompensationRange(IntRange{-12, 12}, 1.0/6, 3)
	assert.Equal(t, IntRange{-6, 6}, r)
	assert.InDelta(t, 2.0, mult, 1e-9)

	r, mult = CompensationRange(IntRange{-4, 4}, 0.5, 3)
	assert.Equal(t, IntRange{-6, 6}, r)
	assert.InDelta(t, 2.0/3, mult, 1e-9)
}

func TestQualifies(t *testing.T) {
	f := testFacts("0")
	require.NoError(t, Qualifies(f))

	legacy := testFacts("1")
	legacy.Level = LevelLegacy
	assert.Error(t, Qualifies(legacy))

	noISO := testFacts("2")
	noISO.Sensitivity = nil
	assert.Error(t, Qualifies(noISO))

	noArray := testFacts("3")
	noArray.ActiveArray = nil
	assert.Error(t, Qualifies(noArray))
}

type staticLister []Facts

func (s staticLister) ListDevices(context.Context) ([]Facts, error) { return s, nil }

func TestCatalog(t *testing.T) {
	legacy := testFacts("front")
	legacy.Level = LevelLegacy

	cat, err := Load(context.Background(), staticLister{legacy, testFacts("back")}, DefaultConfig())
	require.NoError(t, err)
	require.Len(t, cat.Devices(), 1)

	d, err := cat.Find("")
	require.NoError(t, err)
	assert.Equal(t, "back", d.ID)
	assert.Equal(t, 100, d.ISOSteps[0])
	assert.Equal(t, IntRange{-6, 6}, d.Compensation)
	assert.Equal(t, Resolution{Width: 4000, Height: 3000}, d.RawResolution)

	_, err = cat.Find("front")
	assert.True(t, errors.Is(err, ErrUnknownDevice))

	_, err = NewCatalog([]Facts{legacy}, DefaultConfig())
	assert.ErrorIs(t, err, ErrNoQualifyingDevice)
}

func TestFocusRegion(t *testing.T) {
	caps, err := Build(testFacts("0"), DefaultConfig())
	require.NoError(t, err)

	r := caps.FocusRegion(2000, 1500, 0.1)
	assert.Equal(t, image.Rect(1800, 1300, 2200, 1700), r)

	r = caps.FocusRegion(10, 2990, 0.1)
	assert.Equal(t, image.Rect(0, 2600, 400, 3000), r)
	assert.True(t, r.In(caps.Active))
}

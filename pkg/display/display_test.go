package display

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manual-shutter/pkg/histogram"
	"manual-shutter/pkg/session"
)

func TestHistogramScaled(t *testing.T) {
	b := NewBoard(512, 100, nil)
	data, _ := b.Histogram()
	assert.Nil(t, data)

	src := image.NewRGBA(image.Rect(0, 0, 256, 50))
	src.Set(0, 0, color.White)
	b.ShowHistogram(src, histogram.OverExposed)

	data, class := b.Histogram()
	assert.Equal(t, histogram.OverExposed, class)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 512, 100), img.Bounds())
	r, _, _, _ := img.At(1, 1).RGBA()
	assert.Equal(t, uint32(0xffff), r, "nearest neighbour keeps hard edges")
}

func TestHistogramUnscaled(t *testing.T) {
	b := NewBoard(0, 0, nil)
	b.ShowHistogram(image.NewRGBA(image.Rect(0, 0, 64, 32)), histogram.Normal)
	data, _ := b.Histogram()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 64, 32), img.Bounds())
}

func TestMessagesKeepLatest(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b := NewBoard(0, 0, func() time.Time { return at })
	for i := 0; i < DefaultMessages+5; i++ {
		b.ShowMessage(session.LevelInfo, fmt.Sprintf("m%d", i))
	}
	b.ShowMessage(session.LevelWarn, "could not save IMG_1.jpg")

	msgs := b.Messages()
	require.Len(t, msgs, DefaultMessages)
	assert.Equal(t, "m6", msgs[0].Text)
	last := msgs[len(msgs)-1]
	assert.Equal(t, "warn", last.Level)
	assert.Equal(t, at, last.At)
}

func TestStatus(t *testing.T) {
	b := NewBoard(0, 0, nil)
	b.ShowStatus(session.Status{State: "preview", ISO: "ISO 400"})
	assert.Equal(t, "ISO 400", b.Status().ISO)
}

// Package display keeps the latest session output for the HTTP surface.
package display

import (
	"bytes"
	"image"
	"image/png"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"manual-shutter/pkg/histogram"
	"manual-shutter/pkg/session"
	"manual-shutter/pkg/utils"
)

const DefaultMessages = 20

type Message struct {
	Level string    `json:"level"`
	Text  string    `json:"text"`
	At    time.Time `json:"at"`
}

// Board implements session.Display. The session writes from its control
// goroutine, HTTP handlers read concurrently.
type Board struct {
	width, height int
	keep          int
	now           func() time.Time
	logger        *zap.SugaredLogger

	lock     sync.RWMutex
	status   session.Status
	class    histogram.Class
	png      []byte
	messages []Message
}

// NewBoard scales histograms to width x height; zero keeps the rendered size.
func NewBoard(width, height int, now func() time.Time) *Board {
	if now == nil {
		now = time.Now
	}
	return &Board{width: width, height: height, keep: DefaultMessages, now: now, logger: utils.GetLogger()}
}

func (b *Board) ShowStatus(s session.Status) {
	b.lock.Lock()
	defer b.lock.Unlock()
	b.status = s
}

func (b *Board) ShowHistogram(img image.Image, c histogram.Class) {
	if b.width > 0 && b.height > 0 {
		img = imaging.Resize(img, b.width, b.height, imaging.NearestNeighbor)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		b.logger.Warnf("display: encode histogram: %s", err)
		return
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	b.png = buf.Bytes()
	b.class = c
}

func (b *Board) ShowMessage(level session.Level, msg string) {
	switch level {
	case session.LevelError:
		b.logger.Errorf("display: %s", msg)
	case session.LevelWarn:
		b.logger.Warnf("display: %s", msg)
	default:
		b.logger.Infof("display: %s", msg)
	}

	b.lock.Lock()
	defer b.lock.Unlock()
	b.messages = append(b.messages, Message{Level: levelName(level), Text: msg, At: b.now()})
	if n := len(b.messages) - b.keep; n > 0 {
		b.messages = append(b.messages[:0], b.messages[n:]...)
	}
}

func (b *Board) Status() session.Status {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return b.status
}

// Histogram returns the last histogram as PNG, nil before the first one.
func (b *Board) Histogram() ([]byte, histogram.Class) {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return b.png, b.class
}

// Messages returns the retained messages, oldest first.
func (b *Board) Messages() []Message {
	b.lock.RLock()
	defer b.lock.RUnlock()
	return append([]Message(nil), b.messages...)
}

func levelName(l session.Level) string {
	switch l {
	case session.LevelError:
		return "error"
	case session.LevelWarn:
		return "warn"
	default:
		return "info"
	}
}

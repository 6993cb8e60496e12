// Package clock corrects the local time with an NTP offset. Boards without a
// battery backed RTC boot with a stale clock, and file names are derived
// from capture time.
package clock

import (
	"context"
	"sync"
	"time"

	"github.com/beevik/ntp"
	"go.uber.org/zap"

	"manual-shutter/pkg/utils"
)

const queryTimeout = 3 * time.Second

type Clock struct {
	server string
	query  func(server string) (time.Duration, error)
	logger *zap.SugaredLogger

	mu     sync.RWMutex
	offset time.Duration
	synced time.Time
}

// New returns a clock that follows the local time until the first Sync.
// An empty server disables synchronisation.
func New(server string) *Clock {
	return &Clock{server: server, query: queryOffset, logger: utils.GetLogger()}
}

func queryOffset(server string) (time.Duration, error) {
	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: queryTimeout})
	if err != nil {
		return 0, err
	}
	if err = resp.Validate(); err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}

func (c *Clock) Sync() error {
	if c.server == "" {
		return nil
	}
	offset, err := c.query(c.server)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.offset = offset
	c.synced = time.Now()
	c.mu.Unlock()
	c.logger.Infof("clock: offset %s from %s", offset, c.server)

	return nil
}

// Run syncs now and then every interval until ctx is done.
func (c *Clock) Run(ctx context.Context, interval time.Duration) {
	if c.server == "" {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := c.Sync(); err != nil {
			c.logger.Warnf("clock: sync with %s: %s", c.server, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().Add(c.offset)
}

// Offset returns the last measured offset and when it was taken.
func (c *Clock) Offset() (time.Duration, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset, c.synced
}

// Package sequence runs timed bursts: a countdown to the first shot, then one
// capture per interval until a target count or an explicit stop.
package sequence

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"manual-shutter/pkg/timer"
	"manual-shutter/pkg/utils"
)

const (
	coarseTick = time.Second
	fineTick   = 100 * time.Millisecond
)

type State int

const (
	Idle State = iota
	CountingDown
	// Running means a capture was requested and the controller waits for it.
	Running
)

func (s State) String() string {
	switch s {
	case CountingDown:
		return "countdown"
	case Running:
		return "running"
	default:
		return "idle"
	}
}

type Config struct {
	StartDelay time.Duration `json:"startDelay"`
	Interval   time.Duration `json:"interval"`
	// Target is the number of shots; 0 runs until Stop.
	Target int `json:"target"`
}

func (c Config) Validate() error {
	if c.StartDelay < 0 || c.Interval < 0 || c.Target < 0 {
		return fmt.Errorf("sequence: negative value in %+v", c)
	}
	return nil
}

// Status is what the display shows while a run is active.
type Status struct {
	State State
	Shots int
	// Remaining is the countdown to the next shot, rounded up to whole seconds.
	Remaining int
}

// Hooks connect the controller to the session. All of them run on the
// goroutine that owns the controller.
type Hooks struct {
	Capture func()
	Changed func(Status)
	Stopped func(shots int)
}

// Controller is single-goroutine owned; the deferred task posts its ticks
// back to that goroutine.
type Controller struct {
	cfg    Config
	hooks  Hooks
	task   *timer.Deferred
	logger *zap.SugaredLogger

	state     State
	shots     int
	remaining time.Duration
}

func New(sched timer.Scheduler, post timer.Post, hooks Hooks) *Controller {
	return &Controller{
		hooks:  hooks,
		task:   timer.NewDeferred("sequence", sched, post),
		logger: utils.GetLogger(),
	}
}

func (c *Controller) Active() bool {
	return c.state != Idle
}

func (c *Controller) Status() Status {
	return Status{State: c.state, Shots: c.shots, Remaining: int((c.remaining + time.Second - 1) / time.Second)}
}

// Start begins a run. Starting an active controller restarts it.
func (c *Controller) Start(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.task.Cancel()
	c.cfg = cfg
	c.shots = 0
	c.logger.Infof("sequence: start delay=%s interval=%s target=%d", cfg.StartDelay, cfg.Interval, cfg.Target)
	c.countdown(cfg.StartDelay)

	return nil
}

// Stop cancels pending ticks and resets the shot counter.
func (c *Controller) Stop() {
	if c.state == Idle {
		return
	}
	c.task.Cancel()
	shots := c.shots
	c.state = Idle
	c.shots = 0
	c.remaining = 0
	c.logger.Infof("sequence: stopped after %d shots", shots)
	c.changed()
	if c.hooks.Stopped != nil {
		c.hooks.Stopped(shots)
	}
}

// CaptureDone is called once the capture requested by the controller has
// completed. It either finishes the run or arms the next countdown.
func (c *Controller) CaptureDone() {
	if c.state != Running {
		return
	}
	c.shots++
	if c.cfg.Target > 0 && c.shots >= c.cfg.Target {
		c.Stop()
		return
	}
	c.countdown(c.cfg.Interval)
}

func (c *Controller) countdown(d time.Duration) {
	c.state = CountingDown
	c.remaining = d
	c.changed()
	c.tick()
}

// tick arms coarse one second steps, then 100ms steps for the final second.
func (c *Controller) tick() {
	switch {
	case c.remaining <= 0:
		c.remaining = 0
		c.state = Running
		c.changed()
		if c.hooks.Capture != nil {
			c.hooks.Capture()
		}
	case c.remaining > coarseTick:
		c.task.Arm(coarseTick, c.elapsed(coarseTick))
	default:
		c.task.Arm(fineTick, c.elapsed(fineTick))
	}
}

func (c *Controller) elapsed(d time.Duration) func() {
	return func() {
		c.remaining -= d
		if c.remaining > 0 && c.remaining%time.Second == 0 {
			c.changed()
		}
		c.tick()
	}
}

func (c *Controller) changed() {
	if c.hooks.Changed != nil {
		c.hooks.Changed(c.Status())
	}
}

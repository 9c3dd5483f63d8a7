package actuate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/rover/internal/monitoring"
	"github.com/banshee-data/rover/internal/timeutil"
)

const (
	// DefaultHold is the minimum time an applied output is kept.
	DefaultHold = 500 * time.Millisecond
	// DefaultUpdatePeriod is how often the motor task wakes without input.
	DefaultUpdatePeriod = 20 * time.Millisecond
)

var logf = monitoring.Tagged("motor")

// State is the controller state.
type State int

const (
	// Idle accepts the next command.
	Idle State = iota
	// Active holds the current output until the hold expires.
	Active
)

func (s State) String() string {
	if s == Active {
		return "ACTIVE"
	}
	return "IDLE"
}

// Driver applies outputs to the motors.
type Driver interface {
	Apply(o Output) error
	Stop() error
}

// Status is a snapshot of the controller.
type Status struct {
	State   State     `json:"state"`
	Current Output    `json:"current"`
	Expiry  time.Time `json:"expiry,omitempty"`
	Applied uint64    `json:"applied"`
	Stops   uint64    `json:"stops"`
	// Pending is the command last seen waiting out the hold.
	Pending string `json:"pending,omitempty"`
}

// Controller is the actuation state machine. It owns the driver; only the
// goroutine running Step or Run may call into it.
type Controller struct {
	driver Driver
	rules  []Rule
	hold   time.Duration

	// OnChange, when set, observes every applied command. A stop is
	// reported with the zero Output.
	OnChange func(cmd Command, out Output, at time.Time)

	mu      sync.Mutex
	state   State
	current Output
	last    Output
	hasLast bool
	expiry  time.Time
	applied uint64
	stops   uint64

	pending    Command
	hasPending bool
}

// NewController returns an idle controller. A non-positive hold selects
// DefaultHold.
func NewController(d Driver, rules []Rule, hold time.Duration) *Controller {
	if hold <= 0 {
		hold = DefaultHold
	}
	return &Controller{driver: d, rules: rules, hold: hold}
}

// Status returns a snapshot safe to read from other goroutines.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.state, Current: c.current, Applied: c.applied, Stops: c.stops}
	if c.state == Active {
		st.Expiry = c.expiry
	}
	if c.hasPending {
		st.Pending = c.pending.String()
	}
	return st
}

// resolve maps a command to an output. ok is false when nothing matches.
func (c *Controller) resolve(cmd Command) (Output, bool) {
	if label, isLabel := cmd.Label(); isLabel {
		return Lookup(c.rules, label)
	}
	return c.last, c.hasLast
}

// Handle applies cmd at now. While Active the command is refused and
// false is returned; the caller leaves it pending.
func (c *Controller) Handle(cmd Command, now time.Time) (bool, error) {
	c.mu.Lock()
	if c.state == Active {
		c.mu.Unlock()
		return false, nil
	}
	out, ok := c.resolve(cmd)
	if ok {
		c.last, c.hasLast = out, true
	}
	if !ok || out.Action == Stop {
		c.state = Idle
		c.current = Output{}
		c.stops++
		c.mu.Unlock()
		if !ok {
			logf("no rule for %v, stopping", cmd)
		}
		c.notify(cmd, Output{}, now)
		return true, c.stop()
	}
	c.state = Active
	c.current = out
	c.expiry = now.Add(c.hold)
	c.applied++
	c.mu.Unlock()

	c.notify(cmd, out, now)
	if err := c.driver.Apply(out); err != nil {
		return true, fmt.Errorf("apply %v: %w", out.Action, err)
	}
	return true, nil
}

// Expire stops the motors and returns to Idle once the hold has elapsed.
func (c *Controller) Expire(now time.Time) error {
	c.mu.Lock()
	if c.state != Active || now.Before(c.expiry) {
		c.mu.Unlock()
		return nil
	}
	c.state = Idle
	c.current = Output{}
	c.stops++
	c.mu.Unlock()
	return c.stop()
}

// Step runs one wake-up of the motor task: expire the hold, then take the
// pending command if the controller is Idle. While Active the pending
// command is only peeked, so Status can report what is waiting.
func (c *Controller) Step(mb *Mailbox, now time.Time) error {
	if err := c.Expire(now); err != nil {
		return err
	}
	c.mu.Lock()
	idle := c.state == Idle
	c.mu.Unlock()
	if !idle {
		cmd, ok := mb.Peek()
		c.mu.Lock()
		c.pending, c.hasPending = cmd, ok
		c.mu.Unlock()
		return nil
	}
	c.mu.Lock()
	c.hasPending = false
	c.mu.Unlock()
	cmd, ok := mb.TryReceive()
	if !ok {
		return nil
	}
	_, err := c.Handle(cmd, now)
	return err
}

// Run drives the controller from mb until ctx is done, waking on every
// post and at least every period. The motors are stopped on entry and exit.
func (c *Controller) Run(ctx context.Context, mb *Mailbox, clock timeutil.Clock, period time.Duration) error {
	if period <= 0 {
		period = DefaultUpdatePeriod
	}
	if err := c.stop(); err != nil {
		logf("initial stop failed: %v", err)
	}
	ticker := clock.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := c.stop(); err != nil {
				logf("final stop failed: %v", err)
			}
			return ctx.Err()
		case <-mb.Ready():
		case <-ticker.C():
		}
		if err := c.Step(mb, clock.Now()); err != nil {
			logf("%v", err)
		}
	}
}

func (c *Controller) stop() error {
	if err := c.driver.Stop(); err != nil {
		return fmt.Errorf("stop motors: %w", err)
	}
	return nil
}

func (c *Controller) notify(cmd Command, out Output, at time.Time) {
	if c.OnChange != nil {
		c.OnChange(cmd, out, at)
	}
}

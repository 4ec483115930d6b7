// ABOUTME: Reconnection controller: bounded-backoff state machine over attaches
// ABOUTME: Drives connect/retry/give-up transitions; close always wins

package chat

import (
	"log/slog"
	"sync"
	"time"
)

// State is the reconnection controller's current position in its lifecycle.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateScheduled    State = "scheduled"
	StateGaveUp       State = "gave_up"
)

// BackoffPolicy bounds the retry schedule: delay = min(Base << retry, Cap),
// at most MaxRetries automatic attempts before giving up.
type BackoffPolicy struct {
	Base       time.Duration
	Cap        time.Duration
	MaxRetries int
}

// DefaultBackoffPolicy matches the observed backend provisioning window:
// 1s, 2s, 4s, 8s, 10s, then give up and require a manual refresh.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Base:       time.Second,
		Cap:        10 * time.Second,
		MaxRetries: 5,
	}
}

// Delay returns the backoff delay for the given zero-based retry number.
func (p BackoffPolicy) Delay(retry int) time.Duration {
	if retry > 30 {
		return p.Cap
	}
	d := p.Base << uint(retry)
	if d > p.Cap || d <= 0 {
		d = p.Cap
	}
	return d
}

// Signal is one user-visible transition notification. Scheduled signals
// carry the attempt number and the delay before the next connect; a GaveUp
// signal is terminal and means a manual refresh is required.
type Signal struct {
	State   State
	Attempt int           // 1-based retry attempt, set for StateScheduled
	Delay   time.Duration // scheduled backoff delay, set for StateScheduled
}

// AttachFunc re-runs the full attach sequence. The controller passes its own
// status sink so feed lifecycle transitions drive the state machine. A nil
// attachment or error is treated as an immediate disconnect.
type AttachFunc func(onStatus func(Status)) (*Attachment, error)

// Controller owns one subscription handle at a time and decides when to
// retry a dropped connection. Transient faults are absorbed here and
// surfaced only as Signals; they are never returned to the session's caller.
type Controller struct {
	mu         sync.Mutex
	state      State
	retryCount int
	timer      *time.Timer
	current    *Attachment
	stopped    bool

	attach AttachFunc
	notify func(Signal)
	policy BackoffPolicy
	logger *slog.Logger
}

// NewController creates a controller in StateIdle. notify may be nil.
// Pass nil logger for default.
func NewController(attach AttachFunc, notify func(Signal), policy BackoffPolicy, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if notify == nil {
		notify = func(Signal) {}
	}
	return &Controller{
		state:  StateIdle,
		attach: attach,
		notify: notify,
		policy: policy,
		logger: logger.With("component", "reconnect"),
	}
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start attempts the first attach. No-op unless the controller is Idle.
func (c *Controller) Start() {
	c.mu.Lock()
	if c.stopped || c.state != StateIdle {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.notify(Signal{State: StateConnecting})
	c.connect()
}

// connect runs the attach sequence and records the resulting handle.
// Called off the controller's lock: the manager invokes onStatus
// synchronously during Attach.
func (c *Controller) connect() {
	att, err := c.attach(c.onStatus)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		if att != nil {
			att.Detach()
		}
		return
	}
	c.current = att
	c.mu.Unlock()

	if err != nil || att == nil {
		c.logger.Debug("attach failed", "error", err)
		c.onStatus(StatusDisconnected)
	}
}

// onStatus receives lifecycle transitions from the subscription manager.
func (c *Controller) onStatus(s Status) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}

	var signals []Signal
	switch s {
	case StatusConnecting:
		if c.state != StateConnecting {
			signals = append(signals, Signal{State: StateConnecting})
		}
		c.state = StateConnecting

	case StatusConnected:
		c.state = StateConnected
		c.retryCount = 0
		signals = append(signals, Signal{State: StateConnected})

	case StatusDisconnected:
		c.state = StateDisconnected
		c.current = nil // the attachment tore itself down on fault
		signals = append(signals, Signal{State: StateDisconnected})

		if c.retryCount < c.policy.MaxRetries {
			delay := c.policy.Delay(c.retryCount)
			c.retryCount++
			c.state = StateScheduled
			c.timer = time.AfterFunc(delay, c.onTimer)
			signals = append(signals, Signal{State: StateScheduled, Attempt: c.retryCount, Delay: delay})
			c.logger.Info("reconnect scheduled",
				"attempt", c.retryCount,
				"delay", delay)
		} else {
			c.state = StateGaveUp
			signals = append(signals, Signal{State: StateGaveUp})
			c.logger.Warn("reconnect gave up",
				"attempts", c.retryCount)
		}
	}
	c.mu.Unlock()

	for _, sig := range signals {
		c.notify(sig)
	}
}

// onTimer fires a scheduled retry. Stop always wins: a cancelled timer or a
// stopped controller makes this a no-op.
func (c *Controller) onTimer() {
	c.mu.Lock()
	if c.stopped || c.state != StateScheduled {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.timer = nil
	c.mu.Unlock()

	c.connect()
}

// Stop forces the controller to Idle: cancels any pending retry timer and
// detaches the current subscription. Always available from any state, and
// always wins over a pending retry. After Stop returns, no further Signals
// or deliveries are produced.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.state = StateIdle
	timer := c.timer
	c.timer = nil
	att := c.current
	c.current = nil
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	if att != nil {
		att.Detach()
	}
	c.logger.Debug("controller stopped")
}

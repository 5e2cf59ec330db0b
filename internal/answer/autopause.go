package answer

import (
	"context"
	"sync"
	"time"
)

// Auto-pause defaults.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultPauseAfter   = 3 * time.Second
)

// Detector decides when a transcript has stopped growing. It is fed
// observations of the transcript length and reports true exactly once, at
// the first observation at least PauseAfter after the last growth.
type Detector struct {
	PauseAfter time.Duration

	lastLen    int
	lastGrowth time.Time
	fired      bool
}

// NewDetector returns a detector whose silence starts at start with the
// transcript at length.
func NewDetector(pauseAfter time.Duration, start time.Time, length int) *Detector {
	return &Detector{PauseAfter: pauseAfter, lastLen: length, lastGrowth: start}
}

// Observe records the transcript length seen at now.
func (d *Detector) Observe(now time.Time, length int) bool {
	if d.fired {
		return false
	}
	if length != d.lastLen {
		d.lastLen = length
		d.lastGrowth = now
		return false
	}
	if now.Sub(d.lastGrowth) < d.PauseAfter {
		return false
	}
	d.fired = true
	return true
}

// AutoPause polls a transcript while recording and calls OnPause once the
// transcript has been unchanged for PauseAfter. A manual Stop suppresses a
// pending auto-pause.
type AutoPause struct {
	length  func() int
	onPause func(at time.Time)

	detector *Detector
	ticks    <-chan time.Time
	release  func()

	mu      sync.Mutex
	fired   bool
	stopped bool
	stop    chan struct{}
	done    chan struct{}
}

// AutoPauseOption configures an AutoPause.
type AutoPauseOption func(*autoPauseOptions)

type autoPauseOptions struct {
	pollInterval time.Duration
	pauseAfter   time.Duration
	start        time.Time
	ticks        <-chan time.Time
}

// WithPollInterval sets how often the transcript is polled.
func WithPollInterval(d time.Duration) AutoPauseOption {
	return func(o *autoPauseOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithPauseAfter sets how long the transcript must stay unchanged.
func WithPauseAfter(d time.Duration) AutoPauseOption {
	return func(o *autoPauseOptions) {
		if d > 0 {
			o.pauseAfter = d
		}
	}
}

// WithTicks replaces the real ticker: polls happen at the times received on
// ticks, and silence is measured from start.
func WithTicks(start time.Time, ticks <-chan time.Time) AutoPauseOption {
	return func(o *autoPauseOptions) {
		o.start = start
		o.ticks = ticks
	}
}

// NewAutoPause prepares a watcher over length. Call Run to start polling.
func NewAutoPause(length func() int, onPause func(at time.Time), opts ...AutoPauseOption) *AutoPause {
	o := autoPauseOptions{pollInterval: DefaultPollInterval, pauseAfter: DefaultPauseAfter}
	for _, opt := range opts {
		opt(&o)
	}

	a := &AutoPause{
		length:  length,
		onPause: onPause,
		ticks:   o.ticks,
		release: func() {},
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if a.ticks == nil {
		t := time.NewTicker(o.pollInterval)
		a.ticks = t.C
		a.release = t.Stop
		o.start = time.Now()
	}
	a.detector = NewDetector(o.pauseAfter, o.start, length())
	return a
}

// Run polls until the pause fires, Stop is called or ctx is done.
func (a *AutoPause) Run(ctx context.Context) {
	defer close(a.done)
	defer a.release()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stop:
			return
		case now := <-a.ticks:
			if a.poll(now) {
				a.onPause(now)
				return
			}
		}
	}
}

func (a *AutoPause) poll(now time.Time) bool {
	n := a.length()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return false
	}
	if !a.detector.Observe(now, n) {
		return false
	}
	a.fired = true
	return true
}

// Stop is a manual stop. It reports whether it preempted the auto-pause;
// false means the pause already fired.
func (a *AutoPause) Stop() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fired {
		return false
	}
	if !a.stopped {
		a.stopped = true
		close(a.stop)
	}
	return true
}

// Done is closed once Run has returned.
func (a *AutoPause) Done() <-chan struct{} {
	return a.done
}

// Package dispatcher fires callbacks at computed times on a bounded pool.
//
// One-shot timers run on time.AfterFunc and are discarded after firing.
// Fixed-rate timers run on robfig/cron with a schedule anchored at
// registration. Every firing, of either kind, must acquire one of PoolSize
// slots before its callback runs. The slot is taken inside the fired
// goroutine, so registering a timer never blocks.
//
// Overlap policy: a fixed-rate timer never runs two invocations at once. A
// firing that comes due while the previous invocation of the same timer is
// still running, or still waiting for a slot, is skipped and logged. Distinct
// timers run fully concurrently up to PoolSize.
//
// Shutdown moves the dispatcher from accepting to draining to terminated.
// Pending timers stop, in-flight callbacks get GracePeriod to return, and
// after that the context handed to callbacks is cancelled.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"github.com/doughall/cmdsched/internal/logging"
)

// Defaults applied by New for zero-valued options.
const (
	DefaultPoolSize    = 10
	DefaultGracePeriod = 5 * time.Second

	// forceWait bounds the wait for cancelled callbacks once the caller's
	// shutdown deadline has already passed.
	forceWait = time.Second
)

var (
	// ErrNotAccepting is returned when registering a timer after Shutdown began.
	ErrNotAccepting = errors.New("dispatcher is not accepting new timers")
	// ErrInvalidDuration is returned for a negative delay or a non-positive period.
	ErrInvalidDuration = errors.New("invalid timer duration")
)

// State is the dispatcher lifecycle state.
type State int32

const (
	Accepting State = iota
	Draining
	Terminated
)

func (s State) String() string {
	switch s {
	case Accepting:
		return "accepting"
	case Draining:
		return "draining"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Func is a timer callback. ctx is cancelled when shutdown forcibly cancels
// in-flight work.
type Func func(ctx context.Context)

// TimerID identifies a registered timer.
type TimerID uint64

// Timer kinds reported by Timers.
const (
	KindOneShot   = "one-shot"
	KindFixedRate = "fixed-rate"
)

// TimerInfo describes a registered timer.
type TimerInfo struct {
	ID     TimerID
	Name   string
	Kind   string
	Next   time.Time
	Period time.Duration
}

// Options configures a Dispatcher.
type Options struct {
	// PoolSize bounds concurrently running callbacks. Default 10.
	PoolSize int
	// GracePeriod is how long Shutdown waits for in-flight callbacks before
	// cancelling them. Default 5s.
	GracePeriod time.Duration
	// Location is used by the cron engine. Default time.Local.
	Location *time.Location
}

type oneShot struct {
	id    TimerID
	name  string
	due   time.Time
	fn    Func
	timer *time.Timer
}

type periodic struct {
	id       TimerID
	name     string
	schedule fixedRate
	entryID  cron.EntryID
}

// Dispatcher owns all timers and the execution pool.
type Dispatcher struct {
	opts   Options
	logger *slog.Logger

	cron   *cron.Cron
	sem    *semaphore.Weighted
	runCtx context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	state     State
	started   bool
	nextID    TimerID
	oneShots  map[TimerID]*oneShot
	periodics map[TimerID]*periodic

	inflight sync.WaitGroup
	running  atomic.Int64
	fired    atomic.Int64
}

// New creates a Dispatcher. Timers may be registered before Start; their
// fire-times are anchored at registration either way.
func New(opts Options, logger *slog.Logger) *Dispatcher {
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}

	logger = logging.WithComponent(logger, "dispatcher")
	cl := logging.NewCronLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		opts:   opts,
		logger: logger,
		cron: cron.New(
			cron.WithLocation(opts.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		sem:       semaphore.NewWeighted(int64(opts.PoolSize)),
		runCtx:    ctx,
		cancel:    cancel,
		oneShots:  make(map[TimerID]*oneShot),
		periodics: make(map[TimerID]*periodic),
	}
}

// After registers a one-shot timer firing fn once after delay.
func (d *Dispatcher) After(name string, delay time.Duration, fn Func) (TimerID, error) {
	if delay < 0 {
		return 0, fmt.Errorf("%w: delay %s", ErrInvalidDuration, delay)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Accepting {
		return 0, ErrNotAccepting
	}

	d.nextID++
	t := &oneShot{
		id:   d.nextID,
		name: name,
		due:  time.Now().Add(delay),
		fn:   fn,
	}
	d.oneShots[t.id] = t
	if d.started {
		d.armLocked(t)
	}

	d.logger.Debug("registered one-shot timer",
		slog.Uint64("timer_id", uint64(t.id)),
		slog.String("name", name),
		slog.Duration("delay", delay),
	)
	return t.id, nil
}

// Every registers a fixed-rate timer: first fire after initialDelay, then
// every period, until Shutdown.
func (d *Dispatcher) Every(name string, initialDelay, period time.Duration, fn Func) (TimerID, error) {
	if initialDelay < 0 || period <= 0 {
		return 0, fmt.Errorf("%w: initial delay %s, period %s", ErrInvalidDuration, initialDelay, period)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Accepting {
		return 0, ErrNotAccepting
	}

	d.nextID++
	p := &periodic{
		id:       d.nextID,
		name:     name,
		schedule: fixedRate{first: time.Now().Add(initialDelay), period: period},
	}

	timerLog := d.logger.With(slog.Uint64("timer_id", uint64(p.id)), slog.String("name", name))
	job := cron.NewChain(cron.SkipIfStillRunning(logging.NewCronLogger(timerLog))).
		Then(cron.FuncJob(func() { d.fire(p.id, name, fn) }))
	p.entryID = d.cron.Schedule(p.schedule, job)
	d.periodics[p.id] = p

	d.logger.Debug("registered fixed-rate timer",
		slog.Uint64("timer_id", uint64(p.id)),
		slog.String("name", name),
		slog.Duration("initial_delay", initialDelay),
		slog.Duration("period", period),
	)
	return p.id, nil
}

// Start begins firing timers. Calling Start more than once is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.state != Accepting {
		return
	}
	d.started = true
	for _, t := range d.oneShots {
		d.armLocked(t)
	}
	d.cron.Start()

	d.logger.Info("dispatcher started",
		slog.Int("one_shot_timers", len(d.oneShots)),
		slog.Int("fixed_rate_timers", len(d.periodics)),
		slog.Int("pool_size", d.opts.PoolSize),
	)
}

// armLocked starts the wall-clock timer for t. Caller holds d.mu.
func (d *Dispatcher) armLocked(t *oneShot) {
	delay := time.Until(t.due)
	if delay < 0 {
		delay = 0
	}
	t.timer = time.AfterFunc(delay, func() {
		d.mu.Lock()
		_, ok := d.oneShots[t.id]
		delete(d.oneShots, t.id)
		d.mu.Unlock()
		if ok {
			d.fire(t.id, t.name, t.fn)
		}
	})
}

// begin registers an in-flight firing, unless the dispatcher is draining.
func (d *Dispatcher) begin() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != Accepting {
		return false
	}
	d.inflight.Add(1)
	return true
}

// fire runs fn in the calling goroutine once a pool slot is free.
// Panics are contained here so one bad callback cannot take down the others.
func (d *Dispatcher) fire(id TimerID, name string, fn Func) {
	log := d.logger.With(slog.Uint64("timer_id", uint64(id)), slog.String("name", name))
	if !d.begin() {
		log.Debug("firing refused: dispatcher is shutting down")
		return
	}
	defer d.inflight.Done()

	if err := d.sem.Acquire(d.runCtx, 1); err != nil {
		log.Warn("firing cancelled while waiting for a free slot",
			slog.String("error", err.Error()),
		)
		return
	}
	defer d.sem.Release(1)

	// Shutdown may have begun while this firing waited for a slot.
	if d.State() != Accepting {
		log.Debug("firing dropped: dispatcher is shutting down")
		return
	}

	d.running.Add(1)
	defer d.running.Add(-1)
	d.fired.Add(1)

	defer func() {
		if r := recover(); r != nil {
			log.Error("timer callback panicked",
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	fn(d.runCtx)
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Running returns the number of callbacks currently executing.
func (d *Dispatcher) Running() int {
	return int(d.running.Load())
}

// Fired returns the total number of callbacks started so far.
func (d *Dispatcher) Fired() int64 {
	return d.fired.Load()
}

// Timers lists pending timers ordered by next fire time.
func (d *Dispatcher) Timers() []TimerInfo {
	now := time.Now()

	d.mu.Lock()
	infos := make([]TimerInfo, 0, len(d.oneShots)+len(d.periodics))
	for _, t := range d.oneShots {
		infos = append(infos, TimerInfo{ID: t.id, Name: t.name, Kind: KindOneShot, Next: t.due})
	}
	periodics := make([]*periodic, 0, len(d.periodics))
	for _, p := range d.periodics {
		periodics = append(periodics, p)
	}
	d.mu.Unlock()

	for _, p := range periodics {
		infos = append(infos, TimerInfo{
			ID:     p.id,
			Name:   p.name,
			Kind:   KindFixedRate,
			Next:   p.schedule.Next(now),
			Period: p.schedule.period,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Next.Equal(infos[j].Next) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].Next.Before(infos[j].Next)
	})
	return infos
}

// Shutdown stops all timers and waits for in-flight callbacks. Callbacks
// still running after GracePeriod, or when ctx ends, are cancelled through
// their context; Shutdown then waits for them until ctx ends.
// It returns an error only if callbacks were still running when ctx ended.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.state != Accepting {
		d.mu.Unlock()
		return nil
	}
	d.state = Draining
	pending := 0
	for id, t := range d.oneShots {
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(d.oneShots, id)
		pending++
	}
	d.mu.Unlock()

	d.cron.Stop()
	d.logger.Info("dispatcher draining",
		slog.Int("in_flight", d.Running()),
		slog.Int("cancelled_pending_one_shots", pending),
		slog.Duration("grace_period", d.opts.GracePeriod),
	)

	drained := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(drained)
	}()

	grace := time.NewTimer(d.opts.GracePeriod)
	defer grace.Stop()

	var err error
	select {
	case <-drained:
	case <-grace.C:
		err = d.forceCancel(ctx, drained, "grace period expired")
	case <-ctx.Done():
		err = d.forceCancel(ctx, drained, "shutdown deadline reached")
	}
	d.cancel()

	d.mu.Lock()
	d.state = Terminated
	d.mu.Unlock()

	if err == nil {
		d.logger.Info("dispatcher stopped", slog.Int64("total_fired", d.Fired()))
	}
	return err
}

func (d *Dispatcher) forceCancel(ctx context.Context, drained <-chan struct{}, reason string) error {
	d.logger.Warn("cancelling in-flight callbacks",
		slog.String("reason", reason),
		slog.Int("in_flight", d.Running()),
	)
	d.cancel()

	// Once ctx has ended, give cancelled callbacks a short window to unwind.
	done := ctx.Done()
	var timeout <-chan time.Time
	if ctx.Err() != nil {
		done = nil
		t := time.NewTimer(forceWait)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-drained:
		return nil
	case <-done:
	case <-timeout:
	}
	d.logger.Error("callbacks still running at shutdown deadline",
		slog.Int("in_flight", d.Running()),
	)
	return fmt.Errorf("dispatcher shutdown: %w", ctx.Err())
}

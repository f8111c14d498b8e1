// Package runner loads the commands file and keeps its schedule running.
//
// A load reads the file, parses every line, and plans fire-times against the
// current local time. Each rejected line and each skipped one-time command
// gets its own log entry. Every accepted timer is then registered on a
// fresh dispatcher whose callbacks run the command through the executor and
// journal the outcome. A reload (file change) drains the current dispatcher
// and repeats the whole load.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/doughall/cmdsched/internal/cmdspec"
	"github.com/doughall/cmdsched/internal/dispatcher"
	"github.com/doughall/cmdsched/internal/executor"
	"github.com/doughall/cmdsched/internal/history"
	"github.com/doughall/cmdsched/internal/logging"
	"github.com/doughall/cmdsched/internal/planner"
)

// reloadDrainSlack is added to the grace period to bound a reload's drain.
const reloadDrainSlack = 5 * time.Second

// ErrClosed is returned by Start after Shutdown.
var ErrClosed = errors.New("runner is shut down")

// Executor runs one command to completion.
type Executor interface {
	Execute(ctx context.Context, command string) (*executor.Result, error)
}

// Journal records executions. *history.Journal implements it.
type Journal interface {
	Append(r *history.Record) error
}

// Options configures a Runner.
type Options struct {
	CommandsFile string
	PoolSize     int
	GracePeriod  time.Duration
	Location     *time.Location
}

// Report describes one load of the commands file.
type Report struct {
	Path     string
	Lines    int
	Rejected []cmdspec.LineError
	Schedule *planner.Schedule
}

// Accepted is the number of lines that parsed into commands.
func (r *Report) Accepted() int {
	return len(r.Schedule.OneShots) + len(r.Schedule.Periodics) + len(r.Schedule.Skipped)
}

// Invalid counts every rejection, including calendar-invalid dates.
func (r *Report) Invalid() int {
	return len(r.Rejected) + r.Schedule.Summary().Invalid
}

// Runner owns the dispatcher for the current schedule.
type Runner struct {
	fs      afero.Fs
	opts    Options
	exec    Executor
	base    *slog.Logger
	logger  *slog.Logger
	journal Journal
	reloads <-chan struct{}

	beforeReload func()
	afterReload  func()

	now func() time.Time

	// lifecycle serializes Start, reload and Shutdown.
	lifecycle sync.Mutex
	closed    bool

	mu   sync.RWMutex
	disp *dispatcher.Dispatcher
}

// New creates a Runner reading opts.CommandsFile from fs.
func New(fs afero.Fs, exec Executor, opts Options, logger *slog.Logger) *Runner {
	if opts.CommandsFile == "" {
		opts.CommandsFile = cmdspec.DefaultPath()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = dispatcher.DefaultGracePeriod
	}
	return &Runner{
		fs:     fs,
		opts:   opts,
		exec:   exec,
		base:   logger,
		logger: logging.WithComponent(logger, "runner"),
		now:    time.Now,
	}
}

// SetJournal enables execution history.
func (r *Runner) SetJournal(j Journal) {
	r.journal = j
}

// SetReloadSource makes Run rebuild the schedule on every value from ch.
func (r *Runner) SetReloadSource(ch <-chan struct{}) {
	r.reloads = ch
}

// SetReloadHooks installs callbacks run around each reload, e.g. to tell
// systemd the service is reloading.
func (r *Runner) SetReloadHooks(before, after func()) {
	r.beforeReload = before
	r.afterReload = after
}

// Load reads, parses and plans the commands file without scheduling anything.
func (r *Runner) Load() (*Report, error) {
	lines, err := cmdspec.ReadLines(r.fs, r.opts.CommandsFile)
	if err != nil {
		return nil, err
	}

	parsed := cmdspec.ParseLines(lines)
	for _, le := range parsed.Errors {
		r.logger.Warn("rejected command line",
			slog.Int("line", le.Line),
			slog.String("raw", le.Err.Line),
			slog.String("reason", le.Err.Reason()),
			slog.String("error", le.Err.Error()),
		)
	}

	sched := planner.Plan(r.now().In(r.opts.Location), parsed.Commands)
	for _, sk := range sched.Skipped {
		switch sk.Reason {
		case planner.PastOneTime:
			r.logger.Info("skipping past one-time command",
				slog.Int("line", sk.Entry.Line),
				slog.String("command", sk.Entry.Command.CommandText()),
				slog.Time("scheduled_for", sk.At),
			)
		case planner.InvalidCalendarDate:
			r.logger.Warn("rejected command line",
				slog.Int("line", sk.Entry.Line),
				slog.String("raw", sk.Entry.Command.String()),
				slog.String("reason", sk.Err.Reason()),
				slog.String("error", sk.Err.Error()),
			)
		}
	}

	report := &Report{
		Path:     r.opts.CommandsFile,
		Lines:    len(lines),
		Rejected: parsed.Errors,
		Schedule: sched,
	}
	sum := sched.Summary()
	r.logger.Info("commands file loaded",
		slog.String("path", report.Path),
		slog.Int("lines", report.Lines),
		slog.Int("one_time", sum.OneShots),
		slog.Int("recurring", sum.Periodics),
		slog.Int("skipped_past", sum.Past),
		slog.Int("rejected", report.Invalid()),
	)
	return report, nil
}

// Start loads the commands file and starts dispatching its schedule.
func (r *Runner) Start() (*Report, error) {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	report, err := r.Load()
	if err != nil {
		return nil, err
	}
	r.install(report.Schedule)
	return report, nil
}

// Run starts the schedule and then serves reloads until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if _, err := r.Start(); err != nil {
		return err
	}
	r.Serve(ctx)
	return nil
}

// Serve rebuilds the schedule on every reload signal until ctx is cancelled.
// In-flight commands are not touched when ctx ends; call Shutdown to drain
// them.
func (r *Runner) Serve(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.reloads:
			r.reload()
		}
	}
}

// reload re-reads the commands file and swaps in a new schedule. If the file
// cannot be read the current schedule stays in place.
func (r *Runner) reload() {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if r.closed {
		return
	}

	r.logger.Info("commands file changed, reloading")
	report, err := r.Load()
	if err != nil {
		r.logger.Error("reload failed, keeping current schedule",
			slog.String("error", err.Error()),
		)
		return
	}

	if r.beforeReload != nil {
		r.beforeReload()
	}
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.GracePeriod+reloadDrainSlack)
	defer cancel()
	if err := r.stopDispatcher(ctx); err != nil {
		r.logger.Warn("previous schedule did not drain cleanly",
			slog.String("error", err.Error()),
		)
	}
	r.install(report.Schedule)
	if r.afterReload != nil {
		r.afterReload()
	}
}

// install registers every planned timer on a new dispatcher and starts it.
// Caller holds r.lifecycle.
func (r *Runner) install(s *planner.Schedule) {
	d := dispatcher.New(dispatcher.Options{
		PoolSize:    r.opts.PoolSize,
		GracePeriod: r.opts.GracePeriod,
		Location:    r.opts.Location,
	}, r.base)

	for _, shot := range s.OneShots {
		job := r.job(shot.Entry, shot.At)
		if _, err := d.After(shot.Command.String(), shot.Delay, job); err != nil {
			r.logger.Error("failed to schedule one-time command",
				slog.Int("line", shot.Entry.Line),
				slog.String("error", err.Error()),
			)
			continue
		}
		r.logger.Info("scheduled one-time command",
			slog.Int("line", shot.Entry.Line),
			slog.String("command", shot.Command.Text),
			slog.Time("at", shot.At),
			slog.Duration("delay", shot.Delay),
		)
	}

	for _, p := range s.Periodics {
		job := r.job(p.Entry, time.Time{})
		if _, err := d.Every(p.Command.String(), p.InitialDelay, p.Period, job); err != nil {
			r.logger.Error("failed to schedule recurring command",
				slog.Int("line", p.Entry.Line),
				slog.String("error", err.Error()),
			)
			continue
		}
		r.logger.Info("scheduled recurring command",
			slog.Int("line", p.Entry.Line),
			slog.String("command", p.Command.Text),
			slog.Int("every_minutes", p.Command.Interval),
		)
	}

	d.Start()

	r.mu.Lock()
	r.disp = d
	r.mu.Unlock()
}

// job builds the dispatcher callback for one entry.
func (r *Runner) job(e cmdspec.Entry, scheduledFor time.Time) dispatcher.Func {
	return func(ctx context.Context) {
		r.execute(ctx, e, scheduledFor)
	}
}

// execute runs one command and reports the outcome. Failures stay here.
func (r *Runner) execute(ctx context.Context, e cmdspec.Entry, scheduledFor time.Time) {
	text := e.Command.CommandText()
	cmdLog := r.logger.With(
		slog.Int("line", e.Line),
		slog.String("kind", e.Command.Kind()),
		slog.String("command", text),
	)
	cmdLog.Info("executing command")

	rec := &history.Record{
		Command:      text,
		Kind:         e.Command.Kind(),
		Line:         e.Line,
		ScheduledFor: scheduledFor,
		StartedAt:    time.Now(),
		ExitCode:     -1,
	}

	res, err := r.exec.Execute(ctx, text)
	var execErr *executor.ExecError
	if res == nil && errors.As(err, &execErr) {
		res = execErr.Result
	}
	if res != nil {
		rec.StartedAt = res.StartedAt
		rec.ExitCode = res.ExitCode
		rec.DurationMs = res.DurationMs()
		rec.TimedOut = res.TimedOut
	}

	if err != nil {
		rec.Error = err.Error()
		reason := "error"
		if errors.As(err, &execErr) {
			reason = execErr.Reason()
		}
		cmdLog.Warn("command failed",
			slog.String("reason", reason),
			slog.String("error", err.Error()),
		)
	} else {
		cmdLog.Info("command completed",
			slog.Int("exit_code", rec.ExitCode),
			slog.Int64("duration_ms", rec.DurationMs),
			slog.Bool("timed_out", rec.TimedOut),
		)
	}

	if r.journal != nil {
		if err := r.journal.Append(rec); err != nil {
			cmdLog.Error("failed to record execution",
				slog.String("error", err.Error()),
			)
		}
	}
}

// stopDispatcher drains the current dispatcher. The dispatcher applies its
// own grace period; ctx bounds the whole drain. Caller holds r.lifecycle.
func (r *Runner) stopDispatcher(ctx context.Context) error {
	r.mu.Lock()
	d := r.disp
	r.disp = nil
	r.mu.Unlock()
	if d == nil {
		return nil
	}
	return d.Shutdown(ctx)
}

// Shutdown stops scheduling and waits for in-flight commands within the
// grace period, then cancels whatever is still running.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	r.closed = true

	if err := r.stopDispatcher(ctx); err != nil {
		return fmt.Errorf("runner shutdown: %w", err)
	}
	r.logger.Info("runner stopped")
	return nil
}

// Healthy reports whether a schedule is live and accepting fires.
func (r *Runner) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.disp != nil && r.disp.State() == dispatcher.Accepting
}

// Timers lists the pending timers of the live schedule.
func (r *Runner) Timers() []dispatcher.TimerInfo {
	r.mu.RLock()
	d := r.disp
	r.mu.RUnlock()
	if d == nil {
		return nil
	}
	return d.Timers()
}

// Fired returns how many executions the live schedule has started.
func (r *Runner) Fired() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.disp == nil {
		return 0
	}
	return r.disp.Fired()
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/me/hostbridge/internal/classifier"
	"github.com/me/hostbridge/internal/clock"
	"github.com/me/hostbridge/internal/conn"
	"github.com/me/hostbridge/internal/dispatch"
	"github.com/me/hostbridge/internal/executor"
	"github.com/me/hostbridge/internal/operation"
	"github.com/me/hostbridge/pkg/model"
)

// Config holds scheduler configuration.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	AcceptEvery time.Duration `yaml:"accept_every"`
	ReapBelow   int           `yaml:"reap_below"`

	FastestInterval  time.Duration `yaml:"fastest_interval"`
	FastInterval     time.Duration `yaml:"fast_interval"`
	MediumInterval   time.Duration `yaml:"medium_interval"`
	SlowestInterval  time.Duration `yaml:"slowest_interval"`
	DegradedInterval time.Duration `yaml:"degraded_interval"`
	MaxFailures      int           `yaml:"max_failures"`

	SweepInterval    time.Duration `yaml:"sweep_interval"`
	JournalRetention time.Duration `yaml:"journal_retention"`

	RetryBackoffStep time.Duration `yaml:"retry_backoff_step"`
	RetryBackoffMax  time.Duration `yaml:"retry_backoff_max"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:             "127.0.0.1",
		Port:             9876,
		AcceptEvery:      50 * time.Millisecond,
		ReapBelow:        3,
		FastestInterval:  5 * time.Millisecond,
		FastInterval:     10 * time.Millisecond,
		MediumInterval:   25 * time.Millisecond,
		SlowestInterval:  100 * time.Millisecond,
		DegradedInterval: time.Second,
		MaxFailures:      10,
		SweepInterval:    30 * time.Second,
		JournalRetention: 24 * time.Hour,
		RetryBackoffStep: 500 * time.Millisecond,
		RetryBackoffMax:  2 * time.Second,
	}
}

// Journal is the durable operation history consulted by operation/get once
// an operation has left the registry.
type Journal interface {
	GetOperation(ctx context.Context, id string) (*model.Operation, error)
	PurgeOperations(ctx context.Context, before time.Time) (int64, error)
}

// Deps are the components the loop drives. Journal may be nil.
type Deps struct {
	Clock      clock.Clock
	Conns      *conn.Registry
	Operations *operation.Registry
	Classifier *classifier.Classifier
	Executors  *executor.Registry
	Env        executor.Environment
	Dispatch   *dispatch.Dispatcher
	Journal    Journal
}

// run tracks an operation executing one chunk per tick.
type run struct {
	op       *model.Operation
	exec     executor.Executor
	plan     classifier.Plan
	attempt  int
	next     int
	deadline time.Time
	result   any
}

// Loop is the single-threaded operation scheduler. Everything except
// Status and Stop must be called from one goroutine.
type Loop struct {
	cfg    Config
	deps   Deps
	clock  clock.Clock
	logger *slog.Logger

	queue     Queue
	runs      map[string]*run
	current   *model.Operation // operation being executed by the current tick
	busy      atomic.Bool
	failures  int
	interval  time.Duration
	lastOp    time.Time
	lastSweep time.Time
	startedAt *time.Time

	status   atomic.Pointer[model.Status]
	started  atomic.Bool
	running  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewLoop creates a new scheduler loop.
func NewLoop(cfg Config, deps Deps, logger *slog.Logger) *Loop {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	l := &Loop{
		cfg:      cfg,
		deps:     deps,
		clock:    deps.Clock,
		logger:   logger.With("component", "scheduler"),
		runs:     make(map[string]*run),
		interval: cfg.SlowestInterval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	now := l.clock.Now()
	l.lastSweep = now
	l.publish()
	return l
}

// Listen binds the server socket. Start calls it when needed.
func (l *Loop) Listen() error {
	if l.deps.Conns.Port() != 0 {
		return nil
	}
	return l.deps.Conns.Listen(l.cfg.Host, l.cfg.Port)
}

// Start begins the scheduling loop. Blocks until ctx is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) error {
	l.started.Store(true)
	defer close(l.doneCh)
	if err := l.Listen(); err != nil {
		return err
	}
	now := l.clock.Now().UTC()
	l.startedAt = &now
	l.running.Store(true)
	l.publish()
	l.logger.Info("scheduler started", "port", l.deps.Conns.Port())

	timer := time.NewTimer(l.interval)
	defer timer.Stop()
	defer l.shutdown()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scheduler stopping (context cancelled)")
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("scheduler stopping (stop called)")
			return nil
		case <-timer.C:
			if err := l.Tick(ctx); err != nil {
				l.logger.Error("tick error", "error", err)
			}
			timer.Reset(l.interval)
		}
	}
}

// Stop gracefully shuts down the scheduler and waits for the current tick to finish.
func (l *Loop) Stop() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	if l.started.Load() {
		<-l.doneCh
	}
	return nil
}

func (l *Loop) shutdown() {
	l.running.Store(false)
	if err := l.deps.Conns.Close(); err != nil {
		l.logger.Warn("close listener", "error", err)
	}
	l.publish()
}

// Status returns the latest published snapshot. Safe from any goroutine.
func (l *Loop) Status() model.Status {
	return *l.status.Load()
}

// Tick runs a single scheduling iteration.
func (l *Loop) Tick(ctx context.Context) error {
	if !l.busy.CompareAndSwap(false, true) {
		l.logger.Debug("tick skipped, previous tick still running")
		return nil
	}
	defer l.busy.Store(false)
	defer l.publish()

	// Phase 1: run at most one queued tick.
	l.runOne(ctx)

	// Phase 2: accept when idle or when admission has been quiet for a while.
	now := l.clock.Now()
	if l.queue.Len() == 0 || now.Sub(l.lastOp) >= l.cfg.AcceptEvery {
		if err := l.accept(); err != nil {
			l.failures++
			l.logger.Error("accept", "error", err)
		}
	}

	// Phase 3: reap dead connections while the queue is short.
	if l.queue.Len() < l.cfg.ReapBelow {
		l.reap()
	}

	// Phase 4: pace the next tick by load.
	l.interval = l.pace()

	// Phase 5: out-of-band registry sweep.
	if now.Sub(l.lastSweep) >= l.cfg.SweepInterval {
		l.sweep(ctx, now)
	}
	return nil
}

// runOne pops one tick and runs it. Panics are recovered and counted; an
// operation in flight at the time is failed.
func (l *Loop) runOne(ctx context.Context) {
	t, ok := l.queue.Pop()
	if !ok {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.failures++
			l.logger.Error("tick panicked", "tick", t.Kind, "panic", r, "failures", l.failures)
			l.abandonCurrent(fmt.Errorf("internal error: %v", r))
		}
		l.current = nil
	}()

	if err := l.handle(ctx, t); err != nil {
		l.failures++
		l.logger.Error("tick failed", "tick", t.Kind, "error", err, "failures", l.failures)
		l.abandonCurrent(err)
		return
	}
	if l.failures > 0 {
		l.logger.Info("tick recovered", "after_failures", l.failures)
	}
	l.failures = 0
}

func (l *Loop) handle(ctx context.Context, t Tick) error {
	switch t.Kind {
	case TickAccept:
		return l.accept()
	case TickRead:
		return l.read(t.ConnID)
	case TickExecute:
		return l.execute(ctx, t)
	case TickRetry:
		return l.retry(ctx, t)
	case TickReap:
		l.reap()
		return nil
	case TickContinue:
		return l.continueRun(ctx, t.OpID)
	}
	return fmt.Errorf("unknown tick kind %d", t.Kind)
}

// abandonCurrent fails the operation that was executing when a tick failed.
func (l *Loop) abandonCurrent(cause error) {
	op := l.current
	if op == nil {
		return
	}
	delete(l.runs, op.ID)
	if op.Status != model.OperationRunning {
		return
	}
	if _, err := l.deps.Operations.Fail(op.ID, cause); err != nil {
		l.logger.Error("fail abandoned operation", "op_id", op.ID, "error", err)
		return
	}
	l.deps.Dispatch.Failed(op)
}

func (l *Loop) accept() error {
	id, err := l.deps.Conns.Accept()
	if err != nil {
		return err
	}
	if id != "" {
		l.queue.Push(Tick{Kind: TickRead, ConnID: id})
	}
	return nil
}

func (l *Loop) reap() {
	if n := l.deps.Conns.Reap(); n > 0 {
		l.logger.Debug("reaped connections", "count", n)
	}
}

func (l *Loop) read(connID string) error {
	res, err := l.deps.Conns.Read(connID)
	if errors.Is(err, conn.ErrUnknownConnection) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, frame := range res.Frames {
		l.queue.Push(Tick{Kind: TickExecute, ConnID: connID, Frame: frame})
	}
	if res.FrameErr != nil {
		l.deps.Dispatch.ReplyError(connID, nil, model.CodeParseError, res.FrameErr.Error())
	}
	if !res.Closed {
		l.queue.Push(Tick{Kind: TickRead, ConnID: connID})
	}
	return nil
}

// pace maps load to the next tick interval.
func (l *Loop) pace() time.Duration {
	if l.failures > l.cfg.MaxFailures {
		return l.cfg.DegradedInterval
	}
	load := l.queue.Len() + l.deps.Operations.Counts().InFlight()
	switch {
	case load > 10:
		return l.cfg.FastestInterval
	case load > 5:
		return l.cfg.FastInterval
	case load > 2:
		return l.cfg.MediumInterval
	default:
		return l.cfg.SlowestInterval
	}
}

func (l *Loop) sweep(ctx context.Context, now time.Time) {
	l.lastSweep = now
	opsCfg := l.deps.Operations.Config()
	res := l.deps.Operations.Sweep(now, opsCfg.MaxRuntime, opsCfg.TerminalTTL)
	for _, op := range res.TimedOut {
		delete(l.runs, op.ID)
		l.deps.Dispatch.Failed(op)
	}
	if l.deps.Journal == nil || l.cfg.JournalRetention <= 0 {
		return
	}
	n, err := l.deps.Journal.PurgeOperations(ctx, now.Add(-l.cfg.JournalRetention))
	if err != nil {
		l.logger.Error("purge journal", "error", err)
		return
	}
	if n > 0 {
		l.logger.Info("journal purged", "operations", n)
	}
}

// publish stores a fresh status snapshot for other goroutines.
func (l *Loop) publish() {
	s := &model.Status{
		Running:           l.running.Load(),
		Port:              l.deps.Conns.Port(),
		ActiveConnections: l.deps.Conns.Count(),
		QueueLength:       l.queue.Len(),
		Interval:          l.interval.String(),
		Degraded:          l.failures > l.cfg.MaxFailures,
		Operations:        l.deps.Operations.Counts(),
		StartedAt:         l.startedAt,
	}
	l.status.Store(s)
}

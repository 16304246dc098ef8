// Package supervisor owns the single bot worker slot.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofbot/gofbot-launcher/pkg/shared/defs"
	"github.com/gofbot/gofbot-launcher/services/launcher/internal/botconfig"
	"github.com/gofbot/gofbot-launcher/services/launcher/internal/monitor"
	"github.com/gofbot/gofbot-launcher/services/launcher/internal/processHelpers"
)

type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Start failure kinds, as reported to bridge clients and metrics
const (
	KindAlreadyRunning = "already_running"
	KindConfigMissing  = "config_missing"
	KindConfigParse    = "config_parse"
	KindLaunch         = "launch"
	KindBadRequest     = "bad_request"
	KindUnknown        = "unknown"
)

// ErrorKind classifies an error returned by Start.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		return KindAlreadyRunning
	case errors.Is(err, botconfig.ErrConfigMissing):
		return KindConfigMissing
	case errors.Is(err, botconfig.ErrConfigParse):
		return KindConfigParse
	case errors.Is(err, botconfig.ErrInvalidOptions):
		return KindBadRequest
	case errors.Is(err, processHelpers.ErrLaunch):
		return KindLaunch
	default:
		return KindUnknown
	}
}

type ConfigSynthesizer interface {
	Synthesize(ctx context.Context, botPath string, opts defs.LaunchOptions) (*botconfig.WorkerConfig, error)
}

type Launcher interface {
	Launch(ctx context.Context, botPath string, cfg *botconfig.WorkerConfig) (*processHelpers.Worker, defs.DisplayInfo, error)
}

// Notifier delivers lifecycle events to the UI. Errors are logged by the
// supervisor and otherwise ignored.
type Notifier interface {
	BotStarted(info defs.DisplayInfo) error
	BotKilled() error
	FatalError(detail string) error
}

// Terminator signals a worker's process group
type Terminator func(pid int) processHelpers.TerminationResult

// lifetime tracks one launched worker from its start notification to its
// single terminal notification.
type lifetime struct {
	worker    *processHelpers.Worker
	announced chan struct{}
	ended     sync.Once
}

// end runs fn if no terminal event has been emitted for this worker yet, and
// never before the start event has gone out.
func (lt *lifetime) end(fn func()) bool {
	<-lt.announced
	fired := false
	lt.ended.Do(func() {
		fired = true
		fn()
	})
	return fired
}

type Supervisor struct {
	botPath     string
	synthesizer ConfigSynthesizer
	launcher    Launcher
	notifier    Notifier
	monitor     *monitor.Monitor
	terminate   Terminator
	metrics     MetricsCollector
	logger      *slog.Logger

	// mu serialises Start, Stop and exit handling around the slot
	mu       sync.Mutex
	current  *lifetime
	lastExit *int

	state atomic.Int32
}

type Option func(*Supervisor)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		s.logger = logger
	}
}

func WithMonitor(m *monitor.Monitor) Option {
	return func(s *Supervisor) {
		s.monitor = m
	}
}

func WithTerminator(t Terminator) Option {
	return func(s *Supervisor) {
		s.terminate = t
	}
}

func WithMetrics(m MetricsCollector) Option {
	return func(s *Supervisor) {
		s.metrics = m
	}
}

func New(botPath string, synthesizer ConfigSynthesizer, launcher Launcher, notifier Notifier, opts ...Option) *Supervisor {
	s := &Supervisor{
		botPath:     botPath,
		synthesizer: synthesizer,
		launcher:    launcher,
		notifier:    notifier,
		terminate:   processHelpers.TerminateGroup,
		metrics:     NewNoopMetricsCollector(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.monitor == nil {
		s.monitor = monitor.New(monitor.WithLogger(s.logger))
	}
	return s
}

func (s *Supervisor) BotPath() string {
	return s.botPath
}

func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Start synthesizes the worker config, launches the bot and announces it. Any
// failure leaves the supervisor idle with nothing spawned.
func (s *Supervisor) Start(ctx context.Context, opts defs.LaunchOptions) (defs.DisplayInfo, error) {
	lt, info, err := s.start(ctx, opts)
	if err != nil {
		kind := ErrorKind(err)
		s.metrics.StartFailed(kind)
		s.logger.Warn("Failed to start bot", "kind", kind, "error", err)
		return defs.DisplayInfo{}, err
	}

	s.metrics.WorkerStarted()
	s.notify("BotStarted", func() error { return s.notifier.BotStarted(info) })
	close(lt.announced)
	return info, nil
}

func (s *Supervisor) start(ctx context.Context, opts defs.LaunchOptions) (*lifetime, defs.DisplayInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return nil, defs.DisplayInfo{}, fmt.Errorf("%w: worker %s", ErrAlreadyRunning, s.current.worker.ID)
	}
	s.setState(StateStarting)

	cfg, err := s.synthesizer.Synthesize(ctx, s.botPath, opts)
	if err != nil {
		s.setState(StateIdle)
		return nil, defs.DisplayInfo{}, err
	}

	w, info, err := s.launcher.Launch(ctx, s.botPath, cfg)
	if err != nil {
		s.setState(StateIdle)
		return nil, defs.DisplayInfo{}, err
	}

	lt := &lifetime{worker: w, announced: make(chan struct{})}
	s.current = lt
	s.setState(StateRunning)

	s.monitor.Attach(w, monitor.Handlers{
		OnFatal: func(detail string) {
			s.onFatal(lt, detail)
		},
		OnExit: func(status processHelpers.ExitStatus) {
			s.onExit(lt, status)
		},
	})

	s.logger.Info("Bot running", "workerId", w.ID, "pid", w.PID(), "botPath", s.botPath)
	return lt, info, nil
}

// Stop terminates the live worker, if any, and reports it killed. It returns
// once the signals are sent; the exit itself is observed asynchronously.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	lt := s.current
	if lt == nil {
		s.mu.Unlock()
		return
	}
	s.current = nil
	s.setState(StateIdle)
	s.mu.Unlock()

	w := lt.worker
	res := s.terminate(w.PID())
	if res.Err != nil {
		s.logger.Warn("Could not signal worker", "workerId", w.ID, "pid", res.PID, "error", res.Err)
	} else if res.FallbackUsed {
		s.logger.Info("Signalled worker without its group", "workerId", w.ID, "pid", res.PID, "groupError", res.GroupErr)
	}
	s.metrics.WorkerStopped(res.FallbackUsed)
	s.logger.Info("Stopped bot", "workerId", w.ID, "pid", res.PID, "signalled", res.Delivered())

	lt.end(func() {
		s.notify("BotKilled", func() error { return s.notifier.BotKilled() })
	})
}

// Shutdown stops the worker on behalf of a host lifecycle hook. It may be
// called any number of times.
func (s *Supervisor) Shutdown(reason string) {
	s.logger.Info("Shutdown hook", "reason", reason, "state", s.State().String())
	s.Stop()
}

// Status reports the slot without probing the worker.
func (s *Supervisor) Status() defs.BotStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := defs.BotStatus{State: s.State().String()}
	if s.lastExit != nil {
		code := *s.lastExit
		status.LastExitCode = &code
	}
	if s.current != nil {
		w := s.current.worker
		started := w.Started
		status.WorkerId = w.ID
		status.ProcessId = w.PID()
		status.StartedAt = &started
		status.UptimeSecs = w.Uptime().Seconds()
	}
	return status
}

// onFatal holds the report back until the worker has been announced.
func (s *Supervisor) onFatal(lt *lifetime, detail string) {
	<-lt.announced
	s.metrics.FatalError()
	s.notify("FatalError", func() error { return s.notifier.FatalError(detail) })
}

func (s *Supervisor) onExit(lt *lifetime, status processHelpers.ExitStatus) {
	s.mu.Lock()
	code := status.Code
	s.lastExit = &code
	unsolicited := s.current == lt
	if unsolicited {
		s.current = nil
		s.setState(StateIdle)
	}
	s.mu.Unlock()

	if !unsolicited {
		return
	}
	uptime := time.Since(lt.worker.Started)
	s.logger.Warn("Bot exited on its own", "workerId", lt.worker.ID, "exitCode", status.Code, "signaled", status.Signaled)
	lt.end(func() {
		s.metrics.WorkerExited(uptime)
		s.notify("BotKilled", func() error { return s.notifier.BotKilled() })
	})
}

func (s *Supervisor) setState(state State) {
	s.state.Store(int32(state))
	s.metrics.Running(state == StateRunning)
}

// notify delivers one event and absorbs whatever goes wrong doing so.
func (s *Supervisor) notify(event string, fn func() error) {
	if s.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Notifier panicked", "event", event, "panic", r)
		}
	}()
	if err := fn(); err != nil {
		s.logger.Warn("Failed to deliver notification", "event", event, "error", err)
	}
}

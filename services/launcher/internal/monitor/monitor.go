// Package monitor watches a running bot's output streams and its exit.
//
// The monitor only reports; deciding what a fatal line or an exit means is
// left to the supervisor. A quiet error stream is not evidence of a healthy
// bot.
package monitor

import (
	"bufio"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gofbot/gofbot-launcher/services/launcher/internal/processHelpers"
)

// DefaultFatalMarker is the substring that makes a stderr line fatal.
const DefaultFatalMarker = "ERROR"

const maxLineBytes = 1024 * 1024

// DefaultDrainGrace bounds how long output is read after the worker exits.
const DefaultDrainGrace = 2 * time.Second

// Handlers receive monitor events. Either may be nil.
type Handlers struct {
	// OnFatal is called for every stderr line containing the fatal marker.
	OnFatal func(detail string)

	// OnExit is called exactly once, after the process has been reaped and
	// its output drained or, past the drain grace, closed.
	OnExit func(status processHelpers.ExitStatus)
}

type Monitor struct {
	marker     string
	drainGrace time.Duration
	logger     *slog.Logger
}

type Option func(*Monitor)

func WithFatalMarker(marker string) Option {
	return func(m *Monitor) {
		if marker != "" {
			m.marker = marker
		}
	}
}

func WithDrainGrace(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.drainGrace = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

func New(opts ...Option) *Monitor {
	m := &Monitor{
		marker:     DefaultFatalMarker,
		drainGrace: DefaultDrainGrace,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Monitor) Marker() string {
	return m.marker
}

// IsFatal reports whether a line of worker error output carries the marker.
func (m *Monitor) IsFatal(line string) bool {
	return strings.Contains(line, m.marker)
}

// Attach starts watching w and returns immediately.
func (m *Monitor) Attach(w *processHelpers.Worker, h Handlers) {
	logger := m.logger.With("workerId", w.ID, "pid", w.PID())

	var wg sync.WaitGroup
	if w.Stdout != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.scan(w.Stdout, logger.With("stream", "stdout"), func(line string) {
				logger.Debug(line, "stream", "stdout")
			})
		}()
	}
	if w.Stderr != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.scan(w.Stderr, logger.With("stream", "stderr"), func(line string) {
				if !m.IsFatal(line) {
					logger.Info(line, "stream", "stderr")
					return
				}
				logger.Error("Fatal worker error", "detail", line)
				if h.OnFatal != nil {
					safeCall(logger, "OnFatal", func() { h.OnFatal(line) })
				}
			})
		}()
	}

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	go func() {
		status := w.Reap()
		select {
		case <-drained:
		case <-time.After(m.drainGrace):
			// a forked helper still holds the pipes open
			logger.Warn("Worker output still open after exit, closing it", "grace", m.drainGrace.String())
			closeStream(w.Stdout)
			closeStream(w.Stderr)
			<-drained
		}
		logger.Info("Worker exited", "exitCode", status.Code, "signaled", status.Signaled, "uptime", w.Uptime().String())
		if h.OnExit != nil {
			safeCall(logger, "OnExit", func() { h.OnExit(status) })
		}
	}()
}

func closeStream(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}

// scan feeds r to fn line by line until EOF or until r is closed.
func (m *Monitor) scan(r io.Reader, logger *slog.Logger, fn func(line string)) {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for s.Scan() {
		fn(s.Text())
	}
	if err := s.Err(); err != nil {
		logger.Warn("Stopped scanning worker output", "error", err)
		_, _ = io.Copy(io.Discard, r)
	}
}

func safeCall(logger *slog.Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Monitor handler panicked", "handler", name, "panic", r)
		}
	}()
	fn()
}

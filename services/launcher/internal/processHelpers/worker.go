package processHelpers

import (
	"errors"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// ExitStatus describes how a worker ended.
type ExitStatus struct {
	Code     int
	Signaled bool
	Err      error
}

// Worker is the handle of a spawned bot process group.
type Worker struct {
	// ID is unique per launch, the pid is not.
	ID string

	Cmd    *exec.Cmd
	Stdout io.ReadCloser
	Stderr io.ReadCloser

	Started time.Time

	done     chan struct{}
	exited   atomic.Bool
	exitCode atomic.Int32

	mu     sync.RWMutex
	status ExitStatus

	reapOnce sync.Once
}

func newWorker(id string, cmd *exec.Cmd) *Worker {
	w := &Worker{
		ID:   id,
		Cmd:  cmd,
		done: make(chan struct{}),
	}
	w.exitCode.Store(-1)
	return w
}

// PID returns the process id, which is also the process group id.
func (w *Worker) PID() int {
	if w.Cmd == nil || w.Cmd.Process == nil {
		return -1
	}
	return w.Cmd.Process.Pid
}

// Done is closed once the process has been reaped.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) Exited() bool {
	return w.exited.Load()
}

// ExitCode is -1 until the worker has exited.
func (w *Worker) ExitCode() int {
	return int(w.exitCode.Load())
}

func (w *Worker) Status() ExitStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

func (w *Worker) Uptime() time.Duration {
	if w.Started.IsZero() {
		return 0
	}
	return time.Since(w.Started)
}

// Reap waits for the process and records its exit. It does not touch Stdout
// or Stderr, which may outlive the process when it forked helpers. Later calls
// block until the first one finishes and return the same status.
func (w *Worker) Reap() ExitStatus {
	w.reapOnce.Do(func() {
		err := w.Cmd.Wait()

		status := ExitStatus{Err: err}
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				status.Code = exitErr.ExitCode()
				if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
					status.Signaled = true
				}
			} else {
				status.Code = -1
			}
		}

		w.mu.Lock()
		w.status = status
		w.mu.Unlock()

		w.exitCode.Store(int32(status.Code))
		w.exited.Store(true)
		close(w.done)
	})
	<-w.done
	return w.Status()
}

package processHelpers

import "fmt"

// TerminationResult reports what the termination policy managed to deliver.
type TerminationResult struct {
	PID int

	// GroupSignalled is true when both SIGINT and SIGTERM reached the group.
	GroupSignalled bool

	// FallbackUsed is true when group signalling failed and the lone pid was
	// signalled instead.
	FallbackUsed bool

	GroupErr error

	// Err wraps ErrTermination when nothing could be delivered.
	Err error
}

func (r TerminationResult) Delivered() bool {
	return r.Err == nil
}

// TerminateGroup interrupts then terminates the worker's process group. If the
// group cannot be signalled it sends SIGTERM to pid alone. It does not wait for
// the process to exit; watch the worker's exit instead.
func TerminateGroup(pid int) TerminationResult {
	res := TerminationResult{PID: pid}

	err := interruptGroup(pid)
	if err == nil {
		err = terminateGroup(pid)
	}
	if err == nil {
		res.GroupSignalled = true
		return res
	}

	res.GroupErr = err
	res.FallbackUsed = true
	if err := terminateProcess(pid); err != nil {
		res.Err = fmt.Errorf("%w %d: group: %v, process: %v", ErrTermination, pid, res.GroupErr, err)
	}
	return res
}

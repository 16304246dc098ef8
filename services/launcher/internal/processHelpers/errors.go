package processHelpers

import "errors"

var (
	// ErrLaunch covers a missing interpreter and any other spawn failure.
	ErrLaunch = errors.New("failed to launch worker")

	// ErrTermination is recorded, never returned, when no signal reached the worker.
	ErrTermination = errors.New("failed to signal worker")

	errGroupSignalUnsupported = errors.New("process group signals not supported on this platform")
)

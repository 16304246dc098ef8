package supervisor

import "errors"

// ErrAlreadyRunning is returned by Start while a worker is live.
var ErrAlreadyRunning = errors.New("bot is already running")

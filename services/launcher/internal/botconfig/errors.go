package botconfig

import "errors"

var (
	// ErrConfigMissing means neither the file nor its .example template exists.
	ErrConfigMissing = errors.New("worker config missing")

	// ErrConfigParse means the persisted worker config could not be understood.
	ErrConfigParse = errors.New("worker config malformed")

	// ErrInvalidOptions means the launch options themselves were rejected.
	ErrInvalidOptions = errors.New("invalid launch options")
)

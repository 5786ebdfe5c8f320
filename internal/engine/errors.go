package engine

import "errors"

var (
	// ErrClosed is returned by operations on a logger after CleanExit.
	ErrClosed = errors.New("logger closed")
	// ErrStoreDisabled is returned by store reads when no central store is configured.
	ErrStoreDisabled = errors.New("central store not configured")
	// ErrRejectedInput is returned when a filter string fails the injection check.
	ErrRejectedInput = errors.New("input rejected by injection check")
)

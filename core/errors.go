package core

import "errors"

var (
	// ErrDimension is returned when an argument does not match the
	// dimensions the engine was created with.
	ErrDimension = errors.New("dimension mismatch")
	// ErrInvalidArgument is returned for out of range indices and
	// values.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrOperationOrder is returned in validation mode when an
	// operation list would read stale partials.
	ErrOperationOrder = errors.New("operation order violation")
	// ErrNoEigen is returned when matrices are requested before an
	// eigen decomposition was set.
	ErrNoEigen = errors.New("eigen decomposition is not set")
	// ErrRescaleRequired is returned by the root integration when
	// partials underflowed while rescaling was switched off
	// automatically. Rescaling is switched back on; the caller has
	// to recompute all internal nodes and integrate again.
	ErrRescaleRequired = errors.New("rescaling required, recompute partials")
)

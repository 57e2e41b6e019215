package part_writer

import (
	"errors"

	"github.com/danthegoodman1/icetree/utils"
)

const (
	// ErrLogical marks a broken internal invariant. Part construction must be aborted and never retried.
	ErrLogical = utils.PermError("logical error")
)

var (
	ErrFinalizerConsumed     = errors.New("finalizer was already finished or cancelled")
	ErrWriterCancelled       = errors.New("part writer was cancelled")
	ErrUnsupportedIndex      = errors.New("unsupported skip index")
	ErrUnsupportedStatistics = errors.New("unsupported column statistics")
)

package lmfit

import (
	"github.com/samcharles93/lmfit/internal/logger"
	"github.com/samcharles93/lmfit/internal/solver"
)

// Levenberg-Marquardt damping schedule.
const (
	LambdaInit = 1e-3
	LambdaUp   = 10.0
	LambdaDown = 0.1

	// MaxRejections is the number of consecutive rejected steps after
	// which a fit stops with MaxIterationsExceeded.
	MaxRejections = 10
)

type Options struct {
	// Solver names the linear solver backend, see solver.Names.
	Solver string

	// MemoryMargin is the fraction of free device memory left unused.
	MemoryMargin float64
	// MemoryReserve is subtracted from free memory after the margin.
	MemoryReserve uint64
	// MaxChunkSize caps the fits per chunk when positive.
	MaxChunkSize int

	Logger logger.Logger
}

func DefaultOptions() Options {
	return Options{
		Solver:       solver.Factor,
		MemoryMargin: 0.1,
	}
}

func (o Options) logger() logger.Logger {
	if o.Logger == nil {
		return logger.Discard()
	}
	return o.Logger
}

package blockprec

import (
	"gonum.org/v1/gonum/mat"

	"go.uber.org/zap"
)

// precBase carries the lifecycle state shared by the block
// preconditioners: the injected solver strategy, the logger and the
// optional memory statistics instrumentation.
type precBase struct {
	log       *zap.Logger
	newSolver func() BlockSolver
	docMemory bool
	built     bool
	bytes     int
}

func newPrecBase() precBase {
	return precBase{
		log:       zap.NewNop(),
		newSolver: func() BlockSolver { return NewDenseLU() },
	}
}

// Built reports whether a successful Setup has run.
func (p *precBase) Built() bool { return p.built }

// EnableMemoryStatistics makes Setup accumulate the byte footprint of
// every per-block solver and operator.
func (p *precBase) EnableMemoryStatistics() { p.docMemory = true }

func (p *precBase) DisableMemoryStatistics() { p.docMemory = false }

func (p *precBase) SetLogger(l *zap.Logger) {
	if l != nil {
		p.log = l
	}
}

// SetSolverFactory injects the exact block solver strategy used for every
// diagonal block.
func (p *precBase) SetSolverFactory(f func() BlockSolver) {
	if f != nil {
		p.newSolver = f
	}
}

// MemoryUsageBytes reports the instrumented footprint. Querying before a
// successful Setup, or without the instrumentation enabled, returns zero
// with a non-fatal advisory rather than failing.
func (p *precBase) MemoryUsageBytes() int {
	if !p.built {
		p.log.Warn("memory statistics queried before setup; returning zero")
		return 0
	}
	if !p.docMemory {
		p.log.Warn("memory statistics were not computed for this preconditioner; returning zero")
		return 0
	}
	return p.bytes
}

func (p *precBase) reset() {
	p.built = false
	p.bytes = 0
}

// nonZeroDoer is satisfied by the sparse matrix types; dense fallbacks
// visit every entry instead.
type nonZeroDoer interface {
	DoNonZero(fn func(i, j int, v float64))
}

func visitNonZero(A mat.Matrix, fn func(i, j int, v float64)) {
	if nz, ok := A.(nonZeroDoer); ok {
		nz.DoNonZero(fn)
		return
	}
	nr, nc := A.Dims()
	for i := 0; i < nr; i++ {
		for j := 0; j < nc; j++ {
			if v := A.At(i, j); v != 0 {
				fn(i, j, v)
			}
		}
	}
}

package blockprec

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/parlab/blockla/linalg"
)

// BlockSolver is the exact block solver capability: factorize one
// diagonal block, then solve against it repeatedly. Any conforming
// implementation is interchangeable; tests substitute trivial solvers for
// the dense factorization.
type BlockSolver interface {
	// Factorize prepares the solver for the given square block. Fails
	// with an ErrFactorization-wrapped error on singular blocks.
	Factorize(m mat.Matrix) error

	// Solve returns the solution of block*x = rhs. The rhs covers the
	// whole block and is not modified.
	Solve(rhs []float64) ([]float64, error)

	// Bytes estimates the factorization's memory footprint, for the
	// optional memory statistics instrumentation.
	Bytes() int
}

// DenseLU is the provided BlockSolver: a dense LU factorization with
// partial pivoting.
type DenseLU struct {
	lu *mat.LU
	n  int
}

func NewDenseLU() *DenseLU { return &DenseLU{} }

func (s *DenseLU) Factorize(m mat.Matrix) error {
	r, c := m.Dims()
	if r != c {
		return fmt.Errorf("%w: block is %dx%d, want square", ErrFactorization, r, c)
	}
	var lu mat.LU
	lu.Factorize(m)
	if det := lu.Det(); det == 0 || math.IsNaN(det) {
		return fmt.Errorf("%w: block is singular", ErrFactorization)
	}
	s.lu = &lu
	s.n = r
	return nil
}

func (s *DenseLU) Solve(rhs []float64) ([]float64, error) {
	if s.lu == nil {
		return nil, fmt.Errorf("%w: factorize before solve", linalg.ErrNotBuilt)
	}
	if len(rhs) != s.n {
		return nil, fmt.Errorf("%w: rhs has %d entries, block size is %d",
			linalg.ErrDistributionMismatch, len(rhs), s.n)
	}
	b := mat.NewVecDense(s.n, append([]float64(nil), rhs...))
	var x mat.VecDense
	if err := s.lu.SolveVecTo(&x, false, b); err != nil {
		// An ill-conditioned solve still yields a usable result; only a
		// hard failure aborts.
		if _, ok := err.(mat.Condition); !ok {
			return nil, fmt.Errorf("%w: %v", ErrFactorization, err)
		}
	}
	out := make([]float64, s.n)
	for i := 0; i < s.n; i++ {
		out[i] = x.AtVec(i)
	}
	return out, nil
}

func (s *DenseLU) Bytes() int {
	if s.lu == nil {
		return 0
	}
	// Factor storage plus the pivot vector.
	return 8*s.n*s.n + 8*s.n
}

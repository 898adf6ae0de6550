package blockprec

import (
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/parlab/blockla/linalg"
)

// ExactBlock applies the exact inverse of the full assembled matrix: a
// single factorization of every block, used when the preconditioner
// should reproduce the true solution rather than a triangular
// approximation. Lifecycle and memory statistics behave exactly as for
// BandedBlockTriangular.
type ExactBlock struct {
	precBase
	bs     *BlockStructure
	rank   int
	solver BlockSolver
}

func NewExactBlock(bs *BlockStructure, rank int) *ExactBlock {
	return &ExactBlock{precBase: newPrecBase(), bs: bs, rank: rank}
}

// Setup factorizes the full matrix. Idempotent, as for the banded
// variant.
func (p *ExactBlock) Setup(A mat.Matrix) error {
	p.CleanUpMemory()
	if A == nil {
		return fmt.Errorf("%w: setup requires an assembled matrix", linalg.ErrConfiguration)
	}
	ar, ac := A.Dims()
	if ar != p.bs.GlobalSize() || ac != p.bs.GlobalSize() {
		return fmt.Errorf("%w: matrix is %dx%d, block structure spans %d unknowns",
			linalg.ErrDistributionMismatch, ar, ac, p.bs.GlobalSize())
	}
	s := p.newSolver()
	if err := s.Factorize(mat.DenseCopyOf(A)); err != nil {
		return fmt.Errorf("full matrix: %w", err)
	}
	p.solver = s
	if p.docMemory {
		p.bytes = s.Bytes()
	}
	p.built = true
	p.log.Debug("exact block preconditioner set up", zap.Int("unknowns", ar))
	return nil
}

// Solve produces z = A^{-1} r. Collective when distributed, as for the
// banded variant.
func (p *ExactBlock) Solve(r, z *linalg.Vector) error {
	if !p.built {
		return fmt.Errorf("%w: preconditioner setup has not run", linalg.ErrNotBuilt)
	}
	if r == nil || !r.Built() || z == nil || !z.Built() {
		return fmt.Errorf("%w: residual and correction vectors must be built", linalg.ErrNotBuilt)
	}
	if !r.Distribution().Equals(p.bs.dist) || !z.Distribution().Equals(p.bs.dist) {
		return fmt.Errorf("%w: vectors do not match the block structure's global distribution",
			linalg.ErrDistributionMismatch)
	}
	rglob, err := r.GatherGlobal()
	if err != nil {
		return err
	}
	sol, err := p.solver.Solve(rglob)
	if err != nil {
		return fmt.Errorf("full solve: %w", err)
	}
	first := z.Distribution().FirstRow(z.Rank())
	for i := 0; i < z.LocalSize(); i++ {
		z.Set(i, sol[first+i])
	}
	return nil
}

// CleanUpMemory releases the factorization. Idempotent.
func (p *ExactBlock) CleanUpMemory() {
	p.solver = nil
	p.reset()
}

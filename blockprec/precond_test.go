package blockprec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"

	"github.com/parlab/blockla/comms"
	"github.com/parlab/blockla/linalg"
)

// singleRankStructure builds a replicated block structure over nblocks
// contiguous blocks of equal size.
func singleRankStructure(t *testing.T, nblocks, blockSize int) *BlockStructure {
	c, err := comms.New(1)
	assert.NoError(t, err)
	n := nblocks * blockSize
	d, err := linalg.NewDistribution(n, c, false)
	assert.NoError(t, err)
	dofType := make([]int, n)
	for g := range dofType {
		dofType[g] = g / blockSize
	}
	bs, err := BuildBlockStructure(d, dofType, nblocks)
	assert.NoError(t, err)
	return bs
}

// blockUpperSystem assembles a 6x6 block upper-triangular matrix with
// three 2x2 blocks, as both a sparse assembly and a dense reference.
func blockUpperSystem() (DOK, *mat.Dense) {
	dense := mat.NewDense(6, 6, []float64{
		4, 1, 2, 0, 1, -1,
		1, 3, 0, 1, 0, 2,
		0, 0, 5, 2, 3, 0,
		0, 0, 1, 4, 0, 1,
		0, 0, 0, 0, 3, 1,
		0, 0, 0, 0, 2, 5,
	})
	dok := NewDOK(6, 6)
	dok.SetDense(0, 0, dense)
	return dok, dense
}

func denseSolve(t *testing.T, A *mat.Dense, r []float64) []float64 {
	var lu mat.LU
	lu.Factorize(A)
	var x mat.VecDense
	err := lu.SolveVecTo(&x, false, mat.NewVecDense(len(r), append([]float64(nil), r...)))
	assert.NoError(t, err)
	out := make([]float64, len(r))
	for i := range out {
		out[i] = x.AtVec(i)
	}
	return out
}

func applyPrec(t *testing.T, p *BandedBlockTriangular, bs *BlockStructure, r []float64) []float64 {
	d := bs.Distribution()
	rv, err := linalg.NewVectorShared(d, 0, append([]float64(nil), r...))
	assert.NoError(t, err)
	zv, err := linalg.NewVector(d, 0, 0)
	assert.NoError(t, err)
	assert.NoError(t, p.Solve(rv, zv))
	return zv.Values()
}

func TestUpperTriangularExact(t *testing.T) {
	// On a block upper-triangular matrix the unlimited-bandwidth upper
	// preconditioner is the exact inverse.
	bs := singleRankStructure(t, 3, 2)
	dok, dense := blockUpperSystem()

	p := NewBandedBlockTriangular(bs, 0)
	assert.True(t, p.IsUpperTriangular())
	assert.Equal(t, -1, p.Bandwidth())
	assert.NoError(t, p.Setup(dok.ToCSR()))
	assert.True(t, p.Built())

	r := []float64{3, -1, 4, 1, -5, 9}
	z := applyPrec(t, p, bs, r)
	want := denseSolve(t, dense, r)
	for i := range want {
		assert.InDelta(t, want[i], z[i], 1e-10)
	}
}

func TestLowerTriangularExact(t *testing.T) {
	bs := singleRankStructure(t, 3, 2)
	_, dense := blockUpperSystem()
	// Mirror the upper system; the lower-side preconditioner inverts it.
	lower := mat.NewDense(6, 6, nil)
	lower.CloneFrom(dense.T())
	ldok := NewDOK(6, 6)
	ldok.SetDense(0, 0, lower)

	p := NewBandedBlockTriangular(bs, 0, WithLowerTriangular())
	assert.False(t, p.IsUpperTriangular())
	assert.NoError(t, p.Setup(ldok.ToCSR()))

	r := []float64{1, 2, 3, 4, 5, 6}
	z := applyPrec(t, p, bs, r)
	want := denseSolve(t, lower, r)
	for i := range want {
		assert.InDelta(t, want[i], z[i], 1e-10)
	}
}

func TestInterleavedBlocks(t *testing.T) {
	// Non-contiguous block rows: even unknowns in block 0, odd in block
	// 1, so the diagonal blocks gather scattered rows. The matrix is
	// block upper triangular in BLOCK numbering, which means rows where
	// an even unknown couples to odd ones but never the reverse.
	c, _ := comms.New(1)
	d, _ := linalg.NewDistribution(4, c, false)
	bs, err := BuildBlockStructure(d, []int{0, 1, 0, 1}, 2)
	assert.NoError(t, err)

	dense := mat.NewDense(4, 4, []float64{
		3, 1, 1, 2,
		0, 4, 0, 1,
		1, -1, 5, 1,
		0, 2, 0, 6,
	})
	dok := NewDOK(4, 4)
	dok.SetDense(0, 0, dense)

	p := NewBandedBlockTriangular(bs, 0)
	assert.NoError(t, p.Setup(dok.ToCSR()))
	r := []float64{2, -3, 5, 7}
	z := applyPrec(t, p, bs, r)
	want := denseSolve(t, dense, r)
	for i := range want {
		assert.InDelta(t, want[i], z[i], 1e-10)
	}
}

func TestBandwidthTruncation(t *testing.T) {
	// Couplings beyond the band must not influence the result: applying
	// the bandwidth-1 preconditioner to a matrix with far couplings
	// matches the unlimited preconditioner on the same matrix with those
	// couplings removed, exactly.
	bs := singleRankStructure(t, 4, 1)
	full := NewDOK(4, 4)
	near := NewDOK(4, 4)
	diag := []float64{2, 3, 4, 5}
	for i := 0; i < 4; i++ {
		full.Set(i, i, diag[i])
		near.Set(i, i, diag[i])
	}
	full.Set(0, 1, 1)
	full.Set(1, 2, 1)
	full.Set(2, 3, 1)
	near.Set(0, 1, 1)
	near.Set(1, 2, 1)
	near.Set(2, 3, 1)
	// Far couplings only present in the full matrix
	full.Set(0, 2, 7)
	full.Set(0, 3, 8)
	full.Set(1, 3, 9)

	banded := NewBandedBlockTriangular(bs, 0, WithBandwidth(1))
	assert.NoError(t, banded.Setup(full.ToCSR()))
	unlimited := NewBandedBlockTriangular(bs, 0)
	assert.NoError(t, unlimited.Setup(near.ToCSR()))

	r := []float64{1, 2, 3, 4}
	zBanded := applyPrec(t, banded, bs, r)
	zNear := applyPrec(t, unlimited, bs, r)
	assert.Equal(t, zNear, zBanded)
}

func TestBandwidthZeroIsBlockJacobi(t *testing.T) {
	// Bandwidth 0 retains no couplings at all: each block sees only its
	// own diagonal, whatever the matrix holds elsewhere.
	bs := singleRankStructure(t, 2, 2)
	dok := NewDOK(4, 4)
	dok.SetDense(0, 0, mat.NewDense(4, 4, []float64{
		4, 1, 9, 9,
		1, 3, 9, 9,
		9, 9, 5, 2,
		9, 9, 1, 4,
	}))

	p := NewBandedBlockTriangular(bs, 0, WithBandwidth(0))
	assert.NoError(t, p.Setup(dok.ToCSR()))

	r := []float64{6, 5, 12, 9}
	z := applyPrec(t, p, bs, r)
	// Per-block solves of the diagonal blocks alone
	want0 := denseSolve(t, mat.NewDense(2, 2, []float64{4, 1, 1, 3}), r[:2])
	want1 := denseSolve(t, mat.NewDense(2, 2, []float64{5, 2, 1, 4}), r[2:])
	for i := 0; i < 2; i++ {
		assert.InDelta(t, want0[i], z[i], 1e-12)
		assert.InDelta(t, want1[i], z[2+i], 1e-12)
	}
}

func TestPreconditionerLifecycle(t *testing.T) {
	bs := singleRankStructure(t, 3, 2)
	dok, _ := blockUpperSystem()
	A := dok.ToCSR()
	d := bs.Distribution()
	r, _ := linalg.NewVector(d, 0, 1)
	z, _ := linalg.NewVector(d, 0, 0)

	p := NewBandedBlockTriangular(bs, 0)
	// Solve before Setup fails cleanly
	assert.ErrorIs(t, p.Solve(r, z), linalg.ErrNotBuilt)

	assert.ErrorIs(t, p.Setup(nil), linalg.ErrConfiguration)
	assert.ErrorIs(t, p.Setup(mat.NewDense(3, 3, nil)), linalg.ErrDistributionMismatch)
	assert.False(t, p.Built())

	// Repeated Setup releases the previous state and rebuilds
	assert.NoError(t, p.Setup(A))
	z1 := applyPrec(t, p, bs, []float64{1, 1, 1, 1, 1, 1})
	assert.NoError(t, p.Setup(A))
	z2 := applyPrec(t, p, bs, []float64{1, 1, 1, 1, 1, 1})
	assert.Equal(t, z1, z2)

	p.CleanUpMemory()
	assert.False(t, p.Built())
	assert.ErrorIs(t, p.Solve(r, z), linalg.ErrNotBuilt)
	p.CleanUpMemory() // idempotent

	// Unbuilt operands are rejected after a successful Setup
	assert.NoError(t, p.Setup(A))
	bad := &linalg.Vector{}
	assert.ErrorIs(t, p.Solve(bad, z), linalg.ErrNotBuilt)
	wrongDist, _ := linalg.NewDistribution(7, d.Communicator(), false)
	w, _ := linalg.NewVector(wrongDist, 0, 0)
	assert.ErrorIs(t, p.Solve(w, z), linalg.ErrDistributionMismatch)
}

func TestSingularDiagonalBlock(t *testing.T) {
	bs := singleRankStructure(t, 2, 2)
	dok := NewDOK(4, 4)
	dok.SetDense(0, 0, mat.NewDense(2, 2, []float64{1, 2, 2, 4})) // singular
	dok.SetDense(2, 2, mat.NewDense(2, 2, []float64{3, 0, 0, 3}))

	p := NewBandedBlockTriangular(bs, 0)
	err := p.Setup(dok.ToCSR())
	assert.ErrorIs(t, err, ErrFactorization)
	assert.False(t, p.Built())
}

func TestMemoryStatistics(t *testing.T) {
	bs := singleRankStructure(t, 3, 2)
	dok, _ := blockUpperSystem()
	A := dok.ToCSR()

	// Querying before setup is advisory, not fatal
	p := NewBandedBlockTriangular(bs, 0, WithMemoryStatistics())
	assert.Equal(t, 0, p.MemoryUsageBytes())

	assert.NoError(t, p.Setup(A))
	bytes := p.MemoryUsageBytes()
	assert.True(t, bytes > 0)

	// Without the instrumentation the query reports zero
	plain := NewBandedBlockTriangular(bs, 0)
	assert.NoError(t, plain.Setup(A))
	assert.Equal(t, 0, plain.MemoryUsageBytes())

	p.CleanUpMemory()
	assert.Equal(t, 0, p.MemoryUsageBytes())
}

// diagSolver inverts a diagonal block entry-wise, standing in for the
// dense factorization.
type diagSolver struct {
	inv []float64
}

func (s *diagSolver) Factorize(m mat.Matrix) error {
	n, _ := m.Dims()
	s.inv = make([]float64, n)
	for i := 0; i < n; i++ {
		s.inv[i] = 1 / m.At(i, i)
	}
	return nil
}

func (s *diagSolver) Solve(rhs []float64) ([]float64, error) {
	out := make([]float64, len(rhs))
	for i, x := range rhs {
		out[i] = x * s.inv[i]
	}
	return out, nil
}

func (s *diagSolver) Bytes() int { return 8 * len(s.inv) }

func TestSolverFactoryInjection(t *testing.T) {
	// On a diagonal matrix the stub solver and the dense factorization
	// agree, confirming the injected strategy is the one used.
	bs := singleRankStructure(t, 2, 2)
	dok := NewDOK(4, 4)
	for i := 0; i < 4; i++ {
		dok.Set(i, i, float64(i+2))
	}
	A := dok.ToCSR()

	stub := NewBandedBlockTriangular(bs, 0, WithSolverFactory(func() BlockSolver { return &diagSolver{} }))
	assert.NoError(t, stub.Setup(A))
	dense := NewBandedBlockTriangular(bs, 0)
	assert.NoError(t, dense.Setup(A))

	r := []float64{2, 3, 4, 5}
	zStub := applyPrec(t, stub, bs, r)
	zDense := applyPrec(t, dense, bs, r)
	for i := range zStub {
		assert.InDelta(t, zDense[i], zStub[i], 1e-12)
	}
	assert.Equal(t, []float64{1, 1, 1, 1}, zStub)
}

func TestDistributedSolve(t *testing.T) {
	// Two ranks share the assembled matrix; each rank's local slice of
	// the correction matches the replicated reference solve.
	dok, dense := blockUpperSystem()
	A := dok.ToCSR()
	rGlob := []float64{3, -1, 4, 1, -5, 9}
	want := denseSolve(t, dense, rGlob)

	var NP = 2
	err := comms.Spawn(NP, func(rank int, c *comms.Communicator) error {
		d, err := linalg.NewDistribution(6, c, true)
		if err != nil {
			return err
		}
		dofType := []int{0, 0, 1, 1, 2, 2}
		bs, err := BuildBlockStructure(d, dofType, 3)
		if err != nil {
			return err
		}
		p := NewBandedBlockTriangular(bs, rank)
		if err = p.Setup(A); err != nil {
			return err
		}
		defer p.CleanUpMemory()

		first := d.FirstRow(rank)
		r, err := linalg.NewVectorShared(d, rank, append([]float64(nil), rGlob[first:first+d.LocalSize(rank)]...))
		if err != nil {
			return err
		}
		z, err := linalg.NewVector(d, rank, 0)
		if err != nil {
			return err
		}
		if err = p.Solve(r, z); err != nil {
			return err
		}
		for i := 0; i < z.LocalSize(); i++ {
			assert.InDelta(t, want[first+i], z.At(i), 1e-10)
		}
		return nil
	})
	assert.NoError(t, err)
}

func TestExactBlock(t *testing.T) {
	// The exact variant inverts the full matrix, couplings on both
	// sides included.
	bs := singleRankStructure(t, 2, 2)
	dense := mat.NewDense(4, 4, []float64{
		4, 1, 2, 0,
		1, 3, 0, 1,
		1, 0, 5, 2,
		0, 2, 1, 4,
	})
	dok := NewDOK(4, 4)
	dok.SetDense(0, 0, dense)

	p := NewExactBlock(bs, 0)
	d := bs.Distribution()
	r, _ := linalg.NewVector(d, 0, 1)
	z, _ := linalg.NewVector(d, 0, 0)
	assert.ErrorIs(t, p.Solve(r, z), linalg.ErrNotBuilt)
	assert.ErrorIs(t, p.Setup(mat.NewDense(2, 2, nil)), linalg.ErrDistributionMismatch)

	assert.NoError(t, p.Setup(dok.ToCSR()))
	assert.True(t, p.Built())
	assert.NoError(t, p.Solve(r, z))
	want := denseSolve(t, dense, []float64{1, 1, 1, 1})
	for i := range want {
		assert.InDelta(t, want[i], z.At(i), 1e-10)
	}

	p.CleanUpMemory()
	assert.ErrorIs(t, p.Solve(r, z), linalg.ErrNotBuilt)
	p.CleanUpMemory()
}

func TestExactBlockDistributed(t *testing.T) {
	dense := mat.NewDense(4, 4, []float64{
		4, 1, 2, 0,
		1, 3, 0, 1,
		1, 0, 5, 2,
		0, 2, 1, 4,
	})
	dok := NewDOK(4, 4)
	dok.SetDense(0, 0, dense)
	A := dok.ToCSR()
	want := denseSolve(t, dense, []float64{1, 1, 1, 1})

	var NP = 2
	err := comms.Spawn(NP, func(rank int, c *comms.Communicator) error {
		d, err := linalg.NewDistribution(4, c, true)
		if err != nil {
			return err
		}
		bs, err := BuildBlockStructure(d, []int{0, 0, 1, 1}, 2)
		if err != nil {
			return err
		}
		p := NewExactBlock(bs, rank)
		if err = p.Setup(A); err != nil {
			return err
		}
		r, err := linalg.NewVector(d, rank, 1)
		if err != nil {
			return err
		}
		z, err := linalg.NewVector(d, rank, 0)
		if err != nil {
			return err
		}
		if err = p.Solve(r, z); err != nil {
			return err
		}
		first := d.FirstRow(rank)
		for i := 0; i < z.LocalSize(); i++ {
			assert.InDelta(t, want[first+i], z.At(i), 1e-10)
		}
		return nil
	})
	assert.NoError(t, err)
}

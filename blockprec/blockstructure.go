package blockprec

import (
	"fmt"

	"github.com/parlab/blockla/linalg"
)

// BlockStructure maps a global unknown space into named DOF-type blocks.
// It carries one distribution per block, sized to the unknowns of that
// type owned by each rank (ownership is preserved, never reassigned
// across ranks), and the bijective global <-> (block, block-local) index
// maps used to scatter and gather between global and block-local vectors.
type BlockStructure struct {
	dist       *linalg.Distribution
	nblocks    int
	blockDists []*linalg.Distribution
	blockOf    []int   // per global row: owning block
	offsetOf   []int   // per global row: index within the block
	rowsOf     [][]int // per block: global rows in increasing order
}

// BuildBlockStructure constructs the block decomposition of d given, for
// every global unknown, the block (DOF type) it belongs to. Each unknown
// maps to exactly one block by construction of dofType; values outside
// [0, nblocks) or a wrong-length assignment fail with
// ErrInconsistentMapping.
func BuildBlockStructure(d *linalg.Distribution, dofType []int, nblocks int) (*BlockStructure, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: block structure requires a distribution", linalg.ErrConfiguration)
	}
	if nblocks < 1 {
		return nil, fmt.Errorf("%w: block count must be at least 1, got %d",
			linalg.ErrConfiguration, nblocks)
	}
	n := d.GlobalSize()
	if len(dofType) != n {
		return nil, fmt.Errorf("%w: %d unknowns assigned, global size is %d",
			ErrInconsistentMapping, len(dofType), n)
	}
	bs := &BlockStructure{
		dist:       d,
		nblocks:    nblocks,
		blockDists: make([]*linalg.Distribution, nblocks),
		blockOf:    make([]int, n),
		offsetOf:   make([]int, n),
		rowsOf:     make([][]int, nblocks),
	}
	counts := make([][]int, nblocks)
	for b := range counts {
		counts[b] = make([]int, d.Size())
	}
	// Global rows arrive in increasing order and ranks own increasing
	// contiguous ranges, so each block's rows group by rank in rank order;
	// the per-rank counts become the block distributions directly.
	for g := 0; g < n; g++ {
		b := dofType[g]
		if b < 0 || b >= nblocks {
			return nil, fmt.Errorf("%w: unknown %d assigned to block %d, want [0,%d)",
				ErrInconsistentMapping, g, b, nblocks)
		}
		bs.blockOf[g] = b
		bs.offsetOf[g] = len(bs.rowsOf[b])
		bs.rowsOf[b] = append(bs.rowsOf[b], g)
		counts[b][d.Owner(g)]++
	}
	for b := 0; b < nblocks; b++ {
		if len(bs.rowsOf[b]) == 0 {
			return nil, fmt.Errorf("%w: block %d has no unknowns", ErrInconsistentMapping, b)
		}
		var (
			bd  *linalg.Distribution
			err error
		)
		if d.Distributed() {
			bd, err = linalg.NewDistributionFromLocalSizes(d.Communicator(), counts[b])
		} else {
			bd, err = linalg.NewDistribution(len(bs.rowsOf[b]), d.Communicator(), false)
		}
		if err != nil {
			return nil, err
		}
		bs.blockDists[b] = bd
	}
	return bs, nil
}

func (bs *BlockStructure) NumBlocks() int                    { return bs.nblocks }
func (bs *BlockStructure) GlobalSize() int                   { return bs.dist.GlobalSize() }
func (bs *BlockStructure) Distribution() *linalg.Distribution { return bs.dist }

// BlockDistribution returns block b's distribution.
func (bs *BlockStructure) BlockDistribution(b int) *linalg.Distribution {
	return bs.blockDists[b]
}

// BlockSize reports the global number of unknowns in block b.
func (bs *BlockStructure) BlockSize(b int) int {
	return len(bs.rowsOf[b])
}

// BlockIndex maps global unknown g to its (block, block-local) pair.
func (bs *BlockStructure) BlockIndex(g int) (b, i int) {
	return bs.blockOf[g], bs.offsetOf[g]
}

// GlobalIndex maps (block, block-local) back to the global unknown.
func (bs *BlockStructure) GlobalIndex(b, i int) int {
	return bs.rowsOf[b][i]
}

// RestrictGlobal extracts block b's rows from a fully gathered global
// slice. Pure local computation.
func (bs *BlockStructure) RestrictGlobal(glob []float64, b int) []float64 {
	rows := bs.rowsOf[b]
	out := make([]float64, len(rows))
	for i, g := range rows {
		out[i] = glob[g]
	}
	return out
}

// RestrictLocal builds a block-local vector on block b's distribution
// from the caller's rows of the global vector r. Local, no communication.
func (bs *BlockStructure) RestrictLocal(r *linalg.Vector, b int) (*linalg.Vector, error) {
	if r == nil || !r.Built() {
		return nil, fmt.Errorf("%w: source vector must be built", linalg.ErrNotBuilt)
	}
	if !r.Distribution().Equals(bs.dist) {
		return nil, fmt.Errorf("%w: vector does not match the block structure's global distribution",
			linalg.ErrDistributionMismatch)
	}
	var (
		rank  = r.Rank()
		bd    = bs.blockDists[b]
		lo    = bd.FirstRow(rank)
		first = bs.dist.FirstRow(rank)
	)
	out, err := linalg.NewVector(bd, rank, 0)
	if err != nil {
		return nil, err
	}
	for i := 0; i < bd.LocalSize(rank); i++ {
		g := bs.rowsOf[b][lo+i]
		out.Set(i, r.At(g-first))
	}
	return out, nil
}

// ScatterLocal writes a block-local vector's rows back into the caller's
// rows of the global vector z. Local, no communication.
func (bs *BlockStructure) ScatterLocal(xb *linalg.Vector, b int, z *linalg.Vector) error {
	if xb == nil || !xb.Built() || z == nil || !z.Built() {
		return fmt.Errorf("%w: both vectors must be built", linalg.ErrNotBuilt)
	}
	if !xb.Distribution().Equals(bs.blockDists[b]) {
		return fmt.Errorf("%w: block vector does not match block %d's distribution",
			linalg.ErrDistributionMismatch, b)
	}
	if !z.Distribution().Equals(bs.dist) {
		return fmt.Errorf("%w: target vector does not match the block structure's global distribution",
			linalg.ErrDistributionMismatch)
	}
	bs.scatterRows(xb.Values(), b, z)
	return nil
}

// scatterRows copies the caller-owned slice of a block-global solution
// into the caller's rows of z. sol holds all of block b's rows.
func (bs *BlockStructure) scatterRows(sol []float64, b int, z *linalg.Vector) {
	var (
		rank  = z.Rank()
		bd    = bs.blockDists[b]
		lo    = bd.FirstRow(rank)
		first = bs.dist.FirstRow(rank)
	)
	n := bd.LocalSize(rank)
	if len(sol) == n {
		// Block-local slice: rows [lo, lo+n) of the block.
		for i := 0; i < n; i++ {
			g := bs.rowsOf[b][lo+i]
			z.Set(g-first, sol[i])
		}
		return
	}
	for i := lo; i < lo+n; i++ {
		g := bs.rowsOf[b][i]
		z.Set(g-first, sol[i])
	}
}

package linalg

import (
	"fmt"
	"sort"

	"github.com/parlab/blockla/comms"
)

// Distribution describes how a global index range is partitioned into
// contiguous row ranges across the ranks of a communicator. It is pure
// metadata: partition boundaries are known for every rank, not just the
// caller's. Distributions are built once per problem configuration and
// shared read-only by every vector and multivector that references them.
type Distribution struct {
	comm        *comms.Communicator
	globalSize  int
	firstRow    []int
	localSize   []int
	distributed bool
}

// Distributed is the capability shared by every distribution-aware object.
type Distributed interface {
	Distribution() *Distribution
	Built() bool
}

// NewDistribution computes a near-equal contiguous row partition of
// globalSize rows over the communicator's ranks, with remainder rows
// assigned to the lowest ranks (maximum imbalance of one row). When
// distributed is false every rank holds the full range.
func NewDistribution(globalSize int, c *comms.Communicator, distributed bool) (*Distribution, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: distribution requires a communicator", ErrConfiguration)
	}
	if globalSize <= 0 {
		return nil, fmt.Errorf("%w: global size must be positive, got %d", ErrConfiguration, globalSize)
	}
	np := c.Size()
	d := &Distribution{
		comm:        c,
		globalSize:  globalSize,
		firstRow:    make([]int, np),
		localSize:   make([]int, np),
		distributed: distributed && np > 1,
	}
	if !d.distributed {
		for p := 0; p < np; p++ {
			d.localSize[p] = globalSize
		}
		return d, nil
	}
	npart := globalSize / np
	rem := globalSize % np
	for p := 0; p < np; p++ {
		start := p * npart
		size := npart
		if p < rem {
			start += p
			size++
		} else {
			start += rem
		}
		d.firstRow[p] = start
		d.localSize[p] = size
	}
	return d, nil
}

// NewDistributionFromLocalSizes builds a distribution with prescribed
// per-rank row counts. Rank p owns the contiguous range starting at the
// prefix sum of the preceding counts.
func NewDistributionFromLocalSizes(c *comms.Communicator, localSizes []int) (*Distribution, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: distribution requires a communicator", ErrConfiguration)
	}
	if len(localSizes) != c.Size() {
		return nil, fmt.Errorf("%w: %d local sizes for a communicator of size %d",
			ErrConfiguration, len(localSizes), c.Size())
	}
	total := 0
	for p, n := range localSizes {
		if n < 0 {
			return nil, fmt.Errorf("%w: negative local size %d on rank %d", ErrConfiguration, n, p)
		}
		total += n
	}
	if total <= 0 {
		return nil, fmt.Errorf("%w: global size must be positive, got %d", ErrConfiguration, total)
	}
	np := c.Size()
	d := &Distribution{
		comm:        c,
		globalSize:  total,
		firstRow:    make([]int, np),
		localSize:   make([]int, np),
		distributed: np > 1,
	}
	if !d.distributed {
		d.localSize[0] = total
		return d, nil
	}
	row := 0
	for p := 0; p < np; p++ {
		d.firstRow[p] = row
		d.localSize[p] = localSizes[p]
		row += localSizes[p]
	}
	return d, nil
}

func (d *Distribution) GlobalSize() int                  { return d.globalSize }
func (d *Distribution) Distributed() bool                { return d.distributed }
func (d *Distribution) Communicator() *comms.Communicator { return d.comm }
func (d *Distribution) Size() int                        { return d.comm.Size() }

// FirstRow reports the first global row owned by rank p.
func (d *Distribution) FirstRow(p int) int {
	return d.firstRow[p]
}

// LocalSize reports the number of rows owned by rank p.
func (d *Distribution) LocalSize(p int) int {
	return d.localSize[p]
}

// Owner reports the rank owning global row g. For a non-distributed
// range every rank holds all rows and rank 0 is the nominal owner.
func (d *Distribution) Owner(g int) int {
	if g < 0 || g >= d.globalSize {
		panic(fmt.Errorf("%w: global row %d outside [0,%d)", ErrRange, g, d.globalSize))
	}
	if !d.distributed {
		return 0
	}
	// First rank whose range starts past g, minus one.
	p := sort.Search(len(d.firstRow), func(p int) bool { return d.firstRow[p] > g })
	return p - 1
}

// Equals compares global size, partition boundaries and communicator
// identity (pointer equality, matching the shared-group requirement).
func (d *Distribution) Equals(o *Distribution) bool {
	if o == nil {
		return false
	}
	if d.comm != o.comm || d.globalSize != o.globalSize || d.distributed != o.distributed {
		return false
	}
	for p := range d.firstRow {
		if d.firstRow[p] != o.firstRow[p] || d.localSize[p] != o.localSize[p] {
			return false
		}
	}
	return true
}

func (d *Distribution) String() string {
	return fmt.Sprintf("Distribution{global: %d, ranks: %d, distributed: %v}",
		d.globalSize, d.comm.Size(), d.distributed)
}

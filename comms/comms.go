package comms

import (
	"fmt"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
)

// Communicator couples a fixed group of rank goroutines into a process
// group over which collective operations run. Every collective must be
// invoked by all ranks in the same order; a rank that skips a collective
// blocks the whole group. There are no timeouts and no cancellation.
//
// A size-1 communicator degenerates every collective to a local copy, so
// serial and data-parallel runs share one code path.
type Communicator struct {
	size    int
	barrier *barrier
	slots   [][]float64
	xslots  [][][]float64
}

func New(size int) (*Communicator, error) {
	if size < 1 {
		return nil, fmt.Errorf("communicator size must be at least 1, got %d", size)
	}
	return &Communicator{
		size:    size,
		barrier: newBarrier(size),
		slots:   make([][]float64, size),
		xslots:  make([][][]float64, size),
	}, nil
}

func (c *Communicator) Size() int { return c.size }

// Spawn runs fn once per rank on its own goroutine against a fresh
// communicator of the given size and waits for the whole group.
func Spawn(size int, fn func(rank int, c *Communicator) error) error {
	c, err := New(size)
	if err != nil {
		return err
	}
	g := new(errgroup.Group)
	for rank := 0; rank < size; rank++ {
		rank := rank
		g.Go(func() error { return fn(rank, c) })
	}
	return g.Wait()
}

// Barrier blocks until every rank has arrived.
func (c *Communicator) Barrier(rank int) {
	c.checkRank(rank)
	if c.size == 1 {
		return
	}
	c.barrier.await()
}

// AllReduceSum returns the element-wise sum of every rank's local
// contribution. All contributions must have equal length. The accumulation
// runs in rank order on every rank, so all ranks see bit-identical results.
func (c *Communicator) AllReduceSum(rank int, local []float64) []float64 {
	c.checkRank(rank)
	out := make([]float64, len(local))
	if c.size == 1 {
		copy(out, local)
		return out
	}
	c.slots[rank] = local
	c.barrier.await()
	for p := 0; p < c.size; p++ {
		floats.Add(out, c.slots[p])
	}
	// Second phase keeps the slots stable until every rank has read them.
	c.barrier.await()
	return out
}

// AllGatherV returns the concatenation of every rank's local segment in
// rank order. Segments may have different lengths.
func (c *Communicator) AllGatherV(rank int, local []float64) []float64 {
	c.checkRank(rank)
	if c.size == 1 {
		out := make([]float64, len(local))
		copy(out, local)
		return out
	}
	c.slots[rank] = local
	c.barrier.await()
	var out []float64
	for p := 0; p < c.size; p++ {
		out = append(out, c.slots[p]...)
	}
	c.barrier.await()
	return out
}

// AllToAllV delivers send[p] to rank p and returns, per source rank, the
// segment that rank addressed to the caller. Rows may move in both
// directions across the group; no shrink-only or grow-only assumption is
// made.
func (c *Communicator) AllToAllV(rank int, send [][]float64) [][]float64 {
	c.checkRank(rank)
	if len(send) != c.size {
		panic(fmt.Sprintf("AllToAllV: send has %d segments, communicator size is %d", len(send), c.size))
	}
	recv := make([][]float64, c.size)
	if c.size == 1 {
		recv[0] = append([]float64(nil), send[0]...)
		return recv
	}
	c.xslots[rank] = send
	c.barrier.await()
	for p := 0; p < c.size; p++ {
		recv[p] = append([]float64(nil), c.xslots[p][rank]...)
	}
	c.barrier.await()
	return recv
}

func (c *Communicator) checkRank(rank int) {
	if rank < 0 || rank >= c.size {
		panic(fmt.Sprintf("rank %d out of bounds for communicator of size %d", rank, c.size))
	}
}

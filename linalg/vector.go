package linalg

import (
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Vector is one rank's view of a distributed vector: the distribution,
// the caller's rank within it, and the local row storage. Storage is
// either owned by the vector or borrowed from another entity (a
// multivector column or an external caller); the owns flag tracks which,
// and exactly one of the two holds at any time.
type Vector struct {
	dist   *Distribution
	rank   int
	values []float64
	owns   bool
	built  bool
}

// NewVector builds a vector with owned storage of the rank's local size,
// filled with initial.
func NewVector(d *Distribution, rank int, initial float64) (*Vector, error) {
	v := &Vector{}
	if err := v.Build(d, rank, initial); err != nil {
		return nil, err
	}
	return v, nil
}

// NewVectorShared builds a vector aliasing externally owned storage. The
// backing slice length must match the rank's local size exactly, and the
// owner must outlive the vector.
func NewVectorShared(d *Distribution, rank int, backing []float64) (*Vector, error) {
	if err := checkDistRank(d, rank); err != nil {
		return nil, err
	}
	if len(backing) != d.LocalSize(rank) {
		return nil, fmt.Errorf("%w: backing has %d entries, local size is %d",
			ErrConfiguration, len(backing), d.LocalSize(rank))
	}
	return &Vector{dist: d, rank: rank, values: backing, owns: false, built: true}, nil
}

// Build (re)allocates owned storage sized to the rank's partition and
// fills it with initial. Any previous storage is released.
func (v *Vector) Build(d *Distribution, rank int, initial float64) error {
	if err := checkDistRank(d, rank); err != nil {
		return err
	}
	v.dist = d
	v.rank = rank
	v.values = make([]float64, d.LocalSize(rank))
	v.owns = true
	v.built = true
	if initial != 0 {
		v.Initialise(initial)
	}
	return nil
}

func checkDistRank(d *Distribution, rank int) error {
	if d == nil {
		return fmt.Errorf("%w: vector requires a distribution", ErrConfiguration)
	}
	if rank < 0 || rank >= d.Size() {
		return fmt.Errorf("%w: rank %d outside communicator of size %d",
			ErrConfiguration, rank, d.Size())
	}
	return nil
}

func (v *Vector) Distribution() *Distribution { return v.dist }
func (v *Vector) Built() bool                 { return v.built }
func (v *Vector) Owns() bool                  { return v.owns }
func (v *Vector) Rank() int                   { return v.rank }

// LocalSize reports the number of rows stored on this rank.
func (v *Vector) LocalSize() int { return len(v.values) }

// Values exposes the local storage without copying.
func (v *Vector) Values() []float64 { return v.values }

// At returns the local entry i. The index is local to the owning rank's
// range; access outside it panics with an ErrRange-wrapped error when
// range checking is compiled in.
func (v *Vector) At(i int) float64 {
	if rangeChecking {
		v.checkLocal(i)
	}
	return v.values[i]
}

// Set assigns the local entry i.
func (v *Vector) Set(i int, x float64) {
	if rangeChecking {
		v.checkLocal(i)
	}
	v.values[i] = x
}

func (v *Vector) checkLocal(i int) {
	if !v.built {
		panic(fmt.Errorf("%w: vector storage does not exist", ErrNotBuilt))
	}
	if i < 0 || i >= len(v.values) {
		panic(fmt.Errorf("%w: local index %d outside [0,%d)", ErrRange, i, len(v.values)))
	}
}

// Initialise sets every local entry to x.
func (v *Vector) Initialise(x float64) {
	for i := range v.values {
		v.values[i] = x
	}
}

// Scale multiplies every local entry by a.
func (v *Vector) Scale(a float64) error {
	if !v.built {
		return fmt.Errorf("%w: vector storage does not exist", ErrNotBuilt)
	}
	floats.Scale(a, v.values)
	return nil
}

// AddScaled accumulates a*o into v. Both operands must share one
// distribution.
func (v *Vector) AddScaled(a float64, o *Vector) error {
	if err := v.checkPair(o); err != nil {
		return err
	}
	floats.AddScaled(v.values, a, o.values)
	return nil
}

func (v *Vector) checkPair(o *Vector) error {
	if !v.built || o == nil || !o.built {
		return fmt.Errorf("%w: both vectors must be built", ErrNotBuilt)
	}
	if !v.dist.Equals(o.dist) {
		return fmt.Errorf("%w: operands have different distributions", ErrDistributionMismatch)
	}
	return nil
}

// Dot computes the global inner product: a local partial reduction
// followed by a collective all-reduce when the vector spans more than one
// rank. Collective: every rank sharing the communicator must call.
func (v *Vector) Dot(o *Vector) (float64, error) {
	if err := v.checkPair(o); err != nil {
		return 0, err
	}
	sum := floats.Dot(v.values, o.values)
	if v.dist.Distributed() {
		sum = v.dist.Communicator().AllReduceSum(v.rank, []float64{sum})[0]
	}
	return sum, nil
}

// Norm computes the global 2-norm. Collective, as Dot.
func (v *Vector) Norm() (float64, error) {
	n2, err := v.Dot(v)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(n2), nil
}

// Redistribute moves rows between ranks so this rank ends up owning the
// range prescribed by nd. The new distribution must carry the same global
// size and the same communicator. Rows may shift in both directions, so
// the transfer is an all-to-all; when nothing moves only the metadata is
// updated. Collective when either distribution spans more than one rank.
func (v *Vector) Redistribute(nd *Distribution) error {
	if !v.built {
		return fmt.Errorf("%w: vector storage does not exist", ErrNotBuilt)
	}
	if !v.owns {
		return fmt.Errorf("%w: cannot redistribute a vector aliasing external storage", ErrConfiguration)
	}
	if nd == nil || nd.GlobalSize() != v.dist.GlobalSize() || nd.Communicator() != v.dist.Communicator() {
		return fmt.Errorf("%w: redistribute requires identical global size and communicator",
			ErrDistributionMismatch)
	}
	if v.dist.Equals(nd) {
		return nil
	}
	switch {
	case !v.dist.Distributed() && !nd.Distributed():
		// Both replicated: metadata only.
	case !v.dist.Distributed():
		// Replicated to distributed: every rank already holds all rows.
		local := make([]float64, nd.LocalSize(v.rank))
		copy(local, v.values[nd.FirstRow(v.rank):nd.FirstRow(v.rank)+nd.LocalSize(v.rank)])
		v.values = local
	case !nd.Distributed():
		v.values = v.dist.Communicator().AllGatherV(v.rank, v.values)
	default:
		v.values = v.exchange(nd)
	}
	v.dist = nd
	return nil
}

// exchange routes each locally owned row to its new owner and assembles
// the new local range from the segments received, in rank order.
func (v *Vector) exchange(nd *Distribution) []float64 {
	var (
		c     = v.dist.Communicator()
		np    = c.Size()
		first = v.dist.FirstRow(v.rank)
		last  = first + v.dist.LocalSize(v.rank)
	)
	send := make([][]float64, np)
	for p := 0; p < np; p++ {
		lo := max(first, nd.FirstRow(p))
		hi := min(last, nd.FirstRow(p)+nd.LocalSize(p))
		if hi > lo {
			send[p] = v.values[lo-first : hi-first]
		}
	}
	recv := c.AllToAllV(v.rank, send)
	local := make([]float64, nd.LocalSize(v.rank))
	off := 0
	for p := 0; p < np; p++ {
		off += copy(local[off:], recv[p])
	}
	return local
}

// GatherGlobal assembles the full global vector on every rank via an
// all-gather. Collective when distributed; I/O and setup path only, not
// the hot path.
func (v *Vector) GatherGlobal() ([]float64, error) {
	if !v.built {
		return nil, fmt.Errorf("%w: vector storage does not exist", ErrNotBuilt)
	}
	if !v.dist.Distributed() {
		out := make([]float64, len(v.values))
		copy(out, v.values)
		return out, nil
	}
	return v.dist.Communicator().AllGatherV(v.rank, v.values), nil
}

// Output writes one "<index> <value>" line per global row in increasing
// global order, gathering remote segments first so the dump is never
// interleaved. Collective when distributed: all ranks must call, each with
// its own writer.
func (v *Vector) Output(w io.Writer) error {
	glob, err := v.GatherGlobal()
	if err != nil {
		return err
	}
	for i, x := range glob {
		if _, err := fmt.Fprintf(w, "%d %v\n", i, x); err != nil {
			return err
		}
	}
	return nil
}

// Clear releases owned storage and marks the vector unbuilt. Idempotent.
func (v *Vector) Clear() {
	v.values = nil
	v.owns = false
	v.built = false
}

package linalg

import (
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/floats"
)

// MultiVector is a matrix-like collection of columns sharing one
// distribution. Two storage modes exist and are normalized at
// construction:
//
//   - OWNING: one contiguous backing block of local_size*ncol entries,
//     column v aliasing the half-open range [v*local, (v+1)*local). One
//     allocation, one release, O(1) column extraction.
//   - ALIASING: no allocation at all; every column borrows storage owned
//     elsewhere (another multivector or an external caller), which must
//     outlive the alias.
//
// Concurrent mutation of aliased storage through two views is the
// caller's responsibility to avoid; no locking is provided.
type MultiVector struct {
	dist    *Distribution
	rank    int
	ncol    int
	backing []float64
	cols    [][]float64
	owns    bool
	built   bool
}

// NewMultiVector builds an OWNING multivector of ncol columns filled with
// fill.
func NewMultiVector(ncol int, d *Distribution, rank int, fill float64) (*MultiVector, error) {
	if err := checkDistRank(d, rank); err != nil {
		return nil, err
	}
	if ncol < 1 {
		return nil, fmt.Errorf("%w: column count must be at least 1, got %d", ErrConfiguration, ncol)
	}
	n := d.LocalSize(rank)
	m := &MultiVector{
		dist:    d,
		rank:    rank,
		ncol:    ncol,
		backing: make([]float64, n*ncol),
		cols:    make([][]float64, ncol),
		owns:    true,
		built:   true,
	}
	for v := 0; v < ncol; v++ {
		m.cols[v] = m.backing[v*n : (v+1)*n]
	}
	if fill != 0 {
		m.Initialise(fill)
	}
	return m, nil
}

// Clone returns an OWNING deep copy.
func (m *MultiVector) Clone() (*MultiVector, error) {
	if !m.built {
		return nil, fmt.Errorf("%w: multivector storage does not exist", ErrNotBuilt)
	}
	out, err := NewMultiVector(m.ncol, m.dist, m.rank, 0)
	if err != nil {
		return nil, err
	}
	for v := range m.cols {
		copy(out.cols[v], m.cols[v])
	}
	return out, nil
}

// Select builds a multivector from the given source columns, in order,
// duplicates permitted. With deep true the result is OWNING and copies the
// selected columns; otherwise it is ALIASING, each produced column a
// reference into this multivector's storage, and the source must outlive
// the result.
func (m *MultiVector) Select(indices []int, deep bool) (*MultiVector, error) {
	if !m.built {
		return nil, fmt.Errorf("%w: multivector storage does not exist", ErrNotBuilt)
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("%w: empty column selection", ErrConfiguration)
	}
	for _, v := range indices {
		if v < 0 || v >= m.ncol {
			return nil, fmt.Errorf("%w: column %d outside [0,%d)", ErrRange, v, m.ncol)
		}
	}
	if deep {
		out, err := NewMultiVector(len(indices), m.dist, m.rank, 0)
		if err != nil {
			return nil, err
		}
		for k, src := range indices {
			copy(out.cols[k], m.cols[src])
		}
		return out, nil
	}
	out := &MultiVector{
		dist:  m.dist,
		rank:  m.rank,
		ncol:  len(indices),
		cols:  make([][]float64, len(indices)),
		owns:  false,
		built: true,
	}
	for k, src := range indices {
		out.cols[k] = m.cols[src]
	}
	return out, nil
}

func (m *MultiVector) Distribution() *Distribution { return m.dist }
func (m *MultiVector) Built() bool                 { return m.built }
func (m *MultiVector) Owns() bool                  { return m.owns }
func (m *MultiVector) Rank() int                   { return m.rank }
func (m *MultiVector) NColumns() int               { return m.ncol }

// LocalSize reports the per-column row count stored on this rank.
func (m *MultiVector) LocalSize() int {
	if m.ncol == 0 {
		return 0
	}
	return len(m.cols[0])
}

// Values returns column v's storage without copying, O(1).
func (m *MultiVector) Values(v int) []float64 {
	if rangeChecking {
		m.checkColumn(v)
	}
	return m.cols[v]
}

// Column returns an aliasing single-column Vector view, O(1). The
// multivector must outlive it.
func (m *MultiVector) Column(v int) *Vector {
	if rangeChecking {
		m.checkColumn(v)
	}
	return &Vector{dist: m.dist, rank: m.rank, values: m.cols[v], owns: false, built: true}
}

// At returns the local entry i of column v.
func (m *MultiVector) At(v, i int) float64 {
	if rangeChecking {
		m.checkEntry(v, i)
	}
	return m.cols[v][i]
}

// Set assigns the local entry i of column v.
func (m *MultiVector) Set(v, i int, x float64) {
	if rangeChecking {
		m.checkEntry(v, i)
	}
	m.cols[v][i] = x
}

func (m *MultiVector) checkColumn(v int) {
	if !m.built {
		panic(fmt.Errorf("%w: multivector storage does not exist", ErrNotBuilt))
	}
	if v < 0 || v >= m.ncol {
		panic(fmt.Errorf("%w: column %d outside [0,%d)", ErrRange, v, m.ncol))
	}
}

func (m *MultiVector) checkEntry(v, i int) {
	m.checkColumn(v)
	if i < 0 || i >= len(m.cols[v]) {
		panic(fmt.Errorf("%w: local index %d outside [0,%d)", ErrRange, i, len(m.cols[v])))
	}
}

// Initialise sets every entry of every column to x.
func (m *MultiVector) Initialise(x float64) {
	for _, col := range m.cols {
		for i := range col {
			col[i] = x
		}
	}
}

// Equal reports whether both multivectors have the same built state and,
// when built, identical local entries. Used to short-circuit redundant
// deep copies.
func (m *MultiVector) Equal(o *MultiVector) bool {
	if o == nil {
		return false
	}
	if m.built != o.built {
		return false
	}
	if !m.built {
		return true
	}
	if m.ncol != o.ncol || m.LocalSize() != o.LocalSize() {
		return false
	}
	for v := range m.cols {
		for i, x := range m.cols[v] {
			if x != o.cols[v][i] {
				return false
			}
		}
	}
	return true
}

// Add accumulates o element-wise across every column. Operands must share
// one distribution.
func (m *MultiVector) Add(o *MultiVector) error {
	if err := m.checkPair(o); err != nil {
		return err
	}
	for v := range m.cols {
		floats.Add(m.cols[v], o.cols[v])
	}
	return nil
}

// Sub subtracts o element-wise across every column.
func (m *MultiVector) Sub(o *MultiVector) error {
	if err := m.checkPair(o); err != nil {
		return err
	}
	for v := range m.cols {
		floats.Sub(m.cols[v], o.cols[v])
	}
	return nil
}

// Scale multiplies every entry of every column by a.
func (m *MultiVector) Scale(a float64) error {
	if !m.built {
		return fmt.Errorf("%w: multivector storage does not exist", ErrNotBuilt)
	}
	for v := range m.cols {
		floats.Scale(a, m.cols[v])
	}
	return nil
}

func (m *MultiVector) checkPair(o *MultiVector) error {
	if !m.built || o == nil || !o.built {
		return fmt.Errorf("%w: both multivectors must be built", ErrNotBuilt)
	}
	if !m.dist.Equals(o.dist) {
		return fmt.Errorf("%w: operands have different distributions", ErrDistributionMismatch)
	}
	if m.ncol != o.ncol {
		return fmt.Errorf("%w: operands have %d and %d columns",
			ErrDistributionMismatch, m.ncol, o.ncol)
	}
	return nil
}

// Dot computes one inner product per column against o: per-column local
// partials packed into one slice, then a single collective all-reduce.
// Collective when distributed.
func (m *MultiVector) Dot(o *MultiVector) ([]float64, error) {
	if err := m.checkPair(o); err != nil {
		return nil, err
	}
	partial := make([]float64, m.ncol)
	for v := range m.cols {
		partial[v] = floats.Dot(m.cols[v], o.cols[v])
	}
	if m.dist.Distributed() {
		partial = m.dist.Communicator().AllReduceSum(m.rank, partial)
	}
	return partial, nil
}

// Norm computes the global 2-norm of every column. Collective, as Dot.
func (m *MultiVector) Norm() ([]float64, error) {
	out, err := m.Dot(m)
	if err != nil {
		return nil, err
	}
	for v := range out {
		out[v] = math.Sqrt(out[v])
	}
	return out, nil
}

// Redistribute moves every column's rows to the partition prescribed by
// nd. Only owning multivectors can be redistributed. Collective; all ranks
// iterate the columns in the same order.
func (m *MultiVector) Redistribute(nd *Distribution) error {
	if !m.built {
		return fmt.Errorf("%w: multivector storage does not exist", ErrNotBuilt)
	}
	if !m.owns {
		return fmt.Errorf("%w: cannot redistribute a multivector aliasing external storage",
			ErrConfiguration)
	}
	if nd == nil || nd.GlobalSize() != m.dist.GlobalSize() || nd.Communicator() != m.dist.Communicator() {
		return fmt.Errorf("%w: redistribute requires identical global size and communicator",
			ErrDistributionMismatch)
	}
	if m.dist.Equals(nd) {
		return nil
	}
	n := nd.LocalSize(m.rank)
	backing := make([]float64, n*m.ncol)
	for v := 0; v < m.ncol; v++ {
		tmp := &Vector{dist: m.dist, rank: m.rank, values: m.cols[v], owns: true, built: true}
		if err := tmp.Redistribute(nd); err != nil {
			return err
		}
		copy(backing[v*n:(v+1)*n], tmp.values)
	}
	m.backing = backing
	for v := 0; v < m.ncol; v++ {
		m.cols[v] = m.backing[v*n : (v+1)*n]
	}
	m.dist = nd
	return nil
}

// Output writes one "<index> <v_1> ... <v_K>" line per global row in
// increasing global order. Collective when distributed: all ranks must
// call, each with its own writer; columns are gathered in column order.
func (m *MultiVector) Output(w io.Writer) error {
	if !m.built {
		return fmt.Errorf("%w: multivector storage does not exist", ErrNotBuilt)
	}
	glob := make([][]float64, m.ncol)
	for v := 0; v < m.ncol; v++ {
		col := &Vector{dist: m.dist, rank: m.rank, values: m.cols[v], owns: false, built: true}
		g, err := col.GatherGlobal()
		if err != nil {
			return err
		}
		glob[v] = g
	}
	for i := 0; i < m.dist.GlobalSize(); i++ {
		if _, err := fmt.Fprintf(w, "%d", i); err != nil {
			return err
		}
		for v := 0; v < m.ncol; v++ {
			if _, err := fmt.Fprintf(w, " %v", glob[v][i]); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}
	return nil
}

// Clear releases the backing block (a single deallocation when owning)
// and marks the multivector unbuilt. Idempotent.
func (m *MultiVector) Clear() {
	m.backing = nil
	m.cols = nil
	m.ncol = 0
	m.owns = false
	m.built = false
}

package blockprec

import (
	"github.com/james-bowman/sparse"
)

// MatVecOperator is the off-diagonal coupling capability: multiplication
// by a fixed sparse matrix block. Built once in Setup, reused across every
// preconditioner application until CleanUpMemory.
type MatVecOperator interface {
	// Apply returns the product block*x. x covers the source block's
	// global rows and is not modified.
	Apply(x []float64) []float64

	// Bytes estimates the operator's memory footprint.
	Bytes() int
}

// CSRMatVec is the provided MatVecOperator, wrapping a compressed
// sparse row block.
type CSRMatVec struct {
	m    *sparse.CSR
	rows int
	nnz  int
}

func NewCSRMatVec(m *sparse.CSR) *CSRMatVec {
	r, _ := m.Dims()
	return &CSRMatVec{m: m, rows: r, nnz: m.NNZ()}
}

func (op *CSRMatVec) Apply(x []float64) []float64 {
	y := make([]float64, op.rows)
	op.m.DoNonZero(func(i, j int, v float64) {
		y[i] += v * x[j]
	})
	return y
}

func (op *CSRMatVec) Bytes() int {
	// Values, column indices and row pointers.
	return 8*op.nnz + 8*op.nnz + 8*(op.rows+1)
}

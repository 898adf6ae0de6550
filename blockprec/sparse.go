package blockprec

import (
	"fmt"

	"github.com/james-bowman/sparse"
	"gonum.org/v1/gonum/mat"
)

// DOK wraps a dictionary-of-keys sparse builder for problem assembly.
// Assemble with Set or SetDense, then freeze to CSR for the solve path.
type DOK struct {
	M        *sparse.DOK
	readOnly bool
	name     string
}

func NewDOK(nr, nc int) DOK {
	return DOK{
		sparse.NewDOK(nr, nc),
		false,
		"unnamed - hint: pass a variable name to SetReadOnly()",
	}
}

// Dims, At and T minimally satisfy the mat.Matrix interface.
func (m DOK) Dims() (r, c int)    { return m.M.Dims() }
func (m DOK) At(i, j int) float64 { return m.M.At(i, j) }
func (m DOK) T() mat.Matrix       { return m.M.T() }

func (m *DOK) SetReadOnly(name ...string) DOK {
	if len(name) != 0 {
		m.name = name[0]
	}
	m.readOnly = true
	return *m
}

func (m DOK) Set(i, j int, v float64) {
	m.checkWritable()
	m.M.Set(i, j, v)
}

// SetDense places a dense block into the matrix with its top-left corner
// at (i0, j0). Zero entries are skipped to keep the pattern sparse.
func (m DOK) SetDense(i0, j0 int, a mat.Matrix) {
	m.checkWritable()
	nr, nc := a.Dims()
	for i := 0; i < nr; i++ {
		for j := 0; j < nc; j++ {
			if v := a.At(i, j); v != 0 {
				m.M.Set(i0+i, j0+j, v)
			}
		}
	}
}

func (m DOK) checkWritable() {
	if m.readOnly {
		err := fmt.Errorf("attempt to write to a read only matrix named: \"%v\"", m.name)
		panic(err)
	}
}

func (m DOK) ToCSR() *sparse.CSR {
	return m.M.ToCSR()
}

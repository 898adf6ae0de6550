package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var yamlInput = `
Title: banded smoke run
GlobalSize: 32
NumProcs: 4
NumBlocks: 8
Bandwidth: 1
Triangle: lower
DOFPattern: interleaved
OutputFile: correction.dat
`

func TestReadRunParameters(t *testing.T) {
	rp := NewRunParameters()
	err := rp.Parse([]byte(yamlInput))
	assert.NoError(t, err)
	assert.Equal(t, "banded smoke run", rp.Title)
	assert.Equal(t, 32, rp.GlobalSize)
	assert.Equal(t, 4, rp.NumProcs)
	assert.Equal(t, 8, rp.NumBlocks)
	assert.Equal(t, 1, rp.Bandwidth)
	assert.Equal(t, "lower", rp.Triangle)
	assert.Equal(t, "interleaved", rp.DOFPattern)
	assert.Equal(t, "correction.dat", rp.OutputFile)
	// Keys absent from the document keep their defaults
	assert.Equal(t, 1, rp.Columns)
	assert.NoError(t, rp.Validate())
	rp.Print()
}

func TestValidate(t *testing.T) {
	good := func() *RunParameters { return NewRunParameters() }
	assert.NoError(t, good().Validate())

	rp := good()
	rp.GlobalSize = 0
	assert.Error(t, rp.Validate())

	rp = good()
	rp.NumProcs = -1
	assert.Error(t, rp.Validate())

	rp = good()
	rp.NumBlocks = rp.GlobalSize + 1
	assert.Error(t, rp.Validate())

	rp = good()
	rp.Bandwidth = -2
	assert.Error(t, rp.Validate())

	rp = good()
	rp.Triangle = "diagonal"
	assert.Error(t, rp.Validate())

	rp = good()
	rp.Columns = 0
	assert.Error(t, rp.Validate())

	rp = good()
	rp.DOFPattern = "random"
	assert.Error(t, rp.Validate())
}

func TestParseGarbage(t *testing.T) {
	rp := NewRunParameters()
	assert.Error(t, rp.Parse([]byte("Title: [unterminated")))
}

package params

import (
	"fmt"

	"github.com/ghodss/yaml"
)

// Parameters obtained from the YAML input file
type RunParameters struct {
	Title      string `yaml:"Title"`
	GlobalSize int    `yaml:"GlobalSize"`
	NumProcs   int    `yaml:"NumProcs"`
	NumBlocks  int    `yaml:"NumBlocks"`
	Bandwidth  int    `yaml:"Bandwidth"`
	Triangle   string `yaml:"Triangle"`
	Columns    int    `yaml:"Columns"`
	DOFPattern string `yaml:"DOFPattern"`
	OutputFile string `yaml:"OutputFile"`
}

// NewRunParameters returns the defaults; Parse overrides them from a YAML
// document.
func NewRunParameters() *RunParameters {
	return &RunParameters{
		Title:      "block preconditioner run",
		GlobalSize: 64,
		NumProcs:   2,
		NumBlocks:  4,
		Bandwidth:  -1,
		Triangle:   "upper",
		Columns:    1,
		DOFPattern: "contiguous",
	}
}

func (rp *RunParameters) Parse(data []byte) error {
	return yaml.Unmarshal(data, rp)
}

func (rp *RunParameters) Validate() error {
	if rp.GlobalSize < 1 {
		return fmt.Errorf("GlobalSize must be positive, got %d", rp.GlobalSize)
	}
	if rp.NumProcs < 1 {
		return fmt.Errorf("NumProcs must be positive, got %d", rp.NumProcs)
	}
	if rp.NumBlocks < 1 || rp.NumBlocks > rp.GlobalSize {
		return fmt.Errorf("NumBlocks must be in [1,%d], got %d", rp.GlobalSize, rp.NumBlocks)
	}
	if rp.Bandwidth < -1 {
		return fmt.Errorf("Bandwidth must be -1 (unlimited) or non-negative, got %d", rp.Bandwidth)
	}
	if rp.Triangle != "upper" && rp.Triangle != "lower" {
		return fmt.Errorf("Triangle must be \"upper\" or \"lower\", got %q", rp.Triangle)
	}
	if rp.Columns < 1 {
		return fmt.Errorf("Columns must be positive, got %d", rp.Columns)
	}
	if rp.DOFPattern != "contiguous" && rp.DOFPattern != "interleaved" {
		return fmt.Errorf("DOFPattern must be \"contiguous\" or \"interleaved\", got %q", rp.DOFPattern)
	}
	return nil
}

func (rp *RunParameters) Print() {
	fmt.Printf("\"%s\"\t\t= Title\n", rp.Title)
	fmt.Printf("[%d]\t\t\t= GlobalSize\n", rp.GlobalSize)
	fmt.Printf("[%d]\t\t\t= NumProcs\n", rp.NumProcs)
	fmt.Printf("[%d]\t\t\t= NumBlocks\n", rp.NumBlocks)
	fmt.Printf("[%d]\t\t\t= Bandwidth\n", rp.Bandwidth)
	fmt.Printf("[%s]\t\t\t= Triangle\n", rp.Triangle)
	fmt.Printf("[%d]\t\t\t= Columns\n", rp.Columns)
	fmt.Printf("[%s]\t\t= DOFPattern\n", rp.DOFPattern)
	if rp.OutputFile != "" {
		fmt.Printf("[%s]\t\t= OutputFile\n", rp.OutputFile)
	}
}

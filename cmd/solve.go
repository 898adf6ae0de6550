/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/james-bowman/sparse"
	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parlab/blockla/blockprec"
	"github.com/parlab/blockla/comms"
	"github.com/parlab/blockla/linalg"
	"github.com/parlab/blockla/params"
)

// SolveCmd represents the solve command
var SolveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Apply the banded block-triangular preconditioner to a model system",
	Long: `
Assembles a model block-banded system, partitions it across the requested
number of ranks, and applies the banded block-triangular preconditioner to
a unit residual, reporting the correction norm.

blockla solve -g 64 -p 4 -b 4 -w 1 -o correction.dat`,
	Run: func(cmd *cobra.Command, args []string) {
		rp := params.NewRunParameters()
		if file, _ := cmd.Flags().GetString("paramFile"); file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				fmt.Println(err)
				os.Exit(1)
			}
			if err := rp.Parse(data); err != nil {
				fmt.Println(err)
				os.Exit(1)
			}
		}
		if cmd.Flags().Changed("globalSize") {
			rp.GlobalSize, _ = cmd.Flags().GetInt("globalSize")
		}
		if cmd.Flags().Changed("procs") {
			rp.NumProcs, _ = cmd.Flags().GetInt("procs")
		}
		if cmd.Flags().Changed("blocks") {
			rp.NumBlocks, _ = cmd.Flags().GetInt("blocks")
		}
		if cmd.Flags().Changed("bandwidth") {
			rp.Bandwidth, _ = cmd.Flags().GetInt("bandwidth")
		}
		if lower, _ := cmd.Flags().GetBool("lower"); lower {
			rp.Triangle = "lower"
		}
		if cmd.Flags().Changed("output") {
			rp.OutputFile, _ = cmd.Flags().GetString("output")
		}
		if err := rp.Validate(); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		rp.Print()
		prof, _ := cmd.Flags().GetBool("profile")
		memstats, _ := cmd.Flags().GetBool("memstats")
		if err := RunSolve(rp, prof, memstats); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(SolveCmd)
	SolveCmd.Flags().StringP("paramFile", "f", "", "YAML run parameter file")
	SolveCmd.Flags().IntP("globalSize", "g", 64, "global number of unknowns")
	SolveCmd.Flags().IntP("procs", "p", 2, "number of ranks")
	SolveCmd.Flags().IntP("blocks", "b", 4, "number of DOF-type blocks")
	SolveCmd.Flags().IntP("bandwidth", "w", -1, "block bandwidth, -1 for unlimited, 0 for block Jacobi")
	SolveCmd.Flags().Bool("lower", false, "use the lower-triangular side instead of upper")
	SolveCmd.Flags().StringP("output", "o", "", "write the gathered correction to this file")
	SolveCmd.Flags().Bool("profile", false, "enable CPU profiling")
	SolveCmd.Flags().Bool("memstats", false, "report preconditioner memory statistics")
}

// RunSolve assembles the model system and applies the preconditioner once
// on every rank.
func RunSolve(rp *params.RunParameters, prof, memstats bool) error {
	if prof {
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()

	A, dofType := buildModelMatrix(rp)
	return comms.Spawn(rp.NumProcs, func(rank int, c *comms.Communicator) error {
		d, err := linalg.NewDistribution(rp.GlobalSize, c, true)
		if err != nil {
			return err
		}
		bs, err := blockprec.BuildBlockStructure(d, dofType, rp.NumBlocks)
		if err != nil {
			return err
		}
		opts := []blockprec.Option{
			blockprec.WithBandwidth(rp.Bandwidth),
			blockprec.WithLogger(logger),
		}
		if rp.Triangle == "lower" {
			opts = append(opts, blockprec.WithLowerTriangular())
		}
		if memstats {
			opts = append(opts, blockprec.WithMemoryStatistics())
		}
		prec := blockprec.NewBandedBlockTriangular(bs, rank, opts...)
		if err := prec.Setup(A); err != nil {
			return err
		}
		defer prec.CleanUpMemory()

		r, err := linalg.NewVector(d, rank, 1.0)
		if err != nil {
			return err
		}
		z, err := linalg.NewVector(d, rank, 0)
		if err != nil {
			return err
		}
		if err := prec.Solve(r, z); err != nil {
			return err
		}
		zNorm, err := z.Norm()
		if err != nil {
			return err
		}
		if rank == 0 {
			logger.Info("preconditioner applied",
				zap.Int("unknowns", rp.GlobalSize),
				zap.Int("blocks", rp.NumBlocks),
				zap.Int("bandwidth", rp.Bandwidth),
				zap.Float64("correction_norm", zNorm))
			if memstats {
				logger.Info("memory statistics",
					zap.Int("bytes", prec.MemoryUsageBytes()))
			}
		}
		if rp.OutputFile != "" {
			// The gather inside Output is collective, so every rank calls
			// it; only rank 0 writes the file.
			var w io.Writer = io.Discard
			var f *os.File
			if rank == 0 {
				if f, err = os.Create(rp.OutputFile); err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := z.Output(w); err != nil {
				return err
			}
		}
		return nil
	})
}

// buildModelMatrix assembles a diagonally dominant tridiagonal system and
// the per-unknown DOF-type assignment. The contiguous pattern yields
// nearest-neighbor block coupling; the interleaved pattern couples every
// block to every other.
func buildModelMatrix(rp *params.RunParameters) (*sparse.CSR, []int) {
	n := rp.GlobalSize
	dok := blockprec.NewDOK(n, n)
	for i := 0; i < n; i++ {
		dok.Set(i, i, 4)
		if i > 0 {
			dok.Set(i, i-1, -1)
		}
		if i < n-1 {
			dok.Set(i, i+1, -1)
		}
	}
	dofType := make([]int, n)
	for g := 0; g < n; g++ {
		if rp.DOFPattern == "interleaved" {
			dofType[g] = g % rp.NumBlocks
		} else {
			dofType[g] = g * rp.NumBlocks / n
		}
	}
	return dok.ToCSR(), dofType
}

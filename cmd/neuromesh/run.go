package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	runOut     string
	runDataset string
)

var runCmd = &cobra.Command{
	Use:   "run <input-dir>",
	Short: "Reconstruct and mesh in one step",
	Long: `Reconstruct a volume from <input-dir> and export one mesh without
keeping the dataset, unless --save-dataset is given.

Examples:
  neuromesh run ./upload --out sphere.obj
  neuromesh run ./upload --density 55 --save-dataset ./datasets/upload`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		sel, err := selectorFor(cmd, "density", cfg)
		if err != nil {
			return err
		}

		p, err := newPipeline(cfg, logger, runOut == "")
		if err != nil {
			return err
		}

		ds, warnings, err := p.Reconstruct(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if runDataset != "" {
			if err := p.Save(ds, runDataset); err != nil {
				return err
			}
		}

		res, err := p.Mesh(cmd.Context(), ds, sel, runOut)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Dataset:   %s (%s)\n", ds.ID(), ds.Metadata.VoxelSize)
		fmt.Fprintf(out, "Mesh:      %s\n", res.Path)
		if !res.Cached {
			fmt.Fprintf(out, "Density:   %s (threshold %g)\n", sel, res.Threshold)
			fmt.Fprintf(out, "Faces:     %d\n", len(res.Mesh.Faces))
		}
		printWarnings(out, append(warnings, res.Warnings...))
		return nil
	},
}

func init() {
	runCmd.Flags().String("density", "", `density selector: "mean" or a percentage 0-100 (default: config value)`)
	runCmd.Flags().StringVarP(&runOut, "out", "o", "", "output mesh file (default: mesh cache)")
	runCmd.Flags().StringVar(&runDataset, "save-dataset", "", "also save the reconstructed dataset to this directory")

	rootCmd.AddCommand(runCmd)
}

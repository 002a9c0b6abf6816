package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"neuromesh/pkg/store"
)

var meshOut string

var meshCmd = &cobra.Command{
	Use:   "mesh <dataset-dir>",
	Short: "Extract an isosurface mesh from a saved dataset",
	Long: `Extract the surface at the requested density from a dataset written by
"neuromesh reconstruct", smooth it and export it.

Without --out the mesh is stored in the cache directory and reused for
later requests with the same dataset and density.

Examples:
  neuromesh mesh ./datasets/patient1                  # mean intensity
  neuromesh mesh ./datasets/patient1 --density 40
  neuromesh mesh ./datasets/patient1 --out brain.obj`,
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

		ds, err := store.Load(args[0])
		if err != nil {
			return err
		}

		p, err := newPipeline(cfg, logger, meshOut == "")
		if err != nil {
			return err
		}
		res, err := p.Mesh(cmd.Context(), ds, sel, meshOut)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if res.Cached {
			fmt.Fprintf(out, "Mesh (cached): %s\n", res.Path)
			return nil
		}
		fmt.Fprintf(out, "Mesh:      %s\n", res.Path)
		fmt.Fprintf(out, "Density:   %s (threshold %g)\n", sel, res.Threshold)
		fmt.Fprintf(out, "Vertices:  %d\n", len(res.Mesh.Vertices))
		fmt.Fprintf(out, "Faces:     %d\n", len(res.Mesh.Faces))
		printWarnings(out, res.Warnings)
		return nil
	},
}

func init() {
	meshCmd.Flags().String("density", "", `density selector: "mean" or a percentage 0-100 (default: config value)`)
	meshCmd.Flags().StringVarP(&meshOut, "out", "o", "", "output mesh file (default: mesh cache)")

	rootCmd.AddCommand(meshCmd)
}

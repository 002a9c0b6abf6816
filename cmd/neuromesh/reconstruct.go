package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reconstructOut string

var reconstructCmd = &cobra.Command{
	Use:   "reconstruct <input-dir>",
	Short: "Build a volume from slice files and save it as a dataset",
	Long: `Scan <input-dir> and its subdirectories for slices, stack them into a
volume and write volume.npy plus metadata.json into the dataset directory.

Examples:
  neuromesh reconstruct ./upload --out ./datasets/patient1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger := newLogger(cfg)

		p, err := newPipeline(cfg, logger, false)
		if err != nil {
			return err
		}

		ds, warnings, err := p.Reconstruct(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if err := p.Save(ds, reconstructOut); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		meta := ds.Metadata
		fmt.Fprintf(out, "Dataset:    %s\n", meta.DatasetID)
		fmt.Fprintf(out, "Directory:  %s\n", ds.Dir)
		fmt.Fprintf(out, "Patient:    %s (%s)\n", meta.PatientID, meta.Modality)
		fmt.Fprintf(out, "Slices:     %d\n", meta.SliceCount)
		fmt.Fprintf(out, "Shape:      %d x %d x %d\n", meta.Shape[0], meta.Shape[1], meta.Shape[2])
		fmt.Fprintf(out, "Voxel size: %s\n", meta.VoxelSize)
		printWarnings(out, warnings)
		return nil
	},
}

func init() {
	reconstructCmd.Flags().StringVarP(&reconstructOut, "out", "o", "dataset", "dataset directory to write")

	rootCmd.AddCommand(reconstructCmd)
}

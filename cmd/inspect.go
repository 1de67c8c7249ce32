package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/andresmejia3/facereel/internal/config"
	"github.com/andresmejia3/facereel/internal/engine"
	"github.com/andresmejia3/facereel/internal/types"
	"github.com/andresmejia3/facereel/internal/utils"
	"github.com/spf13/cobra"
)

var (
	inspectSubject   string
	inspectThreshold float64
)

var inspectCmd = &cobra.Command{
	Use:         "inspect <image_path>",
	Short:       "List the faces of an image and their distance to the subject",
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{"db": dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if cmd.Flags().Changed("threshold") {
			if err := cfg.Override(func(c *config.Config) { c.Pipeline.DistanceThreshold = inspectThreshold }); err != nil {
				return err
			}
		}
		return runInspect(cmd.Context(), args[0], inspectSubject)
	},
}

func init() {
	inspectCmd.Flags().StringVarP(&inspectSubject, "subject", "r", "", "Image of the reference face")
	inspectCmd.Flags().Float64Var(&inspectThreshold, "threshold", 0, "Best-one distance threshold (default from config)")
	inspectCmd.MarkFlagRequired("subject")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(ctx context.Context, imagePath, subjectPath string) error {
	for _, p := range []string{imagePath, subjectPath} {
		if _, err := os.Stat(p); err != nil {
			utils.ShowError(os.Stderr, "Input file does not exist", err, nil)
			return err
		}
	}

	fmt.Fprintln(os.Stderr, "🚀 Starting model worker...")
	rt, err := newRuntime(ctx, nil, types.Discard)
	if err != nil {
		utils.ShowError(os.Stderr, "Failed to start model worker", err, nil)
		return err
	}
	defer rt.Close()

	fmt.Fprintln(os.Stderr, "🔍 Analyzing faces...")
	found, err := rt.runner.Inspect(ctx, imagePath, subjectPath)
	if err != nil {
		utils.ShowError(os.Stderr, "Inspection failed", err, nil)
		return err
	}

	if len(found) == 0 {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}
	fmt.Println(renderInspections(found, cfg.Pipeline.DistanceThreshold))
	return nil
}

func renderInspections(found []engine.Inspection, threshold float64) string {
	rows := make([][]string, 0, len(found))
	for i, f := range found {
		mark := ""
		if f.Accepted {
			mark = "✅"
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			f.Box.String(),
			strconv.FormatFloat(f.Distance, 'f', 2, 64),
			mark,
		})
	}
	return renderTable(
		[]string{"#", "BOX", "DISTANCE", fmt.Sprintf("BEST (< %.2f)", threshold)},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft},
	)
}

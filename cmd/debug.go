package cmd

import (
	"github.com/spf13/cobra"
)

var debugOpts Options

var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Outline every detected face with its distance to the subject instead of swapping",
	Long: "Runs the configured chain with the face swapper replaced by an overlay that draws each detected face.\n" +
		"Faces the selection policy would swap are outlined in green, the rest in red.",
	Annotations: map[string]string{"db": dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runConversion(cmd.Context(), cmd.Flags(), debugOpts, true)
	},
}

func init() {
	addConversionFlags(debugCmd, &debugOpts)
	rootCmd.AddCommand(debugCmd)
}

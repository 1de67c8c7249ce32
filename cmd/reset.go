package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/andresmejia3/facereel/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetDB     bool
	resetFrames bool
	resetModels bool
	resetYes    bool
)

var resetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Reset state (run history, kept frames, downloaded models)",
	Long:        "Clears run history and kept frame workspaces. Use flags to clear specific components; models are only removed with --models.",
	Annotations: map[string]string{"db": dbOptional},
	Run: func(cmd *cobra.Command, args []string) {
		// With no flags, clear history and frames
		if !resetDB && !resetFrames && !resetModels {
			resetDB = true
			resetFrames = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetDB {
			if DB == nil {
				fmt.Println("ℹ️  No database configured, skipping run history.")
			} else if resetYes || confirm(reader, os.Stdout, "⚠️  Are you sure you want to DROP all run history tables?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.Die("Failed to reset database", err, nil)
				}
			}
		}

		if resetFrames {
			if resetYes || confirm(reader, os.Stdout, fmt.Sprintf("⚠️  Are you sure you want to delete all frame workspaces in %s?", cfg.Paths.TempDir)) {
				fmt.Println("🗑️  Clearing Frame Workspaces...")
				removeDir(cfg.Paths.TempDir)
			}
		}

		if resetModels {
			if resetYes || confirm(reader, os.Stdout, fmt.Sprintf("⚠️  Are you sure you want to delete all downloaded models in %s?", cfg.Models.Dir)) {
				fmt.Println("🗑️  Clearing Models...")
				removeDir(cfg.Models.Dir)
			}
		}

		fmt.Println("✨ Reset Complete.")
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "history", false, "Clear PostgreSQL run history")
	resetCmd.Flags().BoolVar(&resetFrames, "frames", false, "Clear kept frame workspaces")
	resetCmd.Flags().BoolVar(&resetModels, "models", false, "Clear downloaded model files")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, w io.Writer, prompt string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if path == "" || path == "/" {
		fmt.Fprintf(os.Stderr, "⚠️  Refusing to remove %q\n", path)
		return
	}
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}

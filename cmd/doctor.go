package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/andresmejia3/facereel/internal/processor"
	"github.com/andresmejia3/facereel/internal/utils"
	"github.com/spf13/cobra"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check external tools, the model worker script and model files",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runDoctor()
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

// requirements lists the binaries a conversion shells out to.
func requirements() []utils.Requirement {
	return []utils.Requirement{
		{Name: "ffmpeg", Command: cfg.Video.FFmpeg, Description: "frame extraction and video assembly"},
		{Name: "ffprobe", Command: cfg.Video.FFprobe, Description: "video inspection"},
		{Name: "python", Command: cfg.Models.Python, Description: "model worker runtime"},
	}
}

// modelRow reports whether a processor's model file is present in the model dir.
type modelRow struct {
	Processor string
	File      string
	Present   bool
}

func modelStatus(dir string, names []string) []modelRow {
	var rows []modelRow
	for _, name := range names {
		desc, ok := processor.Describe(name)
		if !ok {
			continue
		}
		for _, m := range desc.Models {
			info, err := os.Stat(filepath.Join(dir, m.Name))
			rows = append(rows, modelRow{
				Processor: name,
				File:      m.Name,
				Present:   err == nil && info.Size() > 0,
			})
		}
	}
	return rows
}

func runDoctor() error {
	statuses := utils.CheckBinaries(requirements())

	rows := make([][]string, 0, len(statuses)+1)
	for _, s := range statuses {
		state := "✅ ok"
		if !s.Available {
			state = "❌ " + s.Detail
		}
		rows = append(rows, []string{s.Name, s.Command, s.Description, state})
	}
	script := "✅ ok"
	if _, err := os.Stat(cfg.Models.Script); err != nil {
		script = "❌ not found"
	}
	rows = append(rows, []string{"worker script", cfg.Models.Script, "python model server", script})
	fmt.Println(renderTable([]string{"TOOL", "COMMAND", "PURPOSE", "STATUS"}, rows, nil))

	models := modelStatus(cfg.Models.Dir, processor.Known())
	mrows := make([][]string, 0, len(models))
	for _, m := range models {
		state := "✅ present"
		if !m.Present {
			state = "⬇️  missing"
			if cfg.Models.Download {
				state += " (downloaded on first run)"
			}
		}
		mrows = append(mrows, []string{m.Processor, m.File, state})
	}
	fmt.Printf("\nModels in %s\n", cfg.Models.Dir)
	fmt.Println(renderTable([]string{"PROCESSOR", "FILE", "STATUS"}, mrows, nil))

	fmt.Printf("\nBackend %s, %d workers, selection %s (threshold %.2f)\n",
		cfg.Pipeline.ExecutionBackend, cfg.Pipeline.Workers, cfg.Pipeline.SelectionPolicy, cfg.Pipeline.DistanceThreshold)

	return utils.MissingRequired(statuses)
}

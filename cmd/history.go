package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/facereel/internal/store"
	"github.com/andresmejia3/facereel/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:         "history [run_id]",
	Short:       "List recent runs, or the failed frames of one run",
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{"db": dbRequired},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if len(args) == 1 {
			return runFailures(cmd.Context(), args[0])
		}
		return runHistory(cmd.Context(), historyLimit)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of runs to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(ctx context.Context, limit int) error {
	runs, err := DB.ListRuns(ctx, limit)
	if err != nil {
		utils.ShowError(os.Stderr, "Failed to list runs", err, nil)
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}
	fmt.Println(renderRuns(runs))
	return nil
}

func renderRuns(runs []store.Run) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID.String()[:8],
			r.StartedAt.Local().Format("2006-01-02 15:04"),
			r.Status,
			r.Target,
			strconv.Itoa(r.Frames),
			strconv.Itoa(r.Failed),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String(),
		})
	}
	return renderTable(
		[]string{"ID", "STARTED", "STATUS", "TARGET", "FRAMES", "FAILED", "TOOK"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
	)
}

func runFailures(ctx context.Context, arg string) error {
	id, err := resolveRunID(ctx, arg)
	if err != nil {
		utils.ShowError(os.Stderr, "Unknown run", err, nil)
		return err
	}
	failures, err := DB.RunFailures(ctx, id)
	if err != nil {
		utils.ShowError(os.Stderr, "Failed to load run failures", err, nil)
		return err
	}
	if len(failures) == 0 {
		fmt.Printf("Run %s has no failed frames.\n", id)
		return nil
	}
	rows := make([][]string, 0, len(failures))
	for _, f := range failures {
		rows = append(rows, []string{f.Processor, strconv.Itoa(f.Index), f.Reason})
	}
	fmt.Println(renderTable([]string{"PROCESSOR", "FRAME", "REASON"}, rows, []columnAlignment{alignLeft, alignRight, alignLeft}))
	return nil
}

// resolveRunID accepts a full run ID or the short prefix shown by history.
func resolveRunID(ctx context.Context, arg string) (uuid.UUID, error) {
	if id, err := uuid.Parse(arg); err == nil {
		return id, nil
	}
	runs, err := DB.ListRuns(ctx, 1000)
	if err != nil {
		return uuid.Nil, err
	}
	return matchRunPrefix(runs, arg)
}

func matchRunPrefix(runs []store.Run, prefix string) (uuid.UUID, error) {
	var match uuid.UUID
	n := 0
	for _, r := range runs {
		if prefix != "" && strings.HasPrefix(r.ID.String(), prefix) {
			match = r.ID
			n++
		}
	}
	switch n {
	case 0:
		return uuid.Nil, fmt.Errorf("no run matches %q", prefix)
	case 1:
		return match, nil
	}
	return uuid.Nil, fmt.Errorf("%q matches %d runs, use more characters", prefix, n)
}

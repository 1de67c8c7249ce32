package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andresmejia3/facereel/internal/config"
	"github.com/andresmejia3/facereel/internal/engine"
	"github.com/andresmejia3/facereel/internal/media"
	"github.com/andresmejia3/facereel/internal/processor"
	"github.com/andresmejia3/facereel/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Options holds the flags shared by the swap and debug commands.
type Options struct {
	SourcePath  string
	TargetPath  string
	SubjectPath string
	OutputPath  string
	Policy      string
	Threshold   float64
	Workers     int
	Backend     string
	Processors  []string
	Scope       string
	KeepFrames  bool
	ReuseFrames bool
	NoAssemble  bool
}

var swapOpts Options

var swapCmd = &cobra.Command{
	Use:         "swap",
	Short:       "Swap the subject's face in an image or video with the source face",
	Annotations: map[string]string{"db": dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runConversion(cmd.Context(), cmd.Flags(), swapOpts, false)
	},
}

func init() {
	addConversionFlags(swapCmd, &swapOpts)
	rootCmd.AddCommand(swapCmd)
}

func addConversionFlags(cmd *cobra.Command, opts *Options) {
	cmd.Flags().StringVarP(&opts.SourcePath, "source", "s", "", "Image holding the face to paste in")
	cmd.Flags().StringVarP(&opts.TargetPath, "target", "t", "", "Image or video to process")
	cmd.Flags().StringVarP(&opts.SubjectPath, "subject", "r", "", "Image of the face to replace (reference)")
	cmd.Flags().StringVarP(&opts.OutputPath, "output", "o", "", "Output path (default: <target>-facereel.<ext> next to the target)")
	cmd.Flags().StringVarP(&opts.Policy, "policy", "p", "", "Selection policy: best-one, all, none")
	cmd.Flags().Float64Var(&opts.Threshold, "threshold", 0, "Best-one distance threshold (exclusive)")
	cmd.Flags().IntVarP(&opts.Workers, "workers", "w", 0, "Parallel workers (0 = from config)")
	cmd.Flags().StringVar(&opts.Backend, "backend", "", "Execution backend: cpu, cuda, rocm, directml, coreml, openvino")
	cmd.Flags().StringSliceVar(&opts.Processors, "processors", nil, fmt.Sprintf("Ordered processor chain (known: %s)", strings.Join(processor.Known(), ", ")))
	cmd.Flags().StringVar(&opts.Scope, "enhance-scope", "", "Enhancer scope: off, faces, best-face, all")
	cmd.Flags().BoolVar(&opts.KeepFrames, "keep-frames", false, "Keep extracted frames after the run")
	cmd.Flags().BoolVar(&opts.ReuseFrames, "reuse-frames", false, "Process frames kept by a previous run instead of extracting")
	cmd.Flags().BoolVar(&opts.NoAssemble, "no-assemble", false, "Stop after processing frames; do not build the output video")

	cmd.MarkFlagRequired("source")
	cmd.MarkFlagRequired("target")
	cmd.MarkFlagRequired("subject")
}

// validateOptions checks paths and fills in the default output.
func validateOptions(opts *Options) error {
	for _, p := range []struct{ name, path string }{
		{"source", opts.SourcePath},
		{"target", opts.TargetPath},
		{"subject", opts.SubjectPath},
	} {
		if p.path == "" {
			continue
		}
		info, err := os.Stat(p.path)
		if err != nil {
			return fmt.Errorf("%s file: %w", p.name, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%s path %s is a directory", p.name, p.path)
		}
	}
	if opts.SubjectPath == "" {
		return fmt.Errorf("%w: --subject is required", engine.ErrNoReferenceFace)
	}
	if !media.IsImage(opts.SourcePath) {
		return fmt.Errorf("%w: %s", processor.ErrSourceNotImage, opts.SourcePath)
	}
	if !media.IsImage(opts.TargetPath) && !media.IsVideo(opts.TargetPath) {
		return fmt.Errorf("%w: %s", processor.ErrUnsupportedTarget, opts.TargetPath)
	}
	if opts.ReuseFrames && !media.IsVideo(opts.TargetPath) {
		return errors.New("--reuse-frames only applies to video targets")
	}
	if opts.OutputPath == "" {
		opts.OutputPath = defaultOutputPath(opts.TargetPath)
	}
	if filepath.Ext(opts.OutputPath) == "" {
		opts.OutputPath += filepath.Ext(opts.TargetPath)
	}
	if utils.SamePath(opts.OutputPath, opts.TargetPath) {
		return fmt.Errorf("%w: %s", engine.ErrOutputIsTarget, opts.OutputPath)
	}
	return nil
}

func defaultOutputPath(target string) string {
	ext := filepath.Ext(target)
	return strings.TrimSuffix(target, ext) + "-facereel" + ext
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(c *config.Config, flags *pflag.FlagSet, opts Options) {
	if flags.Changed("policy") {
		c.Pipeline.SelectionPolicy = opts.Policy
	}
	if flags.Changed("threshold") {
		c.Pipeline.DistanceThreshold = opts.Threshold
	}
	if flags.Changed("backend") {
		c.Pipeline.ExecutionBackend = opts.Backend
		if !flags.Changed("workers") {
			c.Pipeline.Workers = 0
		}
	}
	if flags.Changed("workers") {
		c.Pipeline.Workers = opts.Workers
	}
	if flags.Changed("processors") {
		c.Pipeline.Processors = opts.Processors
	}
	if flags.Changed("enhance-scope") {
		c.Pipeline.EnhanceScope = opts.Scope
	}
	if opts.KeepFrames {
		c.Pipeline.KeepFrames = true
	}
}

// debugChain replaces the swapper with its debug variant, keeping its position.
func debugChain(names []string) []string {
	out := make([]string, 0, len(names)+1)
	found := false
	for _, n := range names {
		if n == processor.SwapperName {
			n = processor.DebugSwapperName
		}
		if n == processor.DebugSwapperName {
			if found {
				continue
			}
			found = true
		}
		out = append(out, n)
	}
	if !found {
		out = append([]string{processor.DebugSwapperName}, out...)
	}
	return out
}

func runConversion(ctx context.Context, flags *pflag.FlagSet, opts Options, debug bool) error {
	if err := validateOptions(&opts); err != nil {
		utils.ShowError(os.Stderr, "Invalid arguments", err, nil)
		return err
	}
	if err := cfg.Override(func(c *config.Config) { applyFlags(c, flags, opts) }); err != nil {
		utils.ShowError(os.Stderr, "Invalid configuration", err, nil)
		return err
	}

	names := cfg.Pipeline.Processors
	if debug {
		names = debugChain(names)
	}

	statuses := utils.CheckBinaries(requirements())
	if err := utils.MissingRequired(statuses); err != nil {
		utils.ShowError(os.Stderr, "Environment check failed", err, nil)
		return err
	}

	bar := newProgress(os.Stderr, logger.Named("progress"))
	rt, err := newRuntime(ctx, names, bar)
	if err != nil {
		utils.ShowError(os.Stderr, "Failed to set up processors", err, nil)
		return err
	}
	defer rt.Close()

	fmt.Fprintf(os.Stderr, "⚙️  %s → %s with [%s] on %d workers (%s)\n",
		opts.TargetPath, opts.OutputPath, strings.Join(names, ", "), cfg.Pipeline.Workers, cfg.Pipeline.ExecutionBackend)

	rep, err := rt.runner.Run(ctx, engine.Request{
		Source:      opts.SourcePath,
		Target:      opts.TargetPath,
		Subject:     opts.SubjectPath,
		Output:      opts.OutputPath,
		ReuseFrames: opts.ReuseFrames,
		NoAssemble:  opts.NoAssemble,
	})
	bar.Finish()

	if len(rep.Summaries) > 0 {
		fmt.Fprintln(os.Stderr, renderSummary(rep))
	}
	for _, w := range rep.Warnings {
		fmt.Fprintf(os.Stderr, "⚠️  %s\n", w)
	}
	if err != nil {
		utils.ShowError(os.Stderr, conversionErrorContext(err), err, nil)
		return err
	}

	fmt.Fprintf(os.Stderr, "🏁 Done in %s. Output: %s\n", rep.Elapsed.Round(time.Millisecond), rep.Output)
	return nil
}

func conversionErrorContext(err error) string {
	var fe *engine.FatalError
	switch {
	case errors.Is(err, context.Canceled):
		return "Conversion interrupted"
	case errors.As(err, &fe) && fe.Processor != "":
		return fmt.Sprintf("Conversion aborted at %s (%s)", fe.Stage, fe.Processor)
	case errors.As(err, &fe):
		return fmt.Sprintf("Conversion aborted at %s", fe.Stage)
	}
	return "Conversion failed"
}

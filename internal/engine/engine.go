// Package engine runs one conversion end to end: pre-checks, reference face, frame
// decomposition, the processor chain, recomposition and artifact validation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/facereel/internal/config"
	"github.com/andresmejia3/facereel/internal/face"
	"github.com/andresmejia3/facereel/internal/frames"
	"github.com/andresmejia3/facereel/internal/media"
	"github.com/andresmejia3/facereel/internal/metrics"
	"github.com/andresmejia3/facereel/internal/models"
	"github.com/andresmejia3/facereel/internal/pipeline"
	"github.com/andresmejia3/facereel/internal/processor"
	"github.com/andresmejia3/facereel/internal/store"
	"github.com/andresmejia3/facereel/internal/types"
	"github.com/andresmejia3/facereel/internal/utils"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// Run statuses recorded in history and metrics.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// classifySamples bounds how many frames of a video the content classifier sees.
const classifySamples = 5

// History persists finished runs and caches reference embeddings. *store.Store implements it.
type History interface {
	RecordRun(ctx context.Context, run store.Run, batches []types.BatchSummary) (uuid.UUID, error)
	LookupReference(ctx context.Context, mediaID string) (types.Embedding, error)
	SaveReference(ctx context.Context, mediaID, path string, emb types.Embedding) error
}

// Deps are the collaborators of a Runner. History, Metrics, Log and Sink are optional.
type Deps struct {
	Config   *config.Config
	Registry *processor.Registry
	Models   *models.Set
	Codec    media.Codec
	History  History
	Metrics  *metrics.Recorder
	Log      hclog.Logger
	Sink     types.Sink
}

// Request names the files of one conversion.
type Request struct {
	Source  string
	Target  string
	Subject string
	Output  string
	// ReuseFrames skips extraction and processes the frames a previous run kept.
	ReuseFrames bool
	// NoAssemble stops after the processor chain and leaves the frames in the workspace.
	NoAssemble bool
}

// Report describes a finished run.
type Report struct {
	ID        uuid.UUID
	Status    string
	Output    string
	Video     bool
	Frames    int
	Summaries []types.BatchSummary
	Warnings  []string
	Elapsed   time.Duration
}

// Failed sums the failed frames over every processor.
func (r Report) Failed() int {
	n := 0
	for _, s := range r.Summaries {
		n += s.Failed
	}
	return n
}

// Runner executes conversions. It is safe to call Run sequentially; concurrent runs on the
// same target are rejected by the workspace lock.
type Runner struct {
	cfg      *config.Config
	registry *processor.Registry
	models   *models.Set
	codec    media.Codec
	history  History
	metrics  *metrics.Recorder
	log      hclog.Logger
	sink     types.Sink
}

func NewRunner(d Deps) *Runner {
	if d.Log == nil {
		d.Log = hclog.NewNullLogger()
	}
	if d.Sink == nil {
		d.Sink = types.Discard
	}
	return &Runner{
		cfg:      d.Config,
		registry: d.Registry,
		models:   d.Models,
		codec:    d.Codec,
		history:  d.History,
		metrics:  d.Metrics,
		log:      d.Log,
		sink:     d.Sink,
	}
}

// Run converts req.Target into req.Output. Per-frame failures are reported in the summaries;
// the returned error is non-nil only for fatal stages, cancellation or an invalid artifact.
func (r *Runner) Run(ctx context.Context, req Request) (rep Report, err error) {
	start := time.Now()
	rep = Report{ID: uuid.New(), Output: req.Output, Video: media.IsVideo(req.Target)}
	chain := r.registry.Snapshot()
	log := r.log.With("run", rep.ID.String())

	defer func() {
		rep.Elapsed = time.Since(start)
		rep.Status = statusOf(err)
		r.metrics.ObserveRun(rep.Status, rep.Elapsed)
		r.record(req, rep, chain, start)
		if err != nil {
			log.Error("run failed", "status", rep.Status, "error", err)
		} else {
			log.Info("run finished", "output", rep.Output, "frames", rep.Frames, "failed", rep.Failed(), "elapsed", rep.Elapsed.Round(time.Millisecond))
		}
	}()

	if len(chain) == 0 {
		return rep, fatal(StageEnvironment, "", ErrNoProcessors)
	}
	if err := r.precheck(ctx, chain, req); err != nil {
		return rep, err
	}
	ref, err := r.reference(ctx, req.Subject)
	if err != nil {
		return rep, fatal(StageReference, "", err)
	}

	if rep.Video {
		err = r.runVideo(ctx, req, chain, ref, &rep, log)
	} else {
		err = r.runImage(ctx, req, chain, ref, &rep, log)
	}
	return rep, err
}

// precheck validates every processor's environment and then its inputs, in chain order.
func (r *Runner) precheck(ctx context.Context, chain []processor.Processor, req Request) error {
	if !media.IsImage(req.Target) && !media.IsVideo(req.Target) {
		return fatal(StageInputs, "", fmt.Errorf("%w: %s", processor.ErrUnsupportedTarget, req.Target))
	}
	if _, err := os.Stat(req.Target); err != nil {
		return fatal(StageInputs, "", fmt.Errorf("target: %w", err))
	}
	if utils.SamePath(req.Target, req.Output) {
		return fatal(StageInputs, "", fmt.Errorf("%w: %s", ErrOutputIsTarget, req.Output))
	}
	for _, p := range chain {
		if err := p.ValidateEnvironment(ctx); err != nil {
			return fatal(StageEnvironment, p.Descriptor().Name, err)
		}
	}
	in := processor.Inputs{SourcePath: req.Source, TargetPath: req.Target}
	for _, p := range chain {
		if err := p.ValidateInputs(ctx, in); err != nil {
			return fatal(StageInputs, p.Descriptor().Name, err)
		}
	}
	return nil
}

// reference computes the subject embedding once for the run. It never returns a nil
// embedding without an error.
func (r *Runner) reference(ctx context.Context, subject string) (types.Embedding, error) {
	if subject == "" {
		return nil, fmt.Errorf("%w: no subject image given", ErrNoReferenceFace)
	}
	if !media.IsImage(subject) {
		return nil, fmt.Errorf("%w: subject %s is not an image", ErrNoReferenceFace, subject)
	}

	mediaID := ""
	if r.history != nil {
		if id, err := utils.GenerateMediaID(subject); err == nil {
			mediaID = id
			emb, err := r.history.LookupReference(ctx, mediaID)
			if err != nil {
				r.log.Warn("reference cache lookup failed", "error", err)
			} else if len(emb) > 0 {
				r.log.Debug("reference embedding from cache", "subject", subject)
				return emb, nil
			}
		}
	}

	img, err := frames.Decode(subject)
	if err != nil {
		return nil, fmt.Errorf("decode subject %s: %w", subject, err)
	}
	det, err := r.models.Detector.Get(ctx)
	if err != nil {
		return nil, err
	}
	ref, ok, err := face.NewLocator(det).Reference(ctx, img)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoReferenceFace, subject)
	}

	if mediaID != "" {
		if err := r.history.SaveReference(ctx, mediaID, subject, ref); err != nil {
			r.log.Warn("reference cache save failed", "error", err)
		}
	}
	return ref, nil
}

// checkContent runs the classifier over the frames load yields. Any positive result aborts the run.
func (r *Runner) checkContent(ctx context.Context, load func(yield func(*types.Frame) error) error) error {
	if !r.cfg.Safety.ContentCheck {
		return nil
	}
	cls, err := r.models.Classifier.Get(ctx)
	if err != nil {
		return fatal(StageSafety, "", fmt.Errorf("load classifier: %w", err))
	}
	err = load(func(f *types.Frame) error {
		unsafe, err := cls.IsUnsafe(ctx, f.Image)
		if err != nil {
			return err
		}
		if unsafe {
			return fmt.Errorf("%w (frame %d)", ErrUnsafeContent, f.Index)
		}
		return nil
	})
	if err != nil {
		return fatal(StageSafety, "", err)
	}
	return nil
}

func (r *Runner) newPipeline() *pipeline.Pipeline {
	sched := pipeline.NewScheduler(pipeline.Options{
		Workers: r.cfg.Pipeline.Workers,
		Log:     r.log.Named("pipeline"),
		Sink:    r.sink,
		Metrics: r.metrics,
	})
	return pipeline.New(sched, r.models, r.log.Named("pipeline"))
}

func (r *Runner) runImage(ctx context.Context, req Request, chain []processor.Processor, ref types.Embedding, rep *Report, log hclog.Logger) error {
	target := frames.NewSingleFile(req.Target, r.cfg.Pipeline.FrameQuality)
	err := r.checkContent(ctx, func(yield func(*types.Frame) error) error {
		refs, err := target.Refs()
		if err != nil {
			return err
		}
		f, err := target.Load(ctx, refs[0])
		if err != nil {
			return err
		}
		return yield(f)
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(req.Output), 0o755); err != nil {
		return fatal(StageInputs, "", fmt.Errorf("create output dir: %w", err))
	}
	if err := media.CopyFile(req.Target, req.Output); err != nil {
		return fatal(StageInputs, "", fmt.Errorf("copy target to output: %w", err))
	}

	log.Info("processing image", "target", req.Target, "processors", r.registry.Enabled())
	sums, err := r.newPipeline().Execute(ctx, frames.NewSingleFile(req.Output, r.cfg.Pipeline.FrameQuality), chain, ref)
	rep.Summaries = sums
	rep.Frames = 1
	if err != nil {
		_ = os.Remove(req.Output)
		return fatal(StageProcess, "", err)
	}

	if err := validateImage(req.Output); err != nil {
		return fatal(StageValidate, "", err)
	}
	return nil
}

func (r *Runner) runVideo(ctx context.Context, req Request, chain []processor.Processor, ref types.Embedding, rep *Report, log hclog.Logger) (err error) {
	mediaID, err := utils.GenerateMediaID(req.Target)
	if err != nil {
		return fatal(StageInputs, "", err)
	}
	dir := frames.WorkspaceDir(r.cfg.Paths.TempDir, req.Target, mediaID)
	ds, err := frames.OpenDisk(dir, r.cfg.Pipeline.FrameFormat, r.cfg.Pipeline.FrameQuality, r.log.Named("frames"))
	if err != nil {
		return fatal(StageExtract, "", err)
	}
	keep := r.cfg.Pipeline.KeepFrames || req.NoAssemble
	defer func() {
		// Interrupted runs never leave partial frames behind.
		if keep && ctx.Err() == nil {
			ds.Close()
			return
		}
		if cerr := ds.Cleanup(); cerr != nil {
			log.Warn("frame workspace cleanup failed", "error", cerr)
		}
	}()

	info, err := r.codec.Probe(ctx, req.Target)
	if err != nil {
		return fatal(StageExtract, "", err)
	}
	fps, retimed := info.FPS, false
	if t := r.cfg.Video.TargetFPS; t > 0 && t != info.FPS {
		fps, retimed = t, true
	}

	if req.ReuseFrames {
		refs, err := ds.Refs()
		if err != nil {
			return fatal(StageExtract, "", err)
		}
		if len(refs) == 0 {
			return fatal(StageExtract, "", fmt.Errorf("%w: nothing to reuse in %s", frames.ErrEmpty, dir))
		}
		rep.Frames = len(refs)
		log.Info("reusing extracted frames", "dir", dir, "frames", len(refs))
	} else {
		if err := ds.Clear(); err != nil {
			return fatal(StageExtract, "", err)
		}
		opts := media.ExtractOptions{Format: ds.Format(), Quality: r.cfg.Pipeline.FrameQuality}
		if retimed {
			opts.FPS = fps
		}
		log.Info("extracting frames", "target", req.Target, "fps", fps, "format", ds.Format())
		n, err := r.codec.ExtractFrames(ctx, req.Target, ds, opts)
		if err != nil {
			return fatal(StageExtract, "", err)
		}
		rep.Frames = n
		r.sink.Emit(types.Event{Stage: StageExtract, Completed: n, Total: n})
	}

	err = r.checkContent(ctx, func(yield func(*types.Frame) error) error {
		refs, err := ds.Refs()
		if err != nil {
			return err
		}
		for _, fr := range sampleRefs(refs, classifySamples) {
			f, err := ds.Load(ctx, fr)
			if err != nil {
				return err
			}
			if err := yield(f); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	sums, err := r.newPipeline().Execute(ctx, ds, chain, ref)
	rep.Summaries = sums
	if err != nil {
		return fatal(StageProcess, "", err)
	}

	if req.NoAssemble {
		rep.Output = ds.Dir()
		log.Info("frames left in workspace", "dir", ds.Dir())
		return nil
	}

	tmp := media.TempVideoPath(ds.Dir(), req.Output)
	log.Info("assembling video", "fps", fps, "codec", r.cfg.Video.Codec)
	err = r.codec.AssembleVideo(ctx, media.AssembleOptions{
		Pattern:     ds.Pattern(),
		StartNumber: frames.FirstIndex,
		FPS:         fps,
		Codec:       r.cfg.Video.Codec,
		Quality:     r.cfg.Video.Quality,
		Output:      tmp,
	})
	if err != nil {
		return fatal(StageAssemble, "", err)
	}
	r.sink.Emit(types.Event{Stage: StageAssemble, Completed: 1, Total: 1})

	warnings, err := media.Finalize(ctx, r.codec, media.FinalizeOptions{
		Original:     req.Target,
		Video:        tmp,
		Output:       req.Output,
		RestoreAudio: r.cfg.Video.RestoreAudio && info.HasAudio,
		Retimed:      retimed,
	}, r.log.Named("media"))
	rep.Warnings = append(rep.Warnings, warnings...)
	if err != nil {
		_ = os.Remove(req.Output)
		return fatal(StageAssemble, "", err)
	}

	if err := r.validateVideo(ctx, req.Output); err != nil {
		return fatal(StageValidate, "", err)
	}
	return nil
}

// sampleRefs picks up to n refs spread evenly over the sequence, always including the first.
func sampleRefs(refs []types.FrameRef, n int) []types.FrameRef {
	if len(refs) <= n {
		return refs
	}
	out := make([]types.FrameRef, 0, n)
	step := float64(len(refs)) / float64(n)
	for i := 0; i < n; i++ {
		out = append(out, refs[int(float64(i)*step)])
	}
	return out
}

func validateImage(path string) error {
	if err := media.ValidateArtifact(path); err != nil {
		return err
	}
	if _, err := frames.Decode(path); err != nil {
		return fmt.Errorf("%w: %s is not a readable image: %v", media.ErrEmptyArtifact, path, err)
	}
	return nil
}

func (r *Runner) validateVideo(ctx context.Context, path string) error {
	if err := media.ValidateArtifact(path); err != nil {
		return err
	}
	if _, err := r.codec.Probe(ctx, path); err != nil {
		return fmt.Errorf("%w: %s is not a readable video: %v", media.ErrEmptyArtifact, path, err)
	}
	return nil
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, pipeline.ErrCancelled), errors.Is(err, context.Canceled):
		return StatusCancelled
	}
	return StatusFailed
}

// record saves the run to history. The run context may already be cancelled.
func (r *Runner) record(req Request, rep Report, chain []processor.Processor, start time.Time) {
	if r.history == nil {
		return
	}
	names := make([]string, 0, len(chain))
	for _, p := range chain {
		names = append(names, p.Descriptor().Name)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := r.history.RecordRun(ctx, store.Run{
		ID:         rep.ID,
		Source:     req.Source,
		Target:     req.Target,
		Output:     rep.Output,
		Status:     rep.Status,
		Processors: names,
		Frames:     rep.Frames,
		Failed:     rep.Failed(),
		Warnings:   rep.Warnings,
		StartedAt:  start,
		FinishedAt: start.Add(rep.Elapsed),
	}, rep.Summaries)
	if err != nil {
		r.log.Warn("failed to record run history", "error", err)
	}
}

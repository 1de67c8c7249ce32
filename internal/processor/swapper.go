package processor

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/andresmejia3/facereel/internal/face"
	"github.com/andresmejia3/facereel/internal/frames"
	"github.com/andresmejia3/facereel/internal/media"
	"github.com/andresmejia3/facereel/internal/types"
	"github.com/hashicorp/go-hclog"
)

const SwapperName = "face_swapper"

var errSourceNotReady = errors.New("source face not prepared; ValidateInputs must run first")

// Swapper replaces the selected faces of each frame with the source face.
type Swapper struct {
	rc     *RunContext
	log    hclog.Logger
	source atomic.Pointer[types.SourceFace]
}

func NewSwapper(rc *RunContext) Processor {
	return &Swapper{rc: rc, log: rc.logger(SwapperName)}
}

func (s *Swapper) Descriptor() Descriptor {
	return Descriptor{
		Name: SwapperName,
		Models: []ModelFile{{
			Name: "inswapper_128.onnx",
			URL:  "https://huggingface.co/hacksider/deep-live-cam/resolve/main/inswapper_128.onnx",
		}},
		AcceptsImage: true,
		AcceptsVideo: true,
	}
}

func (s *Swapper) ValidateEnvironment(ctx context.Context) error {
	if err := ensureModels(ctx, s.rc, s.Descriptor(), s.log); err != nil {
		return err
	}
	if _, err := s.rc.Models.Detector.Get(ctx); err != nil {
		return fmt.Errorf("load detector: %w", err)
	}
	if _, err := s.rc.Models.Swapper.Get(ctx); err != nil {
		return fmt.Errorf("load swapper: %w", err)
	}
	return nil
}

// ValidateInputs checks the target kind and extracts the source face once for the run.
func (s *Swapper) ValidateInputs(ctx context.Context, in Inputs) error {
	if err := checkTarget(s.Descriptor(), in.TargetPath); err != nil {
		return err
	}
	src, err := loadSourceFace(ctx, s.rc, in.SourcePath)
	if err != nil {
		return err
	}
	s.source.Store(src)
	s.log.Debug("source face ready", "box", src.Candidate.Box)
	return nil
}

func (s *Swapper) TransformFrame(ctx context.Context, ref types.Embedding, f *types.Frame) (types.Outcome, error) {
	settings := s.rc.Settings
	if settings.Policy == types.NoFaces {
		return types.Success, nil
	}
	src := s.source.Load()
	if src == nil {
		return types.Failed, errSourceNotReady
	}
	det, err := s.rc.Models.Detector.Get(ctx)
	if err != nil {
		return types.Failed, err
	}
	swp, err := s.rc.Models.Swapper.Get(ctx)
	if err != nil {
		return types.Failed, err
	}

	cands, err := face.NewLocator(det).Locate(ctx, f.Image)
	if err != nil {
		return types.Failed, err
	}
	targets := face.Select(cands, ref, settings.Policy, settings.Threshold)
	if len(targets) == 0 {
		return types.SkippedNoFace, nil
	}

	// The frame is only replaced once every target swapped, so a failure leaves it untouched.
	out := f.Image
	for _, t := range targets {
		next, err := swp.Swap(ctx, *src, t.Box, out)
		if err != nil {
			return types.Failed, fmt.Errorf("swap face %s: %w", t.Box, err)
		}
		if next == nil || next.Bounds().Size() != out.Bounds().Size() {
			return types.Failed, fmt.Errorf("swap face %s: model returned a frame of a different size", t.Box)
		}
		out = next
	}
	f.Image = out
	f.Modified = true
	return types.Success, nil
}

func checkTarget(desc Descriptor, target string) error {
	switch {
	case media.IsImage(target) && desc.AcceptsImage:
		return nil
	case media.IsVideo(target) && desc.AcceptsVideo:
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedTarget, target)
}

// loadSourceFace decodes the source image and picks its left-most face.
func loadSourceFace(ctx context.Context, rc *RunContext, path string) (*types.SourceFace, error) {
	if !media.IsImage(path) {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotImage, path)
	}
	img, err := frames.Decode(path)
	if err != nil {
		return nil, fmt.Errorf("decode source %s: %w", path, err)
	}
	det, err := rc.Models.Detector.Get(ctx)
	if err != nil {
		return nil, err
	}
	cands, err := face.NewLocator(det).Locate(ctx, img)
	if err != nil {
		return nil, err
	}
	c, ok := face.LeftMost(cands)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSourceFace, path)
	}
	return &types.SourceFace{Candidate: c, Image: img}, nil
}

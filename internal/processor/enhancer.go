package processor

import (
	"context"
	"fmt"
	"image"

	"github.com/andresmejia3/facereel/internal/face"
	"github.com/andresmejia3/facereel/internal/models"
	"github.com/andresmejia3/facereel/internal/types"
	"github.com/disintegration/imaging"
	"github.com/hashicorp/go-hclog"
)

const EnhancerName = "face_enhancer"

// Enhancer restores detail in the regions chosen by the enhance scope. Region failures are
// dropped; the frame keeps whatever regions succeeded.
type Enhancer struct {
	rc  *RunContext
	log hclog.Logger
}

func NewEnhancer(rc *RunContext) Processor {
	return &Enhancer{rc: rc, log: rc.logger(EnhancerName)}
}

func (e *Enhancer) Descriptor() Descriptor {
	return Descriptor{
		Name: EnhancerName,
		Models: []ModelFile{{
			Name: "GFPGANv1.4.pth",
			URL:  "https://github.com/TencentARC/GFPGAN/releases/download/v1.3.4/GFPGANv1.4.pth",
		}},
		AcceptsImage: true,
		AcceptsVideo: true,
	}
}

func (e *Enhancer) ValidateEnvironment(ctx context.Context) error {
	if e.rc.Settings.EnhanceScope == types.EnhanceOff {
		return nil
	}
	if err := ensureModels(ctx, e.rc, e.Descriptor(), e.log); err != nil {
		return err
	}
	if _, err := e.rc.Models.Detector.Get(ctx); err != nil {
		return fmt.Errorf("load detector: %w", err)
	}
	if _, err := e.rc.Models.Enhancer.Get(ctx); err != nil {
		return fmt.Errorf("load enhancer: %w", err)
	}
	return nil
}

func (e *Enhancer) ValidateInputs(_ context.Context, in Inputs) error {
	return checkTarget(e.Descriptor(), in.TargetPath)
}

func (e *Enhancer) TransformFrame(ctx context.Context, ref types.Embedding, f *types.Frame) (types.Outcome, error) {
	settings := e.rc.Settings
	if settings.EnhanceScope == types.EnhanceOff {
		return types.Success, nil
	}
	det, err := e.rc.Models.Detector.Get(ctx)
	if err != nil {
		return types.Failed, err
	}
	enh, err := e.rc.Models.Enhancer.Get(ctx)
	if err != nil {
		return types.Failed, err
	}

	// Frames without any face are left alone, even for the whole-frame scope.
	cands, err := face.NewLocator(det).Locate(ctx, f.Image)
	if err != nil {
		return types.Failed, err
	}
	if len(cands) == 0 {
		return types.SkippedNoFace, nil
	}

	var regions []image.Rectangle
	switch settings.EnhanceScope {
	case types.EnhanceFacesOnly:
		for _, c := range cands {
			regions = append(regions, c.Box.Rect())
		}
	case types.EnhanceBestFaceOnly:
		best, ok := face.BestOne(cands, ref, settings.Threshold)
		if !ok {
			return types.SkippedNoFace, nil
		}
		regions = append(regions, best.Box.Rect())
	case types.EnhanceAllPixels:
		regions = append(regions, f.Image.Bounds())
	}

	out := f.Image
	enhanced := 0
	for _, r := range regions {
		next, err := e.enhanceRegion(ctx, enh, out, r)
		if err != nil {
			e.log.Debug("region enhancement failed", "frame", f.Index, "region", r, "error", err)
			continue
		}
		out = next
		enhanced++
	}
	if enhanced > 0 {
		f.Image = out
		f.Modified = true
	}
	return types.Success, nil
}

// enhanceRegion runs the model on r and pastes the result back at r's size.
func (e *Enhancer) enhanceRegion(ctx context.Context, enh models.Enhancer, img *image.NRGBA, r image.Rectangle) (*image.NRGBA, error) {
	crop := imaging.Crop(img, r)
	var res *image.NRGBA
	err := e.rc.Models.EnhancerGate.Do(ctx, func() error {
		var err error
		res, err = enh.Enhance(ctx, crop)
		return err
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("enhancer returned no image")
	}
	if res.Bounds().Size() != r.Size() {
		res = imaging.Resize(res, r.Dx(), r.Dy(), imaging.Lanczos)
	}
	return imaging.Paste(img, res, r.Min), nil
}

package engine

import (
	"context"
	"fmt"

	"github.com/andresmejia3/facereel/internal/face"
	"github.com/andresmejia3/facereel/internal/frames"
	"github.com/andresmejia3/facereel/internal/media"
	"github.com/andresmejia3/facereel/internal/types"
)

// Inspection is one face found by Inspect.
type Inspection struct {
	Box      types.BoundingBox
	Distance float64
	// Accepted is set on the face best-one selection would swap at the configured threshold.
	Accepted bool
}

// Inspect detects every face of an image and scores it against the subject's face.
func (r *Runner) Inspect(ctx context.Context, imagePath, subjectPath string) ([]Inspection, error) {
	if !media.IsImage(imagePath) {
		return nil, fmt.Errorf("%w: %s", ErrNotImage, imagePath)
	}
	ref, err := r.reference(ctx, subjectPath)
	if err != nil {
		return nil, fatal(StageReference, "", err)
	}

	img, err := frames.Decode(imagePath)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", imagePath, err)
	}
	det, err := r.models.Detector.Get(ctx)
	if err != nil {
		return nil, fatal(StageEnvironment, "", err)
	}
	cands, err := face.NewLocator(det).Locate(ctx, img)
	if err != nil {
		return nil, err
	}

	threshold := r.cfg.Pipeline.DistanceThreshold
	best, ok := face.BestOne(cands, ref, threshold)
	out := make([]Inspection, 0, len(cands))
	for _, c := range cands {
		out = append(out, Inspection{
			Box:      c.Box,
			Distance: face.Distance(c.Embedding, ref),
			Accepted: ok && c.Box == best.Box,
		})
	}
	return out, nil
}

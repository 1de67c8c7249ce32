// Package face locates face candidates in frames and selects transformation targets
// by embedding distance to a reference face.
package face

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/andresmejia3/facereel/internal/models"
	"github.com/andresmejia3/facereel/internal/types"
)

// ErrNoImage is returned when a frame has no decoded raster to analyze.
var ErrNoImage = errors.New("frame has no image data")

// Locator wraps the external detection model.
type Locator struct {
	detector models.Detector
}

func NewLocator(d models.Detector) *Locator {
	return &Locator{detector: d}
}

// Locate returns every face in img with boxes clipped to the image bounds.
// No face is an empty result, not an error. Candidate order is whatever the model returns.
func (l *Locator) Locate(ctx context.Context, img *image.NRGBA) ([]types.FaceCandidate, error) {
	if img == nil {
		return nil, ErrNoImage
	}
	found, err := l.detector.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	bounds := img.Bounds()
	out := make([]types.FaceCandidate, 0, len(found))
	for _, c := range found {
		r := c.Box.Rect().Intersect(bounds)
		if r.Empty() {
			continue
		}
		c.Box = types.BoundingBox{Top: r.Min.Y, Left: r.Min.X, Bottom: r.Max.Y, Right: r.Max.X}
		out = append(out, c)
	}
	return out, nil
}

// Reference extracts the reference embedding from a subject image: the embedding of the first
// face the model reports.
func (l *Locator) Reference(ctx context.Context, img *image.NRGBA) (types.Embedding, bool, error) {
	faces, err := l.Locate(ctx, img)
	if err != nil {
		return nil, false, err
	}
	if len(faces) == 0 {
		return nil, false, nil
	}
	c := faces[0]
	ref := make(types.Embedding, len(c.Embedding))
	copy(ref, c.Embedding)
	return ref, true, nil
}

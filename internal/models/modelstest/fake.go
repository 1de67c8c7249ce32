// Package modelstest provides deterministic in-process model services for tests.
package modelstest

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"sync/atomic"

	"github.com/andresmejia3/facereel/internal/models"
	"github.com/andresmejia3/facereel/internal/types"
)

// SwapColor is painted over every swapped region.
var SwapColor = color.NRGBA{R: 255, A: 255}

// EnhanceColor is painted over every enhanced region.
var EnhanceColor = color.NRGBA{B: 255, A: 255}

// Detector returns Faces for every image, or the result of DetectFunc when set.
type Detector struct {
	Faces      []types.FaceCandidate
	DetectFunc func(img *image.NRGBA) ([]types.FaceCandidate, error)
	Calls      atomic.Int64
}

func (d *Detector) Detect(_ context.Context, img *image.NRGBA) ([]types.FaceCandidate, error) {
	d.Calls.Add(1)
	if d.DetectFunc != nil {
		return d.DetectFunc(img)
	}
	out := make([]types.FaceCandidate, len(d.Faces))
	copy(out, d.Faces)
	return out, nil
}

// Swapper paints SwapColor over the target box on a copy of the frame.
type Swapper struct {
	Err   error
	mu    sync.Mutex
	Boxes []types.BoundingBox
}

func (s *Swapper) Swap(_ context.Context, _ types.SourceFace, target types.BoundingBox, frame *image.NRGBA) (*image.NRGBA, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	s.mu.Lock()
	s.Boxes = append(s.Boxes, target)
	s.mu.Unlock()
	out := image.NewNRGBA(frame.Bounds())
	draw.Draw(out, out.Bounds(), frame, frame.Bounds().Min, draw.Src)
	draw.Draw(out, target.Rect().Intersect(out.Bounds()), &image.Uniform{C: SwapColor}, image.Point{}, draw.Src)
	return out, nil
}

// Enhancer paints EnhanceColor over the whole region it receives.
type Enhancer struct {
	Err      error
	inFlight atomic.Int64
	// MaxInFlight records the highest observed concurrency.
	MaxInFlight atomic.Int64
	Calls       atomic.Int64
}

func (e *Enhancer) Enhance(_ context.Context, region *image.NRGBA) (*image.NRGBA, error) {
	e.Calls.Add(1)
	n := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		cur := e.MaxInFlight.Load()
		if n <= cur || e.MaxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	if e.Err != nil {
		return nil, e.Err
	}
	b := region.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), &image.Uniform{C: EnhanceColor}, image.Point{}, draw.Src)
	return out, nil
}

// Classifier reports Unsafe for every image.
type Classifier struct {
	Unsafe bool
	Err    error
}

func (c *Classifier) IsUnsafe(context.Context, *image.NRGBA) (bool, error) {
	return c.Unsafe, c.Err
}

// Provider hands out the configured fakes. Nil fields produce a construction error.
type Provider struct {
	Det      *Detector
	Swp      *Swapper
	Enh      *Enhancer
	Cls      *Classifier
	Releases atomic.Int64
	Builds   atomic.Int64
}

var errMissing = errors.New("model not configured")

func (p *Provider) Detector(context.Context) (models.Detector, error) {
	p.Builds.Add(1)
	if p.Det == nil {
		return nil, errMissing
	}
	return p.Det, nil
}

func (p *Provider) Swapper(context.Context) (models.Swapper, error) {
	p.Builds.Add(1)
	if p.Swp == nil {
		return nil, errMissing
	}
	return p.Swp, nil
}

func (p *Provider) Enhancer(context.Context) (models.Enhancer, error) {
	p.Builds.Add(1)
	if p.Enh == nil {
		return nil, errMissing
	}
	return p.Enh, nil
}

func (p *Provider) Classifier(context.Context) (models.Classifier, error) {
	p.Builds.Add(1)
	if p.Cls == nil {
		return nil, errMissing
	}
	return p.Cls, nil
}

func (p *Provider) Release(context.Context) error {
	p.Releases.Add(1)
	return nil
}

// Face builds a candidate with the given box and embedding.
func Face(top, left, bottom, right int, emb ...float64) types.FaceCandidate {
	return types.FaceCandidate{
		Box:       types.BoundingBox{Top: top, Left: left, Bottom: bottom, Right: right},
		Embedding: types.Embedding(emb),
	}
}

package processor

import (
	"context"
	"fmt"
	"image"
	"image/color"

	"github.com/andresmejia3/facereel/internal/face"
	"github.com/andresmejia3/facereel/internal/types"
	"github.com/disintegration/imaging"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const DebugSwapperName = "face_swapper_debug"

var (
	selectedColor = color.NRGBA{G: 255, A: 255}
	rejectedColor = color.NRGBA{R: 255, A: 255}
)

const outlineWidth = 2

// DebugSwapper stands in for the swapper when tuning the threshold. It outlines every face
// and prints its distance to the reference; faces the policy would swap are drawn green.
type DebugSwapper struct {
	rc  *RunContext
	log hclog.Logger
}

func NewDebugSwapper(rc *RunContext) Processor {
	return &DebugSwapper{rc: rc, log: rc.logger(DebugSwapperName)}
}

func (d *DebugSwapper) Descriptor() Descriptor {
	return Descriptor{Name: DebugSwapperName, AcceptsImage: true, AcceptsVideo: true}
}

func (d *DebugSwapper) ValidateEnvironment(ctx context.Context) error {
	if _, err := d.rc.Models.Detector.Get(ctx); err != nil {
		return fmt.Errorf("load detector: %w", err)
	}
	return nil
}

func (d *DebugSwapper) ValidateInputs(_ context.Context, in Inputs) error {
	return checkTarget(d.Descriptor(), in.TargetPath)
}

func (d *DebugSwapper) TransformFrame(ctx context.Context, ref types.Embedding, f *types.Frame) (types.Outcome, error) {
	det, err := d.rc.Models.Detector.Get(ctx)
	if err != nil {
		return types.Failed, err
	}
	cands, err := face.NewLocator(det).Locate(ctx, f.Image)
	if err != nil {
		return types.Failed, err
	}
	if len(cands) == 0 {
		return types.SkippedNoFace, nil
	}

	selected := make(map[types.BoundingBox]bool)
	for _, c := range face.Select(cands, ref, d.rc.Settings.Policy, d.rc.Settings.Threshold) {
		selected[c.Box] = true
	}

	out := imaging.Clone(f.Image)
	for _, c := range cands {
		col := rejectedColor
		if selected[c.Box] {
			col = selectedColor
		}
		outline(out, c.Box.Rect(), col)
		label(out, c.Box, fmt.Sprintf("%.2f", face.Distance(ref, c.Embedding)), col)
	}
	f.Image = out
	f.Modified = true
	return types.Success, nil
}

// outline strokes rect with a solid border, clipped to the image.
func outline(img *image.NRGBA, rect image.Rectangle, c color.NRGBA) {
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return
	}
	stride := img.Stride
	pix := img.Pix
	minX, minY := img.Rect.Min.X, img.Rect.Min.Y
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		rowStart := (y-minY)*stride + (rect.Min.X-minX)*4
		edgeRow := y-rect.Min.Y < outlineWidth || rect.Max.Y-y <= outlineWidth
		for x := 0; x < rect.Dx(); x++ {
			if !edgeRow && x >= outlineWidth && rect.Dx()-x > outlineWidth {
				continue
			}
			off := rowStart + x*4
			pix[off] = c.R
			pix[off+1] = c.G
			pix[off+2] = c.B
			pix[off+3] = 255
		}
	}
}

// label prints text just above box, or inside it when the box touches the top edge.
func label(img *image.NRGBA, box types.BoundingBox, text string, c color.NRGBA) {
	fc := basicfont.Face7x13
	y := box.Top - 3
	if y-fc.Ascent < img.Bounds().Min.Y {
		y = box.Top + fc.Ascent + outlineWidth
	}
	dr := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: fc,
		Dot:  fixed.P(box.Left, y),
	}
	dr.DrawString(text)
}

package frames

import (
	"context"
	"fmt"

	"github.com/andresmejia3/facereel/internal/types"
)

// SingleFile is the one-frame store of an image run. The frame lives in the output file
// itself and is only re-encoded when a processor modified it.
type SingleFile struct {
	path    string
	quality int
}

func NewSingleFile(path string, jpegQuality int) *SingleFile {
	if jpegQuality <= 0 {
		jpegQuality = 95
	}
	return &SingleFile{path: path, quality: jpegQuality}
}

func (s *SingleFile) Refs() ([]types.FrameRef, error) {
	return []types.FrameRef{{Index: FirstIndex, Path: s.path}}, nil
}

func (s *SingleFile) Load(_ context.Context, ref types.FrameRef) (*types.Frame, error) {
	img, err := Decode(ref.Path)
	if err != nil {
		return nil, fmt.Errorf("decode image %s: %w", ref.Path, err)
	}
	return &types.Frame{FrameRef: ref, Image: img}, nil
}

func (s *SingleFile) Save(_ context.Context, f *types.Frame) error {
	return writeImage(s.path, f, s.quality)
}

// Package frames stores the ordered frame sequence of a run and mirrors processed frames back.
//
// Every frame is addressed by a monotonic sequence index assigned at extraction time. On disk the
// index is encoded as a zero-padded file name, so the original order can be rebuilt from the names
// alone, regardless of directory listing order.
package frames

import (
	"context"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/andresmejia3/facereel/internal/types"
	"github.com/disintegration/imaging"
)

// IndexWidth is the number of digits in a frame file name.
const IndexWidth = 8

// FirstIndex is the index of the first extracted frame.
const FirstIndex = 1

var (
	// ErrGap is returned when a frame sequence is not contiguous.
	ErrGap = errors.New("frame sequence has a gap")
	// ErrEmpty is returned when a store holds no frames.
	ErrEmpty = errors.New("no frames in store")
	// ErrBusy is returned when another run holds the workspace.
	ErrBusy = errors.New("frame workspace is in use by another run")
)

// Store is the frame sequence of a run.
type Store interface {
	// Refs returns every frame in sequence order.
	Refs() ([]types.FrameRef, error)
	// Load decodes one frame for transformation.
	Load(ctx context.Context, ref types.FrameRef) (*types.Frame, error)
	// Save writes a transformed frame back under its own index.
	Save(ctx context.Context, f *types.Frame) error
}

// FrameName returns the file name for index in the given format ("png" or "jpg").
func FrameName(index int, format string) string {
	return fmt.Sprintf("%0*d.%s", IndexWidth, index, format)
}

// Pattern returns the ffmpeg image-sequence pattern matching FrameName.
func Pattern(format string) string {
	return fmt.Sprintf("%%0%dd.%s", IndexWidth, format)
}

// ParseFrameName extracts the index from a frame file name.
func ParseFrameName(name string) (int, bool) {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if len(stem) != IndexWidth || ext == "" {
		return 0, false
	}
	n, err := strconv.Atoi(stem)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ValidateContiguous checks that refs are strictly increasing by one with no gaps.
func ValidateContiguous(refs []types.FrameRef) error {
	if len(refs) == 0 {
		return ErrEmpty
	}
	for i := 1; i < len(refs); i++ {
		if refs[i].Index != refs[i-1].Index+1 {
			return fmt.Errorf("%w: frame %d follows %d", ErrGap, refs[i].Index, refs[i-1].Index)
		}
	}
	return nil
}

// NormalizeFormat maps user input to a supported frame format.
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(format), ".")) {
	case "", "png":
		return "png", nil
	case "jpg", "jpeg":
		return "jpg", nil
	}
	return "", fmt.Errorf("unsupported frame format %q (want png or jpg)", format)
}

// Decode reads an image file into an NRGBA raster.
func Decode(path string) (*image.NRGBA, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, err
	}
	if n, ok := img.(*image.NRGBA); ok {
		return n, nil
	}
	return imaging.Clone(img), nil
}

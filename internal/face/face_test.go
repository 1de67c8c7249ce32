package face

import (
	"context"
	"errors"
	"image"
	"math"
	"testing"

	"github.com/andresmejia3/facereel/internal/models/modelstest"
	"github.com/andresmejia3/facereel/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name string
		a, b types.Embedding
		want float64
	}{
		{"Identical vectors", types.Embedding{1, 2, 3}, types.Embedding{1, 2, 3}, 0},
		{"Unit step", types.Embedding{0, 0}, types.Embedding{3, 4}, 5},
		{"Empty vectors", types.Embedding{}, types.Embedding{}, 0},
		{"Length mismatch", types.Embedding{1}, types.Embedding{1, 2}, math.Inf(1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Distance(tt.a, tt.b))
		})
	}
}

func TestSelectBestOne(t *testing.T) {
	ref := types.Embedding{0, 0}
	tests := []struct {
		name       string
		candidates []types.FaceCandidate
		threshold  float64
		wantLeft   []int
	}{
		{
			name:       "No candidates",
			candidates: nil,
			threshold:  25,
			wantLeft:   nil,
		},
		{
			name:       "Lone candidate is returned regardless of distance",
			candidates: []types.FaceCandidate{modelstest.Face(0, 1, 10, 10, 100, 100)},
			threshold:  25,
			wantLeft:   []int{1},
		},
		{
			name: "Only one candidate below threshold",
			candidates: []types.FaceCandidate{
				modelstest.Face(0, 1, 10, 10, 30, 0),
				modelstest.Face(0, 2, 10, 10, 3, 4),
				modelstest.Face(0, 3, 10, 10, 25, 0),
			},
			threshold: 25,
			wantLeft:  []int{2},
		},
		{
			name: "Distance equal to threshold is rejected",
			candidates: []types.FaceCandidate{
				modelstest.Face(0, 1, 10, 10, 25, 0),
				modelstest.Face(0, 2, 10, 10, 0, 25),
			},
			threshold: 25,
			wantLeft:  nil,
		},
		{
			name: "Minimum distance wins",
			candidates: []types.FaceCandidate{
				modelstest.Face(0, 1, 10, 10, 6, 8),
				modelstest.Face(0, 2, 10, 10, 1, 0),
				modelstest.Face(0, 3, 10, 10, 3, 4),
			},
			threshold: 25,
			wantLeft:  []int{2},
		},
		{
			name: "First candidate wins ties",
			candidates: []types.FaceCandidate{
				modelstest.Face(0, 1, 10, 10, 3, 4),
				modelstest.Face(0, 2, 10, 10, 4, 3),
			},
			threshold: 25,
			wantLeft:  []int{1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Select(tt.candidates, ref, types.BestOne, tt.threshold)
			var lefts []int
			for _, c := range got {
				lefts = append(lefts, c.Box.Left)
			}
			assert.Equal(t, tt.wantLeft, lefts)
		})
	}
}

func TestSelectBestOneAcrossThresholds(t *testing.T) {
	ref := types.Embedding{0, 0, 0}
	for _, threshold := range []float64{0.5, 1, 10, 25, 100} {
		match := modelstest.Face(1, 1, 2, 2, threshold/2, 0, 0)
		others := []types.FaceCandidate{
			modelstest.Face(1, 5, 2, 6, threshold, 0, 0),
			match,
			modelstest.Face(1, 9, 2, 10, 0, threshold*3, 0),
		}
		got := Select(others, ref, types.BestOne, threshold)
		require.Len(t, got, 1, "threshold %v", threshold)
		assert.Equal(t, match.Box, got[0].Box)
	}
}

func TestSelectIdenticalEmbedding(t *testing.T) {
	source := types.Embedding{0.12, -0.4, 0.33, 0.9}
	candidates := []types.FaceCandidate{
		{Box: types.BoundingBox{Left: 40}, Embedding: types.Embedding{9, 9, 9, 9}},
		{Box: types.BoundingBox{Left: 10}, Embedding: append(types.Embedding(nil), source...)},
	}
	assert.Equal(t, 0.0, Distance(source, source))

	got := Select(candidates, source, types.BestOne, 25)
	require.Len(t, got, 1)
	assert.Equal(t, 10, got[0].Box.Left)
}

func TestSelectAllFacesAndNone(t *testing.T) {
	candidates := []types.FaceCandidate{
		modelstest.Face(1, 2, 3, 4, 100),
		modelstest.Face(5, 6, 7, 8, 200),
		modelstest.Face(9, 10, 11, 12, 300),
	}

	all := Select(candidates, types.Embedding{0}, types.AllFaces, 0.0001)
	require.Len(t, all, len(candidates))
	for i := range candidates {
		assert.Equal(t, candidates[i].Box, all[i].Box)
	}

	assert.Empty(t, Select(candidates, types.Embedding{100}, types.NoFaces, 25))
}

func TestLeftMost(t *testing.T) {
	_, ok := LeftMost(nil)
	assert.False(t, ok)

	c, ok := LeftMost([]types.FaceCandidate{
		modelstest.Face(0, 50, 10, 60),
		modelstest.Face(0, 5, 10, 15),
		modelstest.Face(0, 20, 10, 30),
	})
	require.True(t, ok)
	assert.Equal(t, 5, c.Box.Left)
}

func TestLocatorClipsAndDropsBoxes(t *testing.T) {
	det := &modelstest.Detector{Faces: []types.FaceCandidate{
		modelstest.Face(-5, -5, 10, 10, 1),
		modelstest.Face(200, 200, 210, 210, 2),
		modelstest.Face(2, 3, 8, 9, 3),
	}}
	img := image.NewNRGBA(image.Rect(0, 0, 20, 20))

	got, err := NewLocator(det).Locate(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, types.BoundingBox{Top: 0, Left: 0, Bottom: 10, Right: 10}, got[0].Box)
	assert.Equal(t, types.BoundingBox{Top: 2, Left: 3, Bottom: 8, Right: 9}, got[1].Box)
}

func TestLocatorErrors(t *testing.T) {
	det := &modelstest.Detector{DetectFunc: func(*image.NRGBA) ([]types.FaceCandidate, error) {
		return nil, errors.New("corrupt frame")
	}}
	l := NewLocator(det)

	_, err := l.Locate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoImage)

	_, err = l.Locate(context.Background(), image.NewNRGBA(image.Rect(0, 0, 4, 4)))
	assert.ErrorContains(t, err, "corrupt frame")
}

func TestReference(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 100, 100))

	_, ok, err := NewLocator(&modelstest.Detector{}).Reference(context.Background(), img)
	require.NoError(t, err)
	assert.False(t, ok)

	det := &modelstest.Detector{Faces: []types.FaceCandidate{
		modelstest.Face(0, 60, 10, 70, 6),
		modelstest.Face(0, 10, 10, 20, 1),
	}}
	ref, ok, err := NewLocator(det).Reference(context.Background(), img)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.Embedding{6}, ref, "the first reported face is the reference, wherever it sits")
}

// sharedDetector hands out the same backing slice on every call.
type sharedDetector struct{ faces []types.FaceCandidate }

func (d *sharedDetector) Detect(context.Context, *image.NRGBA) ([]types.FaceCandidate, error) {
	return d.faces, nil
}

func TestLocatorLeavesDetectorResultIntact(t *testing.T) {
	det := &sharedDetector{faces: []types.FaceCandidate{
		modelstest.Face(200, 200, 210, 210, 1),
		modelstest.Face(2, 3, 8, 9, 2),
	}}
	img := image.NewNRGBA(image.Rect(0, 0, 20, 20))

	got, err := NewLocator(det).Locate(context.Background(), img)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.Embedding{2}, got[0].Embedding)

	assert.Equal(t, types.BoundingBox{Top: 200, Left: 200, Bottom: 210, Right: 210}, det.faces[0].Box)
	assert.Equal(t, types.Embedding{1}, det.faces[0].Embedding)
}

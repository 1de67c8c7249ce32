package processor

import (
	"context"
	"errors"
	"image"
	"image/color"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/andresmejia3/facereel/internal/models"
	"github.com/andresmejia3/facereel/internal/models/modelstest"
	"github.com/andresmejia3/facereel/internal/types"
	"github.com/disintegration/imaging"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var gray = color.NRGBA{R: 128, G: 128, B: 128, A: 255}

func grayImage(w, h int) *image.NRGBA {
	return imaging.New(w, h, gray)
}

func newRC(p models.Provider, s Settings) *RunContext {
	return &RunContext{Settings: s, Models: models.NewSet(p, 1)}
}

func writeImage(t *testing.T, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, imaging.Save(img, path))
	return path
}

func frameOf(img *image.NRGBA) *types.Frame {
	return &types.Frame{FrameRef: types.FrameRef{Index: 1}, Image: img}
}

func TestRegistry(t *testing.T) {
	rc := newRC(&modelstest.Provider{}, Settings{})

	t.Run("unknown name", func(t *testing.T) {
		_, err := NewRegistry(rc, []string{"face_melter"})
		assert.ErrorIs(t, err, ErrUnknownProcessor)
	})

	t.Run("order and toggling", func(t *testing.T) {
		r, err := NewRegistry(rc, []string{EnhancerName, SwapperName})
		require.NoError(t, err)
		assert.Equal(t, []string{EnhancerName, SwapperName}, r.Enabled())

		require.NoError(t, r.SetEnabled(EnhancerName, false))
		require.NoError(t, r.SetEnabled(EnhancerName, true))
		require.NoError(t, r.SetEnabled(SwapperName, true))
		assert.Equal(t, []string{SwapperName, EnhancerName}, r.Enabled())
	})

	t.Run("snapshot is stable and instances are shared", func(t *testing.T) {
		r, err := NewRegistry(rc, []string{SwapperName})
		require.NoError(t, err)
		first := r.Snapshot()
		require.NoError(t, r.SetEnabled(EnhancerName, true))
		second := r.Snapshot()

		assert.Len(t, first, 1)
		assert.Len(t, second, 2)
		assert.Same(t, first[0], second[0])
	})

	t.Run("descriptors match registered names", func(t *testing.T) {
		assert.Len(t, Known(), 3)
		for _, name := range Known() {
			assert.Equal(t, name, builtin[name](rc).Descriptor().Name)
			desc, ok := Describe(name)
			assert.True(t, ok)
			assert.Equal(t, name, desc.Name)
		}
		_, ok := Describe("face_melter")
		assert.False(t, ok)
	})
}

func TestSwapperValidateInputs(t *testing.T) {
	src := writeImage(t, "source.png", grayImage(40, 40))
	target := writeImage(t, "target.png", grayImage(40, 40))

	t.Run("no source face", func(t *testing.T) {
		p := &modelstest.Provider{Det: &modelstest.Detector{}}
		s := NewSwapper(newRC(p, Settings{Policy: types.BestOne}))
		err := s.ValidateInputs(context.Background(), Inputs{SourcePath: src, TargetPath: target})
		assert.ErrorIs(t, err, ErrNoSourceFace)
	})

	t.Run("source is not an image", func(t *testing.T) {
		p := &modelstest.Provider{Det: &modelstest.Detector{}}
		s := NewSwapper(newRC(p, Settings{}))
		err := s.ValidateInputs(context.Background(), Inputs{SourcePath: "clip.mp4", TargetPath: target})
		assert.ErrorIs(t, err, ErrSourceNotImage)
	})

	t.Run("unsupported target", func(t *testing.T) {
		p := &modelstest.Provider{Det: &modelstest.Detector{}}
		s := NewSwapper(newRC(p, Settings{}))
		err := s.ValidateInputs(context.Background(), Inputs{SourcePath: src, TargetPath: "notes.txt"})
		assert.ErrorIs(t, err, ErrUnsupportedTarget)
	})

	t.Run("left-most face is the source", func(t *testing.T) {
		det := &modelstest.Detector{Faces: []types.FaceCandidate{
			modelstest.Face(0, 20, 10, 30, 1),
			modelstest.Face(0, 2, 10, 12, 2),
		}}
		s := NewSwapper(newRC(&modelstest.Provider{Det: det}, Settings{})).(*Swapper)
		require.NoError(t, s.ValidateInputs(context.Background(), Inputs{SourcePath: src, TargetPath: target}))
		assert.Equal(t, 2, s.source.Load().Candidate.Box.Left)
	})
}

func preparedSwapper(t *testing.T, p *modelstest.Provider, s Settings) Processor {
	t.Helper()
	srcDet := p.Det
	p.Det = &modelstest.Detector{Faces: []types.FaceCandidate{modelstest.Face(0, 0, 5, 5, 0, 0)}}
	proc := NewSwapper(newRC(p, s)).(*Swapper)
	// Source extraction uses its own detector; restore the frame detector afterwards.
	src, err := loadSourceFace(context.Background(), proc.rc, writeImage(t, "src.png", grayImage(8, 8)))
	require.NoError(t, err)
	proc.source.Store(src)
	p.Det = srcDet
	proc.rc.Models = models.NewSet(p, 1)
	return proc
}

func TestSwapperTransformFrame(t *testing.T) {
	ref := types.Embedding{0, 0}
	near := modelstest.Face(2, 2, 10, 10, 1, 1)
	far := modelstest.Face(2, 20, 10, 28, 100, 100)

	t.Run("best one swaps only the matching face", func(t *testing.T) {
		swp := &modelstest.Swapper{}
		p := &modelstest.Provider{Det: &modelstest.Detector{Faces: []types.FaceCandidate{far, near}}, Swp: swp}
		proc := preparedSwapper(t, p, Settings{Policy: types.BestOne, Threshold: 25})

		f := frameOf(grayImage(32, 16))
		out, err := proc.TransformFrame(context.Background(), ref, f)
		require.NoError(t, err)
		assert.Equal(t, types.Success, out)
		assert.True(t, f.Modified)
		assert.Equal(t, []types.BoundingBox{near.Box}, swp.Boxes)
		assert.Equal(t, modelstest.SwapColor, f.Image.NRGBAAt(5, 5))
		assert.Equal(t, gray, f.Image.NRGBAAt(24, 5))
	})

	t.Run("all faces", func(t *testing.T) {
		swp := &modelstest.Swapper{}
		p := &modelstest.Provider{Det: &modelstest.Detector{Faces: []types.FaceCandidate{far, near}}, Swp: swp}
		proc := preparedSwapper(t, p, Settings{Policy: types.AllFaces, Threshold: 25})

		f := frameOf(grayImage(32, 16))
		_, err := proc.TransformFrame(context.Background(), ref, f)
		require.NoError(t, err)
		assert.Len(t, swp.Boxes, 2)
	})

	t.Run("policy none leaves the frame untouched", func(t *testing.T) {
		det := &modelstest.Detector{Faces: []types.FaceCandidate{near}}
		p := &modelstest.Provider{Det: det, Swp: &modelstest.Swapper{}}
		proc := preparedSwapper(t, p, Settings{Policy: types.NoFaces})

		img := grayImage(16, 16)
		f := frameOf(img)
		out, err := proc.TransformFrame(context.Background(), ref, f)
		require.NoError(t, err)
		assert.Equal(t, types.Success, out)
		assert.False(t, f.Modified)
		assert.Same(t, img, f.Image)
		assert.Zero(t, det.Calls.Load())
	})

	t.Run("nothing within threshold is skipped", func(t *testing.T) {
		p := &modelstest.Provider{Det: &modelstest.Detector{Faces: []types.FaceCandidate{far, far}}, Swp: &modelstest.Swapper{}}
		proc := preparedSwapper(t, p, Settings{Policy: types.BestOne, Threshold: 25})

		f := frameOf(grayImage(32, 16))
		out, err := proc.TransformFrame(context.Background(), ref, f)
		require.NoError(t, err)
		assert.Equal(t, types.SkippedNoFace, out)
		assert.False(t, f.Modified)
	})

	t.Run("swap failure leaves the frame untouched", func(t *testing.T) {
		p := &modelstest.Provider{
			Det: &modelstest.Detector{Faces: []types.FaceCandidate{near}},
			Swp: &modelstest.Swapper{Err: errors.New("onnx: out of memory")},
		}
		proc := preparedSwapper(t, p, Settings{Policy: types.AllFaces})

		img := grayImage(16, 16)
		f := frameOf(img)
		out, err := proc.TransformFrame(context.Background(), ref, f)
		assert.Error(t, err)
		assert.Equal(t, types.Failed, out)
		assert.Same(t, img, f.Image)
		assert.False(t, f.Modified)
	})

	t.Run("source not prepared", func(t *testing.T) {
		p := &modelstest.Provider{Det: &modelstest.Detector{}, Swp: &modelstest.Swapper{}}
		proc := NewSwapper(newRC(p, Settings{Policy: types.AllFaces}))
		out, err := proc.TransformFrame(context.Background(), ref, frameOf(grayImage(4, 4)))
		assert.ErrorIs(t, err, errSourceNotReady)
		assert.Equal(t, types.Failed, out)
	})
}

func TestSwapperValidateEnvironment(t *testing.T) {
	p := &modelstest.Provider{Det: &modelstest.Detector{}}
	err := NewSwapper(newRC(p, Settings{})).ValidateEnvironment(context.Background())
	assert.Error(t, err, "missing swapper model must be fatal")

	p.Swp = &modelstest.Swapper{}
	assert.NoError(t, NewSwapper(newRC(p, Settings{})).ValidateEnvironment(context.Background()))
}

func TestEnhancer(t *testing.T) {
	ref := types.Embedding{0}
	faceA := modelstest.Face(0, 0, 4, 4, 0)
	faceB := modelstest.Face(0, 8, 4, 12, 50)

	run := func(t *testing.T, p *modelstest.Provider, scope types.EnhanceScope) (*types.Frame, types.Outcome) {
		t.Helper()
		proc := NewEnhancer(newRC(p, Settings{EnhanceScope: scope, Threshold: 25}))
		f := frameOf(grayImage(16, 8))
		out, err := proc.TransformFrame(context.Background(), ref, f)
		require.NoError(t, err)
		return f, out
	}

	t.Run("faces only", func(t *testing.T) {
		p := &modelstest.Provider{Det: &modelstest.Detector{Faces: []types.FaceCandidate{faceA, faceB}}, Enh: &modelstest.Enhancer{}}
		f, out := run(t, p, types.EnhanceFacesOnly)
		assert.Equal(t, types.Success, out)
		assert.True(t, f.Modified)
		assert.Equal(t, modelstest.EnhanceColor, f.Image.NRGBAAt(1, 1))
		assert.Equal(t, modelstest.EnhanceColor, f.Image.NRGBAAt(9, 1))
		assert.Equal(t, gray, f.Image.NRGBAAt(6, 6))
	})

	t.Run("best face only", func(t *testing.T) {
		p := &modelstest.Provider{Det: &modelstest.Detector{Faces: []types.FaceCandidate{faceA, faceB}}, Enh: &modelstest.Enhancer{}}
		f, _ := run(t, p, types.EnhanceBestFaceOnly)
		assert.Equal(t, modelstest.EnhanceColor, f.Image.NRGBAAt(1, 1))
		assert.Equal(t, gray, f.Image.NRGBAAt(9, 1))
	})

	t.Run("all pixels", func(t *testing.T) {
		p := &modelstest.Provider{Det: &modelstest.Detector{Faces: []types.FaceCandidate{faceB}}, Enh: &modelstest.Enhancer{}}
		f, _ := run(t, p, types.EnhanceAllPixels)
		assert.Equal(t, modelstest.EnhanceColor, f.Image.NRGBAAt(15, 7))
		assert.Equal(t, image.Rect(0, 0, 16, 8), f.Image.Bounds())
	})

	t.Run("no face skips even the whole-frame scope", func(t *testing.T) {
		enh := &modelstest.Enhancer{}
		p := &modelstest.Provider{Det: &modelstest.Detector{}, Enh: enh}
		f, out := run(t, p, types.EnhanceAllPixels)
		assert.Equal(t, types.SkippedNoFace, out)
		assert.False(t, f.Modified)
		assert.Zero(t, enh.Calls.Load())
	})

	t.Run("region failures are swallowed", func(t *testing.T) {
		p := &modelstest.Provider{
			Det: &modelstest.Detector{Faces: []types.FaceCandidate{faceA}},
			Enh: &modelstest.Enhancer{Err: errors.New("cuda: device lost")},
		}
		f, out := run(t, p, types.EnhanceFacesOnly)
		assert.Equal(t, types.Success, out)
		assert.False(t, f.Modified)
	})

	t.Run("off", func(t *testing.T) {
		det := &modelstest.Detector{Faces: []types.FaceCandidate{faceA}}
		f, out := run(t, &modelstest.Provider{Det: det}, types.EnhanceOff)
		assert.Equal(t, types.Success, out)
		assert.False(t, f.Modified)
		assert.Zero(t, det.Calls.Load())
	})
}

func TestEnhancerGateBoundsConcurrency(t *testing.T) {
	enh := &modelstest.Enhancer{}
	p := &modelstest.Provider{Det: &modelstest.Detector{Faces: []types.FaceCandidate{modelstest.Face(0, 0, 4, 4, 0)}}, Enh: enh}
	proc := NewEnhancer(newRC(p, Settings{EnhanceScope: types.EnhanceFacesOnly}))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			proc.TransformFrame(context.Background(), nil, frameOf(grayImage(8, 8)))
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 16, enh.Calls.Load())
	assert.EqualValues(t, 1, enh.MaxInFlight.Load())
}

func TestDebugSwapperMarksSelection(t *testing.T) {
	near := modelstest.Face(30, 2, 40, 12, 1)
	far := modelstest.Face(30, 20, 40, 30, 90)
	p := &modelstest.Provider{Det: &modelstest.Detector{Faces: []types.FaceCandidate{near, far}}}
	proc := NewDebugSwapper(newRC(p, Settings{Policy: types.BestOne, Threshold: 25}))

	f := frameOf(grayImage(40, 50))
	out, err := proc.TransformFrame(context.Background(), types.Embedding{0}, f)
	require.NoError(t, err)
	assert.Equal(t, types.Success, out)
	assert.True(t, f.Modified)
	assert.Equal(t, selectedColor, f.Image.NRGBAAt(2, 35))
	assert.Equal(t, rejectedColor, f.Image.NRGBAAt(20, 35))
	assert.Equal(t, gray, f.Image.NRGBAAt(7, 35), "box interior stays untouched")
}

func TestEnsureModel(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/model.onnx" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("weights"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	log := hclog.NewNullLogger()
	m := ModelFile{Name: "model.onnx", URL: srv.URL + "/model.onnx"}

	require.NoError(t, EnsureModel(context.Background(), srv.Client(), dir, m, log))
	data, err := os.ReadFile(filepath.Join(dir, "model.onnx"))
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))

	require.NoError(t, EnsureModel(context.Background(), srv.Client(), dir, m, log))
	assert.EqualValues(t, 1, hits.Load(), "present model is not downloaded again")

	missing := ModelFile{Name: "gone.pth", URL: srv.URL + "/gone.pth"}
	assert.Error(t, EnsureModel(context.Background(), srv.Client(), dir, missing, log))
	_, err = os.Stat(filepath.Join(dir, "gone.pth"))
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, EnsureModel(context.Background(), srv.Client(), "", m, log), "empty dir disables downloads")
}

package frames

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/andresmejia3/facereel/internal/types"
	"github.com/disintegration/imaging"
)

var errNoRaster = errors.New("frame has no raster")

// MemoryStore keeps decoded frames in memory. Load hands out copies, so a worker
// only publishes its changes through Save.
type MemoryStore struct {
	mu     sync.RWMutex
	frames map[int]*image.NRGBA
	saves  map[int]int
}

func NewMemory() *MemoryStore {
	return &MemoryStore{frames: make(map[int]*image.NRGBA), saves: make(map[int]int)}
}

// Put stores img under index.
func (m *MemoryStore) Put(index int, img *image.NRGBA) types.FrameRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames[index] = imaging.Clone(img)
	return types.FrameRef{Index: index, Path: fmt.Sprintf("mem:%d", index)}
}

func (m *MemoryStore) Refs() ([]types.FrameRef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	refs := make([]types.FrameRef, 0, len(m.frames))
	for idx := range m.frames {
		refs = append(refs, types.FrameRef{Index: idx, Path: fmt.Sprintf("mem:%d", idx)})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Index < refs[j].Index })
	return refs, nil
}

func (m *MemoryStore) Load(_ context.Context, ref types.FrameRef) (*types.Frame, error) {
	m.mu.RLock()
	img, ok := m.frames[ref.Index]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("frame %d not found", ref.Index)
	}
	return &types.Frame{FrameRef: ref, Image: imaging.Clone(img)}, nil
}

func (m *MemoryStore) Save(_ context.Context, f *types.Frame) error {
	if f.Image == nil {
		return fmt.Errorf("frame %d: %w", f.Index, errNoRaster)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames[f.Index] = imaging.Clone(f.Image)
	m.saves[f.Index]++
	return nil
}

// Image returns the stored raster for index.
func (m *MemoryStore) Image(index int) (*image.NRGBA, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	img, ok := m.frames[index]
	return img, ok
}

// Saves reports how many times index was written back.
func (m *MemoryStore) Saves(index int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves[index]
}

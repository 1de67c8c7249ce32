package frames

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andresmejia3/facereel/internal/types"
	"github.com/disintegration/imaging"
	"github.com/gofrs/flock"
	"github.com/hashicorp/go-hclog"
)

const lockName = ".facereel.lock"

// DiskStore keeps frames as numbered image files in a workspace directory.
// The workspace is locked for the lifetime of the store so two runs never share it.
type DiskStore struct {
	dir     string
	format  string
	quality int
	lock    *flock.Flock
	log     hclog.Logger
}

// WorkspaceDir returns the per-target workspace under root.
func WorkspaceDir(root, targetPath, mediaID string) string {
	base := filepath.Base(targetPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if len(mediaID) > 12 {
		mediaID = mediaID[:12]
	}
	return filepath.Join(root, fmt.Sprintf("%s-%s", stem, mediaID))
}

// OpenDisk creates (if needed) and locks the workspace dir.
func OpenDisk(dir, format string, jpegQuality int, log hclog.Logger) (*DiskStore, error) {
	format, err := NormalizeFormat(format)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create frame workspace %s: %w", dir, err)
	}
	lock := flock.New(filepath.Join(dir, lockName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock frame workspace %s: %w", dir, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrBusy, dir)
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	if jpegQuality <= 0 {
		jpegQuality = 95
	}
	return &DiskStore{dir: dir, format: format, quality: jpegQuality, lock: lock, log: log}, nil
}

func (s *DiskStore) Dir() string    { return s.dir }
func (s *DiskStore) Format() string { return s.format }

// Pattern is the ffmpeg input pattern for the stored sequence.
func (s *DiskStore) Pattern() string {
	return filepath.Join(s.dir, Pattern(s.format))
}

// Put writes already-encoded frame bytes under index. Used during extraction.
func (s *DiskStore) Put(index int, data []byte) (types.FrameRef, error) {
	ref := types.FrameRef{Index: index, Path: filepath.Join(s.dir, FrameName(index, s.format))}
	if err := os.WriteFile(ref.Path, data, 0o644); err != nil {
		return types.FrameRef{}, fmt.Errorf("write frame %d: %w", index, err)
	}
	return ref, nil
}

// Refs lists the stored frames ordered by their parsed index.
func (s *DiskStore) Refs() ([]types.FrameRef, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list frame workspace: %w", err)
	}
	ext := "." + s.format
	refs := make([]types.FrameRef, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ext {
			continue
		}
		idx, ok := ParseFrameName(e.Name())
		if !ok {
			continue
		}
		refs = append(refs, types.FrameRef{Index: idx, Path: filepath.Join(s.dir, e.Name())})
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Index < refs[j].Index })
	return refs, nil
}

func (s *DiskStore) Load(_ context.Context, ref types.FrameRef) (*types.Frame, error) {
	img, err := Decode(ref.Path)
	if err != nil {
		return nil, fmt.Errorf("decode frame %d: %w", ref.Index, err)
	}
	return &types.Frame{FrameRef: ref, Image: img}, nil
}

// Save re-encodes the frame into a temp file and renames it over the original.
func (s *DiskStore) Save(_ context.Context, f *types.Frame) error {
	return writeImage(f.Path, f, s.quality)
}

// Clear deletes every stored frame and keeps the locked workspace.
func (s *DiskStore) Clear() error {
	refs, err := s.Refs()
	if err != nil {
		return err
	}
	for _, r := range refs {
		if err := os.Remove(r.Path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale frame %d: %w", r.Index, err)
		}
	}
	if len(refs) > 0 {
		s.log.Debug("cleared stale frames", "dir", s.dir, "count", len(refs))
	}
	return nil
}

// Cleanup removes the workspace and releases the lock.
func (s *DiskStore) Cleanup() error {
	s.Close()
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("remove frame workspace %s: %w", s.dir, err)
	}
	s.log.Debug("removed frame workspace", "dir", s.dir)
	return nil
}

// Close releases the workspace lock and keeps the frames.
func (s *DiskStore) Close() {
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
}

func writeImage(path string, f *types.Frame, jpegQuality int) error {
	if f.Image == nil {
		return fmt.Errorf("frame %d: %w", f.Index, errNoRaster)
	}
	format, err := imaging.FormatFromFilename(path)
	if err != nil {
		return fmt.Errorf("frame %d: %w", f.Index, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".frame-*.tmp")
	if err != nil {
		return fmt.Errorf("frame %d: %w", f.Index, err)
	}
	defer os.Remove(tmp.Name())

	if err := imaging.Encode(tmp, f.Image, format, imaging.JPEGQuality(jpegQuality)); err != nil {
		tmp.Close()
		return fmt.Errorf("encode frame %d: %w", f.Index, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("frame %d: %w", f.Index, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace frame %d: %w", f.Index, err)
	}
	return nil
}

package types

import (
	"fmt"
	"image"
	"strings"
)

// FrameRef identifies a stored frame by its sequence index and storage handle.
type FrameRef struct {
	Index int
	Path  string
}

// Frame is a decoded raster handed to a worker for in-place transformation.
type Frame struct {
	FrameRef
	Image *image.NRGBA
	// Modified is set by processors that changed Image. Unmodified frames are never re-encoded.
	Modified bool
}

// FrameTask represents a single frame dispatched to a worker.
// Position is the slot of the frame in the batch, which is where its RunResult lands.
type FrameTask struct {
	Position int
	Ref      FrameRef
}

// BoundingBox is a face region in pixel coordinates: [top, left, bottom, right].
type BoundingBox struct {
	Top    int `json:"top"`
	Left   int `json:"left"`
	Bottom int `json:"bottom"`
	Right  int `json:"right"`
}

// Rect converts the box to an image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Right, b.Bottom)
}

func (b BoundingBox) Width() int  { return b.Right - b.Left }
func (b BoundingBox) Height() int { return b.Bottom - b.Top }

func (b BoundingBox) String() string {
	return fmt.Sprintf("[%d,%d,%d,%d]", b.Top, b.Left, b.Bottom, b.Right)
}

// Embedding is a fixed-length face identity vector.
type Embedding []float64

// FaceCandidate is one face found in a frame. It never outlives the transformation of that frame.
type FaceCandidate struct {
	Box       BoundingBox
	Embedding Embedding
}

// SourceFace is the face composited onto selected targets by the swapper.
type SourceFace struct {
	Candidate FaceCandidate
	// Image is the full source image the candidate was detected in.
	Image *image.NRGBA
}

// SelectionPolicy maps the candidates of a frame to transformation targets.
type SelectionPolicy int

const (
	BestOne SelectionPolicy = iota
	AllFaces
	NoFaces
)

func (p SelectionPolicy) String() string {
	switch p {
	case BestOne:
		return "best-one"
	case AllFaces:
		return "all"
	case NoFaces:
		return "none"
	}
	return fmt.Sprintf("SelectionPolicy(%d)", int(p))
}

// ParseSelectionPolicy accepts the names used in config files and flags.
func ParseSelectionPolicy(s string) (SelectionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "best-one", "best_one", "bestone", "best":
		return BestOne, nil
	case "all", "all-faces", "all_faces":
		return AllFaces, nil
	case "none", "":
		return NoFaces, nil
	}
	return NoFaces, fmt.Errorf("unknown selection policy %q (want best-one, all, none)", s)
}

// EnhanceScope restricts which pixels the enhancement model sees.
type EnhanceScope int

const (
	EnhanceOff EnhanceScope = iota
	EnhanceFacesOnly
	EnhanceBestFaceOnly
	EnhanceAllPixels
)

func (s EnhanceScope) String() string {
	switch s {
	case EnhanceOff:
		return "off"
	case EnhanceFacesOnly:
		return "faces"
	case EnhanceBestFaceOnly:
		return "best-face"
	case EnhanceAllPixels:
		return "all"
	}
	return fmt.Sprintf("EnhanceScope(%d)", int(s))
}

func ParseEnhanceScope(s string) (EnhanceScope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "none", "":
		return EnhanceOff, nil
	case "faces", "faces-only", "faces_only":
		return EnhanceFacesOnly, nil
	case "best-face", "best_face", "best-face-only":
		return EnhanceBestFaceOnly, nil
	case "all", "all-pixels", "frame":
		return EnhanceAllPixels, nil
	}
	return EnhanceOff, fmt.Errorf("unknown enhance scope %q (want off, faces, best-face, all)", s)
}

// Outcome is the per-frame result of one processor.
type Outcome int

const (
	Success Outcome = iota
	SkippedNoFace
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case SkippedNoFace:
		return "skipped"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// RunResult records what happened to one frame under one processor.
type RunResult struct {
	Index   int
	Outcome Outcome
	Reason  string
}

// BatchSummary aggregates the results of one processor over a batch.
type BatchSummary struct {
	Processor string
	Total     int
	Succeeded int
	Skipped   int
	Failed    int
	// Failures holds the first failed results in frame order.
	Failures []RunResult
}

// Summarize folds results into a BatchSummary keeping at most maxFailures failure records.
func Summarize(processor string, results []RunResult, maxFailures int) BatchSummary {
	s := BatchSummary{Processor: processor, Total: len(results)}
	for _, r := range results {
		switch r.Outcome {
		case Success:
			s.Succeeded++
		case SkippedNoFace:
			s.Skipped++
		case Failed:
			s.Failed++
			if len(s.Failures) < maxFailures {
				s.Failures = append(s.Failures, r)
			}
		}
	}
	return s
}

// Event is a progress notification emitted by the core.
type Event struct {
	Stage     string
	Processor string
	Completed int
	Total     int
}

// Sink receives progress events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard is a Sink that drops every event.
var Discard Sink = SinkFunc(func(Event) {})

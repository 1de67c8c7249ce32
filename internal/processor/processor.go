// Package processor defines the frame processors the pipeline can chain and the static
// registry they are chosen from.
package processor

import (
	"context"
	"errors"
	"net/http"

	"github.com/andresmejia3/facereel/internal/models"
	"github.com/andresmejia3/facereel/internal/types"
	"github.com/hashicorp/go-hclog"
)

var (
	// ErrNoSourceFace is returned when the source image has no detectable face.
	ErrNoSourceFace = errors.New("no face found in source image")
	// ErrSourceNotImage is returned when the source path is not a still image.
	ErrSourceNotImage = errors.New("source must be an image")
	// ErrUnsupportedTarget is returned when the target is neither an image nor a video.
	ErrUnsupportedTarget = errors.New("target must be an image or a video")
	// ErrUnknownProcessor is returned for names that were never registered.
	ErrUnknownProcessor = errors.New("unknown processor")
)

// ModelFile is a weights file a processor needs on disk.
type ModelFile struct {
	Name string
	URL  string
}

// Descriptor is the static identity of a processor.
type Descriptor struct {
	Name         string
	Models       []ModelFile
	AcceptsImage bool
	AcceptsVideo bool
}

// Inputs are the paths of one run.
type Inputs struct {
	SourcePath string
	TargetPath string
}

// Processor is one stage of the frame chain. A single instance lives for the whole process;
// TransformFrame is called concurrently from every worker.
type Processor interface {
	Descriptor() Descriptor
	// ValidateEnvironment checks models and external prerequisites. It may download or
	// initialize the model once. A failure is fatal for the run.
	ValidateEnvironment(ctx context.Context) error
	// ValidateInputs checks the run's source and target. A failure is fatal for the run.
	ValidateInputs(ctx context.Context, in Inputs) error
	// TransformFrame updates f in place. A non-nil error means the frame failed; the caller
	// records it and moves on.
	TransformFrame(ctx context.Context, ref types.Embedding, f *types.Frame) (types.Outcome, error)
}

// Settings is the part of the pipeline configuration processors read. Read-only during a run.
type Settings struct {
	Policy       types.SelectionPolicy
	Threshold    float64
	EnhanceScope types.EnhanceScope
	// ModelDir receives downloaded model files. Empty disables downloads.
	ModelDir string
}

// RunContext is shared by every processor of a registry.
type RunContext struct {
	Settings Settings
	Models   *models.Set
	Log      hclog.Logger
	HTTP     *http.Client
}

func (rc *RunContext) logger(name string) hclog.Logger {
	if rc.Log == nil {
		return hclog.NewNullLogger()
	}
	return rc.Log.Named(name)
}

func (rc *RunContext) httpClient() *http.Client {
	if rc.HTTP != nil {
		return rc.HTTP
	}
	return http.DefaultClient
}

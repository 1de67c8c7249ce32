package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNoReferenceFace is returned when the subject image is missing or has no detectable face.
	ErrNoReferenceFace = errors.New("no reference face")
	// ErrUnsafeContent is returned when the content classifier rejects the target.
	ErrUnsafeContent = errors.New("target rejected by content classifier")
	// ErrNotImage is returned when an image was expected.
	ErrNotImage = errors.New("not an image")
	// ErrOutputIsTarget is returned when the output path would overwrite the target.
	ErrOutputIsTarget = errors.New("output path is the target")
	// ErrNoProcessors is returned when the processor chain is empty.
	ErrNoProcessors = errors.New("no processors enabled")
)

// Run stages named in fatal errors and progress events.
const (
	StageEnvironment = "environment"
	StageInputs      = "inputs"
	StageSafety      = "safety"
	StageReference   = "reference"
	StageExtract     = "extract"
	StageProcess     = "process"
	StageAssemble    = "assemble"
	StageValidate    = "validate"
)

// FatalError aborts a run. Processor is empty for stages that do not belong to one.
type FatalError struct {
	Stage     string
	Processor string
	Err       error
}

func (e *FatalError) Error() string {
	if e.Processor != "" {
		return fmt.Sprintf("%s (%s): %v", e.Stage, e.Processor, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

func fatal(stage, proc string, err error) error {
	var fe *FatalError
	if errors.As(err, &fe) {
		return err
	}
	return &FatalError{Stage: stage, Processor: proc, Err: err}
}

package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
)

// ErrEmptyArtifact is returned when an output file is missing or empty.
var ErrEmptyArtifact = errors.New("output artifact is missing or empty")

// DriftWarning is reported when original audio is attached to a re-timed video.
const DriftWarning = "restoring original audio onto a frame-rate-modified video may cause drift"

type FinalizeOptions struct {
	Original     string
	Video        string
	Output       string
	RestoreAudio bool
	// Retimed is set when extraction changed the frame rate.
	Retimed bool
}

// Finalize puts the assembled video at Output, with the original audio when requested.
// Audio problems never fail the run: the silent video is delivered and a warning returned.
func Finalize(ctx context.Context, c Codec, opts FinalizeOptions, log hclog.Logger) ([]string, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	if err := os.MkdirAll(filepath.Dir(opts.Output), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if !opts.RestoreAudio {
		return nil, moveFile(opts.Video, opts.Output)
	}

	var warnings []string
	if opts.Retimed {
		log.Warn(DriftWarning)
		warnings = append(warnings, DriftWarning)
	}
	if err := c.RestoreAudio(ctx, opts.Original, opts.Video, opts.Output); err != nil {
		if ctx.Err() != nil {
			return warnings, ctx.Err()
		}
		msg := fmt.Sprintf("audio not restored, delivering silent video: %v", err)
		log.Warn("audio restore failed", "error", err)
		warnings = append(warnings, msg)
		return warnings, moveFile(opts.Video, opts.Output)
	}
	_ = os.Remove(opts.Video)
	return warnings, nil
}

// ValidateArtifact checks that path exists and is non-empty.
func ValidateArtifact(path string) error {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyArtifact, path)
	}
	return nil
}

// moveFile renames src to dst, falling back to a copy across filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := CopyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

// CopyFile copies src to dst, preserving the permission bits.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return out.Close()
}

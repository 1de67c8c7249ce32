// Package bridge runs the face models in a pool of python processes and talks to them over
// length-prefixed pipes.
package bridge

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/andresmejia3/facereel/internal/types"
	"github.com/andresmejia3/facereel/internal/utils"
)

// ErrWorkerCrashed is returned when a python worker stops answering on its pipes.
var ErrWorkerCrashed = errors.New("python worker crashed")

// WorkerOptions describes how a python model server is launched.
type WorkerOptions struct {
	Python   string
	Script   string
	ModelDir string
	Backend  string
}

type PythonWorker struct {
	ID       int
	Cmd      *utils.SafeCommand
	Stdin    io.WriteCloser
	DataPipe io.ReadCloser

	mu     sync.Mutex
	broken bool
}

func NewPythonWorker(ctx context.Context, id int, opts WorkerOptions) (*PythonWorker, error) {
	args := []string{"-u", opts.Script}
	if opts.ModelDir != "" {
		args = append(args, "--models", opts.ModelDir)
	}
	if opts.Backend != "" {
		args = append(args, "--backend", opts.Backend)
	}
	py := utils.NewSafeCommand(ctx, opts.Python, args...)

	// Side-channel pipe (FD 3) keeps model output separate from library chatter on stdout.
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Only the child holds the write end.
	w.Close()

	return &PythonWorker{
		ID:       id,
		Cmd:      py,
		Stdin:    stdin,
		DataPipe: r,
	}, nil
}

// Communicate sends one framed request and reads one framed response.
func (w *PythonWorker) Communicate(data []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.broken {
		return nil, w.crashed(errors.New("pipe already failed"))
	}

	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, w.crashed(err)
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, w.crashed(err)
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		// A missing module or CUDA init failure in python surfaces here.
		return nil, w.crashed(err)
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	if _, err := io.ReadFull(w.DataPipe, respBody); err != nil {
		return nil, w.crashed(err)
	}
	return respBody, nil
}

func (w *PythonWorker) crashed(err error) error {
	w.broken = true
	if logs := strings.TrimSpace(w.Cmd.Logs()); logs != "" {
		return fmt.Errorf("%w: worker %d: %v\n%s", ErrWorkerCrashed, w.ID, err, logs)
	}
	return fmt.Errorf("%w: worker %d: %v", ErrWorkerCrashed, w.ID, err)
}

// Broken reports whether the pipes failed. Broken workers are never reused.
func (w *PythonWorker) Broken() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.broken
}

// call runs op and returns the response body after the status byte.
func (w *PythonWorker) call(op byte, payload []byte) (*bytes.Reader, error) {
	req := make([]byte, 0, len(payload)+1)
	req = append(req, op)
	req = append(req, payload...)

	resp, err := w.Communicate(req)
	if err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, errors.New("python worker sent an empty response")
	}

	body := bytes.NewReader(resp[1:])
	switch resp[0] {
	case statusOK:
		return body, nil
	case statusError:
		var msgLen uint32
		if err := binary.Read(body, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("read error length: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(body, msg); err != nil {
			return nil, fmt.Errorf("read error message: %w", err)
		}
		return nil, fmt.Errorf("python worker error: %s", msg)
	}
	return nil, fmt.Errorf("unknown status byte %d", resp[0])
}

// Detect returns every face in img with its embedding.
func (w *PythonWorker) Detect(img *image.NRGBA) ([]types.FaceCandidate, error) {
	var buf bytes.Buffer
	writeRaster(&buf, img)
	body, err := w.call(opDetect, buf.Bytes())
	if err != nil {
		return nil, err
	}
	return decodeFaces(body)
}

// Swap composites source onto the target region of frame.
// Request: [SourceRaster][SourceBox][SourceVec][TargetBox][FrameRaster].
func (w *PythonWorker) Swap(source types.SourceFace, target types.BoundingBox, frame *image.NRGBA) (*image.NRGBA, error) {
	var buf bytes.Buffer
	writeRaster(&buf, source.Image)
	writeBox(&buf, source.Candidate.Box)
	writeEmbedding(&buf, source.Candidate.Embedding)
	writeBox(&buf, target)
	writeRaster(&buf, frame)
	body, err := w.call(opSwap, buf.Bytes())
	if err != nil {
		return nil, err
	}
	return readRaster(body)
}

// Enhance restores region and returns the model output at whatever size the model produces.
func (w *PythonWorker) Enhance(region *image.NRGBA) (*image.NRGBA, error) {
	var buf bytes.Buffer
	writeRaster(&buf, region)
	body, err := w.call(opEnhance, buf.Bytes())
	if err != nil {
		return nil, err
	}
	return readRaster(body)
}

// Classify reports whether img was flagged as unsafe.
func (w *PythonWorker) Classify(img *image.NRGBA) (bool, error) {
	var buf bytes.Buffer
	writeRaster(&buf, img)
	body, err := w.call(opClassify, buf.Bytes())
	if err != nil {
		return false, err
	}
	flag, err := body.ReadByte()
	if err != nil {
		return false, fmt.Errorf("read classification: %w", err)
	}
	return flag != 0, nil
}

// Release asks the server to drop accelerator caches.
func (w *PythonWorker) Release() error {
	_, err := w.call(opRelease, nil)
	return err
}

func (w *PythonWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}
	return w.Cmd.Wait()
}

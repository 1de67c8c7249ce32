package bridge

import (
	"context"
	"fmt"
	"image"

	"github.com/andresmejia3/facereel/internal/models"
	"github.com/andresmejia3/facereel/internal/types"
	"github.com/hashicorp/go-hclog"
)

// Client adapts a worker Pool to the model interfaces. One client serves every model kind;
// the python server loads each model lazily on first use.
type Client struct {
	pool *Pool
	log  hclog.Logger
}

var (
	_ models.Provider   = (*Client)(nil)
	_ models.Detector   = (*Client)(nil)
	_ models.Swapper    = (*Client)(nil)
	_ models.Enhancer   = (*Client)(nil)
	_ models.Classifier = (*Client)(nil)
)

func NewClient(pool *Pool, log hclog.Logger) *Client {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Client{pool: pool, log: log}
}

func (c *Client) with(ctx context.Context, fn func(*PythonWorker) error) error {
	w, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer c.pool.Release(w)
	return fn(w)
}

// warm makes sure at least one worker starts, so a broken python setup fails before any frame.
func (c *Client) warm(ctx context.Context, kind string) error {
	if err := c.with(ctx, func(*PythonWorker) error { return nil }); err != nil {
		return fmt.Errorf("start %s model server: %w", kind, err)
	}
	return nil
}

func (c *Client) Detector(ctx context.Context) (models.Detector, error) {
	return c, c.warm(ctx, "detector")
}

func (c *Client) Swapper(ctx context.Context) (models.Swapper, error) {
	return c, c.warm(ctx, "swapper")
}

func (c *Client) Enhancer(ctx context.Context) (models.Enhancer, error) {
	return c, c.warm(ctx, "enhancer")
}

func (c *Client) Classifier(ctx context.Context) (models.Classifier, error) {
	return c, c.warm(ctx, "classifier")
}

func (c *Client) Detect(ctx context.Context, img *image.NRGBA) (faces []types.FaceCandidate, err error) {
	err = c.with(ctx, func(w *PythonWorker) error {
		faces, err = w.Detect(img)
		return err
	})
	return faces, err
}

func (c *Client) Swap(ctx context.Context, source types.SourceFace, target types.BoundingBox, frame *image.NRGBA) (out *image.NRGBA, err error) {
	err = c.with(ctx, func(w *PythonWorker) error {
		out, err = w.Swap(source, target, frame)
		return err
	})
	return out, err
}

func (c *Client) Enhance(ctx context.Context, region *image.NRGBA) (out *image.NRGBA, err error) {
	err = c.with(ctx, func(w *PythonWorker) error {
		out, err = w.Enhance(region)
		return err
	})
	return out, err
}

func (c *Client) IsUnsafe(ctx context.Context, img *image.NRGBA) (unsafe bool, err error) {
	err = c.with(ctx, func(w *PythonWorker) error {
		unsafe, err = w.Classify(img)
		return err
	})
	return unsafe, err
}

// Release asks every live worker to free accelerator memory.
func (c *Client) Release(_ context.Context) error {
	err := c.pool.Each(func(w *PythonWorker) error { return w.Release() })
	if err != nil {
		c.log.Warn("release model resources", "error", err)
	}
	return err
}

// Close shuts the worker processes down.
func (c *Client) Close() error {
	return c.pool.Close()
}

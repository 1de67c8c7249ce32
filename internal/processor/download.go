package processor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
)

// EnsureModel downloads m into dir unless a non-empty file is already there.
func EnsureModel(ctx context.Context, client *http.Client, dir string, m ModelFile, log hclog.Logger) error {
	if dir == "" || m.URL == "" {
		return nil
	}
	dest := filepath.Join(dir, m.Name)
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}

	log.Info("downloading model", "file", m.Name, "url", m.URL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.URL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", m.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %s", m.Name, resp.Status)
	}

	tmp, err := os.CreateTemp(dir, m.Name+".*.part")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("download %s: %w", m.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

func ensureModels(ctx context.Context, rc *RunContext, desc Descriptor, log hclog.Logger) error {
	for _, m := range desc.Models {
		if err := EnsureModel(ctx, rc.httpClient(), rc.Settings.ModelDir, m, log); err != nil {
			return err
		}
	}
	return nil
}

package config

import (
	"fmt"
	"strings"

	"github.com/andresmejia3/facereel/internal/frames"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizePipeline(); err != nil {
		return err
	}
	c.normalizeVideo()
	c.normalizeModels()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.TempDir) == "" {
		c.Paths.TempDir = defaultTempDir
	}
	if c.Paths.TempDir, err = expandPath(c.Paths.TempDir); err != nil {
		return fmt.Errorf("paths.temp_dir: %w", err)
	}
	if c.Models.Dir, err = expandPath(c.Models.Dir); err != nil {
		return fmt.Errorf("models.dir: %w", err)
	}
	return nil
}

func (c *Config) normalizePipeline() error {
	p := &c.Pipeline
	p.SelectionPolicy = strings.ToLower(strings.TrimSpace(p.SelectionPolicy))
	if p.SelectionPolicy == "" {
		p.SelectionPolicy = defaultSelectionPolicy
	}
	p.ExecutionBackend = strings.ToLower(strings.TrimSpace(p.ExecutionBackend))
	if p.ExecutionBackend == "" {
		p.ExecutionBackend = defaultExecutionBackend
	}
	p.EnhanceScope = strings.ToLower(strings.TrimSpace(p.EnhanceScope))
	if p.EnhanceScope == "" {
		p.EnhanceScope = defaultEnhanceScope
	}

	format, err := frames.NormalizeFormat(p.FrameFormat)
	if err != nil {
		return fmt.Errorf("pipeline.frame_format: %w", err)
	}
	p.FrameFormat = format
	if p.FrameQuality <= 0 {
		p.FrameQuality = defaultFrameQuality
	}

	names := p.Processors[:0]
	for _, n := range p.Processors {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	p.Processors = names

	if p.Workers <= 0 {
		p.Workers = DefaultWorkers(p.ExecutionBackend)
	}
	if SingleWorkerBackend(p.ExecutionBackend) {
		p.Workers = 1
	}
	return nil
}

func (c *Config) normalizeVideo() {
	if strings.TrimSpace(c.Video.Codec) == "" {
		c.Video.Codec = defaultVideoCodec
	}
	if strings.TrimSpace(c.Video.FFmpeg) == "" {
		c.Video.FFmpeg = "ffmpeg"
	}
	if strings.TrimSpace(c.Video.FFprobe) == "" {
		c.Video.FFprobe = "ffprobe"
	}
}

func (c *Config) normalizeModels() {
	if strings.TrimSpace(c.Models.Python) == "" {
		c.Models.Python = defaultPython
	}
	if strings.TrimSpace(c.Models.Script) == "" {
		c.Models.Script = defaultScript
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
}

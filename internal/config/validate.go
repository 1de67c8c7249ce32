package config

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/facereel/internal/types"
)

var logLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

var backends = map[string]bool{
	"cpu": true, "cuda": true, "rocm": true, "directml": true, "coreml": true, "openvino": true,
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateVideo(); err != nil {
		return err
	}
	if err := c.validateModels(); err != nil {
		return err
	}
	if c.Resources.MaxMemoryGB < 0 {
		return errors.New("resources.max_memory_gb must be >= 0")
	}
	if !logLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be trace, debug, info, warn or error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	p := c.Pipeline
	if _, err := types.ParseSelectionPolicy(p.SelectionPolicy); err != nil {
		return fmt.Errorf("pipeline.selection_policy: %w", err)
	}
	if _, err := types.ParseEnhanceScope(p.EnhanceScope); err != nil {
		return fmt.Errorf("pipeline.enhance_scope: %w", err)
	}
	if p.DistanceThreshold <= 0 {
		return fmt.Errorf("pipeline.distance_threshold must be positive, got %v", p.DistanceThreshold)
	}
	if !backends[p.ExecutionBackend] {
		return fmt.Errorf("pipeline.execution_backend %q is not supported", p.ExecutionBackend)
	}
	if p.Workers < 1 {
		return errors.New("pipeline.workers must be positive")
	}
	if p.FrameQuality > 100 {
		return errors.New("pipeline.frame_quality must be between 1 and 100")
	}
	if len(p.Processors) == 0 {
		return errors.New("pipeline.processors must name at least one processor")
	}
	seen := make(map[string]bool, len(p.Processors))
	for _, n := range p.Processors {
		if seen[n] {
			return fmt.Errorf("pipeline.processors lists %q twice", n)
		}
		seen[n] = true
	}
	return nil
}

func (c *Config) validateVideo() error {
	if c.Video.Quality < 0 || c.Video.Quality > 51 {
		return fmt.Errorf("video.quality must be between 0 and 51, got %d", c.Video.Quality)
	}
	if c.Video.TargetFPS < 0 {
		return errors.New("video.target_fps must be >= 0")
	}
	return nil
}

func (c *Config) validateModels() error {
	if c.Models.EnhancerMaxConcurrent < 0 {
		return errors.New("models.enhancer_max_concurrent must be >= 0")
	}
	return nil
}

// Policy returns the parsed selection policy. Only valid after Validate.
func (p Pipeline) Policy() types.SelectionPolicy {
	policy, _ := types.ParseSelectionPolicy(p.SelectionPolicy)
	return policy
}

// Scope returns the parsed enhance scope. Only valid after Validate.
func (p Pipeline) Scope() types.EnhanceScope {
	scope, _ := types.ParseEnhanceScope(p.EnhanceScope)
	return scope
}

// Package config loads facereel settings from TOML, the environment and defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Pipeline holds the settings the frame pipeline reads. Read-only once a run starts.
type Pipeline struct {
	SelectionPolicy   string   `toml:"selection_policy"`
	DistanceThreshold float64  `toml:"distance_threshold"`
	Workers           int      `toml:"workers"`
	ExecutionBackend  string   `toml:"execution_backend"`
	Processors        []string `toml:"processors"`
	KeepFrames        bool     `toml:"keep_frames"`
	FrameFormat       string   `toml:"frame_format"`
	FrameQuality      int      `toml:"frame_quality"`
	EnhanceScope      string   `toml:"enhance_scope"`
}

// Video controls decomposition and recomposition.
type Video struct {
	Codec        string  `toml:"codec"`
	Quality      int     `toml:"quality"`
	RestoreAudio bool    `toml:"restore_audio"`
	TargetFPS    float64 `toml:"target_fps"`
	FFmpeg       string  `toml:"ffmpeg"`
	FFprobe      string  `toml:"ffprobe"`
}

// Models configures the python model server.
type Models struct {
	Python                string `toml:"python"`
	Script                string `toml:"script"`
	Dir                   string `toml:"dir"`
	Download              bool   `toml:"download"`
	EnhancerMaxConcurrent int    `toml:"enhancer_max_concurrent"`
}

type Paths struct {
	TempDir string `toml:"temp_dir"`
}

type Safety struct {
	ContentCheck bool `toml:"content_check"`
}

type Resources struct {
	MaxMemoryGB int `toml:"max_memory_gb"`
}

// Database is optional; an empty URL disables run history.
type Database struct {
	URL string `toml:"url"`
}

type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Metrics exposes Prometheus metrics on Addr when set.
type Metrics struct {
	Addr string `toml:"addr"`
}

type Config struct {
	Pipeline  Pipeline  `toml:"pipeline"`
	Video     Video     `toml:"video"`
	Models    Models    `toml:"models"`
	Paths     Paths     `toml:"paths"`
	Safety    Safety    `toml:"safety"`
	Resources Resources `toml:"resources"`
	Database  Database  `toml:"database"`
	Logging   Logging   `toml:"logging"`
	Metrics   Metrics   `toml:"metrics"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/facereel/config.toml")
}

// Load reads .env, locates and parses the config file, applies environment overrides,
// then normalizes and validates. It returns the resolved path and whether it existed.
func Load(path string) (*Config, string, bool, error) {
	// A missing .env is normal.
	_ = godotenv.Load()

	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}
	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolvedPath, exists, nil
}

// Override applies per-run changes, such as command-line flags, then normalizes and
// validates the result again.
func (c *Config) Override(fn func(*Config)) error {
	fn(c)
	if err := c.normalize(); err != nil {
		return err
	}
	return c.Validate()
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	projectPath, err := filepath.Abs("facereel.toml")
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// applyEnv lets the environment override file values for deployment-specific settings.
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("FACEREEL_DATABASE_URL")); v != "" {
		c.Database.URL = v
	} else if c.Database.URL == "" {
		if host := os.Getenv("POSTGRES_HOST"); host != "" {
			port := os.Getenv("POSTGRES_PORT")
			if port == "" {
				port = "5432"
			}
			c.Database.URL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
				os.Getenv("POSTGRES_USER"), os.Getenv("POSTGRES_PASSWORD"), host, port, os.Getenv("POSTGRES_DB"))
		}
	}
	if v := strings.TrimSpace(os.Getenv("FACEREEL_PYTHON")); v != "" {
		c.Models.Python = v
	}
	if v := strings.TrimSpace(os.Getenv("FACEREEL_MODELS_DIR")); v != "" {
		c.Models.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv("FACEREEL_LOG_LEVEL")); v != "" {
		c.Logging.Level = v
	}
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

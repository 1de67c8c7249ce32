package config

import "runtime"

const (
	defaultSelectionPolicy   = "best-one"
	defaultDistanceThreshold = 25
	defaultExecutionBackend  = "cpu"
	defaultFrameFormat       = "png"
	defaultFrameQuality      = 95
	defaultEnhanceScope      = "faces"
	defaultVideoCodec        = "libx264"
	defaultVideoQuality      = 18
	defaultPython            = "python3"
	defaultScript            = "python/facereel_worker.py"
	defaultModelsDir         = "~/.local/share/facereel/models"
	defaultTempDir           = "~/.cache/facereel/frames"
	defaultLogLevel          = "info"
	defaultLogFormat         = "console"
	defaultEnhancerGate      = 1
	acceleratorWorkers       = 8
)

// defaultMaxMemoryGB is 16, except on macOS where unified memory is shared with the GPU.
func defaultMaxMemoryGB() int {
	if runtime.GOOS == "darwin" {
		return 4
	}
	return 16
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Pipeline: Pipeline{
			SelectionPolicy:   defaultSelectionPolicy,
			DistanceThreshold: defaultDistanceThreshold,
			ExecutionBackend:  defaultExecutionBackend,
			Processors:        []string{"face_swapper"},
			FrameFormat:       defaultFrameFormat,
			FrameQuality:      defaultFrameQuality,
			EnhanceScope:      defaultEnhanceScope,
		},
		Video: Video{
			Codec:        defaultVideoCodec,
			Quality:      defaultVideoQuality,
			RestoreAudio: true,
			FFmpeg:       "ffmpeg",
			FFprobe:      "ffprobe",
		},
		Models: Models{
			Python:                defaultPython,
			Script:                defaultScript,
			Dir:                   defaultModelsDir,
			Download:              true,
			EnhancerMaxConcurrent: defaultEnhancerGate,
		},
		Paths:     Paths{TempDir: defaultTempDir},
		Safety:    Safety{ContentCheck: true},
		Resources: Resources{MaxMemoryGB: defaultMaxMemoryGB()},
		Logging:   Logging{Level: defaultLogLevel, Format: defaultLogFormat},
	}
}

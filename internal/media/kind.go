package media

import (
	"path/filepath"
	"strings"
)

var (
	imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true}
	videoExts = map[string]bool{".mp4": true, ".mkv": true, ".webm": true, ".avi": true, ".wmv": true, ".mov": true}
)

// IsImage reports whether path has a still-image extension.
func IsImage(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// IsVideo reports whether path has a video container extension.
func IsVideo(path string) bool {
	return videoExts[strings.ToLower(filepath.Ext(path))]
}

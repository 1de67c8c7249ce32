// Package logging builds the structured loggers shared by every component.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mattn/go-isatty"
)

// Options configures the root logger.
type Options struct {
	Level  string
	Format string // console or json
	Output io.Writer
}

// New builds the root logger. Console output is colored only when writing to a terminal.
func New(opts Options) hclog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	level := hclog.LevelFromString(strings.TrimSpace(opts.Level))
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	color := hclog.ColorOff
	if f, ok := out.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		color = hclog.AutoColor
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:       "facereel",
		Level:      level,
		Output:     out,
		JSONFormat: strings.EqualFold(opts.Format, "json"),
		Color:      color,
	})
}

// Component returns a named child, falling back to a null logger.
func Component(parent hclog.Logger, name string) hclog.Logger {
	if parent == nil {
		return hclog.NewNullLogger()
	}
	return parent.Named(name)
}

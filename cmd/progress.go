package cmd

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/andresmejia3/facereel/internal/engine"
	"github.com/andresmejia3/facereel/internal/types"
	"github.com/hashicorp/go-hclog"
	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// progress renders pipeline events: one bar per processor on a terminal, periodic log lines otherwise.
// Events arrive from every worker concurrently.
type progress struct {
	mu   sync.Mutex
	w    io.Writer
	tty  bool
	log  hclog.Logger
	bar  *progressbar.ProgressBar
	proc string
	done int
	// logged is the last decile written in log mode.
	logged int
}

func newProgress(w io.Writer, log hclog.Logger) *progress {
	tty := false
	if f, ok := w.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &progress{w: w, tty: tty, log: log}
}

func (p *progress) Emit(e types.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e.Stage {
	case engine.StageExtract:
		p.finishBar()
		fmt.Fprintf(p.w, "🎞️  Extracted %d frames\n", e.Total)
		return
	case engine.StageAssemble:
		p.finishBar()
		fmt.Fprintln(p.w, "📼 Video assembled")
		return
	case engine.StageProcess:
	default:
		return
	}

	if e.Processor != p.proc {
		p.finishBar()
		p.proc = e.Processor
		p.done = 0
		p.logged = 0
		if p.tty {
			p.bar = progressbar.NewOptions(e.Total,
				progressbar.OptionSetDescription("🔁 "+e.Processor),
				progressbar.OptionSetWriter(p.w),
				progressbar.OptionShowCount(),
			)
		}
	}
	// Completion events may be delivered out of order; the count only moves forward.
	if e.Completed <= p.done {
		return
	}
	p.done = e.Completed

	if p.bar != nil {
		_ = p.bar.Set(p.done)
		return
	}
	if e.Total <= 0 {
		return
	}
	decile := p.done * 10 / e.Total
	if decile > p.logged || p.done == e.Total {
		p.logged = decile
		p.log.Info("progress", "processor", e.Processor, "completed", p.done, "total", e.Total)
	}
}

// Finish closes the active bar.
func (p *progress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishBar()
}

func (p *progress) finishBar() {
	if p.bar != nil {
		_ = p.bar.Finish()
		fmt.Fprintln(p.w)
		p.bar = nil
	}
}

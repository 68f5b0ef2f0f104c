package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/akorhonen/dropbox-go/internal/transfer"
)

// newProgressPrinter returns a transfer observer that renders a live
// progress line on f, or nil (no notifications) when quiet mode is set or
// f is not a terminal, so piped output stays clean.
func newProgressPrinter(f *os.File) transfer.Observer {
	if flagQuiet {
		return nil
	}

	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return nil
	}

	return &progressPrinter{w: f}
}

// progressPrinter renders transfer progress as a single rewritten terminal
// line. Safe for concurrent transfers; directory operations share one line,
// which shows whichever transfer reported last.
type progressPrinter struct {
	w *os.File

	mu        sync.Mutex
	lastWidth int
}

func (p *progressPrinter) Progress(d *transfer.Descriptor, transferred, total int64) {
	line := fmt.Sprintf("%s %s: %s / %s (%d%%)",
		verb(d.Direction), filepath.Base(d.LocalPath),
		formatSize(transferred), formatSize(total), percent(transferred, total))

	p.render(line)
}

func (p *progressPrinter) StateChanged(_ *transfer.Descriptor, _, to transfer.State) {
	if !to.Terminal() {
		return
	}

	// Clear the progress line so the command's final message starts clean.
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastWidth > 0 {
		fmt.Fprintf(p.w, "\r%s\r", strings.Repeat(" ", p.lastWidth))
		p.lastWidth = 0
	}
}

func (p *progressPrinter) render(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Pad to the previous width so shorter lines fully overwrite longer ones.
	pad := ""
	if n := p.lastWidth - len(line); n > 0 {
		pad = strings.Repeat(" ", n)
	}

	fmt.Fprintf(p.w, "\r%s%s", line, pad)
	p.lastWidth = len(line)
}

func verb(d transfer.Direction) string {
	if d == transfer.DirectionUpload {
		return "Uploading"
	}

	return "Downloading"
}

func percent(transferred, total int64) int {
	if total <= 0 {
		return 0
	}

	n := transferred * 100 / total
	if n > 100 {
		n = 100
	}

	return int(n)
}

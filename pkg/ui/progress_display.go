package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/bubbles/progress"
)

// Reporter receives transfer events. ProgressDisplay and the tui dashboard
// both implement it.
type Reporter interface {
	Started(name string)
	Transferred(name string, written, total int64)
	Completed(name string, bytes int64)
	Skipped(name string)
	Failed(name string, err error)
}

const redrawInterval = 100 * time.Millisecond

// ProgressDisplay is a single-line progress display. With one job the bar
// tracks bytes; with more it tracks finished jobs.
type ProgressDisplay struct {
	mu        sync.Mutex
	w         io.Writer
	label     string
	jobs      int
	done      int
	skipped   int
	errors    int
	bytes     int64
	current   string
	written   int64
	total     int64
	startTime time.Time
	lastDraw  time.Time
	bar       progress.Model
	verbose   bool
	now       func() time.Time
}

// NewProgressDisplay creates a display for jobs transfers written to w
func NewProgressDisplay(w io.Writer, label string, jobs int, verbose bool) *ProgressDisplay {
	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(24), progress.WithoutPercentage())
	return &ProgressDisplay{
		w:         w,
		label:     label,
		jobs:      jobs,
		total:     -1,
		startTime: time.Now(),
		bar:       bar,
		verbose:   verbose,
		now:       time.Now,
	}
}

// Started marks the start of a transfer
func (p *ProgressDisplay) Started(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = name
	p.written, p.total = 0, -1
	if p.verbose {
		fmt.Fprintf(p.w, "%s %s\n", Magenta("→"), name)
		return
	}
	p.draw(true)
}

// Transferred records progress on the current transfer
func (p *ProgressDisplay) Transferred(name string, written, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = name
	p.written, p.total = written, total
	if !p.verbose {
		p.draw(false)
	}
}

// Completed marks a transfer as finished
func (p *ProgressDisplay) Completed(name string, bytes int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	p.bytes += bytes
	p.settle()
	if p.verbose {
		fmt.Fprintf(p.w, "%s %s • %s\n", Green("✓"), name, FormatBytes(bytes))
		return
	}
	p.draw(true)
}

// Skipped marks a transfer that was already on disk
func (p *ProgressDisplay) Skipped(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.done++
	p.skipped++
	if p.verbose {
		fmt.Fprintf(p.w, "%s %s • already downloaded\n", Dim("="), name)
		return
	}
	p.draw(true)
}

// Failed marks a transfer as failed
func (p *ProgressDisplay) Failed(name string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.errors++
	p.settle()
	if p.verbose {
		fmt.Fprintf(p.w, "%s %s - %v\n", Red("✗"), name, err)
		return
	}
	p.draw(true)
}

// settle drops the in-flight byte count once a batch job ends so the running
// total is not counted twice
func (p *ProgressDisplay) settle() {
	if p.jobs > 1 {
		p.written, p.total = 0, -1
	}
}

func (p *ProgressDisplay) fraction() float64 {
	if p.jobs <= 1 {
		switch {
		case p.done > 0:
			return 1
		case p.total > 0:
			return clamp(float64(p.written) / float64(p.total))
		}
		return 0
	}
	return clamp(float64(p.done+p.errors) / float64(p.jobs))
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func (p *ProgressDisplay) line() string {
	elapsed := p.now().Sub(p.startTime)
	parts := []string{Cyan(p.label), p.bar.ViewAs(p.fraction())}

	if p.jobs <= 1 {
		written := p.written
		if p.done > 0 && p.bytes > written {
			written = p.bytes
		}
		size := FormatBytes(written)
		if p.total >= 0 {
			size += "/" + FormatBytes(p.total)
		}
		parts = append(parts, size)
		if secs := elapsed.Seconds(); secs > 0 {
			rate := float64(written) / secs
			parts = append(parts, FormatSpeed(rate))
			if p.total > written && rate > 0 {
				eta := time.Duration(float64(p.total-written)/rate) * time.Second
				parts = append(parts, "eta "+FormatDuration(eta))
			}
		}
	} else {
		parts = append(parts,
			fmt.Sprintf("%d/%d", p.done, p.jobs),
			FormatBytes(p.bytes+p.written),
		)
		if p.current != "" {
			parts = append(parts, Dim(p.current))
		}
	}

	if p.errors > 0 {
		parts = append(parts, Red(fmt.Sprintf("%d errors", p.errors)))
	}
	return strings.Join(parts, " • ")
}

func (p *ProgressDisplay) draw(force bool) {
	now := p.now()
	if !force && now.Sub(p.lastDraw) < redrawInterval {
		return
	}
	p.lastDraw = now
	fmt.Fprintf(p.w, "\r\033[2K%s", p.line())
}

// Complete prints the final summary
func (p *ProgressDisplay) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := p.now().Sub(p.startTime)
	if !p.verbose {
		p.draw(true)
		fmt.Fprintln(p.w)
	}

	fmt.Fprintf(p.w, "\n%s Downloaded %d of %d files\n", Green("✓"), p.done-p.skipped, p.jobs)
	fmt.Fprintf(p.w, "  %s %s in %s\n", Dim("•"), FormatBytes(p.bytes), FormatDuration(elapsed))
	if p.skipped > 0 {
		fmt.Fprintf(p.w, "  %s %d already present\n", Dim("•"), p.skipped)
	}
	if p.errors > 0 {
		fmt.Fprintf(p.w, "  %s %d downloads failed\n", Dim("•"), p.errors)
	}
}

// Package progress reports how far a long job has got.
package progress

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
)

// Sink receives progress from a job. Calls come from a single goroutine.
type Sink interface {
	Start(desc string, total int)
	Advance(n int)
	End()
}

// Bar draws a terminal progress bar.
type Bar struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

// NewBar writes its bar to w, normally os.Stderr so stdout stays clean.
func NewBar(w io.Writer) *Bar {
	return &Bar{w: w}
}

// For picks a Bar when f is a terminal and a Log otherwise, so redirected
// output gets log lines instead of carriage-return redraws.
func For(f *os.File) Sink {
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return NewBar(f)
	}
	return &Log{}
}

func (b *Bar) Start(desc string, total int) {
	b.bar = progressbar.NewOptions(total,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(b.w),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func (b *Bar) Advance(n int) {
	if b.bar == nil {
		return
	}
	if err := b.bar.Add(n); err != nil {
		log.Debug().Err(err).Msg("progress bar")
	}
}

func (b *Bar) End() {
	if b.bar == nil {
		return
	}
	_ = b.bar.Finish()
	b.bar = nil
}

// Log reports progress as log lines, for runs without a terminal.
type Log struct {
	desc        string
	total, done int
}

func (l *Log) Start(desc string, total int) {
	l.desc, l.total, l.done = desc, total, 0
	log.Info().Int("total", total).Msg(desc)
}

func (l *Log) Advance(n int) {
	l.done += n
}

func (l *Log) End() {
	log.Info().Int("done", l.done).Int("total", l.total).Msg(l.desc + " finished")
}

type discard struct{}

func (discard) Start(string, int) {}
func (discard) Advance(int)       {}
func (discard) End()              {}

// Discard ignores all progress.
var Discard Sink = discard{}

// Counter records calls, for tests.
type Counter struct {
	Desc    string
	Total   int
	Done    int
	Started int
	Ended   int
}

func (c *Counter) Start(desc string, total int) {
	c.Desc, c.Total = desc, total
	c.Started++
}

func (c *Counter) Advance(n int) { c.Done += n }
func (c *Counter) End()          { c.Ended++ }

// Package progress carries pipeline status updates to whatever presentation
// layer is driving the pipeline. Calls are synchronous.
package progress

import (
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
)

type Reporter interface {
	Info(msg string)
	Success(msg string)
	Progress(current, total int, msg string)
}

var (
	_ Reporter = Nop{}
	_ Reporter = (*Log)(nil)
	_ Reporter = (*Bar)(nil)
	_ Reporter = Multi(nil)
)

// Nop discards every update.
type Nop struct{}

func (Nop) Info(string)               {}
func (Nop) Success(string)            {}
func (Nop) Progress(int, int, string) {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Reporter) Reporter {
	if r == nil {
		return Nop{}
	}
	return r
}

// Log mirrors progress into a zerolog logger.
type Log struct {
	logger zerolog.Logger
}

func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Info(msg string) {
	l.logger.Info().Msg(msg)
}

func (l *Log) Success(msg string) {
	l.logger.Info().Bool("success", true).Msg(msg)
}

func (l *Log) Progress(current, total int, msg string) {
	l.logger.Debug().Int("current", current).Int("total", total).Msg(msg)
}

// Bar renders a terminal progress bar. The bar is created on the first
// Progress call and recreated whenever the total changes.
type Bar struct {
	mu    sync.Mutex
	out   io.Writer
	bar   *progressbar.ProgressBar
	total int
}

func NewBar(out io.Writer) *Bar {
	return &Bar{out: out}
}

func (b *Bar) Info(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar != nil {
		b.bar.Describe(color.CyanString(msg))
		return
	}
	color.New(color.FgCyan).Fprintln(b.out, msg)
}

func (b *Bar) Success(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar != nil {
		_ = b.bar.Finish()
		b.bar = nil
		b.total = 0
	}
	color.New(color.FgGreen).Fprintf(b.out, "\n✓ %s\n", msg)
}

func (b *Bar) Progress(current, total int, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar == nil || b.total != total {
		b.bar = progressbar.NewOptions(total,
			progressbar.OptionSetWriter(b.out),
			progressbar.OptionSetDescription(color.BlueString(msg)),
			progressbar.OptionSetItsString("pages"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "[green]=[reset]",
				SaucerHead:    "[green]>[reset]",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetRenderBlankState(true),
		)
		b.total = total
	}
	b.bar.Describe(color.BlueString(msg))
	_ = b.bar.Set(current)
}

// Multi fans every update out to each reporter in order.
type Multi []Reporter

func (m Multi) Info(msg string) {
	for _, r := range m {
		r.Info(msg)
	}
}

func (m Multi) Success(msg string) {
	for _, r := range m {
		r.Success(msg)
	}
}

func (m Multi) Progress(current, total int, msg string) {
	for _, r := range m {
		r.Progress(current, total, msg)
	}
}

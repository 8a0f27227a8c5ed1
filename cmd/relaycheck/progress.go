package main

import (
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"relaycheck/internal/model"
)

// progress draws a trial progress bar when writing to a terminal. A nil bar
// is a no-op.
type progress struct {
	w       io.Writer
	enabled bool
	bar     *progressbar.ProgressBar
}

func newProgress(w io.Writer, want bool) *progress {
	p := &progress{w: w}
	if f, ok := w.(*os.File); ok && want {
		p.enabled = term.IsTerminal(int(f.Fd()))
	}
	return p
}

func (p *progress) start(n int) {
	if !p.enabled || n <= 0 {
		return
	}
	p.bar = progressbar.NewOptions(n,
		progressbar.OptionSetWriter(p.w),
		progressbar.OptionSetDescription("trials"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func (p *progress) step(out model.TrialOutcome) {
	if p.bar == nil {
		return
	}
	p.bar.Describe(out.Classification.String())
	_ = p.bar.Add(1)
}

func (p *progress) finish() {
	if p.bar == nil {
		return
	}
	_ = p.bar.Finish()
}

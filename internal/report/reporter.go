// Package report renders the worker event stream as line-oriented console
// output. Formatting stays deliberately thin; the engine owns all semantics.
package report

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mrenwl2001/playwright1/internal/ansi"
	"github.com/mrenwl2001/playwright1/internal/dispatch"
	"github.com/mrenwl2001/playwright1/internal/ipc"
)

// Reporter prints one line per finished test plus a run summary. Safe for
// concurrent use: events from parallel workers interleave by line.
type Reporter struct {
	Out      io.Writer
	Verbose  bool
	Describe func(testID string) string // "<file:line:col> › <title>"

	mu      sync.Mutex
	passed  int
	failed  int
	skipped int
}

// Event consumes one worker event for the given group.
func (r *Reporter) Event(g *dispatch.TestGroup, env ipc.Envelope) {
	switch env.Method {
	case ipc.MethodTestEnd:
		var p ipc.TestEndParams
		if ipc.Unmarshal(env, &p) != nil {
			return
		}
		r.testEnd(g, p)
	case ipc.MethodStepBegin:
		if !r.Verbose {
			return
		}
		var p ipc.StepParams
		if ipc.Unmarshal(env, &p) == nil {
			r.mu.Lock()
			fmt.Fprintf(r.Out, "    %s %s\n", ansi.Paint(ansi.Dim, "step"), p.Title)
			r.mu.Unlock()
		}
	}
}

func (r *Reporter) testEnd(g *dispatch.TestGroup, p ipc.TestEndParams) {
	r.mu.Lock()
	defer r.mu.Unlock()

	label := p.TestID
	if r.Describe != nil {
		label = r.Describe(p.TestID)
	}
	project := ""
	if g != nil && g.ProjectID != "default" {
		project = " [" + g.ProjectID + "]"
	}

	switch p.Status {
	case "passed":
		r.passed++
		fmt.Fprintf(r.Out, "  %s %s%s (%dms)\n", ansi.Paint(ansi.Green, "ok"), label, project, p.DurationMs)
	case "skipped":
		r.skipped++
		fmt.Fprintf(r.Out, "  %s %s%s\n", ansi.Paint(ansi.Yellow, "skip"), label, project)
	default:
		r.failed++
		fmt.Fprintf(r.Out, "  %s %s%s (%dms)\n", ansi.Paint(ansi.Red, "fail"), label, project, p.DurationMs)
		for _, e := range p.Errors {
			if e.Location.IsZero() {
				fmt.Fprintf(r.Out, "      %s\n", e.Message)
			} else {
				fmt.Fprintf(r.Out, "      %s: %s\n", e.Location, e.Message)
			}
		}
	}
}

// Summary prints the run totals and any fatal errors.
func (r *Reporter) Summary(rep *dispatch.RunReport, elapsed time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintln(r.Out)
	for _, fe := range rep.FatalErrors {
		fmt.Fprintf(r.Out, "%s %s\n", ansi.Paint(ansi.Red, "fatal:"), fe.Message)
	}
	line := fmt.Sprintf("%d passed, %d failed, %d skipped (%s)",
		r.passed, r.failed, r.skipped, elapsed.Round(time.Millisecond))
	if r.failed > 0 || len(rep.FatalErrors) > 0 {
		fmt.Fprintln(r.Out, ansi.Paint(ansi.Red, line))
	} else {
		fmt.Fprintln(r.Out, ansi.Paint(ansi.Green, line))
	}
}

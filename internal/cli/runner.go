package cli

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/mrenwl2001/playwright1/internal/config"
	"github.com/mrenwl2001/playwright1/internal/dispatch"
	"github.com/mrenwl2001/playwright1/internal/ipc"
	"github.com/mrenwl2001/playwright1/internal/report"
	"github.com/mrenwl2001/playwright1/internal/results"
	"github.com/mrenwl2001/playwright1/internal/suite"
)

// describeFunc renders a test ID as "<file:line:col> › <title>" for
// reporters and worker diagnostics.
func describeFunc(s *suite.Suite) func(string) string {
	return func(testID string) string {
		t := s.ByID(testID)
		if t == nil {
			return testID
		}
		return fmt.Sprintf("%s › %s", t.Location, t.Title)
	}
}

// outcomeSink collects per-attempt outcomes from the event stream for the
// history store and the exit code.
type outcomeSink struct {
	s *suite.Suite

	mu       sync.Mutex
	outcomes []results.Outcome
}

func (o *outcomeSink) event(g *dispatch.TestGroup, env ipc.Envelope) {
	if env.Method != ipc.MethodTestEnd {
		return
	}
	var p ipc.TestEndParams
	if ipc.Unmarshal(env, &p) != nil {
		return
	}
	title := p.TestID
	if t := o.s.ByID(p.TestID); t != nil {
		title = t.Title
	}
	project := ""
	if g != nil {
		project = g.ProjectID
	}
	errText := ""
	if len(p.Errors) > 0 {
		errText = p.Errors[0].Message
	}
	o.mu.Lock()
	o.outcomes = append(o.outcomes, results.Outcome{
		TestID:     p.TestID,
		Title:      title,
		Project:    project,
		Status:     p.Status,
		DurationMs: p.DurationMs,
		Error:      errText,
	})
	o.mu.Unlock()
}

func (o *outcomeSink) snapshot() []results.Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]results.Outcome(nil), o.outcomes...)
}

// runSuite executes all projects of the suite under cfg, retrying failed
// entries up to the configured limit, and returns the process exit code:
// 0 when all required tests passed, 1 on any failure or fatal condition.
func runSuite(ctx context.Context, s *suite.Suite, cfg config.Config, out io.Writer) (int, error) {
	start := time.Now()
	describe := describeFunc(s)
	rep := &report.Reporter{Out: out, Verbose: cfg.Verbose, Describe: describe}
	sink := &outcomeSink{s: s}

	optionsByProject := map[string]map[string]any{}
	for _, p := range cfg.Projects {
		optionsByProject[p.ID] = p.Options
	}

	d := &dispatch.Dispatcher{
		MaxWorkers:            cfg.Workers,
		WorkerTeardownTimeout: time.Duration(cfg.WorkerTeardownMs) * time.Millisecond,
		Describe:              describe,
		Logger:                out,
		OnEvent: func(g *dispatch.TestGroup, env ipc.Envelope) {
			rep.Event(g, env)
			sink.event(g, env)
		},
		InitFor: func(g *dispatch.TestGroup) ipc.InitParams {
			return ipc.InitParams{
				RepeatEachIndex: g.RepeatEachIndex,
				ProjectID:       g.ProjectID,
				Options:         optionsByProject[g.ProjectID],
				TimeoutMs:       cfg.TimeoutMs,
			}
		},
	}

	var entries []dispatch.Entry
	for _, p := range cfg.Projects {
		for repeat := 0; repeat < cfg.RepeatEach; repeat++ {
			pe, err := dispatch.EntriesFor(s, p.ID, p.Options, repeat, 0)
			if err != nil {
				return 1, err
			}
			entries = append(entries, pe...)
		}
	}

	runReport, err := d.Run(ctx, dispatch.BuildGroups(entries))
	if err != nil {
		return 1, err
	}
	fatals := runReport.FatalErrors

	// Retry rounds: failed entries re-enter dispatch with retry+1.
	for retry := 1; retry <= cfg.Retries && len(runReport.Failed) > 0; retry++ {
		retryEntries, rerr := retryEntriesFor(s, runReport.Failed, optionsByProject, retry)
		if rerr != nil {
			return 1, rerr
		}
		runReport, err = d.Run(ctx, dispatch.BuildGroups(retryEntries))
		if err != nil {
			return 1, err
		}
		fatals = append(fatals, runReport.FatalErrors...)
	}

	final := finalReport(fatals, runReport)
	rep.Summary(final, time.Since(start))

	recordHistory(ctx, cfg, sink.snapshot(), final, start, out)

	if !final.Ok() {
		return 1, nil
	}
	return 0, nil
}

// finalReport folds accumulated fatals with the last round's outcome. A
// crash is forgiven once the entries it lost pass on retry; only crashes
// whose entries are still failed count against the run.
func finalReport(fatals []ipc.TestError, last *dispatch.RunReport) *dispatch.RunReport {
	if len(last.Failed) > 0 {
		fatals = append(fatals, last.CrashErrors...)
	}
	return &dispatch.RunReport{Failed: last.Failed, FatalErrors: fatals}
}

// retryEntriesFor rebuilds dispatch entries for the failed attempts of the
// previous round.
func retryEntriesFor(s *suite.Suite, failed []dispatch.FailedEntry, optionsByProject map[string]map[string]any, retry int) ([]dispatch.Entry, error) {
	var entries []dispatch.Entry
	for _, f := range failed {
		t := s.ByID(f.TestID)
		if t == nil {
			continue
		}
		reg, err := t.Registry.WithOptionValues(optionsByProject[f.ProjectID])
		if err != nil {
			return nil, err
		}
		h, err := dispatch.Hash(reg, f.ProjectID, f.RepeatEachIndex)
		if err != nil {
			return nil, err
		}
		entries = append(entries, dispatch.Entry{
			Test:            t,
			ProjectID:       f.ProjectID,
			RepeatEachIndex: f.RepeatEachIndex,
			WorkerHash:      h,
			Retry:           retry,
		})
	}
	return entries, nil
}

// recordHistory persists the run best-effort; a broken history database
// never fails the run.
func recordHistory(ctx context.Context, cfg config.Config, outcomes []results.Outcome, rep *dispatch.RunReport, start time.Time, out io.Writer) {
	store, err := results.Open(cfg.HistoryDB)
	if err != nil {
		fmt.Fprintf(out, "history: %v\n", err)
		return
	}
	defer store.Close()

	run := results.Run{
		StartedAt:  start,
		DurationMs: time.Since(start).Milliseconds(),
		Fatal:      len(rep.FatalErrors),
	}
	for _, o := range outcomes {
		run.Total++
		switch o.Status {
		case "passed":
			run.Passed++
		case "skipped":
			run.Skipped++
		default:
			run.Failed++
		}
	}
	if _, err := store.RecordRun(ctx, run, outcomes); err != nil {
		fmt.Fprintf(out, "history: %v\n", err)
	}
}

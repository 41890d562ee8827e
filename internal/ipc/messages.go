// Package ipc defines the wire protocol between the supervising process and
// its worker processes: newline-delimited JSON envelopes over the worker's
// stdin and stdout pipes.
package ipc

import (
	"encoding/json"

	"github.com/mrenwl2001/playwright1/internal/fixture"
)

// WorkerEnv marks a process as a worker re-invocation. The host sets it when
// spawning; the CLI entry point checks it before parsing any flags.
const WorkerEnv = "HARNESS_WORKER"

// Method names carried in envelopes, host to worker.
const (
	MethodInit         = "init"
	MethodRunTestGroup = "runTestGroup"
	MethodStop         = "stop"
)

// Method names carried in envelopes, worker to host.
const (
	MethodTestBegin      = "testBegin"
	MethodTestEnd        = "testEnd"
	MethodStepBegin      = "stepBegin"
	MethodStepEnd        = "stepEnd"
	MethodDone           = "done"
	MethodTeardownErrors = "teardownErrors"
)

// Envelope is the outer frame of every message.
type Envelope struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// InitParams is sent once at worker process start.
type InitParams struct {
	WorkerIndex      int               `json:"workerIndex"`
	ParallelIndex    int               `json:"parallelIndex"`
	RepeatEachIndex  int               `json:"repeatEachIndex"`
	ProjectID        string            `json:"projectId"`
	Options          map[string]any    `json:"options,omitempty"` // project option overrides
	TimeoutMs        int64             `json:"timeoutMs"`
	WorkerTeardownMs int64             `json:"workerTeardownMs"`
	LoaderData       map[string]string `json:"loaderData,omitempty"`
}

// TestEntry identifies one runnable test attempt within a group.
type TestEntry struct {
	TestID string `json:"testId"`
	Retry  int    `json:"retry"`
}

// RunTestGroupParams dispatches one group of tests to the worker.
type RunTestGroupParams struct {
	File    string      `json:"file"`
	Entries []TestEntry `json:"entries"`
}

// TestError is a serializable test failure.
type TestError struct {
	Message  string           `json:"message"`
	Location fixture.Location `json:"location,omitempty"`
}

// TestBeginParams marks the start of one test attempt.
type TestBeginParams struct {
	TestID        string `json:"testId"`
	StartWallTime int64  `json:"startWallTime"` // unix milliseconds
}

// TestEndParams carries the outcome of one test attempt.
type TestEndParams struct {
	TestID      string            `json:"testId"`
	DurationMs  int64             `json:"duration"`
	Status      string            `json:"status"` // passed, failed, skipped
	Errors      []TestError       `json:"errors,omitempty"`
	Annotations []string          `json:"annotations,omitempty"`
	Attachments map[string]string `json:"attachments,omitempty"`
}

// StepParams marks step boundaries within a test.
type StepParams struct {
	TestID   string           `json:"testId"`
	StepID   string           `json:"stepId"`
	Title    string           `json:"title"`
	Location fixture.Location `json:"location,omitempty"`
}

// DoneParams is the worker's terminal report for a group.
type DoneParams struct {
	FatalErrors    []TestError `json:"fatalErrors,omitempty"`
	SkippedTestIDs []string    `json:"skippedTestIds,omitempty"`
	UnknownTestIDs []string    `json:"unknownTestIds,omitempty"`
}

// TeardownErrorsParams reports worker-scope teardown failures. These are
// attributed to the worker, not to any single test.
type TeardownErrorsParams struct {
	FatalErrors []TestError `json:"fatalErrors,omitempty"`
}

// Package engine drives the per-file upgrade loop: draft a candidate with
// the collaborator, validate it, feed the diagnostic back, retry within the
// attempt budget.
package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/HarshithaSivalingala/cross-versioning/internal/collaborator"
	"github.com/HarshithaSivalingala/cross-versioning/internal/upgrade/pysyntax"
	"github.com/HarshithaSivalingala/cross-versioning/internal/upgrade/result"
)

// Status is the lifecycle state of an upgrade task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusDrafting   Status = "drafting"
	StatusValidating Status = "validating"
	StatusPassed     Status = "passed"
	StatusFailed     Status = "failed"
)

// FailureCause distinguishes why a task ended Failed.
type FailureCause string

const (
	CauseNone         FailureCause = ""
	CauseValidation   FailureCause = "validation attempts exhausted"
	CauseCollaborator FailureCause = "collaborator unavailable"
	CauseIO           FailureCause = "io error"
	CauseAborted      FailureCause = "aborted"
)

// DefaultMaxRetries is the retry budget after the first attempt, so a file
// is validated at most DefaultMaxRetries+1 times.
const DefaultMaxRetries = 4

// Task tracks one file through the upgrade loop.
type Task struct {
	Path     string // path relative to the tree root, used in prompts and reports
	AbsPath  string // location of the file in the working tree
	Original []byte

	Candidate  []byte
	Attempts   int
	Status     Status
	History    []string
	LastResult result.ValidationResult
	Cause      FailureCause
	Err        error

	wroteCandidate bool
}

// NewTask returns a pending task for a file already read from the tree.
func NewTask(path, absPath string, original []byte) *Task {
	return &Task{Path: path, AbsPath: absPath, Original: original, Status: StatusPending}
}

// LastDiagnostic returns the most recent failure diagnostic, or "".
func (t *Task) LastDiagnostic() string {
	if len(t.History) == 0 {
		return ""
	}
	return t.History[len(t.History)-1]
}

// RuntimeValidator runs the configured runtime validation for the current
// state of the working tree. harness.Runner satisfies it.
type RuntimeValidator interface {
	Validate(ctx context.Context) result.ValidationResult
}

// Engine upgrades files one at a time. Runtime may be nil, which limits
// validation to the syntax stage.
type Engine struct {
	Collab  collaborator.Collaborator
	Runtime RuntimeValidator

	// MaxRetries is the retry budget after the first attempt. Zero allows a
	// single attempt; a negative value selects DefaultMaxRetries.
	MaxRetries int

	// KeepFailedCandidate leaves the last candidate in the working tree when
	// the task fails instead of restoring the original bytes.
	KeepFailedCandidate bool

	Logf func(format string, args ...any)
}

func New(collab collaborator.Collaborator, runtime RuntimeValidator, maxRetries int) *Engine {
	return &Engine{Collab: collab, Runtime: runtime, MaxRetries: maxRetries}
}

func (e *Engine) budget() int {
	if e.MaxRetries < 0 {
		return DefaultMaxRetries + 1
	}
	return e.MaxRetries + 1
}

// Upgrade runs the task to a terminal state. The result is carried on the
// task itself; the working tree holds the passing candidate on success and,
// unless KeepFailedCandidate is set, the original bytes on failure.
func (e *Engine) Upgrade(ctx context.Context, task *Task) {
	// A non-parsing input is worth telling the collaborator about up front.
	if err := pysyntax.Check(task.Path, task.Original); err != nil {
		task.History = append(task.History, fmt.Sprintf("original file does not parse: %v", err))
	}

	// current tracks what the working tree holds: the original at first,
	// then the latest failed candidate, so retry prompts show the code the
	// diagnostics describe.
	current := task.Original

	budget := e.budget()
	for task.Attempts < budget {
		if ctx.Err() != nil {
			e.fail(task, CauseAborted, ctx.Err())
			return
		}
		task.Attempts++
		task.Status = StatusDrafting
		e.logf("  attempt %d/%d: requesting candidate for %s", task.Attempts, budget, task.Path)

		candidate, err := e.Collab.Propose(ctx, collaborator.Request{
			Path:    task.Path,
			Content: string(current),
			History: task.History,
		})
		if err != nil {
			e.fail(task, CauseCollaborator, err)
			return
		}
		if collaborator.IsRefusal(candidate) {
			task.History = append(task.History, "collaborator returned no usable code")
			continue
		}

		task.Candidate = []byte(candidate)
		if err := os.WriteFile(task.AbsPath, task.Candidate, 0o644); err != nil {
			e.fail(task, CauseIO, fmt.Errorf("writing candidate: %w", err))
			return
		}
		task.wroteCandidate = true

		task.Status = StatusValidating
		res := e.validate(ctx, task)
		task.LastResult = res
		if res.Passed {
			task.Status = StatusPassed
			return
		}
		if ctx.Err() != nil {
			e.fail(task, CauseAborted, ctx.Err())
			return
		}
		task.History = append(task.History, res.Diagnostic())
		current = task.Candidate
	}

	e.fail(task, CauseValidation, nil)
}

func (e *Engine) validate(ctx context.Context, task *Task) result.ValidationResult {
	if err := pysyntax.Check(task.Path, task.Candidate); err != nil {
		return result.Fail(result.StageSyntax, err.Error())
	}
	if e.Runtime == nil {
		return result.Pass(result.StageSyntax)
	}
	return e.Runtime.Validate(ctx)
}

func (e *Engine) fail(task *Task, cause FailureCause, err error) {
	task.Status = StatusFailed
	task.Cause = cause
	task.Err = err
	if err != nil {
		task.History = append(task.History, fmt.Sprintf("%s: %v", cause, err))
	}
	if task.wroteCandidate && !e.KeepFailedCandidate {
		if werr := os.WriteFile(task.AbsPath, task.Original, 0o644); werr != nil && task.Err == nil {
			task.Err = fmt.Errorf("restoring original: %w", werr)
		}
	}
}

func (e *Engine) logf(format string, args ...any) {
	if e.Logf != nil {
		e.Logf(format, args...)
	}
}

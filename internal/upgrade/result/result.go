// Package result defines the validation outcome types shared by the syntax
// validator, the runtime harness, and the per-file upgrade engine.
package result

import (
	"fmt"
	"strings"
)

// Stage identifies which validation stage produced a result.
type Stage string

const (
	StageSyntax  Stage = "syntax"
	StageRuntime Stage = "runtime"
)

func ParseStage(s string) (Stage, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "syntax":
		return StageSyntax, nil
	case "runtime":
		return StageRuntime, nil
	default:
		return "", fmt.Errorf("invalid validation stage: %q", s)
	}
}

// ValidationResult is the outcome of validating one candidate. Runtime results
// carry the captured output of the main command (setup failures surface the
// failing step's output instead); both streams are tail-truncated so the most
// recent output survives.
type ValidationResult struct {
	Passed    bool   `json:"passed"`
	Stage     Stage  `json:"stage"`
	Stdout    string `json:"stdout,omitempty"`
	Stderr    string `json:"stderr,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
	ExitCode  *int   `json:"exit_code,omitempty"`
	TimedOut  bool   `json:"timed_out,omitempty"`

	// Reason is a one-line summary of why validation failed, suitable for
	// feeding back to the collaborator ahead of the captured output.
	Reason string `json:"reason,omitempty"`
}

// Diagnostic renders the result as the failure text appended to an upgrade
// task's history and shown verbatim in the run report.
func (r ValidationResult) Diagnostic() string {
	if r.Passed {
		return ""
	}
	parts := []string{fmt.Sprintf("[%s] %s", r.Stage, strings.TrimSpace(r.Reason))}
	if r.TimedOut {
		parts[0] += " (timed out)"
	} else if r.ExitCode != nil {
		parts[0] += fmt.Sprintf(" (exit %d)", *r.ExitCode)
	}
	if out := strings.TrimSpace(r.Stdout); out != "" {
		parts = append(parts, "stdout:\n"+out)
	}
	if errOut := strings.TrimSpace(r.Stderr); errOut != "" {
		parts = append(parts, "stderr:\n"+errOut)
	}
	return strings.Join(parts, "\n")
}

// Fail constructs a failed result for the given stage.
func Fail(stage Stage, reason string) ValidationResult {
	return ValidationResult{Passed: false, Stage: stage, Reason: reason}
}

// Pass constructs a passing result for the given stage.
func Pass(stage Stage) ValidationResult {
	return ValidationResult{Passed: true, Stage: stage}
}

// TruncateTail keeps at most limit characters from the end of s. The second
// return value reports whether anything was dropped. A limit of zero drops
// everything; a negative limit disables truncation.
func TruncateTail(s string, limit int) (string, bool) {
	if limit < 0 || len(s) <= limit {
		return s, false
	}
	return s[len(s)-limit:], true
}

// Package harness executes a repository's configured validation command
// inside an isolated environment, under a wall-clock timeout, with captured
// and tail-truncated output. It is the runtime stage of candidate
// validation; the syntax stage lives in pysyntax and always runs first.
package harness

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/HarshithaSivalingala/cross-versioning/internal/upgrade/result"
	"github.com/HarshithaSivalingala/cross-versioning/internal/upgrade/runtimecfg"
)

// Runner drives one runtime validation: setup commands in order, then the
// main command. The same Runner (and its Environment) is reused for every
// file and retry of a repository run.
type Runner struct {
	Config *runtimecfg.Config
	Env    *Environment

	// Exec runs setup and main commands; replaced by a spy in tests.
	Exec Executor

	// Logf, when set, receives one line per executed step.
	Logf func(format string, args ...any)
}

// NewRunner pairs a resolved config with its environment handle.
func NewRunner(cfg *runtimecfg.Config, env *Environment) *Runner {
	return &Runner{Config: cfg, Env: env, Exec: runProcess}
}

// Validate runs the full runtime validation sequence and reports the
// outcome. It never returns a Go error: every failure mode is folded into
// the ValidationResult so the upgrade engine can feed it back verbatim.
//
// Stdout and stderr are captured separately (not interleaved) and each is
// independently truncated to max_log_chars, keeping the tail.
func (r *Runner) Validate(ctx context.Context) result.ValidationResult {
	cfg := r.Config
	if !cfg.Enabled() {
		return result.Pass(result.StageRuntime)
	}

	if err := r.Env.Ensure(ctx); err != nil {
		res := result.Fail(result.StageRuntime, fmt.Sprintf("environment setup failed: %v", err))
		return r.truncate(res)
	}

	workDir, err := cfg.WorkingDir(r.Env.ProjectRoot)
	if err != nil {
		return r.truncate(result.Fail(result.StageRuntime, err.Error()))
	}
	env := r.commandEnv()

	if res, failed := r.runSetupCommands(ctx, workDir, env); failed {
		return r.truncate(res)
	}

	main := r.runStep(ctx, cfg.Command, workDir, env, r.timeout())
	if main.OK() {
		return r.truncate(r.passResult(main))
	}

	// Missing-data fallback: a failed attempt may have consumed or deleted
	// input artifacts that the setup commands can regenerate. Re-run setup
	// once and retry the main command exactly once per validation call.
	if !main.TimedOut && indicatesMissingData(main) {
		r.logf("missing input artifact detected, re-running setup commands")
		if res, failed := r.runSetupCommands(ctx, workDir, env); failed {
			return r.truncate(res)
		}
		main = r.runStep(ctx, cfg.Command, workDir, env, r.timeout())
		if main.OK() {
			return r.truncate(r.passResult(main))
		}
	}

	return r.truncate(r.failResult(main))
}

func (r *Runner) runSetupCommands(ctx context.Context, workDir string, env []string) (result.ValidationResult, bool) {
	for i, spec := range r.Config.SetupCommands {
		res := r.runStep(ctx, spec, workDir, env, r.timeout())
		if res.OK() {
			continue
		}
		fail := r.failResult(res)
		fail.Reason = fmt.Sprintf("setup command [%d] %s failed: %s", i, spec, fail.Reason)
		return fail, true
	}
	return result.ValidationResult{}, false
}

func (r *Runner) runStep(ctx context.Context, spec runtimecfg.CommandSpec, dir string, env []string, timeout time.Duration) StepResult {
	argv := r.argvFor(spec)
	r.logf("run: %s", spec)
	run := r.Exec
	if run == nil {
		run = runProcess
	}
	res := run(ctx, argv, dir, env, timeout)
	res.Command = spec.String()
	return res
}

// argvFor resolves a CommandSpec's execution form. String commands run
// through "sh -c" unless shell is explicitly disabled; argv commands run
// directly unless shell is explicitly enabled, in which case the quoted
// rendering is handed to the shell.
func (r *Runner) argvFor(spec runtimecfg.CommandSpec) []string {
	useShell := spec.IsShellForm()
	if r.Config.Shell != nil {
		useShell = *r.Config.Shell
	}
	if useShell {
		return []string{"sh", "-c", spec.String()}
	}
	if spec.IsShellForm() {
		// Config validation rejects string commands with shell=false; a
		// string form can only ever run through a shell.
		return []string{"sh", "-c", spec.String()}
	}
	return spec.Argv
}

func (r *Runner) timeout() time.Duration {
	return time.Duration(r.Config.Timeout) * time.Second
}

// commandEnv overlays the configured env on the process environment and
// points PATH, VIRTUAL_ENV and PYTHONPATH at the run's virtualenv.
func (r *Runner) commandEnv() []string {
	overlay := map[string]string{}
	for k, v := range r.Config.Env {
		overlay[k] = v
	}
	base := os.Environ()
	merged := make([]string, 0, len(base)+len(overlay)+3)
	seen := map[string]bool{}
	get := func(name string) string {
		for _, kv := range base {
			if strings.HasPrefix(kv, name+"=") {
				return kv[len(name)+1:]
			}
		}
		return ""
	}

	overlay["PYTHONPATH"] = prependPath(r.Env.ProjectRoot, firstNonEmpty(overlay["PYTHONPATH"], get("PYTHONPATH")))
	overlay["VIRTUAL_ENV"] = r.Env.VenvPath
	overlay["PATH"] = prependPath(r.Env.BinDir(), firstNonEmpty(overlay["PATH"], get("PATH")))

	for _, kv := range base {
		name := strings.SplitN(kv, "=", 2)[0]
		if v, ok := overlay[name]; ok {
			merged = append(merged, name+"="+v)
			seen[name] = true
			continue
		}
		merged = append(merged, kv)
	}
	for name, v := range overlay {
		if !seen[name] {
			merged = append(merged, name+"="+v)
		}
	}
	return merged
}

func (r *Runner) passResult(res StepResult) result.ValidationResult {
	out := result.Pass(result.StageRuntime)
	out.Stdout = res.Stdout
	out.Stderr = res.Stderr
	return out
}

func (r *Runner) failResult(res StepResult) result.ValidationResult {
	out := result.ValidationResult{Passed: false, Stage: result.StageRuntime}
	out.Stdout = res.Stdout
	out.Stderr = res.Stderr
	switch {
	case res.StartErr != nil:
		out.Reason = fmt.Sprintf("command %s could not run: %v", res.Command, res.StartErr)
	case res.TimedOut:
		out.TimedOut = true
		out.Reason = fmt.Sprintf("command %s timed out after %d seconds", res.Command, r.Config.Timeout)
	default:
		code := res.ExitCode
		out.ExitCode = &code
		out.Reason = fmt.Sprintf("command %s exited with status %d", res.Command, code)
	}
	return out
}

func (r *Runner) truncate(res result.ValidationResult) result.ValidationResult {
	limit := r.Config.MaxLogChars
	var t1, t2 bool
	res.Stdout, t1 = result.TruncateTail(res.Stdout, limit)
	res.Stderr, t2 = result.TruncateTail(res.Stderr, limit)
	res.Truncated = t1 || t2
	return res
}

func (r *Runner) logf(format string, args ...any) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}

// missingDataMarkers are the output fragments that signal a missing input
// artifact, which the setup commands may be able to regenerate.
var missingDataMarkers = []string{
	"filenotfounderror",
	"no such file or directory",
	"can't open file",
	"cannot open file",
	"enoent",
	"[errno 2]",
}

func indicatesMissingData(res StepResult) bool {
	combined := strings.ToLower(res.Stdout + "\n" + res.Stderr)
	for _, marker := range missingDataMarkers {
		if strings.Contains(combined, marker) {
			return true
		}
	}
	return false
}

func prependPath(value, existing string) string {
	if value == "" {
		return existing
	}
	if existing == "" {
		return value
	}
	return value + string(os.PathListSeparator) + existing
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

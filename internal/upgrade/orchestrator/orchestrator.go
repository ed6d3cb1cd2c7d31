// Package orchestrator runs a whole-repository upgrade: copy the input
// tree, rewrite dependency floors, upgrade every eligible Python file
// through the engine, and write the report and run snapshot.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/HarshithaSivalingala/cross-versioning/internal/collaborator"
	"github.com/HarshithaSivalingala/cross-versioning/internal/upgrade/deps"
	"github.com/HarshithaSivalingala/cross-versioning/internal/upgrade/engine"
	"github.com/HarshithaSivalingala/cross-versioning/internal/upgrade/harness"
	"github.com/HarshithaSivalingala/cross-versioning/internal/upgrade/report"
	"github.com/HarshithaSivalingala/cross-versioning/internal/upgrade/runstate"
	"github.com/HarshithaSivalingala/cross-versioning/internal/upgrade/runtimecfg"
)

// EnvProjectRoot overrides the tree runtime validation runs against.
const EnvProjectRoot = "ML_UPGRADER_PROJECT_ROOT"

// ReportName is the markdown report's filename at the output tree root.
const ReportName = "UPGRADE_REPORT.md"

// excludePatterns filters archive metadata, caches, VCS state and virtual
// environments out of both the tree copy and the upgrade queue.
var excludePatterns = []string{
	"**/__pycache__",
	"**/__MACOSX",
	"**/._*",
	"**/*.pyc",
	"**/.git",
	"**/.hg",
	"**/.svn",
	"**/.venv",
	"**/venv",
	"**/.ml_upgrader_venv",
	"**/.DS_Store",
}

// Options configures a repository run.
type Options struct {
	InputRoot  string
	OutputRoot string

	Collab collaborator.Collaborator

	// MaxRetries is the per-file validation retry budget. Zero allows a
	// single attempt per file; negative selects the engine default.
	MaxRetries int

	// SyntaxOnly disables runtime validation even when a runtime config
	// with a command is present.
	SyntaxOnly bool

	// KeepFailedCandidates leaves the last rejected candidate in the
	// output tree instead of restoring the original file.
	KeepFailedCandidates bool

	Logf func(format string, args ...any)
}

// ErrAborted wraps failures that stop the run before the queue finishes.
var ErrAborted = errors.New("run aborted")

// Run upgrades the repository. A non-nil error means the run aborted; an
// error-free run with failed files is reported through the RunReport.
func Run(ctx context.Context, opts Options) (*report.RunReport, error) {
	logf := opts.Logf
	if logf == nil {
		logf = func(format string, args ...any) { fmt.Fprintf(os.Stderr, format+"\n", args...) }
	}
	if opts.Collab == nil {
		return nil, fmt.Errorf("%w: no collaborator configured", ErrAborted)
	}
	if info, err := os.Stat(opts.InputRoot); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: input root %s is not a directory", ErrAborted, opts.InputRoot)
	}

	rep := &report.RunReport{
		RunID:      runstate.NewRunID(),
		InputRoot:  opts.InputRoot,
		OutputRoot: opts.OutputRoot,
		Started:    time.Now(),
	}
	logf("run %s: %s -> %s", rep.RunID, opts.InputRoot, opts.OutputRoot)

	if err := copyTree(opts.InputRoot, opts.OutputRoot); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAborted, err)
	}

	updater := &deps.Updater{}
	if _, err := updater.UpdateRequirements(opts.OutputRoot); err != nil {
		logf("dependency update: %v", err)
	}
	if _, err := updater.UpdateSetupPy(opts.OutputRoot); err != nil {
		logf("dependency update: %v", err)
	}
	rep.DependencyChanges = updater.Changes

	validationRoot := opts.OutputRoot
	if v := strings.TrimSpace(os.Getenv(EnvProjectRoot)); v != "" {
		validationRoot = v
	}
	cfg, err := runtimecfg.Resolve(validationRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAborted, err)
	}

	eng := engine.New(opts.Collab, nil, opts.MaxRetries)
	eng.KeepFailedCandidate = opts.KeepFailedCandidates
	eng.Logf = logf
	if cfg != nil && cfg.Enabled() && !opts.SyntaxOnly {
		env := harness.NewEnvironment(validationRoot, cfg.SkipInstall, cfg.ForceReinstall)
		runner := harness.NewRunner(cfg, env)
		runner.Logf = logf
		eng.Runtime = runner
		rep.RuntimeValidation = true
		logf("runtime validation enabled: %s", cfg.Command.String())
	} else {
		logf("runtime validation disabled, syntax checks only")
	}

	files, err := enumeratePython(opts.OutputRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAborted, err)
	}
	logf("upgrading %d python files", len(files))

	for _, rel := range files {
		abs := filepath.Join(opts.OutputRoot, rel)
		original, err := os.ReadFile(abs)
		if err != nil {
			logf("skipping %s: %v", rel, err)
			rep.Files = append(rep.Files, report.FileResult{
				Path:       rel,
				Attempts:   0,
				Diagnostic: fmt.Sprintf("read failed: %v", err),
			})
			continue
		}

		task := engine.NewTask(rel, abs, original)
		eng.Upgrade(ctx, task)
		rep.Files = append(rep.Files, fileResult(task))

		switch task.Cause {
		case engine.CauseAborted:
			finish(rep, opts, logf)
			return rep, fmt.Errorf("%w: %v", ErrAborted, task.Err)
		case engine.CauseCollaborator:
			var cfgErr *collaborator.ConfigurationError
			if errors.As(task.Err, &cfgErr) {
				finish(rep, opts, logf)
				return rep, fmt.Errorf("%w: %v", ErrAborted, task.Err)
			}
			logf("%s failed: %v", rel, task.Err)
		default:
			logf("%s: %s after %d attempt(s)", rel, task.Status, task.Attempts)
		}
	}

	finish(rep, opts, logf)
	passed, failed := rep.Counts()
	logf("run %s complete: %d passed, %d failed", rep.RunID, passed, failed)
	return rep, nil
}

func fileResult(task *engine.Task) report.FileResult {
	fr := report.FileResult{
		Path:       task.Path,
		Passed:     task.Status == engine.StatusPassed,
		Attempts:   task.Attempts,
		Diagnostic: task.LastDiagnostic(),
		LastResult: task.LastResult,
	}
	if fr.Passed {
		oldCode, newCode := string(task.Original), string(task.Candidate)
		fr.APIChanges = report.ExtractAPIChanges(oldCode, newCode)
		fr.Diff = report.UnifiedDiff(oldCode, newCode, task.Path)
	}
	return fr
}

func finish(rep *report.RunReport, opts Options, logf func(string, ...any)) {
	rep.Finished = time.Now()
	if err := rep.WriteMarkdown(filepath.Join(opts.OutputRoot, ReportName)); err != nil {
		logf("%v", err)
	}
	if err := runstate.Save(filepath.Join(opts.OutputRoot, runstate.SnapshotName), rep); err != nil {
		logf("%v", err)
	}
}

func excluded(rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, pattern := range excludePatterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// copyTree copies input to output, replacing any existing output tree.
// Excluded entries and non-regular files are not copied.
func copyTree(input, output string) error {
	if _, err := os.Stat(output); err == nil {
		if err := os.RemoveAll(output); err != nil {
			return fmt.Errorf("clearing output root: %w", err)
		}
	}
	return filepath.WalkDir(input, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(input, path)
		if err != nil {
			return err
		}
		if rel != "." && excluded(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		dst := filepath.Join(output, rel)
		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(dst, info.Mode().Perm()|0o700)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, dst)
	})
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}

// enumeratePython lists eligible .py files relative to root in lexical
// path order.
func enumeratePython(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if excluded(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".py") {
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

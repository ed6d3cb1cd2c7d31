package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

const (
	markerFileName        = "ml_upgrader_marker.json"
	defaultInstallTimeout = 10 * time.Minute
)

// Environment variables honored by the environment handle.
const (
	EnvVenvPath = "ML_UPGRADER_VENV_PATH"
	EnvPython   = "ML_UPGRADER_PYTHON"
)

// Environment is the isolated execution environment for one repository run:
// a virtualenv plus its installed dependencies. It is an explicitly owned
// handle, created once by the orchestrator and shared across every file and
// retry in the run; it is never a package-level singleton so repeated runs
// (and tests) do not leak state into each other.
type Environment struct {
	ProjectRoot string
	VenvPath    string
	Interpreter string // python used to create the venv

	SkipInstall    bool
	ForceReinstall bool
	InstallTimeout time.Duration

	// Exec runs install-phase commands; replaced by a spy in tests.
	Exec Executor

	ensured   bool
	ensureErr error
	steps     []StepResult
}

// installMarker records what a previous run already installed so unchanged
// environments are reused instead of reinstalled.
type installMarker struct {
	RequirementsHash  string `json:"requirements_hash,omitempty"`
	EditableInstalled bool   `json:"editable_installed,omitempty"`
}

// NewEnvironment builds the environment handle for a project root. skipInstall
// and forceReinstall come from the resolved runtime config.
func NewEnvironment(projectRoot string, skipInstall, forceReinstall bool) *Environment {
	return &Environment{
		ProjectRoot:    projectRoot,
		VenvPath:       selectVenvPath(projectRoot),
		Interpreter:    defaultInterpreter(),
		SkipInstall:    skipInstall,
		ForceReinstall: forceReinstall,
		InstallTimeout: defaultInstallTimeout,
		Exec:           runProcess,
	}
}

func defaultInterpreter() string {
	if p := strings.TrimSpace(os.Getenv(EnvPython)); p != "" {
		return p
	}
	return "python3"
}

func selectVenvPath(projectRoot string) string {
	if override := strings.TrimSpace(os.Getenv(EnvVenvPath)); override != "" {
		return override
	}
	candidates := []string{
		filepath.Join(projectRoot, ".venv"),
		filepath.Join(projectRoot, ".ml_upgrader_venv"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(pythonIn(c)); err == nil {
			return c
		}
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			return c
		}
	}
	return candidates[0]
}

func pythonIn(venvPath string) string {
	return filepath.Join(venvPath, "bin", "python")
}

// BinDir is the venv's executable directory, prepended to PATH for commands.
func (e *Environment) BinDir() string { return filepath.Join(e.VenvPath, "bin") }

// Python is the venv interpreter path.
func (e *Environment) Python() string { return pythonIn(e.VenvPath) }

// StepLogs returns the install-phase command results accumulated so far.
func (e *Environment) StepLogs() []StepResult { return e.steps }

// Ensure creates the virtualenv and installs dependencies. It runs the work
// at most once per Environment; later calls return the first outcome. With
// SkipInstall set, the venv is still created when missing but no dependency
// installation happens. With ForceReinstall set, an existing venv is
// discarded and rebuilt.
func (e *Environment) Ensure(ctx context.Context) error {
	if e.ensured {
		return e.ensureErr
	}
	e.ensured = true
	e.ensureErr = e.ensure(ctx)
	return e.ensureErr
}

func (e *Environment) ensure(ctx context.Context) error {
	if e.ProjectRoot == "" {
		return fmt.Errorf("environment has no project root")
	}
	if info, err := os.Stat(e.ProjectRoot); err != nil || !info.IsDir() {
		return fmt.Errorf("project root %q not found", e.ProjectRoot)
	}

	if e.ForceReinstall {
		if err := os.RemoveAll(e.VenvPath); err != nil {
			return fmt.Errorf("discarding virtualenv: %w", err)
		}
	}

	if _, err := os.Stat(e.Python()); err != nil {
		res := e.exec(ctx, []string{e.Interpreter, "-m", "venv", e.VenvPath}, e.ProjectRoot, os.Environ())
		e.steps = append(e.steps, res)
		if !res.OK() {
			return fmt.Errorf("creating virtualenv: %s", stepFailure(res))
		}
	}

	if e.SkipInstall {
		return nil
	}
	return e.installDependencies(ctx)
}

func (e *Environment) installDependencies(ctx context.Context) error {
	marker := e.loadMarker()
	reqPath := filepath.Join(e.ProjectRoot, "requirements.txt")
	digest, err := hashFile(reqPath)
	if err != nil {
		return fmt.Errorf("hashing %s: %w", reqPath, err)
	}

	installNeeded := e.ForceReinstall || digest != marker.RequirementsHash
	editableSources := fileExists(filepath.Join(e.ProjectRoot, "setup.py")) ||
		fileExists(filepath.Join(e.ProjectRoot, "pyproject.toml"))
	runEditable := editableSources && (e.ForceReinstall || !marker.EditableInstalled)

	if !installNeeded && !runEditable {
		return nil
	}

	var pipCommands [][]string
	if installNeeded {
		pipCommands = append(pipCommands,
			[]string{e.Python(), "-m", "pip", "install", "--upgrade", "pip", "setuptools", "wheel"})
		if packages := requirementPackages(reqPath); len(packages) > 0 {
			args := append([]string{e.Python(), "-m", "pip", "install", "--upgrade"}, packages...)
			pipCommands = append(pipCommands, args)
		}
	}
	if runEditable {
		pipCommands = append(pipCommands,
			[]string{e.Python(), "-m", "pip", "install", "-e", e.ProjectRoot})
	}

	for _, argv := range pipCommands {
		res := e.exec(ctx, argv, e.ProjectRoot, os.Environ())
		e.steps = append(e.steps, res)
		if !res.OK() {
			return fmt.Errorf("dependency installation failed: %s", stepFailure(res))
		}
	}

	e.saveMarker(installMarker{
		RequirementsHash:  digest,
		EditableInstalled: editableSources || marker.EditableInstalled,
	})
	return nil
}

func (e *Environment) exec(ctx context.Context, argv []string, dir string, env []string) StepResult {
	run := e.Exec
	if run == nil {
		run = runProcess
	}
	timeout := e.InstallTimeout
	if timeout <= 0 {
		timeout = defaultInstallTimeout
	}
	return run(ctx, argv, dir, env, timeout)
}

func (e *Environment) markerPath() string {
	return filepath.Join(e.VenvPath, markerFileName)
}

func (e *Environment) loadMarker() installMarker {
	var m installMarker
	b, err := os.ReadFile(e.markerPath())
	if err != nil {
		return installMarker{}
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return installMarker{}
	}
	return m
}

func (e *Environment) saveMarker(m installMarker) {
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	if err := os.MkdirAll(filepath.Dir(e.markerPath()), 0o755); err != nil {
		return
	}
	// Best effort: a missing marker only costs a reinstall next run.
	_ = os.WriteFile(e.markerPath(), b, 0o644)
}

// hashFile returns the blake3 digest of path, or "" when the file is absent.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

var requirementNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+`)

// requirementPackages extracts bare package names from a requirements file,
// dropping comments and version pins so installs pull current releases.
func requirementPackages(path string) []string {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var packages []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(strings.SplitN(line, "#", 2)[0])
		if line == "" {
			continue
		}
		if name := requirementNameRe.FindString(line); name != "" {
			packages = append(packages, name)
		}
	}
	return packages
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func stepFailure(res StepResult) string {
	switch {
	case res.StartErr != nil:
		return fmt.Sprintf("%s: %v", res.Command, res.StartErr)
	case res.TimedOut:
		return fmt.Sprintf("%s: timed out", res.Command)
	default:
		detail := strings.TrimSpace(res.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(res.Stdout)
		}
		return fmt.Sprintf("%s: exit %d: %s", res.Command, res.ExitCode, detail)
	}
}

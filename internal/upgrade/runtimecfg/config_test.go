package runtimecfg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, root, name, content string) string {
	t.Helper()
	path := filepath.Join(root, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearEnvOverrides(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		EnvRuntimeConfig, EnvRuntimeCommand, EnvRuntimeTimeout,
		EnvSkipInstall, EnvForceReinstall, EnvMaxLogChars,
	} {
		t.Setenv(name, "")
	}
}

func TestResolveNoConfigDisablesRuntime(t *testing.T) {
	clearEnvOverrides(t)
	cfg, err := Resolve(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Enabled() {
		t.Fatal("expected runtime validation disabled with no config")
	}
}

func TestResolveJSONDefaults(t *testing.T) {
	clearEnvOverrides(t)
	root := t.TempDir()
	writeConfig(t, root, "ml_upgrader_runtime.json",
		`{"command": ["python", "main.py"]}`)

	cfg, err := Resolve(root)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !cfg.Enabled() {
		t.Fatal("expected runtime validation enabled")
	}
	if got := cfg.Command.Argv; len(got) != 2 || got[0] != "python" || got[1] != "main.py" {
		t.Fatalf("unexpected argv: %v", got)
	}
	if cfg.Command.IsShellForm() {
		t.Fatal("argv command must not be shell form")
	}
	if cfg.Timeout != DefaultTimeoutSeconds {
		t.Fatalf("timeout = %d, want default %d", cfg.Timeout, DefaultTimeoutSeconds)
	}
	if cfg.MaxLogChars != DefaultMaxLogChars {
		t.Fatalf("max_log_chars = %d, want default %d", cfg.MaxLogChars, DefaultMaxLogChars)
	}
	if cfg.SkipInstall || cfg.ForceReinstall {
		t.Fatal("install flags should default to false")
	}
}

func TestResolveRuntimeSectionAndFields(t *testing.T) {
	clearEnvOverrides(t)
	root := t.TempDir()
	writeConfig(t, root, "ml_upgrader_runtime.json", `{
		"runtime": {
			"command": "python main.py --check",
			"setup_commands": [["python", "scripts/gen.py"], "echo ready"],
			"timeout": 30,
			"skip_install": "yes",
			"force_reinstall": 1,
			"shell": true,
			"cwd": "app",
			"env": {"SEED": 42, "EMPTY": null},
			"max_log_chars": 500
		}
	}`)
	if err := os.MkdirAll(filepath.Join(root, "app"), 0o755); err != nil {
		t.Fatal(err)
	}

	cfg, err := Resolve(root)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !cfg.Command.IsShellForm() || cfg.Command.Raw != "python main.py --check" {
		t.Fatalf("unexpected command: %+v", cfg.Command)
	}
	if len(cfg.SetupCommands) != 2 {
		t.Fatalf("expected 2 setup commands, got %d", len(cfg.SetupCommands))
	}
	if cfg.SetupCommands[0].IsShellForm() || cfg.SetupCommands[1].Raw != "echo ready" {
		t.Fatalf("unexpected setup commands: %+v", cfg.SetupCommands)
	}
	if cfg.Timeout != 30 || !cfg.SkipInstall || !cfg.ForceReinstall {
		t.Fatalf("unexpected scalar fields: %+v", cfg)
	}
	if cfg.Shell == nil || !*cfg.Shell {
		t.Fatalf("shell = %v, want explicit true", cfg.Shell)
	}
	if cfg.Env["SEED"] != "42" || cfg.Env["EMPTY"] != "" {
		t.Fatalf("unexpected env: %v", cfg.Env)
	}
	if cfg.MaxLogChars != 500 {
		t.Fatalf("max_log_chars = %d", cfg.MaxLogChars)
	}
	dir, err := cfg.WorkingDir(root)
	if err != nil {
		t.Fatalf("WorkingDir: %v", err)
	}
	if dir != filepath.Join(root, "app") {
		t.Fatalf("working dir = %q", dir)
	}
}

func TestResolveYAML(t *testing.T) {
	clearEnvOverrides(t)
	root := t.TempDir()
	writeConfig(t, root, "ml_upgrader_runtime.yaml", strings.Join([]string{
		"command:",
		"  - python",
		"  - train.py",
		"timeout: 15",
	}, "\n"))

	cfg, err := Resolve(root)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(cfg.Command.Argv) != 2 || cfg.Command.Argv[1] != "train.py" {
		t.Fatalf("unexpected command: %+v", cfg.Command)
	}
	if cfg.Timeout != 15 {
		t.Fatalf("timeout = %d", cfg.Timeout)
	}
}

func TestResolveRejectsMalformedConfig(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"bad json", `{"command": "python main.py"`},
		{"command object", `{"command": {"bin": "python"}}`},
		{"empty command string", `{"command": "  "}`},
		{"empty command list", `{"command": []}`},
		{"command list of objects", `{"command": [{"a": 1}]}`},
		{"runtime not object", `{"runtime": [1, 2]}`},
		{"env not object", `{"command": "x", "env": [1]}`},
		{"timeout not integer", `{"command": "x", "timeout": [5]}`},
		{"string command with shell disabled", `{"command": "python main.py", "shell": false}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnvOverrides(t)
			root := t.TempDir()
			writeConfig(t, root, "ml_upgrader_runtime.json", tc.content)
			_, err := Resolve(root)
			if err == nil {
				t.Fatal("expected ConfigError")
			}
			if _, ok := err.(*ConfigError); !ok {
				t.Fatalf("expected *ConfigError, got %T: %v", err, err)
			}
		})
	}
}

func TestResolveMissingWorkingDir(t *testing.T) {
	clearEnvOverrides(t)
	root := t.TempDir()
	writeConfig(t, root, "ml_upgrader_runtime.json",
		`{"command": "python main.py", "cwd": "no-such-dir"}`)
	cfg, err := Resolve(root)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := cfg.WorkingDir(root); err == nil {
		t.Fatal("expected error for missing working directory")
	}
}

func TestResolveConfigPathOverride(t *testing.T) {
	clearEnvOverrides(t)
	root := t.TempDir()
	writeConfig(t, root, "ml_upgrader_runtime.json", `{"command": "echo default"}`)
	alt := writeConfig(t, root, "alt.json", `{"command": "echo alternate"}`)

	t.Setenv(EnvRuntimeConfig, alt)
	cfg, err := Resolve(root)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Command.Raw != "echo alternate" {
		t.Fatalf("expected override config to win, got %q", cfg.Command.Raw)
	}
}

func TestEnvOverridesBeatFileValues(t *testing.T) {
	clearEnvOverrides(t)
	root := t.TempDir()
	writeConfig(t, root, "ml_upgrader_runtime.json",
		`{"command": "echo file", "timeout": 60, "max_log_chars": 100}`)

	t.Setenv(EnvRuntimeCommand, "echo env")
	t.Setenv(EnvRuntimeTimeout, "7")
	t.Setenv(EnvSkipInstall, "true")
	t.Setenv(EnvForceReinstall, "on")
	t.Setenv(EnvMaxLogChars, "9")

	cfg, err := Resolve(root)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Command.Raw != "echo env" {
		t.Fatalf("command = %q", cfg.Command.Raw)
	}
	if cfg.Timeout != 7 || cfg.MaxLogChars != 9 {
		t.Fatalf("timeout=%d maxlog=%d", cfg.Timeout, cfg.MaxLogChars)
	}
	if !cfg.SkipInstall || !cfg.ForceReinstall {
		t.Fatal("expected install flags overridden to true")
	}
	if !strings.Contains(cfg.Source, EnvRuntimeCommand) {
		t.Fatalf("source = %q", cfg.Source)
	}
}

func TestEnvCommandEnablesRuntimeWithoutFile(t *testing.T) {
	clearEnvOverrides(t)
	t.Setenv(EnvRuntimeCommand, "python main.py")
	cfg, err := Resolve(t.TempDir())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !cfg.Enabled() || !cfg.Command.IsShellForm() {
		t.Fatalf("expected shell command from env, got %+v", cfg)
	}
	if cfg.Timeout != DefaultTimeoutSeconds {
		t.Fatalf("timeout = %d", cfg.Timeout)
	}
}

func TestInvalidEnvValuesAreIgnored(t *testing.T) {
	clearEnvOverrides(t)
	root := t.TempDir()
	writeConfig(t, root, "ml_upgrader_runtime.json",
		`{"command": "echo x", "timeout": 33}`)
	t.Setenv(EnvRuntimeTimeout, "not-a-number")
	t.Setenv(EnvSkipInstall, "maybe")

	cfg, err := Resolve(root)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Timeout != 33 || cfg.SkipInstall {
		t.Fatalf("invalid env values should be ignored: %+v", cfg)
	}
}

func TestExplicitZeroMaxLogChars(t *testing.T) {
	clearEnvOverrides(t)
	root := t.TempDir()
	writeConfig(t, root, "ml_upgrader_runtime.json",
		`{"command": "echo x", "max_log_chars": 0}`)
	cfg, err := Resolve(root)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.MaxLogChars != 0 {
		t.Fatalf("explicit zero must survive defaults, got %d", cfg.MaxLogChars)
	}
}

func TestCommandSpecString(t *testing.T) {
	if got := Args("python", "my file.py").String(); got != "python 'my file.py'" {
		t.Fatalf("quoted render = %q", got)
	}
	if got := ShellString("echo hi && ls").String(); got != "echo hi && ls" {
		t.Fatalf("shell render = %q", got)
	}
}

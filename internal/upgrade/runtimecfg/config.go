// Package runtimecfg loads and validates the runtime validation config that
// tells the harness how to exercise an upgraded repository: the main command,
// setup commands, timeout, environment overlay, and install behavior.
//
// The on-disk document is JSON-shaped (a YAML rendering is accepted too) and
// may nest all fields under a top-level "runtime" key. Environment variables
// override individual fields; see env.go.
package runtimecfg

import (
	"fmt"
	"strings"
)

// Default values applied when a field is unset.
const (
	DefaultTimeoutSeconds = 120
	DefaultMaxLogChars    = 6000
)

// ConfigError reports a malformed or unusable runtime config. It is fatal:
// the orchestrator aborts the run before processing any file.
type ConfigError struct {
	Path string // config file path, or "" when the problem is not file-bound
	Msg  string
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return "runtime config: " + e.Msg
	}
	return fmt.Sprintf("runtime config %s: %s", e.Path, e.Msg)
}

func configErrorf(path, format string, args ...any) error {
	return &ConfigError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

// Config is the parsed runtime validation configuration. A nil *Config means
// runtime validation is disabled and the run is syntax-only.
type Config struct {
	// Command is the main validation command. Required for runtime
	// validation to occur.
	Command CommandSpec

	// SetupCommands run in order before Command; the first failure aborts
	// the harness run.
	SetupCommands []CommandSpec

	// Timeout bounds the main command's wall clock, in seconds. Minimum 1.
	Timeout int

	SkipInstall    bool
	ForceReinstall bool

	// Shell, when set, overrides the per-representation default (string
	// commands run through a shell, argv commands do not).
	Shell *bool

	// Cwd is the working directory for setup and main commands, relative to
	// the project root unless absolute. Empty means the project root.
	Cwd string

	// Env is overlaid on the process environment for every command.
	Env map[string]string

	// MaxLogChars caps each captured stream, keeping the tail. Minimum 0.
	MaxLogChars int

	// Source records where the config came from (file path or environment
	// variable) for diagnostics.
	Source string

	// maxLogSet distinguishes an explicit max_log_chars of 0 from an unset
	// field, which takes the default.
	maxLogSet bool
}

// Enabled reports whether the config calls for runtime validation.
func (c *Config) Enabled() bool {
	return c != nil && !c.Command.IsZero()
}

func applyDefaults(c *Config) {
	if c.Timeout < 1 {
		c.Timeout = DefaultTimeoutSeconds
	}
	if !c.maxLogSet {
		c.MaxLogChars = DefaultMaxLogChars
	}
	if c.MaxLogChars < 0 {
		c.MaxLogChars = 0
	}
}

func validate(c *Config, path string) error {
	if c.Command.IsZero() {
		return nil
	}
	if err := c.Command.check(); err != nil {
		return configErrorf(path, "field 'command': %v", err)
	}
	shellDisabled := c.Shell != nil && !*c.Shell
	if shellDisabled && c.Command.IsShellForm() {
		return configErrorf(path, "field 'command': string commands require shell=true; use a list for shell=false")
	}
	for i, sc := range c.SetupCommands {
		if sc.IsZero() {
			return configErrorf(path, "field 'setup_commands[%d]' cannot be empty", i)
		}
		if err := sc.check(); err != nil {
			return configErrorf(path, "field 'setup_commands[%d]': %v", i, err)
		}
		if shellDisabled && sc.IsShellForm() {
			return configErrorf(path, "field 'setup_commands[%d]': string commands require shell=true; use a list for shell=false", i)
		}
	}
	for k := range c.Env {
		if strings.TrimSpace(k) == "" {
			return configErrorf(path, "field 'env' keys must be non-empty strings")
		}
	}
	return nil
}

// parseBool accepts the loose boolean spellings the original config format
// tolerated ("1", "yes", "on", ...). Returns an error for anything else.
func parseBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case int:
		if t == 0 || t == 1 {
			return t == 1, nil
		}
	case float64:
		if t == 0 || t == 1 {
			return t == 1, nil
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "on", "y":
			return true, nil
		case "0", "false", "no", "off", "n":
			return false, nil
		}
	}
	return false, fmt.Errorf("not a boolean: %v", v)
}

func parseInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		if t == float64(int(t)) {
			return int(t), nil
		}
	case string:
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(t), "%d", &n); err == nil {
			return n, nil
		}
	}
	return 0, fmt.Errorf("not an integer: %v", v)
}

package runtimecfg

import (
	"os"
	"strconv"
	"strings"
)

// Environment variable overrides. Each takes precedence over the file-based
// config when both are present. Invalid values are ignored in favor of the
// file value or default, matching the original tool's behavior.
const (
	EnvRuntimeConfig  = "ML_UPGRADER_RUNTIME_CONFIG"
	EnvRuntimeCommand = "ML_UPGRADER_RUNTIME_COMMAND"
	EnvRuntimeTimeout = "ML_UPGRADER_RUNTIME_TIMEOUT"
	EnvSkipInstall    = "ML_UPGRADER_RUNTIME_SKIP_INSTALL"
	EnvForceReinstall = "ML_UPGRADER_FORCE_REINSTALL"
	EnvMaxLogChars    = "ML_UPGRADER_MAX_RUNTIME_LOG_CHARS"
)

func applyEnvOverrides(c *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvRuntimeCommand)); v != "" {
		c.Command = ShellString(v)
		c.Source = "environment variable " + EnvRuntimeCommand
	}
	if v, ok := envInt(EnvRuntimeTimeout); ok {
		if v < 1 {
			v = 1
		}
		c.Timeout = v
	}
	if v, ok := envBool(EnvSkipInstall); ok {
		c.SkipInstall = v
	}
	if v, ok := envBool(EnvForceReinstall); ok {
		c.ForceReinstall = v
	}
	if v, ok := envInt(EnvMaxLogChars); ok {
		if v < 0 {
			v = 0
		}
		c.MaxLogChars = v
		c.maxLogSet = true
	}
}

func envInt(name string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, false
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(name string) (bool, bool) {
	raw := os.Getenv(name)
	if strings.TrimSpace(raw) == "" {
		return false, false
	}
	b, err := parseBool(raw)
	if err != nil {
		return false, false
	}
	return b, true
}

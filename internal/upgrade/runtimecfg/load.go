package runtimecfg

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Candidate config file names, checked in order under the project root.
var configFileNames = []string{
	"ml_upgrader_runtime.json",
	filepath.Join(".ml-upgrader", "runtime.json"),
	"ml_upgrader_runtime.yaml",
	filepath.Join(".ml-upgrader", "runtime.yaml"),
}

//go:embed schema.json
var schemaSource string

var configSchema = jsonschema.MustCompileString("runtime_config.schema.json", schemaSource)

// Resolve locates, decodes, validates and parses the runtime config for the
// given project root, then applies environment variable overrides. A nil
// config with a nil error means no runtime validation is configured: either
// no config file exists or none of the sources supplies a command.
func Resolve(projectRoot string) (*Config, error) {
	path := findConfigFile(projectRoot)

	cfg := &Config{}
	if path != "" {
		doc, err := loadDocument(path)
		if err != nil {
			return nil, err
		}
		if err := configSchema.Validate(doc); err != nil {
			return nil, configErrorf(path, "schema validation failed: %v", err)
		}
		cfg, err = parseDocument(doc, path)
		if err != nil {
			return nil, err
		}
		cfg.Source = path
	}

	applyEnvOverrides(cfg)
	if cfg.Command.IsZero() {
		return nil, nil
	}
	applyDefaults(cfg)
	if err := validate(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the path of the first config file that exists:
// the explicit override from the environment, then the default candidates
// under the project root.
func findConfigFile(projectRoot string) string {
	var candidates []string
	if explicit := strings.TrimSpace(os.Getenv(EnvRuntimeConfig)); explicit != "" {
		if !filepath.IsAbs(explicit) {
			explicit = filepath.Join(projectRoot, explicit)
		}
		candidates = append(candidates, explicit)
	}
	for _, name := range configFileNames {
		candidates = append(candidates, filepath.Join(projectRoot, name))
	}
	seen := map[string]bool{}
	for _, p := range candidates {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p
		}
	}
	return ""
}

// loadDocument reads and decodes the config file into JSON-shaped generic
// values. An optional top-level "runtime" object is unwrapped. YAML documents
// are round-tripped through encoding/json so schema validation and field
// parsing see one canonical set of types.
func loadDocument(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, configErrorf(path, "read error: %v", err)
	}

	var doc any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &doc); err != nil {
			return nil, configErrorf(path, "parse error: %v", err)
		}
		jb, err := json.Marshal(doc)
		if err != nil {
			return nil, configErrorf(path, "parse error: %v", err)
		}
		doc = nil
		if err := json.Unmarshal(jb, &doc); err != nil {
			return nil, configErrorf(path, "parse error: %v", err)
		}
	default:
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, configErrorf(path, "parse error: %v", err)
		}
	}

	m, ok := doc.(map[string]any)
	if !ok {
		return nil, configErrorf(path, "document must be an object")
	}
	if runtimeSection, present := m["runtime"]; present {
		rm, ok := runtimeSection.(map[string]any)
		if !ok {
			return nil, configErrorf(path, "field 'runtime' must be an object")
		}
		return rm, nil
	}
	return m, nil
}

func parseDocument(m map[string]any, path string) (*Config, error) {
	cfg := &Config{}

	if v, present := m["command"]; present {
		cmd, err := commandFromAny(v)
		if err != nil {
			return nil, configErrorf(path, "field 'command': %v", err)
		}
		cfg.Command = cmd
	}

	if v, present := m["setup_commands"]; present {
		list, ok := v.([]any)
		if !ok {
			return nil, configErrorf(path, "field 'setup_commands' must be a list")
		}
		for i, item := range list {
			cmd, err := commandFromAny(item)
			if err != nil {
				return nil, configErrorf(path, "field 'setup_commands[%d]': %v", i, err)
			}
			cfg.SetupCommands = append(cfg.SetupCommands, cmd)
		}
	}

	if v, present := m["timeout"]; present {
		n, err := parseInt(v)
		if err != nil {
			return nil, configErrorf(path, "field 'timeout' must be an integer")
		}
		if n < 1 {
			n = 1
		}
		cfg.Timeout = n
	}

	if v, present := m["max_log_chars"]; present {
		n, err := parseInt(v)
		if err != nil {
			return nil, configErrorf(path, "field 'max_log_chars' must be an integer")
		}
		if n < 0 {
			n = 0
		}
		cfg.MaxLogChars = n
		cfg.maxLogSet = true
	}

	for _, key := range []string{"skip_install", "force_reinstall"} {
		if v, present := m[key]; present {
			b, err := parseBool(v)
			if err != nil {
				return nil, configErrorf(path, "field '%s' must be a boolean", key)
			}
			if key == "skip_install" {
				cfg.SkipInstall = b
			} else {
				cfg.ForceReinstall = b
			}
		}
	}

	if v, present := m["shell"]; present {
		b, err := parseBool(v)
		if err != nil {
			return nil, configErrorf(path, "field 'shell' must be a boolean")
		}
		cfg.Shell = &b
	}

	for _, key := range []string{"cwd", "working_dir"} {
		if v, present := m[key]; present {
			s, ok := v.(string)
			if !ok {
				return nil, configErrorf(path, "field '%s' must be a string", key)
			}
			if cfg.Cwd == "" {
				cfg.Cwd = s
			}
		}
	}

	if v, present := m["env"]; present {
		em, ok := v.(map[string]any)
		if !ok {
			return nil, configErrorf(path, "field 'env' must be an object")
		}
		cfg.Env = make(map[string]string, len(em))
		for k, val := range em {
			if val == nil {
				cfg.Env[k] = ""
				continue
			}
			cfg.Env[k] = trimFloat(fmt.Sprint(val))
		}
	}

	return cfg, nil
}

// WorkingDir resolves the effective command working directory against the
// project root. A configured directory that does not exist is a ConfigError.
func (c *Config) WorkingDir(projectRoot string) (string, error) {
	if c == nil || strings.TrimSpace(c.Cwd) == "" {
		return projectRoot, nil
	}
	dir := c.Cwd
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(projectRoot, dir)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", configErrorf(c.Source, "references missing working directory %q", c.Cwd)
	}
	return dir, nil
}

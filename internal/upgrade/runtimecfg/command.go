package runtimecfg

import (
	"fmt"
	"strings"
)

// CommandSpec is a command in either of the two wire forms the config
// accepts: a shell string or an explicit argument vector.
type CommandSpec struct {
	// Raw is the shell-string form. Mutually exclusive with Argv.
	Raw string
	// Argv is the argument-vector form, run without shell interpretation.
	Argv []string
}

// ShellString builds a CommandSpec from a shell string.
func ShellString(s string) CommandSpec { return CommandSpec{Raw: s} }

// Args builds a CommandSpec from an argument vector.
func Args(argv ...string) CommandSpec { return CommandSpec{Argv: argv} }

func (c CommandSpec) IsZero() bool {
	return strings.TrimSpace(c.Raw) == "" && len(c.Argv) == 0
}

// IsShellForm reports whether the command was given as a shell string.
func (c CommandSpec) IsShellForm() bool { return strings.TrimSpace(c.Raw) != "" }

func (c CommandSpec) check() error {
	if c.IsZero() {
		return fmt.Errorf("command cannot be empty")
	}
	for _, a := range c.Argv {
		if a == "" {
			return fmt.Errorf("command list items cannot be empty strings")
		}
	}
	return nil
}

// String renders the command for diagnostics: the raw string as-is, or the
// argv form shell-quoted.
func (c CommandSpec) String() string {
	if c.IsShellForm() {
		return strings.TrimSpace(c.Raw)
	}
	quoted := make([]string, len(c.Argv))
	for i, a := range c.Argv {
		quoted[i] = shQuote(a)
	}
	return strings.Join(quoted, " ")
}

// commandFromAny builds a CommandSpec from a decoded document value: either
// a shell string or a list of scalars. Numbers in argv positions are coerced
// to strings, matching the original config format.
func commandFromAny(v any) (CommandSpec, error) {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return CommandSpec{}, fmt.Errorf("command cannot be empty")
		}
		return CommandSpec{Raw: t}, nil
	case []any:
		if len(t) == 0 {
			return CommandSpec{}, fmt.Errorf("command list cannot be empty")
		}
		argv := make([]string, 0, len(t))
		for _, item := range t {
			switch s := item.(type) {
			case string:
				argv = append(argv, s)
			case int, int64, float64:
				argv = append(argv, trimFloat(fmt.Sprint(s)))
			default:
				return CommandSpec{}, fmt.Errorf("command list items must be strings")
			}
		}
		return CommandSpec{Argv: argv}, nil
	default:
		return CommandSpec{}, fmt.Errorf("command must be a string or a list of strings")
	}
}

// trimFloat drops the ".0" suffix JSON decoding leaves on whole numbers.
func trimFloat(s string) string {
	return strings.TrimSuffix(s, ".0")
}

// shQuote quotes a single argument for POSIX sh.
func shQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'\\$`&|;<>(){}[]*?~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

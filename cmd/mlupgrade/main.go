package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/HarshithaSivalingala/cross-versioning/internal/collaborator"
	"github.com/HarshithaSivalingala/cross-versioning/internal/upgrade/engine"
	"github.com/HarshithaSivalingala/cross-versioning/internal/upgrade/orchestrator"
	"github.com/HarshithaSivalingala/cross-versioning/internal/upgrade/pysyntax"
	"github.com/HarshithaSivalingala/cross-versioning/internal/upgrade/runtimecfg"
)

const envMaxRetries = "ML_UPGRADER_MAX_RETRIES"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		run(os.Args[2:])
	case "check":
		check(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  mlupgrade run [--max-retries <n>] [--model <id>] [--syntax-only] [--keep-failed-candidates] [--config <path>] <input> <output>")
	fmt.Fprintln(os.Stderr, "  mlupgrade check <file.py>")
}

type runArgs struct {
	input      string
	output     string
	maxRetries int
	model      string
	configPath string
	syntaxOnly bool
	keepFailed bool
}

// parseRunArgs parses run's flags and positionals. The retry budget comes
// from ML_UPGRADER_MAX_RETRIES when the flag is absent.
func parseRunArgs(args []string) (runArgs, error) {
	parsed := runArgs{maxRetries: engine.DefaultMaxRetries}
	if v := strings.TrimSpace(os.Getenv(envMaxRetries)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			parsed.maxRetries = n
		}
	}

	var roots []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--max-retries":
			i++
			if i >= len(args) {
				return parsed, fmt.Errorf("--max-retries requires a value")
			}
			n, err := strconv.Atoi(args[i])
			if err != nil || n < 0 {
				return parsed, fmt.Errorf("--max-retries: invalid value %q", args[i])
			}
			parsed.maxRetries = n
		case "--model":
			i++
			if i >= len(args) {
				return parsed, fmt.Errorf("--model requires a value")
			}
			parsed.model = args[i]
		case "--config":
			i++
			if i >= len(args) {
				return parsed, fmt.Errorf("--config requires a value")
			}
			parsed.configPath = args[i]
		case "--syntax-only":
			parsed.syntaxOnly = true
		case "--keep-failed-candidates":
			parsed.keepFailed = true
		default:
			if strings.HasPrefix(args[i], "-") {
				return parsed, fmt.Errorf("unknown arg: %s", args[i])
			}
			roots = append(roots, args[i])
		}
	}
	if len(roots) != 2 {
		return parsed, fmt.Errorf("run requires <input> and <output>")
	}
	parsed.input, parsed.output = roots[0], roots[1]
	return parsed, nil
}

func run(args []string) {
	parsed, err := parseRunArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		usage()
		os.Exit(2)
	}

	if parsed.configPath != "" {
		os.Setenv(runtimecfg.EnvRuntimeConfig, parsed.configPath)
	}

	collab, err := collaborator.NewOpenRouterFromEnv(parsed.model)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mlupgrade: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, err := orchestrator.Run(ctx, orchestrator.Options{
		InputRoot:            parsed.input,
		OutputRoot:           parsed.output,
		Collab:               collab,
		MaxRetries:           parsed.maxRetries,
		SyntaxOnly:           parsed.syntaxOnly,
		KeepFailedCandidates: parsed.keepFailed,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "mlupgrade: %v\n", err)
		os.Exit(2)
	}
	if _, failed := rep.Counts(); failed > 0 {
		os.Exit(1)
	}
}

func check(args []string) {
	if len(args) != 1 {
		usage()
		os.Exit(2)
	}
	path := args[0]
	src, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mlupgrade: %v\n", err)
		os.Exit(2)
	}
	if err := pysyntax.Check(path, src); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("%s: syntax ok\n", path)
}

// Package collaborator abstracts the external code-generation service that
// proposes candidate rewrites. The upgrade engine only sees the Collaborator
// interface; the OpenRouter adapter in this package is the production
// implementation and tests substitute scripted stubs.
package collaborator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Request is one proposal request: the file being upgraded, its current
// content, and every prior failure diagnostic in order.
type Request struct {
	Path    string
	Content string
	History []string
}

// Collaborator produces a full replacement file content for a request.
type Collaborator interface {
	Propose(ctx context.Context, req Request) (string, error)
}

const basePrompt = `You are an expert ML code migration assistant.
Rewrite this Python code to work with the latest versions of TensorFlow, PyTorch, NumPy, and JAX.

IMPORTANT MIGRATION PATTERNS:
- TensorFlow 1.x -> 2.x: Remove tf.Session, use eager execution, tf.compat.v1 if needed
- PyTorch: Update deprecated functions, use newer tensor operations
- NumPy: Replace deprecated functions (np.asscalar -> .item(), etc.)
- JAX: Update to current API patterns

Preserve ALL functionality. Return ONLY the corrected code without explanations.`

// BuildPrompt renders the migration prompt for a request. Failure
// diagnostics from earlier attempts are included oldest-first so the model
// sees how its previous candidates failed.
func BuildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n")
	if len(req.History) > 0 {
		b.WriteString("\nEarlier upgraded versions of this file failed validation:\n")
		for i, diag := range req.History {
			fmt.Fprintf(&b, "\n--- Attempt %d failure ---\n%s\n", i+1, strings.TrimSpace(diag))
		}
		b.WriteString("\nPlease fix the issues and return the full corrected file.\n")
	}
	fmt.Fprintf(&b, "\nCode to upgrade (%s):\n%s\n", req.Path, req.Content)
	return b.String()
}

var codeFenceRe = regexp.MustCompile("(?s)```(?:python)?\\s*(.*?)```")

// ExtractCode strips a markdown code fence from a model response, returning
// the fenced body when present and the trimmed response otherwise.
func ExtractCode(response string) string {
	if m := codeFenceRe.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(response)
}

var refusalPrefixes = []string{
	"i'm sorry", "im sorry", "sorry", "i cannot", "i can't", "i can’t",
}

// IsRefusal reports whether a response is an apology or placeholder rather
// than code. Such responses consume a validation attempt without touching
// the working tree.
func IsRefusal(response string) bool {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, prefix := range refusalPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return strings.HasPrefix(trimmed, "# upgraded code here")
}

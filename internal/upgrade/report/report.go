// Package report aggregates per-file upgrade outcomes into the markdown
// run report written at the root of the upgraded tree.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/HarshithaSivalingala/cross-versioning/internal/upgrade/result"
)

// FileResult is the report entry for one upgraded file.
type FileResult struct {
	Path       string                  `json:"path"`
	Passed     bool                    `json:"passed"`
	Attempts   int                     `json:"attempts"`
	APIChanges []string                `json:"api_changes,omitempty"`
	Diagnostic string                  `json:"diagnostic,omitempty"`
	LastResult result.ValidationResult `json:"last_result"`
	Diff       string                  `json:"-"`
}

// RunReport collects everything one run produces.
type RunReport struct {
	RunID             string       `json:"run_id"`
	InputRoot         string       `json:"input_root"`
	OutputRoot        string       `json:"output_root"`
	Started           time.Time    `json:"started"`
	Finished          time.Time    `json:"finished"`
	RuntimeValidation bool         `json:"runtime_validation"`
	DependencyChanges []string     `json:"dependency_changes,omitempty"`
	Files             []FileResult `json:"files"`
}

// Counts returns how many files passed and failed.
func (r *RunReport) Counts() (passed, failed int) {
	for _, f := range r.Files {
		if f.Passed {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}

const maxDiffLines = 20

// Markdown renders the report in the layout users see as UPGRADE_REPORT.md.
func (r *RunReport) Markdown() string {
	passed, failed := r.Counts()
	total := len(r.Files)
	duration := r.Finished.Sub(r.Started)

	var b strings.Builder
	b.WriteString("# ML Repository Upgrade Report\n\n")
	fmt.Fprintf(&b, "**Generated:** %s  \n", r.Finished.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "**Duration:** %.1f seconds  \n", duration.Seconds())
	fmt.Fprintf(&b, "**Total Files:** %d  \n", total)
	fmt.Fprintf(&b, "**Successful:** %d  \n", passed)
	fmt.Fprintf(&b, "**Failed:** %d  \n\n", failed)

	b.WriteString("## Summary\n\n")
	if total > 0 {
		fmt.Fprintf(&b, "%d/%d files upgraded successfully (%.1f%%).\n\n",
			passed, total, float64(passed)/float64(total)*100)
	} else {
		b.WriteString("No eligible Python files found.\n\n")
	}

	if len(r.DependencyChanges) > 0 {
		b.WriteString("## Dependency Updates\n\n")
		for _, change := range r.DependencyChanges {
			fmt.Fprintf(&b, "- %s\n", change)
		}
		b.WriteString("\n")
	}

	if passed > 0 {
		b.WriteString("## Successfully Upgraded Files\n\n")
		for _, f := range r.Files {
			if !f.Passed {
				continue
			}
			fmt.Fprintf(&b, "### `%s`\n\n", f.Path)
			fmt.Fprintf(&b, "- **Attempts:** %d\n", f.Attempts)
			if len(f.APIChanges) > 0 {
				b.WriteString("- **API Changes:**\n")
				for _, change := range f.APIChanges {
					fmt.Fprintf(&b, "  - %s\n", change)
				}
			}
			if f.Diff != "" {
				b.WriteString("\n**Changes:**\n```diff\n")
				b.WriteString(clipDiff(f.Diff))
				b.WriteString("\n```\n\n")
			} else {
				b.WriteString("\n")
			}
		}
	}

	if failed > 0 {
		b.WriteString("## Failed Upgrades\n\n")
		for _, f := range r.Files {
			if f.Passed {
				continue
			}
			fmt.Fprintf(&b, "### `%s`\n\n", f.Path)
			fmt.Fprintf(&b, "- **Attempts:** %d\n", f.Attempts)
			fmt.Fprintf(&b, "- **Error:** %s\n\n", indentBlock(f.Diagnostic))
		}
	}

	b.WriteString("## Statistics\n\n")
	totalAttempts := 0
	for _, f := range r.Files {
		totalAttempts += f.Attempts
	}
	avg := 0.0
	if total > 0 {
		avg = float64(totalAttempts) / float64(total)
	}
	fmt.Fprintf(&b, "- **Average attempts per file:** %.1f\n", avg)
	fmt.Fprintf(&b, "- **Total collaborator calls:** %d\n", totalAttempts)
	b.WriteString(r.commonAPIChanges())

	if failed > 0 {
		b.WriteString("\n## Manual Review Needed\n\n")
		b.WriteString("The following files failed automatic upgrade and require manual attention:\n\n")
		i := 0
		for _, f := range r.Files {
			if f.Passed {
				continue
			}
			i++
			fmt.Fprintf(&b, "%d. **`%s`** - %s\n", i, filepath.Base(f.Path), firstLine(f.Diagnostic))
		}
	}

	b.WriteString("\n## Recommendations\n\n")
	if passed > 0 {
		fmt.Fprintf(&b, "1. **Immediate Use**: The %d successfully upgraded files are ready to use with modern ML libraries\n", passed)
	}
	b.WriteString("2. **Testing**: Run your existing test suite to verify functionality\n")
	if failed > 0 {
		b.WriteString("3. **Manual Migration**: Review failed files for manual upgrade opportunities\n")
	}
	b.WriteString("4. **Incremental Adoption**: Consider upgrading successfully migrated modules first\n")

	return b.String()
}

func (r *RunReport) commonAPIChanges() string {
	counts := map[string]int{}
	for _, f := range r.Files {
		if !f.Passed {
			continue
		}
		for _, change := range f.APIChanges {
			counts[change]++
		}
	}
	if len(counts) == 0 {
		return ""
	}
	type entry struct {
		change string
		n      int
	}
	entries := make([]entry, 0, len(counts))
	for change, n := range counts {
		entries = append(entries, entry{change, n})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].n != entries[j].n {
			return entries[i].n > entries[j].n
		}
		return entries[i].change < entries[j].change
	})
	if len(entries) > 5 {
		entries = entries[:5]
	}
	var b strings.Builder
	b.WriteString("\n**Most common API changes:**\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s (%d files)\n", e.change, e.n)
	}
	return b.String()
}

// WriteMarkdown writes the rendered report atomically.
func (r *RunReport) WriteMarkdown(path string) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(r.Markdown()), 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

func clipDiff(diff string) string {
	lines := strings.Split(strings.TrimRight(diff, "\n"), "\n")
	if len(lines) <= maxDiffLines {
		return strings.Join(lines, "\n")
	}
	clipped := strings.Join(lines[:maxDiffLines], "\n")
	return clipped + fmt.Sprintf("\n... (%d more lines)", len(lines)-maxDiffLines)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	if s == "" {
		return "unknown failure"
	}
	return s
}

func indentBlock(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown failure"
	}
	return strings.ReplaceAll(s, "\n", "\n  ")
}

type apiPattern struct {
	re   *regexp.Regexp
	desc string
}

var apiPatterns = []apiPattern{
	{regexp.MustCompile(`tf\.Session\(\)`), "Removed tf.Session (TF 1.x to 2.x)"},
	{regexp.MustCompile(`tf\.placeholder`), "Replaced tf.placeholder with tf.Variable or function parameters"},
	{regexp.MustCompile(`np\.asscalar`), "Replaced np.asscalar with .item()"},
	{regexp.MustCompile(`torch\.cuda\.FloatTensor`), "Updated torch.cuda.FloatTensor to modern tensor creation"},
	{regexp.MustCompile(`tf\.get_variable`), "Replaced tf.get_variable with tf.Variable"},
	{regexp.MustCompile(`tf\.layers\.`), "Migrated tf.layers to tf.keras.layers"},
	{regexp.MustCompile(`tf\.contrib\.`), "Removed tf.contrib (deprecated in TF 2.x)"},
	{regexp.MustCompile(`np\.int\b`), "Replaced np.int with int"},
	{regexp.MustCompile(`np\.float\b`), "Replaced np.float with float"},
	{regexp.MustCompile(`torch\.autograd\.Variable`), "Removed torch.autograd.Variable (no longer needed)"},
}

// ExtractAPIChanges lists the deprecated API patterns present in the old
// code and absent from the new code.
func ExtractAPIChanges(oldCode, newCode string) []string {
	var changes []string
	for _, p := range apiPatterns {
		if p.re.MatchString(oldCode) && !p.re.MatchString(newCode) {
			changes = append(changes, p.desc)
		}
	}
	return changes
}

package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/HarshithaSivalingala/cross-versioning/internal/upgrade/result"
)

func sampleReport() *RunReport {
	started := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	return &RunReport{
		RunID:             "01HXAMPLE",
		InputRoot:         "legacy",
		OutputRoot:        "upgraded",
		Started:           started,
		Finished:          started.Add(90 * time.Second),
		RuntimeValidation: true,
		DependencyChanges: []string{"tensorflow==1.15.0 -> tensorflow>=2.15.0"},
		Files: []FileResult{
			{
				Path:       "model.py",
				Passed:     true,
				Attempts:   2,
				APIChanges: []string{"Removed tf.Session (TF 1.x to 2.x)"},
				LastResult: result.Pass(result.StageRuntime),
				Diff:       "--- old/model.py\n+++ new/model.py\n@@ -1,1 +1,1 @@\n-a\n+b\n",
			},
			{
				Path:       "train.py",
				Passed:     false,
				Attempts:   4,
				Diagnostic: "[runtime] main command failed (exit 1)\nstderr:\nboom",
				LastResult: result.Fail(result.StageRuntime, "main command failed"),
			},
		},
	}
}

func TestMarkdownSections(t *testing.T) {
	md := sampleReport().Markdown()

	for _, want := range []string{
		"# ML Repository Upgrade Report",
		"**Duration:** 90.0 seconds",
		"**Total Files:** 2",
		"1/2 files upgraded successfully (50.0%).",
		"## Dependency Updates",
		"tensorflow==1.15.0 -> tensorflow>=2.15.0",
		"## Successfully Upgraded Files",
		"### `model.py`",
		"- **Attempts:** 2",
		"Removed tf.Session (TF 1.x to 2.x)",
		"```diff",
		"## Failed Upgrades",
		"### `train.py`",
		"main command failed (exit 1)",
		"## Statistics",
		"- **Average attempts per file:** 3.0",
		"- **Total collaborator calls:** 6",
		"**Most common API changes:**",
		"## Manual Review Needed",
		"**`train.py`**",
		"## Recommendations",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("report missing %q", want)
		}
	}
}

func TestMarkdownEmptyRun(t *testing.T) {
	r := &RunReport{Started: time.Now(), Finished: time.Now()}
	md := r.Markdown()
	if !strings.Contains(md, "No eligible Python files found.") {
		t.Error("empty run not reported")
	}
	if strings.Contains(md, "## Failed Upgrades") {
		t.Error("failure section rendered for empty run")
	}
}

func TestWriteMarkdownLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "UPGRADE_REPORT.md")
	if err := sampleReport().WriteMarkdown(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "# ML Repository Upgrade Report") {
		t.Error("written report lacks title")
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestClipDiff(t *testing.T) {
	long := strings.Repeat("line\n", 30)
	clipped := clipDiff(long)
	if !strings.HasSuffix(clipped, "... (10 more lines)") {
		t.Errorf("clip suffix wrong: %q", clipped[len(clipped)-40:])
	}
	short := "a\nb"
	if clipDiff(short) != "a\nb" {
		t.Errorf("short diff modified: %q", clipDiff(short))
	}
}

func TestExtractAPIChanges(t *testing.T) {
	oldCode := "sess = tf.Session()\nx = np.asscalar(v)\ny = tf.layers.dense(x, 1)\n"
	newCode := "x = v.item()\ny = tf.keras.layers.Dense(1)(x)\n"
	changes := ExtractAPIChanges(oldCode, newCode)

	want := []string{
		"Removed tf.Session (TF 1.x to 2.x)",
		"Replaced np.asscalar with .item()",
		"Migrated tf.layers to tf.keras.layers",
	}
	if len(changes) != len(want) {
		t.Fatalf("changes = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("changes[%d] = %q, want %q", i, changes[i], want[i])
		}
	}
}

func TestExtractAPIChangesStillPresent(t *testing.T) {
	code := "sess = tf.Session()\n"
	if changes := ExtractAPIChanges(code, code); len(changes) != 0 {
		t.Errorf("pattern still present should not count: %v", changes)
	}
}

func TestUnifiedDiffEqualContents(t *testing.T) {
	if d := UnifiedDiff("a\nb\n", "a\nb\n", "f.py"); d != "" {
		t.Errorf("diff of equal contents = %q", d)
	}
}

func TestUnifiedDiffSingleChange(t *testing.T) {
	oldDoc := "a\nb\nc\nd\ne\nf\ng\nh\n"
	newDoc := "a\nb\nc\nD\ne\nf\ng\nh\n"
	d := UnifiedDiff(oldDoc, newDoc, "f.py")

	for _, want := range []string{
		"--- old/f.py\n+++ new/f.py\n",
		"@@ -1,7 +1,7 @@\n",
		"-d\n",
		"+D\n",
		" c\n",
		" g\n",
	} {
		if !strings.Contains(d, want) {
			t.Errorf("diff missing %q:\n%s", want, d)
		}
	}
	if strings.Contains(d, " h\n") {
		t.Errorf("context exceeded three lines:\n%s", d)
	}
}

func TestUnifiedDiffSeparateHunks(t *testing.T) {
	var oldLines, newLines []string
	for i := 0; i < 30; i++ {
		oldLines = append(oldLines, "same")
		newLines = append(newLines, "same")
	}
	oldLines[0], newLines[0] = "first-old", "first-new"
	oldLines[29], newLines[29] = "last-old", "last-new"
	d := UnifiedDiff(strings.Join(oldLines, "\n")+"\n", strings.Join(newLines, "\n")+"\n", "f.py")

	if got := strings.Count(d, "@@ -"); got != 2 {
		t.Errorf("hunks = %d, want 2:\n%s", got, d)
	}
	for _, want := range []string{"-first-old\n", "+first-new\n", "-last-old\n", "+last-new\n"} {
		if !strings.Contains(d, want) {
			t.Errorf("diff missing %q", want)
		}
	}
}

func TestUnifiedDiffPureAddition(t *testing.T) {
	d := UnifiedDiff("a\n", "a\nb\n", "f.py")
	if !strings.Contains(d, "+b\n") {
		t.Errorf("addition missing:\n%s", d)
	}
	if !strings.Contains(d, "@@ -1,1 +1,2 @@") {
		t.Errorf("hunk header wrong:\n%s", d)
	}
}

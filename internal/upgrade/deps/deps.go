// Package deps rewrites ML dependency version floors in a copied tree so
// the upgraded code resolves against current library releases.
package deps

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// versionFloors maps package names to the minimum versions the migrated
// code targets.
var versionFloors = map[string]string{
	"tensorflow":    ">=2.15.0",
	"torch":         ">=2.0.0",
	"numpy":         ">=1.24.0",
	"jax":           ">=0.4.0",
	"jaxlib":        ">=0.4.0",
	"scikit-learn":  ">=1.3.0",
	"pandas":        ">=2.0.0",
	"matplotlib":    ">=3.7.0",
	"seaborn":       ">=0.12.0",
	"scipy":         ">=1.10.0",
	"keras":         ">=3.0.0",
	"transformers":  ">=4.20.0",
	"opencv-python": ">=4.8.0",
}

var requirementLineRe = regexp.MustCompile(`^([a-zA-Z0-9_-]+)`)

// Updater rewrites requirements.txt and setup.py under a tree root,
// recording each change for the run report.
type Updater struct {
	Changes []string
}

// UpdateRequirements rewrites version floors in requirements.txt. It
// reports false when the file does not exist.
func (u *Updater) UpdateRequirements(root string) (bool, error) {
	path := filepath.Join(root, "requirements.txt")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading %s: %w", path, err)
	}

	var out strings.Builder
	changed := false
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			out.WriteString(line + "\n")
			continue
		}
		if m := requirementLineRe.FindStringSubmatch(line); m != nil {
			name := strings.ToLower(m[1])
			if floor, ok := versionFloors[name]; ok {
				updated := name + floor
				if updated != line {
					u.Changes = append(u.Changes, line+" -> "+updated)
					changed = true
				}
				out.WriteString(updated + "\n")
				continue
			}
		}
		out.WriteString(line + "\n")
	}

	if changed {
		if err := os.WriteFile(path, []byte(out.String()), 0o644); err != nil {
			return false, fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return true, nil
}

// UpdateSetupPy rewrites quoted version constraints inside setup.py, such
// as 'tensorflow>=1.0' in an install_requires list. It reports whether the
// file was modified.
func (u *Updater) UpdateSetupPy(root string) (bool, error) {
	path := filepath.Join(root, "setup.py")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("reading %s: %w", path, err)
	}

	content := string(data)
	updated := content
	for _, name := range sortedFloorNames() {
		// The constraint must start with an operator or be absent, so
		// "jax" never rewrites a "jaxlib" entry.
		re := regexp.MustCompile(`(?i)(["'])` + regexp.QuoteMeta(name) + `(?:[><=!~][^"',]*)?(["'])`)
		next := re.ReplaceAllString(updated, "${1}"+name+versionFloors[name]+"${2}")
		if next != updated {
			u.Changes = append(u.Changes, "updated "+name+" in setup.py")
			updated = next
		}
	}

	if updated == content {
		return false, nil
	}
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	return true, nil
}

func sortedFloorNames() []string {
	names := make([]string, 0, len(versionFloors))
	for name := range versionFloors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

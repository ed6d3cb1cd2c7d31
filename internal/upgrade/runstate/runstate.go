// Package runstate persists the JSON snapshot of a run so results survive
// the process and tooling can inspect them later.
package runstate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oklog/ulid/v2"

	"github.com/HarshithaSivalingala/cross-versioning/internal/upgrade/report"
)

// SnapshotName is the snapshot's filename at the output tree root.
const SnapshotName = "ml_upgrader_run.json"

// NewRunID returns a lexically sortable unique run identifier.
func NewRunID() string {
	return ulid.Make().String()
}

// Save writes the snapshot atomically: full write to a temp file in the
// same directory, then rename.
func Save(path string, rep *report.RunReport) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run snapshot: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".run-*.json")
	if err != nil {
		return fmt.Errorf("writing run snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing run snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing run snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("writing run snapshot: %w", err)
	}
	return nil
}

// Load reads a snapshot back, rejecting unknown fields.
func Load(path string) (*report.RunReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading run snapshot: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var rep report.RunReport
	if err := dec.Decode(&rep); err != nil {
		return nil, fmt.Errorf("decoding run snapshot %s: %w", path, err)
	}
	return &rep, nil
}

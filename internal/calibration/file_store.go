package calibration

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileStore keeps the baseline in a small YAML document.
type FileStore struct {
	Path string
}

type fileDoc struct {
	Baseline Baseline `yaml:"baseline"`
}

func (s FileStore) Load(ctx context.Context) (Baseline, bool, error) {
	if err := ctx.Err(); err != nil {
		return Baseline{}, false, err
	}
	b, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return Baseline{}, false, nil
	}
	if err != nil {
		return Baseline{}, false, err
	}
	var doc fileDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return Baseline{}, false, fmt.Errorf("calibration: parse %s: %w", s.Path, err)
	}
	return doc.Baseline, true, nil
}

// Save writes a temp file next to Path and renames it into place.
func (s FileStore) Save(ctx context.Context, bl Baseline) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Path == "" {
		return fmt.Errorf("calibration: path is empty")
	}
	out, err := yaml.Marshal(fileDoc{Baseline: bl})
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, ".calibration-*.yaml")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(out); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.Path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

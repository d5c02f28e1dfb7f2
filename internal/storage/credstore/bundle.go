package credstore

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const bundleVersion = 1

// bundle is the portable form of one session directory.
type bundle struct {
	Version int               `json:"version"`
	Files   map[string][]byte `json:"files"`
}

// packDir reads every regular file below dir into a bundle. Temporary files
// left by WriteFileAtomic are skipped.
func packDir(dir string) ([]byte, error) {
	b := bundle{Version: bundleVersion, Files: make(map[string][]byte)}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || strings.Contains(d.Name(), ".tmp-") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		b.Files[filepath.ToSlash(rel)] = data
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("pack session directory: %w", err)
	}
	return json.Marshal(b)
}

// unpackDir writes a bundle into dir, which must not exist yet.
func unpackDir(dir string, data []byte) error {
	var b bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("decode bundle: %w", err)
	}
	if b.Version != bundleVersion {
		return fmt.Errorf("unsupported bundle version %d", b.Version)
	}
	for name := range b.Files {
		if !filepath.IsLocal(filepath.FromSlash(name)) {
			return fmt.Errorf("bundle entry %q escapes session directory", name)
		}
	}

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create session directory: %w", err)
	}
	for name, content := range b.Files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
			return fmt.Errorf("create bundle subdirectory: %w", err)
		}
		if err := os.WriteFile(path, content, filePerm); err != nil {
			return fmt.Errorf("write bundle entry %q: %w", name, err)
		}
	}
	return nil
}

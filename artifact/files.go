package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LoadDir reads every tracked artifact file that exists under dir into the
// store. Loaded kinds become dirty for all sessions. Returns the kinds that
// were found on disk.
func LoadDir(store *Store, dir string) ([]Kind, error) {
	var loaded []Kind
	for _, k := range Kinds() {
		path := filepath.Join(dir, k.FileName())
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return loaded, fmt.Errorf("load %s: %w", k, err)
		}
		if err := store.SetContent(k, string(data)); err != nil {
			return loaded, err
		}
		loaded = append(loaded, k)
	}
	return loaded, nil
}

// SaveKind writes the current canonical content of kind under dir using a
// temp-file-then-rename write, so a crash never leaves a torn artifact file.
func SaveKind(store *Store, dir string, kind Kind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	a := store.Get(kind)
	path := filepath.Join(dir, kind.FileName())
	return atomicWrite(path, []byte(a.Content))
}

// SaveAll writes every non-empty artifact under dir.
func SaveAll(store *Store, dir string) error {
	for _, k := range Kinds() {
		if store.Get(k).Content == "" {
			continue
		}
		if err := SaveKind(store, dir, k); err != nil {
			return err
		}
	}
	return nil
}

func atomicWrite(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

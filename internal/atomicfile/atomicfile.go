// Package atomicfile provides replace-on-write file persistence. A record is
// written to a temporary sibling file, synced, and renamed over the target so
// a crash mid-write can never leave a torn record behind.
package atomicfile

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// WriteJSON marshals v and atomically replaces the file at path with it.
// Parent directories are created if needed.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "[atomicfile.WriteJSON] marshal")
	}
	return Write(path, data, 0600)
}

// ReadJSON reads the file at path and unmarshals it into v. A missing file is
// reported as os.ErrNotExist so callers can treat it as "no record yet".
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "[atomicfile.ReadJSON] unmarshal %s", path)
	}
	return nil
}

// Write atomically replaces the file at path with data.
func Write(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return errors.Wrap(err, "[atomicfile.Write] mkdir")
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "[atomicfile.Write] create temp")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "[atomicfile.Write] write temp")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "[atomicfile.Write] sync temp")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "[atomicfile.Write] close temp")
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return errors.Wrap(err, "[atomicfile.Write] chmod temp")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(err, "[atomicfile.Write] rename")
	}
	return nil
}

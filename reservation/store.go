package reservation

import (
	"os"

	"github.com/pkg/errors"

	"github.com/chargekeep/chargekeep/internal/atomicfile"
)

// Store persists the reservation snapshot with replace-on-write semantics so
// a restarted process can resume the renewal loop.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Save atomically replaces the stored snapshot.
func (s *Store) Save(snap *Snapshot) error {
	return errors.Wrap(atomicfile.WriteJSON(s.path, snap), "[Store.Save]")
}

// Load returns the stored snapshot, or nil when none exists.
func (s *Store) Load() (*Snapshot, error) {
	var snap Snapshot
	if err := atomicfile.ReadJSON(s.path, &snap); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "[Store.Load]")
	}
	return &snap, nil
}

// Clear removes the stored snapshot. Removing a missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "[Store.Clear]")
	}
	return nil
}

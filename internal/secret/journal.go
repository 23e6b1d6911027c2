package secret

import (
	"errors"

	log "github.com/sirupsen/logrus"
)

// change is one keyring write recorded by a Journal, with what the entry held before.
type change struct {
	key      string
	previous string
	existed  bool
}

// Journal persists secrets through a Store and remembers every keyring entry it
// overwrote, so a failed run can put the vault back the way it found it.
type Journal struct {
	store   *Store
	changes []change
}

// NewJournal returns an empty journal writing through s.
func (s *Store) NewJournal() *Journal {
	return &Journal{store: s}
}

// Persist behaves like Store.Persist. For keyring backends the current value of the
// entry is read first; an entry that cannot be read is not overwritten.
func (j *Journal) Persist(kind Kind, entryKey, value string) (Descriptor, error) {
	if kind != KindKeyring || entryKey == "" || j.store.vault == nil {
		return j.store.Persist(kind, entryKey, value)
	}

	previous, err := j.store.vault.Get(entryKey)
	existed := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return Descriptor{}, &Error{Backend: kind, Op: "get", Key: entryKey, Cause: err}
	}

	d, err := j.store.Persist(kind, entryKey, value)
	if err != nil {
		return Descriptor{}, err
	}
	j.changes = append(j.changes, change{key: entryKey, previous: previous, existed: existed})
	return d, nil
}

// Mark returns a position that RollbackTo can return to.
func (j *Journal) Mark() int {
	return len(j.changes)
}

// Rollback undoes every recorded write.
func (j *Journal) Rollback() error {
	return j.RollbackTo(0)
}

// RollbackTo undoes the writes recorded after mark, newest first. Entries that
// existed before get their old value back; entries created by the journal are
// removed. Every change is attempted; the first failure is returned.
func (j *Journal) RollbackTo(mark int) error {
	if mark < 0 {
		mark = 0
	}
	var firstErr error
	for i := len(j.changes) - 1; i >= mark; i-- {
		c := j.changes[i]
		var err error
		if c.existed {
			err = j.store.vault.Set(c.key, c.previous)
		} else {
			err = j.store.vault.Remove(c.key)
		}
		if err != nil {
			if firstErr == nil {
				firstErr = &Error{Backend: KindKeyring, Op: "restore", Key: c.key, Cause: err}
			}
			log.WithFields(log.Fields{"backend": KindKeyring.String(), "key": c.key}).WithError(err).Warn("Keyring entry could not be restored")
			continue
		}
		log.WithFields(log.Fields{"backend": KindKeyring.String(), "key": c.key}).Debug("Keyring entry restored")
	}
	clear(j.changes[mark:])
	j.changes = j.changes[:mark]
	return firstErr
}

// Commit forgets the recorded writes, dropping the previous values held in memory.
func (j *Journal) Commit() {
	clear(j.changes)
	j.changes = nil
}

// Len reports how many keyring writes are recorded.
func (j *Journal) Len() int {
	return len(j.changes)
}

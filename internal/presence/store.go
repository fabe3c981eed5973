// Package presence holds the presence records of every connected user.
//
// A Store is owned by exactly one goroutine (the hub) and is not safe for
// concurrent use. Every mutating operation is keyed by the id of the user
// performing it.
package presence

import (
	"errors"
	"slices"
	"sort"
	"time"

	"github.com/mmuslimabdulj/goat-space/internal/domain"
)

// ErrNotFound is returned when an operation references an id that is not in the store
var ErrNotFound = errors.New("presence record not found")

type entry struct {
	record domain.PresenceRecord
	seq    uint64

	// restoredAt is set for records loaded from a snapshot; they have no connection.
	restoredAt time.Time
}

// Store maps user ids to presence records
type Store struct {
	records map[string]*entry
	nextSeq uint64
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{records: make(map[string]*entry)}
}

// Len returns the number of records
func (s *Store) Len() int {
	return len(s.records)
}

// Has reports whether id is present
func (s *Store) Has(id string) bool {
	_, ok := s.records[id]
	return ok
}

// Get returns a copy of the record for id
func (s *Store) Get(id string) (domain.PresenceRecord, bool) {
	e, ok := s.records[id]
	if !ok {
		return domain.PresenceRecord{}, false
	}
	return e.record.Clone(), true
}

// Insert adds a record, replacing any record with the same id
func (s *Store) Insert(rec domain.PresenceRecord) {
	rec = rec.Clone()
	rec.ListeningTo = normalizeListening(rec.ID, rec.ListeningTo)
	s.nextSeq++
	s.records[rec.ID] = &entry{record: rec, seq: s.nextSeq}
}

// Remove deletes id and reports whether it was present
func (s *Store) Remove(id string) bool {
	if _, ok := s.records[id]; !ok {
		return false
	}
	delete(s.records, id)
	return true
}

// UpdateMetadata merges the set fields of patch and reports whether anything changed
func (s *Store) UpdateMetadata(id string, patch domain.MetadataPatch) (bool, error) {
	e, ok := s.records[id]
	if !ok {
		return false, ErrNotFound
	}
	rec := &e.record
	changed := false
	if patch.DisplayName != nil && *patch.DisplayName != rec.DisplayName {
		rec.DisplayName = *patch.DisplayName
		changed = true
	}
	if patch.Description != nil && *patch.Description != rec.Description {
		rec.Description = *patch.Description
		changed = true
	}
	if patch.AFK != nil && *patch.AFK != rec.AFK {
		rec.AFK = *patch.AFK
		changed = true
	}
	if patch.TextStream != nil && *patch.TextStream != rec.TextStream {
		rec.TextStream = *patch.TextStream
		changed = true
	}
	return changed, nil
}

// UpdateCoordinates merges the set axes and returns the resulting position
func (s *Store) UpdateCoordinates(id string, patch domain.PositionPatch) (domain.Position, error) {
	e, ok := s.records[id]
	if !ok {
		return domain.Position{}, ErrNotFound
	}
	e.record.Position = patch.Apply(e.record.Position)
	return e.record.Position, nil
}

// UpdateListeningTo replaces the subscription set of id. Self references and
// duplicates are dropped; an order-insensitively equal set is a no-op and
// reports false.
func (s *Store) UpdateListeningTo(id string, ids []string) (bool, error) {
	e, ok := s.records[id]
	if !ok {
		return false, ErrNotFound
	}
	next := normalizeListening(id, ids)
	if SameSet(e.record.ListeningTo, next) {
		return false, nil
	}
	e.record.ListeningTo = next
	return true, nil
}

// ClearListening empties the subscription set of id
func (s *Store) ClearListening(id string) error {
	e, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}
	e.record.ListeningTo = []string{}
	return nil
}

// Listeners returns the ids of every record whose listeningTo contains sender,
// in join order. This is a full scan; there is no reverse index.
func (s *Store) Listeners(sender string) []string {
	var out []string
	for _, e := range s.sorted() {
		if e.record.IsListeningTo(sender) {
			out = append(out, e.record.ID)
		}
	}
	return out
}

// Snapshot returns copies of every record in join order
func (s *Store) Snapshot() []domain.PresenceRecord {
	entries := s.sorted()
	out := make([]domain.PresenceRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.record.Clone())
	}
	return out
}

// Restore inserts historical records that have no live connection
func (s *Store) Restore(records []domain.PresenceRecord, at time.Time) {
	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		s.Insert(rec)
		s.records[rec.ID].restoredAt = at
	}
}

// Restored reports whether id was loaded from a snapshot
func (s *Store) Restored(id string) bool {
	e, ok := s.records[id]
	return ok && !e.restoredAt.IsZero()
}

// EvictRestored removes restored records loaded before cutoff and returns them
func (s *Store) EvictRestored(cutoff time.Time) []domain.PresenceRecord {
	var evicted []domain.PresenceRecord
	for _, e := range s.sorted() {
		if !e.restoredAt.IsZero() && e.restoredAt.Before(cutoff) {
			evicted = append(evicted, e.record)
			delete(s.records, e.record.ID)
		}
	}
	return evicted
}

// PruneEdgesTo removes target from every listeningTo set and returns the ids that changed
func (s *Store) PruneEdgesTo(target string) []string {
	var changed []string
	for _, e := range s.sorted() {
		idx := slices.Index(e.record.ListeningTo, target)
		if idx < 0 {
			continue
		}
		e.record.ListeningTo = slices.Delete(e.record.ListeningTo, idx, idx+1)
		changed = append(changed, e.record.ID)
	}
	return changed
}

func (s *Store) sorted() []*entry {
	out := make([]*entry, 0, len(s.records))
	for _, e := range s.records {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// normalizeListening drops self references, empty ids and duplicates, keeping first-seen order
func normalizeListening(owner string, ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" || id == owner {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// SameSet compares two id lists with set semantics
func SameSet(a, b []string) bool {
	as := make(map[string]struct{}, len(a))
	for _, id := range a {
		as[id] = struct{}{}
	}
	bs := make(map[string]struct{}, len(b))
	for _, id := range b {
		bs[id] = struct{}{}
	}
	if len(as) != len(bs) {
		return false
	}
	for id := range as {
		if _, ok := bs[id]; !ok {
			return false
		}
	}
	return true
}

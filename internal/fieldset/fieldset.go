// Package fieldset holds the pending edits of an open dialog, decoupled from the
// authoritative snapshot the dialog was seeded from.
package fieldset

import (
	"reflect"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Mode selects the fields included in a payload.
type Mode int

const (
	// Changed includes only the fields whose value differs from the snapshot.
	Changed Mode = iota
	// Full includes every field, edited or not.
	Full
)

func (m Mode) String() string {
	if m == Full {
		return "full"
	}

	return "changed"
}

// Set is a set of pending edits against a snapshot of field values.
//
// A Set is not safe for concurrent use, the owning dialog serializes access.
type Set struct {
	mode     Mode
	snapshot map[string]any
	edits    map[string]any
}

// New returns a Set seeded from a copy of the snapshot fields.
func New(mode Mode, snapshot map[string]any) *Set {
	return &Set{
		mode:     mode,
		snapshot: maps.Clone(snapshot),
		edits:    map[string]any{},
	}
}

// Mode returns the payload mode of the set.
func (s *Set) Mode() Mode {
	return s.mode
}

// Set replaces the pending value of key, keys not in the snapshot are added.
func (s *Set) Set(key string, value any) {
	s.edits[key] = value
}

// Get returns the pending value for key, falling back to the snapshot value.
func (s *Set) Get(key string) (any, bool) {
	if v, ok := s.edits[key]; ok {
		return v, true
	}

	v, ok := s.snapshot[key]

	return v, ok
}

// Initial returns the snapshot value for key.
func (s *Set) Initial(key string) (any, bool) {
	v, ok := s.snapshot[key]
	return v, ok
}

// Changed returns the sorted keys whose pending value differs from the snapshot.
func (s *Set) Changed() []string {
	keys := []string{}

	for k, v := range s.edits {
		initial, ok := s.snapshot[k]
		if ok && reflect.DeepEqual(initial, v) {
			continue
		}

		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}

// HasChanges returns true when any key differs from the snapshot.
func (s *Set) HasChanges() bool {
	return len(s.Changed()) > 0
}

// Payload returns the fields to be sent in a mutation.
//
// In Changed mode only the changed keys are returned, an empty map means nothing to submit.
// In Full mode the snapshot overlaid with the edits is returned.
func (s *Set) Payload() map[string]any {
	if s.mode == Full {
		out := maps.Clone(s.snapshot)
		if out == nil {
			out = map[string]any{}
		}

		for k, v := range s.edits {
			out[k] = v
		}

		return out
	}

	out := map[string]any{}
	for _, k := range s.Changed() {
		out[k] = s.edits[k]
	}

	return out
}

// Reset discards all pending edits.
func (s *Set) Reset() {
	s.edits = map[string]any{}
}

// Bool returns the pending value of key as a bool.
func (s *Set) Bool(key string) bool {
	v, _ := s.Get(key)
	b, _ := v.(bool)

	return b
}

// String returns the pending value of key as a string.
func (s *Set) String(key string) string {
	v, _ := s.Get(key)
	str, _ := v.(string)

	return str
}

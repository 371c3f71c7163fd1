// Package registration tracks launch attempts per learner and activity.
// The set of known registrations is stored as a State API document on
// the LRS itself, keyed per (activity, agent), so the LMS and the
// content provider see the same attempt history.
package registration

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// StateKey is the State API stateId under which the registration
// document is stored.
const StateKey = "http://tincanapi.co.uk/stateapikeys/registrations"

// Record is one registration's lifecycle timestamps.
type Record struct {
	Created      time.Time `json:"created"`
	LastLaunched time.Time `json:"lastlaunched"`
}

// Document maps registration UUIDs to their records. It is the JSON
// body of the State API document.
type Document map[string]Record

// NewID returns a fresh registration UUID.
func NewID() string {
	return uuid.NewString()
}

// Merge records a launch of the given registration at the given
// instant. An unknown registration is created; a known one keeps its
// creation time and advances LastLaunched.
func (d Document) Merge(registrationID string, at time.Time) {
	at = at.UTC()
	rec, ok := d[registrationID]
	if !ok {
		rec.Created = at
	}
	rec.LastLaunched = at
	d[registrationID] = rec
}

// MostRecent returns the registration id with the newest LastLaunched,
// or "" when the document is empty.
func (d Document) MostRecent() string {
	var best string
	var bestAt time.Time
	for id, rec := range d {
		if best == "" || rec.LastLaunched.After(bestAt) {
			best = id
			bestAt = rec.LastLaunched
		}
	}
	return best
}

// MarshalJSON emits the document with registrations ordered newest
// launch first. The ordering is part of the stored representation and
// is what attempt listings render without re-sorting.
func (d Document) MarshalJSON() ([]byte, error) {
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := d[ids[i]], d[ids[j]]
		if !a.LastLaunched.Equal(b.LastLaunched) {
			return a.LastLaunched.After(b.LastLaunched)
		}
		return ids[i] < ids[j]
	})

	buf := []byte{'{'}
	for i, id := range ids {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(d[id])
		if err != nil {
			return nil, err
		}
		buf = append(buf, key...)
		buf = append(buf, ':')
		buf = append(buf, val...)
	}
	buf = append(buf, '}')
	return buf, nil
}

package registration

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	t1 = t0.Add(1 * time.Hour)
	t2 = t0.Add(2 * time.Hour)
)

func TestMerge_NewRegistration(t *testing.T) {
	doc := Document{}
	doc.Merge("reg-a", t0)

	rec := doc["reg-a"]
	assert.Equal(t, t0, rec.Created)
	assert.Equal(t, t0, rec.LastLaunched)
}

func TestMerge_RelaunchKeepsCreated(t *testing.T) {
	doc := Document{}
	doc.Merge("reg-a", t0)
	doc.Merge("reg-a", t2)

	rec := doc["reg-a"]
	assert.Equal(t, t0, rec.Created)
	assert.Equal(t, t2, rec.LastLaunched)
	assert.Len(t, doc, 1)
}

func TestMostRecent(t *testing.T) {
	assert.Equal(t, "", Document{}.MostRecent())

	doc := Document{}
	doc.Merge("reg-a", t0)
	doc.Merge("reg-b", t2)
	doc.Merge("reg-c", t1)

	assert.Equal(t, "reg-b", doc.MostRecent())
}

func TestMarshalJSON_NewestFirst(t *testing.T) {
	doc := Document{
		"reg-old": {Created: t0, LastLaunched: t0},
		"reg-new": {Created: t1, LastLaunched: t2},
		"reg-mid": {Created: t0, LastLaunched: t1},
	}

	out, err := json.Marshal(doc)
	require.NoError(t, err)

	s := string(out)
	newIdx := strings.Index(s, "reg-new")
	midIdx := strings.Index(s, "reg-mid")
	oldIdx := strings.Index(s, "reg-old")
	assert.True(t, newIdx < midIdx && midIdx < oldIdx, "expected newest launch first, got %s", s)

	// Round-trips back into the same document.
	var back Document
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, doc, back)
}

func TestMarshalJSON_TieBreaksByID(t *testing.T) {
	doc := Document{
		"reg-b": {Created: t0, LastLaunched: t1},
		"reg-a": {Created: t0, LastLaunched: t1},
	}

	out, err := json.Marshal(doc)
	require.NoError(t, err)
	assert.True(t, strings.Index(string(out), "reg-a") < strings.Index(string(out), "reg-b"))
}

func TestNewID_IsUnique(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

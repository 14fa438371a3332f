package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serial2mqtt/txmap"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := Open(path)
	require.NoError(t, err)
	return s, path
}

func TestOpenCreatesFile(t *testing.T) {
	s, path := openTestStore(t)
	require.NoError(t, s.Close())
	_, err := os.Stat(path)
	assert.NoError(t, err)
}

func TestAddPublishedAndList(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	t1 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(5 * time.Minute)
	require.NoError(t, s.AddPublished("ESP_WEATHERSTATION", "TX_NAME", t1))
	require.NoError(t, s.AddPublished("ESP_WEATHERSTATION", "", t2))
	require.NoError(t, s.AddPublished("ESP1", "TX_NAME", t1))

	entries, err := s.Transmitters()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "ESP1", entries[0].Topic)
	assert.Equal(t, uint64(1), entries[0].Published)

	ws := entries[1]
	assert.Equal(t, "ESP_WEATHERSTATION", ws.Topic)
	assert.Equal(t, "TX_NAME", ws.Key)
	assert.Equal(t, uint64(2), ws.Published)
	assert.True(t, t2.Equal(ws.LastSeen), "last seen %v, want %v", ws.LastSeen, t2)
}

func TestAddDropped(t *testing.T) {
	s, _ := openTestStore(t)
	defer s.Close()

	require.NoError(t, s.AddDropped("invalid_json"))
	require.NoError(t, s.AddDropped("invalid_json"))
	require.NoError(t, s.AddDropped("not_connected"))

	drops, err := s.Drops()
	require.NoError(t, err)
	assert.Equal(t, map[string]uint64{"invalid_json": 2, "not_connected": 1}, drops)
}

func TestCountersSurviveReopen(t *testing.T) {
	s, path := openTestStore(t)
	require.NoError(t, s.AddPublished("ESP1", "TX_NAME", time.Now()))
	require.NoError(t, s.AddDropped("bad_payload"))
	require.NoError(t, s.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	m := txmap.New()
	require.NoError(t, s.Load(m))
	e, ok := m.Get("ESP1")
	require.True(t, ok)
	assert.Equal(t, uint64(1), e.Published)
	assert.Equal(t, uint64(1), m.Drops()["bad_payload"])

	// counting continues from the restored value
	assert.Equal(t, uint64(2), m.Seen("ESP1", "TX_NAME", time.Now()).Published)
}

package transcript

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAssignsDenseChunkIDs(t *testing.T) {
	s := NewStore("", "en")

	first := s.Append("Hi", Timespan{Start: 0, End: 1})
	require.NotNil(t, first)
	assert.Equal(t, 0, first.ChunkID)
	assert.Equal(t, 0, first.Version)

	second := s.Append("there", Timespan{Start: 1, End: 2})
	require.NotNil(t, second)
	assert.Equal(t, 1, second.ChunkID)
	assert.Equal(t, 2, s.Len())
}

func TestAppendEmptyTextIsNoOp(t *testing.T) {
	s := NewStore("", "en")
	assert.Nil(t, s.Append("", Timespan{}))
	assert.Equal(t, 0, s.Len())
}

func TestEditIdempotence(t *testing.T) {
	s := NewStore("", "en")
	unit := s.Append("Hi", Timespan{Start: 0, End: 1})
	require.NotNil(t, unit)

	// Same text: no new version.
	text, version, err := s.Edit(0, 0, "Hi")
	require.NoError(t, err)
	assert.Equal(t, "Hi", text)
	assert.Equal(t, 0, version)

	text, version, err = s.Edit(0, 0, "Hello")
	require.NoError(t, err)
	assert.Equal(t, "Hello", text)
	assert.Equal(t, 1, version)

	// Version chains keep version == index and inherit the timespan.
	units := s.AllUnits()
	require.Len(t, units, 2)
	for i, u := range units {
		assert.Equal(t, i, u.Version)
		assert.Equal(t, units[0].Timespan, u.Timespan)
	}

	_, _, err = s.Edit(7, 0, "nope")
	assert.Error(t, err)
}

func TestRate(t *testing.T) {
	s := NewStore("", "en")
	s.Append("Hi", Timespan{Start: 0, End: 1})

	rating, err := s.Rate(0, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rating)

	rating, err = s.Rate(0, 0, -3)
	require.NoError(t, err)
	assert.Equal(t, -2, rating)

	_, err = s.Rate(0, 5, 1)
	assert.Error(t, err)
	_, err = s.Rate(9, 0, 1)
	assert.Error(t, err)
}

func TestLatestChunksAndVersions(t *testing.T) {
	s := NewStore("", "en")
	s.Append("one", Timespan{Start: 0, End: 1})
	s.Append("two", Timespan{Start: 1, End: 2})
	_, _, err := s.Edit(0, 0, "ONE")
	require.NoError(t, err)

	assert.Equal(t, map[int]int{0: 1, 1: 0}, s.LatestVersions())

	// Client knows nothing: gets everything in chunk order.
	updates := s.LatestChunks(nil)
	require.Len(t, updates, 2)
	assert.Equal(t, ChunkUpdate{ChunkID: 0, Version: 1, Text: "ONE"}, updates[0])
	assert.Equal(t, ChunkUpdate{ChunkID: 1, Version: 0, Text: "two"}, updates[1])

	// Client is current on chunk 1, stale on chunk 0.
	updates = s.LatestChunks(map[int]int{0: 0, 1: 0})
	require.Len(t, updates, 1)
	assert.Equal(t, 0, updates[0].ChunkID)

	assert.Empty(t, s.LatestChunks(map[int]int{0: 1, 1: 0}))
}

func TestSRTFormat(t *testing.T) {
	s := NewStore("", "en")
	s.Append("Hello", Timespan{Start: 0, End: 1.5})
	s.Append("A --> B", Timespan{Start: 1.5, End: 3.6})

	want := "0\n00:00:00,000--> 00:00:01,500\nHello\n\n" +
		"1\n00:00:01,500--> 00:00:03,600\nA  -> B\n\n"
	assert.Equal(t, want, s.SRT())
}

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "00:00:00,000", formatTimestamp(0, true, ","))
	assert.Equal(t, "01:02:03,450", formatTimestamp(3723.45, true, ","))
	// Milliseconds round, hours appear only when needed.
	assert.Equal(t, "00:59,999", formatTimestamp(59.9994, false, ","))
	assert.Equal(t, "01:00:00.500", formatTimestamp(3600.5, false, "."))
}

func TestPersistUnitWritesChunkFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "en"), 0o755))

	s := NewStore(dir, "en")
	s.Append("Hi", Timespan{Start: 0, End: 1})
	_, _, err := s.Edit(0, 0, "Hello")
	require.NoError(t, err)

	for _, name := range []string{"0_0.json", "0_1.json"} {
		_, err := os.Stat(filepath.Join(dir, "en", name))
		assert.NoError(t, err, name)
	}
}

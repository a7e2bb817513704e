package asr

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWordWireFormat(t *testing.T) {
	var w Word
	require.NoError(t, json.Unmarshal([]byte(`[1.5, 2.25, "hello"]`), &w))
	assert.Equal(t, Word{Start: 1.5, End: 2.25, Text: "hello"}, w)

	data, err := json.Marshal(w)
	require.NoError(t, err)
	assert.JSONEq(t, `[1.5, 2.25, "hello"]`, string(data))

	assert.Error(t, json.Unmarshal([]byte(`{"start":1}`), &w))
}

func TestFlushCommitsOnSecondAgreement(t *testing.T) {
	h := NewHypothesisBuffer()

	h.Insert([]Word{{0, 1, "hello"}, {1, 2, "world"}}, 0)
	assert.Empty(t, h.Flush(), "first round has nothing to agree with")

	h.Insert([]Word{{1, 2, "world"}, {2, 3, "there"}}, 0)
	commit := h.Flush()
	require.Len(t, commit, 1)
	assert.Equal(t, Word{Start: 1, End: 2, Text: "world"}, commit[0])
	assert.Equal(t, 2.0, h.LastCommittedTime())
}

func TestFlushCommitsLongestCommonPrefix(t *testing.T) {
	h := NewHypothesisBuffer()

	h.Insert([]Word{{0, 1, "one"}, {1, 2, "two"}, {2, 3, "tree"}}, 0)
	assert.Empty(t, h.Flush())

	h.Insert([]Word{{0, 1, "one"}, {1, 2, "two"}, {2, 3, "three"}}, 0)
	commit := h.Flush()
	require.Len(t, commit, 2)
	assert.Equal(t, "one", commit[0].Text)
	assert.Equal(t, "two", commit[1].Text)
	assert.Equal(t, 2.0, h.LastCommittedTime())

	// The disagreeing tail stays pending.
	require.Len(t, h.Pending(), 1)
	assert.Equal(t, "three", h.Pending()[0].Text)
}

func TestInsertDropsWordsBehindFrontier(t *testing.T) {
	h := NewHypothesisBuffer()
	h.Insert([]Word{{0, 1, "a"}, {1, 2, "b"}}, 0)
	h.Flush()
	h.Insert([]Word{{0, 1, "a"}, {1, 2, "b"}}, 0)
	h.Flush()
	require.Equal(t, 2.0, h.LastCommittedTime())

	// Starts before lastCommittedTime - 0.1: dropped on insert.
	h.Insert([]Word{{1.5, 1.9, "ghost"}}, 0)
	assert.Empty(t, h.new)
}

func TestInsertSeamNgramDedup(t *testing.T) {
	h := NewHypothesisBuffer()
	h.Insert([]Word{{4, 5, "a"}, {5, 6, "b"}}, 0)
	h.Flush()
	h.Insert([]Word{{4, 5, "a"}, {5, 6, "b"}}, 0)
	h.Flush()
	require.Equal(t, 6.0, h.LastCommittedTime())

	h.Insert([]Word{{5.8, 6.5, "a"}, {6.5, 7, "b"}, {7, 8, "c"}}, 0)
	require.Len(t, h.new, 1)
	assert.Equal(t, Word{Start: 7, End: 8, Text: "c"}, h.new[0])
}

func TestInsertAppliesOffset(t *testing.T) {
	h := NewHypothesisBuffer()
	h.Insert([]Word{{0, 1, "x"}}, 10)
	require.Len(t, h.new, 1)
	assert.Equal(t, 10.0, h.new[0].Start)
	assert.Equal(t, 11.0, h.new[0].End)
}

func TestCommittedMonotoneAndPop(t *testing.T) {
	h := NewHypothesisBuffer()
	words := []Word{{0, 1, "a"}, {1, 2, "b"}, {2, 3, "c"}}
	h.Insert(words, 0)
	h.Flush()
	h.Insert(words, 0)
	commit := h.Flush()
	require.Len(t, commit, 3)
	for i := 1; i < len(commit); i++ {
		assert.Greater(t, commit[i].End, commit[i-1].End)
	}

	h.PopCommitted(2)
	require.Len(t, h.committed, 1)
	assert.Equal(t, "c", h.committed[0].Text)
}

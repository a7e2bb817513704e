// Package asr stabilizes streaming ASR hypotheses. Workers repeatedly
// re-transcribe a moving audio window; this package commits words that
// appear unchanged in two consecutive re-transcriptions and keeps the
// audio buffer trimmed to what is still unstable.
package asr

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Word is one timestamped word of an ASR hypothesis. Times are absolute
// session seconds once the word has passed through Insert.
type Word struct {
	Start float64
	End   float64
	Text  string
}

// UnmarshalJSON decodes the worker wire shape [begin, end, "word"].
func (w *Word) UnmarshalJSON(data []byte) error {
	var triple [3]json.RawMessage
	if err := json.Unmarshal(data, &triple); err != nil {
		return fmt.Errorf("word triple: %w", err)
	}
	if err := json.Unmarshal(triple[0], &w.Start); err != nil {
		return fmt.Errorf("word begin: %w", err)
	}
	if err := json.Unmarshal(triple[1], &w.End); err != nil {
		return fmt.Errorf("word end: %w", err)
	}
	if err := json.Unmarshal(triple[2], &w.Text); err != nil {
		return fmt.Errorf("word text: %w", err)
	}
	return nil
}

// MarshalJSON encodes the worker wire shape [begin, end, "word"].
func (w Word) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]any{w.Start, w.End, w.Text})
}

// HypothesisBuffer commits words exactly once, in order, by taking the
// longest common prefix of the two most recent hypotheses over the same
// audio. An n-gram check absorbs duplicated words at the seam between
// the committed transcript and a new hypothesis.
type HypothesisBuffer struct {
	committed []Word // committed words still inside the audio buffer
	buffer    []Word // previous round's unconfirmed tail
	new       []Word // current round's candidate tail

	lastCommittedTime float64
}

// NewHypothesisBuffer returns an empty buffer.
func NewHypothesisBuffer() *HypothesisBuffer {
	return &HypothesisBuffer{}
}

// LastCommittedTime returns the end time of the newest committed word.
func (h *HypothesisBuffer) LastCommittedTime() float64 {
	return h.lastCommittedTime
}

// maxSeamNgram bounds the overlap dedup: at most this many words are
// compared between the committed tail and the head of a new hypothesis.
const maxSeamNgram = 5

// Insert takes a fresh hypothesis with times relative to the audio
// buffer start and offset (the buffer's absolute start time). Words that
// end before the committed frontier are dropped; when the hypothesis
// starts right at the frontier, the longest matching n-gram overlapping
// the committed tail is dropped too.
func (h *HypothesisBuffer) Insert(words []Word, offset float64) {
	h.new = h.new[:0]
	for _, w := range words {
		w.Start += offset
		w.End += offset
		if w.Start > h.lastCommittedTime-0.1 {
			h.new = append(h.new, w)
		}
	}

	if len(h.new) == 0 || len(h.committed) == 0 {
		return
	}
	if math.Abs(h.new[0].Start-h.lastCommittedTime) >= 1 {
		return
	}

	limit := maxSeamNgram
	if len(h.committed) < limit {
		limit = len(h.committed)
	}
	if len(h.new) < limit {
		limit = len(h.new)
	}
	for n := limit; n >= 1; n-- {
		if joinTexts(h.committed[len(h.committed)-n:]) == joinTexts(h.new[:n]) {
			h.new = h.new[n:]
			break
		}
	}
}

// Flush commits the longest common prefix of the current and previous
// hypotheses, advancing the committed frontier. The current hypothesis
// becomes the one to beat next round.
func (h *HypothesisBuffer) Flush() []Word {
	// Words from the previous round that end before the new hypothesis
	// even starts can never be confirmed; drop them so a late-starting
	// hypothesis still lines up with the buffer.
	if len(h.new) > 0 {
		for len(h.buffer) > 0 && h.buffer[0].End <= h.new[0].Start {
			h.buffer = h.buffer[1:]
		}
	}

	var commit []Word
	for len(h.new) > 0 && len(h.buffer) > 0 {
		if h.new[0].Text != h.buffer[0].Text {
			break
		}
		word := h.new[0]
		commit = append(commit, word)
		h.lastCommittedTime = word.End
		h.new = h.new[1:]
		h.buffer = h.buffer[1:]
	}

	h.buffer = append([]Word(nil), h.new...)
	h.new = h.new[:0]
	h.committed = append(h.committed, commit...)
	return commit
}

// PopCommitted drops committed words that end at or before t; they have
// scrolled out of the audio buffer and are no longer needed for seam
// deduplication.
func (h *HypothesisBuffer) PopCommitted(t float64) {
	i := 0
	for i < len(h.committed) && h.committed[i].End <= t {
		i++
	}
	h.committed = h.committed[i:]
}

// Pending returns the unconfirmed tail: words seen in the latest
// hypothesis that have not been committed yet.
func (h *HypothesisBuffer) Pending() []Word {
	return h.buffer
}

func joinTexts(words []Word) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Text
	}
	return strings.Join(parts, " ")
}

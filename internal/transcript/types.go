package transcript

import "fmt"

// Timespan is a closed interval of session time in seconds.
type Timespan struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewTimespan validates that the span is non-negative and ordered.
func NewTimespan(start, end float64) (Timespan, error) {
	if start < 0 || end < 0 {
		return Timespan{}, fmt.Errorf("negative timespan bounds: [%f, %f]", start, end)
	}
	if start > end {
		return Timespan{}, fmt.Errorf("timespan start after end: [%f, %f]", start, end)
	}
	return Timespan{Start: start, End: end}, nil
}

// TextUnit is one version of one transcript chunk in one language.
// All versions of a chunk share the chunk id and the timespan of version 0.
type TextUnit struct {
	Text     string   `json:"text"`
	ChunkID  int      `json:"chunk_id"`
	Timespan Timespan `json:"timespan"`
	Version  int      `json:"version"`
	Rating   int      `json:"rating"`
}

// RuleSource is a single source string of a correction rule. Inactive
// sources are kept in the rule (the UI toggles them) but never match.
type RuleSource struct {
	String string `json:"string"`
	Active bool   `json:"active"`
}

// CorrectionRule rewrites any of its active source strings to To.
// Rule order is significant: earlier rules win.
type CorrectionRule struct {
	Sources []RuleSource `json:"source_strings"`
	To      string       `json:"to"`
	Version int          `json:"version"`
}

// Effective reports whether the rule can ever fire: at least one active,
// non-empty source and a non-empty replacement.
func (r CorrectionRule) Effective() bool {
	if r.To == "" {
		return false
	}
	for _, src := range r.Sources {
		if src.Active && src.String != "" {
			return true
		}
	}
	return false
}

// ChunkUpdate is the read-API view of the newest version of a chunk.
// The wire field is named "timestamp" for historical reasons: clients
// identify chunks by their ordinal.
type ChunkUpdate struct {
	ChunkID int    `json:"timestamp"`
	Version int    `json:"version"`
	Text    string `json:"text"`
}

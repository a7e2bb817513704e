package transcript

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store holds the transcript of one session in one language as dense
// chunk ids, each with an append-only version chain. It also owns the
// correction rules applied to every text entering the store.
//
// The Store is not safe for concurrent use on its own; the dispatcher
// serializes all access under its lock.
type Store struct {
	language string
	savePath string // <session save path>/text_chunks
	chunks   map[int][]*TextUnit
	rules    []CorrectionRule
}

// NewStore creates an empty store for one language. savePath is the
// session's text_chunks directory; units are persisted best-effort
// under <savePath>/<language>/.
func NewStore(savePath, language string) *Store {
	return &Store{
		language: language,
		savePath: savePath,
		chunks:   make(map[int][]*TextUnit),
	}
}

// Language returns the language code the store was created for.
func (s *Store) Language() string {
	return s.language
}

// Len returns the number of chunks (not versions) in the store.
func (s *Store) Len() int {
	return len(s.chunks)
}

// Append applies the correction rules to text and, unless the result is
// empty, creates a new chunk at the next dense chunk id with version 0.
// Returns the created unit, or nil when the append was a no-op.
func (s *Store) Append(text string, span Timespan) *TextUnit {
	corrected := applyRules(s.rules, text)
	if corrected == "" {
		return nil
	}

	unit := &TextUnit{
		Text:     corrected,
		ChunkID:  len(s.chunks),
		Timespan: span,
		Version:  0,
	}
	s.chunks[unit.ChunkID] = []*TextUnit{unit}
	s.persistUnit(unit)
	return unit
}

// Edit applies the correction rules to text and appends a new version to
// the chunk's chain. An edit whose corrected text equals the current
// tail is discarded and the tail is returned unchanged. The caller's
// version argument is advisory only: the chain tail always wins.
func (s *Store) Edit(chunkID, _ int, text string) (string, int, error) {
	chain, ok := s.chunks[chunkID]
	if !ok {
		return "", 0, fmt.Errorf("chunk %d not found in %s store", chunkID, s.language)
	}

	corrected := applyRules(s.rules, text)
	tail := chain[len(chain)-1]
	if corrected == tail.Text {
		return tail.Text, tail.Version, nil
	}

	unit := &TextUnit{
		Text:     corrected,
		ChunkID:  chunkID,
		Timespan: chain[0].Timespan,
		Version:  len(chain),
	}
	s.chunks[chunkID] = append(chain, unit)
	s.persistUnit(unit)
	return unit.Text, unit.Version, nil
}

// Rate adjusts the rating of one specific version by delta and returns
// the new rating.
func (s *Store) Rate(chunkID, version, delta int) (int, error) {
	chain, ok := s.chunks[chunkID]
	if !ok {
		return 0, fmt.Errorf("chunk %d not found in %s store", chunkID, s.language)
	}
	if version < 0 || version >= len(chain) {
		return 0, fmt.Errorf("chunk %d has no version %d", chunkID, version)
	}
	chain[version].Rating += delta
	return chain[version].Rating, nil
}

// LatestVersions maps every chunk id to the version of its chain tail.
func (s *Store) LatestVersions() map[int]int {
	versions := make(map[int]int, len(s.chunks))
	for id, chain := range s.chunks {
		versions[id] = chain[len(chain)-1].Version
	}
	return versions
}

// LatestChunks returns the newest version of every chunk the client does
// not know yet: chunks missing from known, and chunks whose tail version
// is newer than the known one. Results are ordered by chunk id.
func (s *Store) LatestChunks(known map[int]int) []ChunkUpdate {
	updates := make([]ChunkUpdate, 0)
	for id := 0; id < len(s.chunks); id++ {
		chain := s.chunks[id]
		tail := chain[len(chain)-1]
		if have, ok := known[id]; ok && have >= tail.Version {
			continue
		}
		updates = append(updates, ChunkUpdate{
			ChunkID: id,
			Version: tail.Version,
			Text:    tail.Text,
		})
	}
	return updates
}

// SetRules replaces the correction rules atomically, dropping rules that
// can never produce output. A snapshot of the accepted list is persisted
// next to the text chunks so a recording can be replayed with the rules
// that were live at the time.
func (s *Store) SetRules(rules []CorrectionRule) {
	s.rules = sanitizeRules(rules)
	s.persistRules()
}

// Rules returns the current correction rules.
func (s *Store) Rules() []CorrectionRule {
	if s.rules == nil {
		return []CorrectionRule{}
	}
	return s.rules
}

// ApplyRules runs the streaming rewriter over text with the store's
// current rules.
func (s *Store) ApplyRules(text string) string {
	return applyRules(s.rules, text)
}

// Units returns the tail version of every chunk in chunk-id order.
func (s *Store) Units() []*TextUnit {
	units := make([]*TextUnit, 0, len(s.chunks))
	for id := 0; id < len(s.chunks); id++ {
		chain := s.chunks[id]
		units = append(units, chain[len(chain)-1])
	}
	return units
}

// AllUnits returns every version of every chunk in chunk-id then version
// order, for the final all_text_chunks.json dump.
func (s *Store) AllUnits() []*TextUnit {
	units := make([]*TextUnit, 0, len(s.chunks))
	for id := 0; id < len(s.chunks); id++ {
		units = append(units, s.chunks[id]...)
	}
	return units
}

// SRT renders the newest version of every chunk as SubRip subtitles.
func (s *Store) SRT() string {
	var b strings.Builder
	for _, unit := range s.Units() {
		b.WriteString(fmt.Sprintf("%d\n", unit.ChunkID))
		b.WriteString(formatTimestamp(unit.Timespan.Start, true, ","))
		b.WriteString("--> ")
		b.WriteString(formatTimestamp(unit.Timespan.End, true, ","))
		b.WriteString("\n")
		b.WriteString(strings.ReplaceAll(strings.TrimSpace(unit.Text), "-->", " ->"))
		b.WriteString("\n\n")
	}
	return b.String()
}

func (s *Store) langDir() string {
	return filepath.Join(s.savePath, s.language)
}

// persistUnit is write-through persistence of a single version. Disk
// failures are logged and ignored: the in-memory store is authoritative.
func (s *Store) persistUnit(unit *TextUnit) {
	if s.savePath == "" {
		return
	}
	data, err := json.MarshalIndent(unit, "", "    ")
	if err != nil {
		log.Printf("[Store %s] Failed to marshal chunk %d_%d: %v", s.language, unit.ChunkID, unit.Version, err)
		return
	}
	path := filepath.Join(s.langDir(), fmt.Sprintf("%d_%d.json", unit.ChunkID, unit.Version))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Printf("[Store %s] Failed to persist chunk %d_%d: %v", s.language, unit.ChunkID, unit.Version, err)
	}
}

func (s *Store) persistRules() {
	if s.savePath == "" {
		return
	}
	data, err := json.MarshalIndent(s.Rules(), "", "    ")
	if err != nil {
		log.Printf("[Store %s] Failed to marshal correction rules: %v", s.language, err)
		return
	}
	stamp := strings.ReplaceAll(fmt.Sprintf("%f", float64(time.Now().UnixNano())/1e9), ".", "_")
	path := filepath.Join(s.langDir(), fmt.Sprintf("correction_rules_%s.json", stamp))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Printf("[Store %s] Failed to persist correction rules: %v", s.language, err)
	}
}

// Package session binds one recording context together: the online ASR
// processor, one transcript store per supported language, and the
// on-disk recording folder.
package session

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"live-transcript-server/internal/asr"
	"live-transcript-server/internal/tokenizer"
	"live-transcript-server/internal/transcript"
)

// Config carries the per-deployment session defaults.
type Config struct {
	// SupportedLanguages is the fixed language set every session gets a
	// transcript store for.
	SupportedLanguages []string

	// DefaultSourceLanguage is the assumed audio language until the
	// client switches it.
	DefaultSourceLanguage string

	// DefaultTranscriptLanguage is the primary transcript language; its
	// tokenizer drives audio-buffer trimming.
	DefaultTranscriptLanguage string

	// RecordingsDir is the root under which per-session folders are
	// allocated. Empty disables disk persistence (used in tests).
	RecordingsDir string

	// WordSeparator joins committed words; "" for faster-whisper style
	// workers.
	WordSeparator string

	Tokenizers *tokenizer.Registry
}

// Session is the unit of state for one live recording. The dispatcher
// owns it exclusively and serializes all access.
type Session struct {
	ID             string
	SourceLang     string
	TranscriptLang string
	SupportedLangs []string

	Texts     map[string]*transcript.Store
	Processor *asr.Processor

	// UntranscribedIDs and TranscribedIDs track packet progress for the
	// session, in packet-id order.
	UntranscribedIDs []int
	TranscribedIDs   []int

	SavePath string

	cfg Config
}

// New creates a session with fresh stores and a fresh processor, and
// allocates its recording folder.
func New(id string, cfg Config) (*Session, error) {
	splitter, err := cfg.Tokenizers.Lookup(cfg.DefaultTranscriptLanguage)
	if err != nil {
		return nil, err
	}

	s := &Session{
		ID:             id,
		SourceLang:     cfg.DefaultSourceLanguage,
		TranscriptLang: cfg.DefaultTranscriptLanguage,
		SupportedLangs: append([]string(nil), cfg.SupportedLanguages...),
		Texts:          make(map[string]*transcript.Store, len(cfg.SupportedLanguages)),
		Processor:      asr.NewProcessor(splitter, cfg.WordSeparator),
		cfg:            cfg,
	}

	if cfg.RecordingsDir != "" {
		savePath, err := allocateSaveFolder(cfg.RecordingsDir, id, cfg.SupportedLanguages)
		if err != nil {
			return nil, fmt.Errorf("allocate recording folder: %w", err)
		}
		s.SavePath = savePath
	}

	textChunksDir := ""
	if s.SavePath != "" {
		textChunksDir = filepath.Join(s.SavePath, "text_chunks")
	}
	for _, lang := range cfg.SupportedLanguages {
		s.Texts[lang] = transcript.NewStore(textChunksDir, lang)
	}
	return s, nil
}

// SwitchSourceLanguage changes the assumed audio language.
func (s *Session) SwitchSourceLanguage(lang string) {
	s.SourceLang = lang
}

// SwitchTranscriptLanguage changes the primary transcript language and
// rebuilds the processor's tokenizer. Fails when no sentence splitter
// exists for the language.
func (s *Session) SwitchTranscriptLanguage(lang string) error {
	splitter, err := s.cfg.Tokenizers.Lookup(lang)
	if err != nil {
		return err
	}
	s.TranscriptLang = lang
	s.Processor.SetSplitter(splitter)
	return nil
}

// ResetProcessor replaces the processor with a fresh one, used when the
// audio buffer grows past the hard cap. Committed text survives in the
// stores; in-flight stabilization state is dropped. The packet counter
// carries over so ids stay unique against packets still in the queue.
func (s *Session) ResetProcessor() error {
	splitter, err := s.cfg.Tokenizers.Lookup(s.TranscriptLang)
	if err != nil {
		return err
	}
	nextID := s.Processor.NextPacketID
	s.Processor = asr.NewProcessor(splitter, s.cfg.WordSeparator)
	s.Processor.NextPacketID = nextID
	return nil
}

// SaveAudioChunk persists the raw chunk JSON next to the recording,
// named by client timestamp and arrival time. Best effort.
func (s *Session) SaveAudioChunk(chunk map[string]json.Number, timestamp int) {
	if s.SavePath == "" {
		return
	}
	data, err := json.Marshal(chunk)
	if err != nil {
		log.Printf("[Session %s] Failed to marshal audio chunk %d: %v", s.ID, timestamp, err)
		return
	}
	name := fmt.Sprintf("%d_%d.json", timestamp, time.Now().Unix())
	path := filepath.Join(s.SavePath, "audio", name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Printf("[Session %s] Failed to persist audio chunk %d: %v", s.ID, timestamp, err)
	}
}

// FinalizeTranscripts writes every language's transcript as SRT and as
// a JSON dump of all versions under final_transcripts/. Disk failures
// are logged and skipped; the in-memory state remains intact for the
// caller's archival hooks.
func (s *Session) FinalizeTranscripts() {
	if s.SavePath == "" {
		return
	}
	for lang, store := range s.Texts {
		dir := filepath.Join(s.SavePath, "final_transcripts", lang)

		srtPath := filepath.Join(dir, "transcript.srt")
		if err := os.WriteFile(srtPath, []byte(store.SRT()), 0o644); err != nil {
			log.Printf("[Session %s] Failed to write SRT for %s: %v", s.ID, lang, err)
		}

		dump, err := json.MarshalIndent(store.AllUnits(), "", "    ")
		if err != nil {
			log.Printf("[Session %s] Failed to marshal text chunks for %s: %v", s.ID, lang, err)
			continue
		}
		jsonPath := filepath.Join(dir, "all_text_chunks.json")
		if err := os.WriteFile(jsonPath, dump, 0o644); err != nil {
			log.Printf("[Session %s] Failed to write text chunks for %s: %v", s.ID, lang, err)
		}
	}
}

// allocateSaveFolder builds recordings/<sessionID>/<n> with n the
// smallest unused index, plus the audio, per-language text_chunks and
// final_transcripts subdirectories.
func allocateSaveFolder(root, sessionID string, languages []string) (string, error) {
	sessionDir := filepath.Join(root, sessionID)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return "", err
	}

	index := 0
	for {
		if _, err := os.Stat(filepath.Join(sessionDir, strconv.Itoa(index))); os.IsNotExist(err) {
			break
		}
		index++
	}

	base := filepath.Join(sessionDir, strconv.Itoa(index))
	dirs := []string{filepath.Join(base, "audio")}
	for _, lang := range languages {
		dirs = append(dirs,
			filepath.Join(base, "text_chunks", lang),
			filepath.Join(base, "final_transcripts", lang),
		)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", err
		}
	}
	return base, nil
}

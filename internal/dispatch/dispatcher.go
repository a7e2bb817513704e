// Package dispatch owns the session table and the two pull-based work
// queues. Workers never get pushed to: they poll for jobs, and a job
// that is not acknowledged within the redelivery timeout is offered to
// the next worker that asks.
package dispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"live-transcript-server/internal/asr"
	"live-transcript-server/internal/audio"
	"live-transcript-server/internal/session"
	"live-transcript-server/internal/transcript"
)

var (
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionNotFound = errors.New("session not found")
)

// Broadcaster receives committed and edited chunks for live push to
// subscribed viewers. Implementations must not call back into the
// dispatcher.
type Broadcaster interface {
	PublishChunk(sessionID, language string, update transcript.ChunkUpdate)
}

// EndHook runs after a session's transcripts are finalized, while its
// state is still alive. Used for database and object-storage archival.
type EndHook func(s *session.Session)

// Dispatcher serializes all session and queue access behind one mutex.
// Request rates are human-scale (one browser and a few workers per
// session), so a single lock is simpler and safe.
type Dispatcher struct {
	mu sync.Mutex

	cfg      session.Config
	sessions map[string]*session.Session

	transcribeQueue []*TranscribePacket
	translateQueue  []*TranslatePacket

	broadcaster Broadcaster
	endHooks    []EndHook

	now func() time.Time
}

// New creates a dispatcher with no sessions.
func New(cfg session.Config) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		sessions: make(map[string]*session.Session),
		now:      time.Now,
	}
}

// SetBroadcaster wires the live-push fanout. Optional.
func (d *Dispatcher) SetBroadcaster(b Broadcaster) {
	d.broadcaster = b
}

// OnSessionEnd registers an archival hook. Optional.
func (d *Dispatcher) OnSessionEnd(hook EndHook) {
	d.endHooks = append(d.endHooks, hook)
}

// CreateSession registers a new live session under the given id.
func (d *Dispatcher) CreateSession(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.sessions[id]; ok {
		return ErrSessionExists
	}
	s, err := session.New(id, d.cfg)
	if err != nil {
		return fmt.Errorf("create session %s: %w", id, err)
	}
	d.sessions[id] = s
	log.Printf("[Session %s] Created", id)
	return nil
}

// EndSession removes the session and every queued packet belonging to
// it, then flushes the unconfirmed hypothesis tail, writes the final
// transcripts, and runs the archival hooks. The session is detached
// from the table before finalization so slow archive targets never
// stall other sessions behind the dispatcher lock.
func (d *Dispatcher) EndSession(id string) error {
	d.mu.Lock()
	s, ok := d.sessions[id]
	if !ok {
		d.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(d.sessions, id)
	d.purgeSessionPackets(id)
	d.mu.Unlock()

	// Exclusively owned now; no further locking needed.
	if commit := s.Processor.Finish(); commit.OK {
		d.appendCommit(s, s.TranscriptLang, commit.Text, transcript.Timespan{Start: commit.Beg, End: commit.End})
	}
	s.FinalizeTranscripts()
	for _, hook := range d.endHooks {
		hook(s)
	}
	log.Printf("[Session %s] Ended", id)
	return nil
}

// ActiveSessions returns the live session ids in sorted order.
func (d *Dispatcher) ActiveSessions() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]string, 0, len(d.sessions))
	for id := range d.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SubmitAudioChunk decodes a browser audio chunk into the session's
// audio buffer and persists the raw payload beside the recording.
func (d *Dispatcher) SubmitAudioChunk(id string, timestamp int, chunk map[string]json.Number) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	samples, err := audio.DecodeChunkMap(chunk)
	if err != nil {
		return err
	}
	s.SaveAudioChunk(chunk, timestamp)
	s.Processor.InsertAudioChunk(samples)
	return nil
}

// SubmitAudioFile creates a one-shot session around an uploaded
// recording and queues the whole file as a single transcribe packet
// with no conditioning prompt.
func (d *Dispatcher) SubmitAudioFile(samples []float32) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := newFileSessionID()
	for _, taken := d.sessions[id]; taken; _, taken = d.sessions[id] {
		id = newFileSessionID()
	}

	s, err := session.New(id, d.cfg)
	if err != nil {
		return "", fmt.Errorf("create file session: %w", err)
	}
	d.sessions[id] = s
	s.UntranscribedIDs = append(s.UntranscribedIDs, 0)

	d.transcribeQueue = append(d.transcribeQueue, &TranscribePacket{
		SessionID:      id,
		PacketID:       0,
		SourceLang:     s.SourceLang,
		TranscriptLang: s.TranscriptLang,
		Audio:          samples,
		IsFile:         true,
	})
	log.Printf("[Session %s] Created for file upload (%d samples)", id, len(samples))
	return id, nil
}

// SwitchSourceLanguage changes the assumed audio language of a session.
func (d *Dispatcher) SwitchSourceLanguage(id, lang string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	s.SwitchSourceLanguage(lang)
	log.Printf("[Session %s] Source language -> %s", id, lang)
	return nil
}

// SwitchTranscriptLanguage changes the primary transcript language.
func (d *Dispatcher) SwitchTranscriptLanguage(id, lang string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[id]
	if !ok {
		return ErrSessionNotFound
	}
	if err := s.SwitchTranscriptLanguage(lang); err != nil {
		return err
	}
	log.Printf("[Session %s] Transcript language -> %s", id, lang)
	return nil
}

// LatestTextChunks returns, for one language, every chunk whose latest
// version is newer than what the client already has, plus the full
// current version vector.
func (d *Dispatcher) LatestTextChunks(id, lang string, known map[int]int) ([]transcript.ChunkUpdate, map[int]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	store, err := d.storeFor(id, lang)
	if err != nil {
		return nil, nil, err
	}
	return store.LatestChunks(known), store.LatestVersions(), nil
}

// LatestVersions returns the chunk-id to latest-version map for one
// language of a session.
func (d *Dispatcher) LatestVersions(id, lang string) (map[int]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	store, err := d.storeFor(id, lang)
	if err != nil {
		return nil, err
	}
	return store.LatestVersions(), nil
}

// EditChunk appends a manual revision to a chunk's version chain and
// pushes the new version to live viewers.
func (d *Dispatcher) EditChunk(id, lang string, chunkID, version int, text string) (string, int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	store, err := d.storeFor(id, lang)
	if err != nil {
		return "", 0, err
	}
	newText, newVersion, err := store.Edit(chunkID, version, text)
	if err != nil {
		return "", 0, err
	}
	d.publish(id, lang, transcript.ChunkUpdate{ChunkID: chunkID, Version: newVersion, Text: newText})
	return newText, newVersion, nil
}

// RateChunk adjusts the rating of one stored chunk version.
func (d *Dispatcher) RateChunk(id, lang string, chunkID, version, delta int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	store, err := d.storeFor(id, lang)
	if err != nil {
		return 0, err
	}
	return store.Rate(chunkID, version, delta)
}

// SetCorrectionRules replaces the correction rule list for one language
// of a session.
func (d *Dispatcher) SetCorrectionRules(id, lang string, rules []transcript.CorrectionRule) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	store, err := d.storeFor(id, lang)
	if err != nil {
		return err
	}
	store.SetRules(rules)
	log.Printf("[Session %s] Correction rules for %s updated (%d rules)", id, lang, len(rules))
	return nil
}

// CorrectionRules returns the active rule list for one language.
func (d *Dispatcher) CorrectionRules(id, lang string) ([]transcript.CorrectionRule, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	store, err := d.storeFor(id, lang)
	if err != nil {
		return nil, err
	}
	return store.Rules(), nil
}

// NextTranscribeJob sweeps every session with unprocessed audio into a
// new packet, then offers the first due packet in the queue. Returns
// nil when nothing is due.
func (d *Dispatcher) NextTranscribeJob() *TranscribeJob {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sweepAudioBuffers()

	now := d.now()
	for _, p := range d.transcribeQueue {
		if !p.Due(now) {
			continue
		}
		p.SentOutTime = now
		return &TranscribeJob{
			SessionID:      p.SessionID,
			PacketID:       p.PacketID,
			SourceLang:     p.SourceLang,
			TranscriptLang: p.TranscriptLang,
			Prompt:         p.Prompt,
			Audio:          p.Audio,
			IsFile:         p.IsFile,
		}
	}
	return nil
}

// CompleteTranscribe accepts one worker's transcription result.
// Results for dead sessions or already-received packets are dropped
// silently so duplicate deliveries stay harmless.
func (d *Dispatcher) CompleteTranscribe(sessionID string, packetID int, words []asr.Word, segmentEnds []float64, language string, isFile bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[sessionID]
	if !ok {
		log.Printf("[Session %s] Dropping transcription for packet %d: session gone", sessionID, packetID)
		return
	}

	var packet *TranscribePacket
	for _, p := range d.transcribeQueue {
		if p.SessionID == sessionID && p.PacketID == packetID {
			packet = p
			break
		}
	}
	if packet == nil || packet.Received {
		log.Printf("[Session %s] Dropping duplicate transcription for packet %d", sessionID, packetID)
		return
	}
	packet.Received = true
	d.removeTranscribePacket(packet)
	markTranscribed(s, packetID)

	if isFile {
		d.acceptFileTranscription(s, words, language)
		return
	}

	commit := s.Processor.ProcessIter(words, segmentEnds)
	if s.Processor.BufferSeconds() > asr.HardResetSeconds {
		log.Printf("[Session %s] Audio buffer stuck at %.1fs, resetting processor", sessionID, s.Processor.BufferSeconds())
		if err := s.ResetProcessor(); err != nil {
			log.Printf("[Session %s] Processor reset failed: %v", sessionID, err)
		}
	}
	if !commit.OK {
		return
	}

	span := transcript.Timespan{Start: commit.Beg, End: commit.End}
	chunkID := d.appendCommit(s, s.TranscriptLang, commit.Text, span)
	if chunkID < 0 {
		return
	}

	targets := make([]string, 0, len(s.SupportedLangs))
	for _, lang := range s.SupportedLangs {
		if lang != s.TranscriptLang {
			targets = append(targets, lang)
		}
	}
	if len(targets) == 0 {
		return
	}
	d.translateQueue = append(d.translateQueue, &TranslatePacket{
		SessionID:   sessionID,
		PacketID:    chunkID,
		SourceLang:  s.TranscriptLang,
		TargetLangs: targets,
		SourceText:  commit.Text,
		Timespan:    span,
	})
}

// NextTranslateJob offers the first due translate packet, or nil.
func (d *Dispatcher) NextTranslateJob() *TranslateJob {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for _, p := range d.translateQueue {
		if !p.Due(now) {
			continue
		}
		p.SentOutTime = now
		return &TranslateJob{
			SessionID:   p.SessionID,
			PacketID:    p.PacketID,
			SourceLang:  p.SourceLang,
			TargetLangs: append([]string(nil), p.TargetLangs...),
			SourceText:  p.SourceText,
			Timespan:    p.Timespan,
		}
	}
	return nil
}

// CompleteTranslate accepts one worker's translations, appending each
// language's text to that language's store. Unknown languages and
// duplicate deliveries are dropped silently.
func (d *Dispatcher) CompleteTranslate(sessionID string, packetID int, translations map[string]string, span transcript.Timespan) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := d.sessions[sessionID]
	if !ok {
		log.Printf("[Session %s] Dropping translation for packet %d: session gone", sessionID, packetID)
		return
	}

	var packet *TranslatePacket
	for _, p := range d.translateQueue {
		if p.SessionID == sessionID && p.PacketID == packetID {
			packet = p
			break
		}
	}
	if packet == nil || packet.Received {
		log.Printf("[Session %s] Dropping duplicate translation for packet %d", sessionID, packetID)
		return
	}
	packet.Received = true
	d.removeTranslatePacket(packet)

	for lang, text := range translations {
		if lang == s.TranscriptLang {
			continue
		}
		if _, ok := s.Texts[lang]; !ok {
			log.Printf("[Session %s] Dropping translation for unsupported language %s", sessionID, lang)
			continue
		}
		d.appendCommit(s, lang, text, span)
	}
}

// acceptFileTranscription stores a whole-file result word by word into
// the language the worker transcribed, splitting on sentence ends so
// the transcript gets natural chunk boundaries.
func (d *Dispatcher) acceptFileTranscription(s *session.Session, words []asr.Word, language string) {
	if _, ok := s.Texts[language]; !ok {
		log.Printf("[Session %s] File transcription in unsupported language %s, using %s", s.ID, language, s.TranscriptLang)
		language = s.TranscriptLang
	}
	for _, w := range words {
		d.appendCommit(s, language, strings.TrimSpace(w.Text), transcript.Timespan{Start: w.Start, End: w.End})
	}
}

// appendCommit appends one stretch of text to a language store and
// pushes the resulting chunk to live viewers. Returns the chunk id, or
// -1 when the correction rules reduced the text to nothing.
func (d *Dispatcher) appendCommit(s *session.Session, lang, text string, span transcript.Timespan) int {
	store, ok := s.Texts[lang]
	if !ok {
		return -1
	}
	unit := store.Append(text, span)
	if unit == nil {
		return -1
	}
	d.publish(s.ID, lang, transcript.ChunkUpdate{ChunkID: unit.ChunkID, Version: unit.Version, Text: unit.Text})
	return unit.ChunkID
}

// sweepAudioBuffers turns every updated audio buffer into a transcribe
// packet. Runs under the dispatcher lock on each worker poll.
func (d *Dispatcher) sweepAudioBuffers() {
	for id, s := range d.sessions {
		if !s.Processor.BufferUpdated {
			continue
		}
		s.Processor.BufferUpdated = false

		prompt, _ := s.Processor.Prompt()
		packetID := s.Processor.NextPacketID
		s.Processor.NextPacketID++
		s.UntranscribedIDs = append(s.UntranscribedIDs, packetID)

		d.transcribeQueue = append(d.transcribeQueue, &TranscribePacket{
			SessionID:      id,
			PacketID:       packetID,
			SourceLang:     s.SourceLang,
			TranscriptLang: s.TranscriptLang,
			Prompt:         prompt,
			Audio:          s.Processor.AudioSnapshot(),
		})
	}
}

func (d *Dispatcher) storeFor(id, lang string) (*transcript.Store, error) {
	s, ok := d.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	store, ok := s.Texts[lang]
	if !ok {
		return nil, fmt.Errorf("language %s not supported", lang)
	}
	return store, nil
}

func (d *Dispatcher) publish(sessionID, lang string, update transcript.ChunkUpdate) {
	if d.broadcaster != nil {
		d.broadcaster.PublishChunk(sessionID, lang, update)
	}
}

func (d *Dispatcher) purgeSessionPackets(sessionID string) {
	kept := d.transcribeQueue[:0]
	for _, p := range d.transcribeQueue {
		if p.SessionID != sessionID {
			kept = append(kept, p)
		}
	}
	d.transcribeQueue = kept

	keptT := d.translateQueue[:0]
	for _, p := range d.translateQueue {
		if p.SessionID != sessionID {
			keptT = append(keptT, p)
		}
	}
	d.translateQueue = keptT
}

func (d *Dispatcher) removeTranscribePacket(packet *TranscribePacket) {
	for i, p := range d.transcribeQueue {
		if p == packet {
			d.transcribeQueue = append(d.transcribeQueue[:i], d.transcribeQueue[i+1:]...)
			return
		}
	}
}

func (d *Dispatcher) removeTranslatePacket(packet *TranslatePacket) {
	for i, p := range d.translateQueue {
		if p == packet {
			d.translateQueue = append(d.translateQueue[:i], d.translateQueue[i+1:]...)
			return
		}
	}
}

// markTranscribed moves a packet id from the untranscribed list to the
// transcribed list.
func markTranscribed(s *session.Session, packetID int) {
	for i, id := range s.UntranscribedIDs {
		if id == packetID {
			s.UntranscribedIDs = append(s.UntranscribedIDs[:i], s.UntranscribedIDs[i+1:]...)
			break
		}
	}
	s.TranscribedIDs = append(s.TranscribedIDs, packetID)
}

// newFileSessionID returns a 32-character hex id for file-upload
// sessions, which have no client-chosen name.
func newFileSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

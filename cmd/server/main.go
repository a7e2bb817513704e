package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"live-transcript-server/internal/asr"
	"live-transcript-server/internal/audio"
	"live-transcript-server/internal/auth"
	"live-transcript-server/internal/database"
	"live-transcript-server/internal/dispatch"
	"live-transcript-server/internal/live"
	"live-transcript-server/internal/session"
	"live-transcript-server/internal/storage"
	"live-transcript-server/internal/tokenizer"
	"live-transcript-server/internal/transcript"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
		if allowedOriginsEnv == "" {
			return true
		}

		origin := r.Header.Get("Origin")
		for _, allowed := range strings.Split(allowedOriginsEnv, ",") {
			if strings.TrimSpace(allowed) == origin {
				return true
			}
		}
		log.Printf("Rejected WebSocket connection from unauthorized origin: %s", origin)
		return false
	},
}

// Helper functions for consistent JSON responses

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

func sendJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// sendSessionError is the 404/400 shape for unknown session or language.
func sendSessionError(w http.ResponseWriter, statusCode int, sessionID, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":    false,
		"session_id": sessionID,
		"message":    message,
	})
}

func sendMethodNotAllowed(w http.ResponseWriter) {
	sendJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func sendBadRequest(w http.ResponseWriter, message string) {
	sendJSONError(w, http.StatusBadRequest, message)
}

func sendUnauthorized(w http.ResponseWriter, message string) {
	sendJSONError(w, http.StatusUnauthorized, message)
}

// application bundles the shared server state handlers need.
type application struct {
	dispatcher *dispatch.Dispatcher
	liveMgr    *live.Manager
	verifier   *auth.Verifier
}

// corsMiddleware applies the wildcard CORS policy to every route and
// answers preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAuth guards a handler behind the bearer-token verifier. A
// disabled verifier passes everything through.
func (app *application) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := app.verifier.VerifyRequest(r); err != nil {
			sendUnauthorized(w, err.Error())
			return
		}
		next(w, r)
	}
}

func (app *application) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		sendSessionError(w, http.StatusNotFound, "", "Not found")
		return
	}
	if r.Method != http.MethodGet {
		sendMethodNotAllowed(w)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, "I work uwu")
}

func (app *application) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendMethodNotAllowed(w)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sendBadRequest(w, "session_id is required")
		return
	}

	if err := app.dispatcher.CreateSession(sessionID); err != nil {
		if err == dispatch.ErrSessionExists {
			sendSessionError(w, http.StatusBadRequest, sessionID, "Session already exists")
			return
		}
		sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Session %s created", sessionID),
	})
}

func (app *application) handleEndSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendMethodNotAllowed(w)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sendBadRequest(w, "session_id is required")
		return
	}

	if err := app.dispatcher.EndSession(sessionID); err != nil {
		sendSessionError(w, http.StatusNotFound, sessionID, "Session not found")
		return
	}
	writeJSON(w, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Session %s ended", sessionID),
	})
}

func (app *application) handleGetActiveSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendMethodNotAllowed(w)
		return
	}
	writeJSON(w, map[string]interface{}{
		"active_sessions": app.dispatcher.ActiveSessions(),
	})
}

func (app *application) handleSwitchSourceLanguage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendMethodNotAllowed(w)
		return
	}
	sessionID := r.URL.Query().Get("session_id")

	var body struct {
		Language string `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Language == "" {
		sendBadRequest(w, "language is required")
		return
	}

	if err := app.dispatcher.SwitchSourceLanguage(sessionID, body.Language); err != nil {
		sendSessionError(w, http.StatusNotFound, sessionID, "Session not found")
		return
	}
	writeJSON(w, map[string]interface{}{
		"success":    true,
		"session_id": sessionID,
	})
}

func (app *application) handleSwitchTranscriptLanguage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendMethodNotAllowed(w)
		return
	}
	sessionID := r.URL.Query().Get("session_id")

	var body struct {
		Language string `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Language == "" {
		sendBadRequest(w, "language is required")
		return
	}

	if err := app.dispatcher.SwitchTranscriptLanguage(sessionID, body.Language); err != nil {
		if err == dispatch.ErrSessionNotFound {
			sendSessionError(w, http.StatusNotFound, sessionID, "Session not found")
			return
		}
		sendSessionError(w, http.StatusNotFound, sessionID, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"success":    true,
		"session_id": sessionID,
	})
}

func (app *application) handleSubmitAudioChunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendMethodNotAllowed(w)
		return
	}
	sessionID := r.URL.Query().Get("session_id")

	var body struct {
		Timestamp int                    `json:"timestamp"`
		Chunk     map[string]json.Number `json:"chunk"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendBadRequest(w, "malformed audio chunk")
		return
	}

	if err := app.dispatcher.SubmitAudioChunk(sessionID, body.Timestamp, body.Chunk); err != nil {
		if err == dispatch.ErrSessionNotFound {
			sendSessionError(w, http.StatusNotFound, sessionID, "Session not found")
			return
		}
		sendBadRequest(w, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"success":    true,
		"session_id": sessionID,
	})
}

func (app *application) handleSubmitAudioFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendMethodNotAllowed(w)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		sendBadRequest(w, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		sendBadRequest(w, "failed to read uploaded file")
		return
	}

	wav, err := audio.ParseWAV(data)
	if err != nil {
		sendBadRequest(w, err.Error())
		return
	}
	if wav.SampleRate != asr.SamplingRate {
		sendBadRequest(w, fmt.Sprintf("sample rate must be %d Hz, got %d", asr.SamplingRate, wav.SampleRate))
		return
	}

	sessionID, err := app.dispatcher.SubmitAudioFile(wav.Samples)
	if err != nil {
		sendJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"success":    true,
		"session_id": sessionID,
	})
}

func (app *application) handleGetLatestTextChunks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendMethodNotAllowed(w)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	language := r.URL.Query().Get("language")

	var body struct {
		Versions map[string]int `json:"versions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendBadRequest(w, "malformed version map")
		return
	}
	known := make(map[int]int, len(body.Versions))
	for key, version := range body.Versions {
		id, err := strconv.Atoi(key)
		if err != nil {
			sendBadRequest(w, fmt.Sprintf("version key %q is not a chunk id", key))
			return
		}
		known[id] = version
	}

	chunks, versions, err := app.dispatcher.LatestTextChunks(sessionID, language, known)
	if err != nil {
		sendSessionError(w, http.StatusNotFound, sessionID, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"success":     true,
		"session_id":  sessionID,
		"text_chunks": chunks,
		"versions":    versions,
	})
}

func (app *application) handleGetLatestTextChunkVersions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendMethodNotAllowed(w)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	language := r.URL.Query().Get("language")

	versions, err := app.dispatcher.LatestVersions(sessionID, language)
	if err != nil {
		sendSessionError(w, http.StatusNotFound, sessionID, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"success":    true,
		"session_id": sessionID,
		"versions":   versions,
	})
}

func (app *application) handleEditASRChunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendMethodNotAllowed(w)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	language := r.URL.Query().Get("language")

	var body struct {
		Timestamp int    `json:"timestamp"`
		Version   int    `json:"version"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendBadRequest(w, "malformed edit request")
		return
	}

	text, version, err := app.dispatcher.EditChunk(sessionID, language, body.Timestamp, body.Version, body.Text)
	if err != nil {
		sendSessionError(w, http.StatusNotFound, sessionID, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"success":    true,
		"session_id": sessionID,
		"text":       text,
		"timestamp":  body.Timestamp,
		"version":    version,
	})
}

func (app *application) handleRateTextChunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendMethodNotAllowed(w)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	language := r.URL.Query().Get("language")

	var body struct {
		Timestamp    int `json:"timestamp"`
		Version      int `json:"version"`
		RatingUpdate int `json:"rating_update"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendBadRequest(w, "malformed rating request")
		return
	}

	rating, err := app.dispatcher.RateChunk(sessionID, language, body.Timestamp, body.Version, body.RatingUpdate)
	if err != nil {
		sendSessionError(w, http.StatusNotFound, sessionID, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Chunk %d version %d rated %d", body.Timestamp, body.Version, rating),
	})
}

func (app *application) handleSubmitCorrectionRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		sendMethodNotAllowed(w)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	language := r.URL.Query().Get("language")

	var body struct {
		Entries []transcript.CorrectionRule `json:"entries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		sendBadRequest(w, "malformed correction rules")
		return
	}

	if err := app.dispatcher.SetCorrectionRules(sessionID, language, body.Entries); err != nil {
		sendSessionError(w, http.StatusNotFound, sessionID, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"success": true,
		"message": "Correction rules updated",
	})
}

func (app *application) handleGetCorrectionRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		sendMethodNotAllowed(w)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	language := r.URL.Query().Get("language")

	rules, err := app.dispatcher.CorrectionRules(sessionID, language)
	if err != nil {
		sendSessionError(w, http.StatusNotFound, sessionID, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{
		"locked":  true,
		"entries": rules,
	})
}

// handleOffloadASR serves the transcribe worker pool: GET pulls the next
// due packet, POST accepts a result. Results for dead sessions succeed
// without effect so workers never need error handling for races.
func (app *application) handleOffloadASR(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		job := app.dispatcher.NextTranscribeJob()
		if job == nil {
			writeJSON(w, map[string]interface{}{
				"success":   true,
				"timestamp": nil,
				"audio":     []float32{},
			})
			return
		}
		writeJSON(w, map[string]interface{}{
			"success":             true,
			"session_id":          job.SessionID,
			"timestamp":           job.PacketID,
			"source_language":     job.SourceLang,
			"transcript_language": job.TranscriptLang,
			"prompt":              job.Prompt,
			"audio":               job.Audio,
			"is_file":             job.IsFile,
		})

	case http.MethodPost:
		var body struct {
			SessionID string     `json:"session_id"`
			Timestamp int        `json:"timestamp"`
			Tsw       []asr.Word `json:"tsw"`
			Ends      []float64  `json:"ends"`
			Language  string     `json:"language"`
			IsFile    bool       `json:"is_file"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			sendBadRequest(w, "malformed transcription result")
			return
		}
		app.dispatcher.CompleteTranscribe(body.SessionID, body.Timestamp, body.Tsw, body.Ends, body.Language, body.IsFile)
		writeJSON(w, map[string]interface{}{"success": true})

	default:
		sendMethodNotAllowed(w)
	}
}

// handleOffloadTranslation serves the translation worker pool.
func (app *application) handleOffloadTranslation(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		job := app.dispatcher.NextTranslateJob()
		if job == nil {
			writeJSON(w, nil)
			return
		}
		writeJSON(w, job)

	case http.MethodPost:
		var body struct {
			SessionID      string              `json:"session_id"`
			Timestamp      int                 `json:"timestamp"`
			TranslatedText map[string]string   `json:"translated_text"`
			Timespan       transcript.Timespan `json:"timespan"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			sendBadRequest(w, "malformed translation result")
			return
		}
		app.dispatcher.CompleteTranslate(body.SessionID, body.Timestamp, body.TranslatedText, body.Timespan)
		writeJSON(w, map[string]interface{}{"success": true})

	default:
		sendMethodNotAllowed(w)
	}
}

// handleLiveTranscript upgrades to a WebSocket that receives every
// committed or edited chunk for one session and language as it happens.
// Path: /ws/live/<session_id>/<language>
func (app *application) handleLiveTranscript(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/ws/live/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		sendBadRequest(w, "path must be /ws/live/<session_id>/<language>")
		return
	}
	sessionID, language := parts[0], parts[1]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("Live WebSocket upgrade error:", err)
		return
	}
	defer conn.Close()

	app.liveMgr.Subscribe(sessionID, language, conn)
	defer app.liveMgr.Unsubscribe(sessionID, language, conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// newMux wires every route; factored out of main for httptest use.
func newMux(app *application) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", app.handleRoot)
	mux.HandleFunc("/create_session", app.requireAuth(app.handleCreateSession))
	mux.HandleFunc("/end_session", app.requireAuth(app.handleEndSession))
	mux.HandleFunc("/get_active_sessions", app.handleGetActiveSessions)
	mux.HandleFunc("/switch_source_language", app.requireAuth(app.handleSwitchSourceLanguage))
	mux.HandleFunc("/switch_transcript_language", app.requireAuth(app.handleSwitchTranscriptLanguage))
	mux.HandleFunc("/submit_audio_chunk", app.handleSubmitAudioChunk)
	mux.HandleFunc("/submit_audio_file", app.handleSubmitAudioFile)
	mux.HandleFunc("/get_latest_text_chunks", app.handleGetLatestTextChunks)
	mux.HandleFunc("/get_latest_text_chunk_versions", app.handleGetLatestTextChunkVersions)
	mux.HandleFunc("/edit_asr_chunk", app.requireAuth(app.handleEditASRChunk))
	mux.HandleFunc("/rate_text_chunk", app.handleRateTextChunk)
	mux.HandleFunc("/submit_correction_rules", app.requireAuth(app.handleSubmitCorrectionRules))
	mux.HandleFunc("/get_correction_rules", app.handleGetCorrectionRules)
	mux.HandleFunc("/offload_ASR", app.handleOffloadASR)
	mux.HandleFunc("/offload_translation", app.handleOffloadTranslation)
	mux.HandleFunc("/ws/live/", app.handleLiveTranscript)
	return mux
}

// getEnv gets environment variable with fallback default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using process environment")
	}

	supportedLangs := strings.Split(getEnv("SUPPORTED_LANGUAGES", "en,de,cs"), ",")
	for i := range supportedLangs {
		supportedLangs[i] = strings.TrimSpace(supportedLangs[i])
	}

	registry := tokenizer.NewRegistry()
	cfg := session.Config{
		SupportedLanguages:        supportedLangs,
		DefaultSourceLanguage:     getEnv("DEFAULT_SOURCE_LANGUAGE", "en"),
		DefaultTranscriptLanguage: getEnv("DEFAULT_TRANSCRIPT_LANGUAGE", "en"),
		RecordingsDir:             getEnv("RECORDINGS_DIR", "./recordings"),
		WordSeparator:             getEnv("WORD_SEPARATOR", ""),
		Tokenizers:                registry,
	}
	if err := os.MkdirAll(cfg.RecordingsDir, 0o755); err != nil {
		log.Fatalf("Failed to create recordings directory: %v", err)
	}

	dispatcher := dispatch.New(cfg)
	liveMgr := live.NewManager()
	dispatcher.SetBroadcaster(liveMgr)

	// Optional archive targets
	if strings.EqualFold(getEnv("DB_ENABLED", "false"), "true") {
		log.Println("Initializing database connection...")
		if err := database.Init(); err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer database.Close()
		if err := database.EnsureSchema(); err != nil {
			log.Fatalf("Failed to create archive schema: %v", err)
		}
		dispatcher.OnSessionEnd(archiveToDatabase)
	}

	minioClient, err := storage.NewMinioFromEnv()
	if err != nil {
		log.Printf("MinIO disabled: %v", err)
	} else if minioClient.Enabled() {
		dispatcher.OnSessionEnd(func(s *session.Session) {
			uploadToMinio(minioClient, s)
		})
	}

	verifier := auth.NewVerifierFromEnv()
	if verifier.Enabled() {
		log.Println("Bearer-token auth enabled for control endpoints")
	}

	app := &application{
		dispatcher: dispatcher,
		liveMgr:    liveMgr,
		verifier:   verifier,
	}
	handler := corsMiddleware(newMux(app))

	host := getEnv("HOST", "0.0.0.0")
	port := getEnv("PORT", "8000")
	addr := host + ":" + port

	certFile := os.Getenv("SERVERCERT")
	keyFile := os.Getenv("SERVERKEY")
	if certFile != "" && keyFile != "" {
		log.Printf("Server listening on https://%s", addr)
		log.Fatal(http.ListenAndServeTLS(addr, certFile, keyFile, handler))
	}
	log.Printf("Server listening on http://%s", addr)
	log.Fatal(http.ListenAndServe(addr, handler))
}

// archiveToDatabase copies every version of every transcript into the
// archive tables when a session ends.
func archiveToDatabase(s *session.Session) {
	var chunks []database.ArchivedChunk
	for lang, store := range s.Texts {
		for _, unit := range store.AllUnits() {
			chunks = append(chunks, database.ArchivedChunk{
				Language:  lang,
				ChunkID:   unit.ChunkID,
				Version:   unit.Version,
				StartTime: unit.Timespan.Start,
				EndTime:   unit.Timespan.End,
				Rating:    unit.Rating,
				Text:      unit.Text,
			})
		}
	}
	if err := database.ArchiveSession(s.ID, time.Now(), chunks); err != nil {
		log.Printf("[Session %s] Database archive failed: %v", s.ID, err)
	}
}

// uploadToMinio pushes each language's final SRT and chunk dump to the
// bucket when a session ends.
func uploadToMinio(client *storage.MinioClient, s *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for lang, store := range s.Texts {
		dump, err := json.MarshalIndent(store.AllUnits(), "", "    ")
		if err != nil {
			log.Printf("[Session %s] Failed to marshal chunks for %s: %v", s.ID, lang, err)
			continue
		}
		if err := client.UploadTranscript(ctx, s.ID, lang, []byte(store.SRT()), dump); err != nil {
			log.Printf("[Session %s] MinIO upload failed for %s: %v", s.ID, lang, err)
		}
	}
}

package database

import (
	"fmt"
	"time"
)

// EnsureSchema creates the archive tables when they are missing.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id          SERIAL PRIMARY KEY,
		session_id  TEXT NOT NULL,
		ended_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS transcript_chunks (
		id          SERIAL PRIMARY KEY,
		session_id  TEXT NOT NULL,
		language    TEXT NOT NULL,
		chunk_id    INTEGER NOT NULL,
		version     INTEGER NOT NULL,
		start_time  DOUBLE PRECISION NOT NULL,
		end_time    DOUBLE PRECISION NOT NULL,
		rating      INTEGER NOT NULL DEFAULT 0,
		text        TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transcript_chunks_session
		ON transcript_chunks (session_id, language, chunk_id);
	`
	if _, err := DB.Exec(schema); err != nil {
		return fmt.Errorf("failed to create archive schema: %w", err)
	}
	return nil
}

// ArchivedChunk is one transcript version written to the archive.
type ArchivedChunk struct {
	Language  string
	ChunkID   int
	Version   int
	StartTime float64
	EndTime   float64
	Rating    int
	Text      string
}

// ArchiveSession writes a finished session and every version of its
// transcripts in one transaction.
func ArchiveSession(sessionID string, endedAt time.Time, chunks []ArchivedChunk) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	tx, err := DB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin archive transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO sessions (session_id, ended_at) VALUES ($1, $2)`,
		sessionID, endedAt,
	); err != nil {
		return fmt.Errorf("failed to insert session row: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO transcript_chunks
			(session_id, language, chunk_id, version, start_time, end_time, rating, text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.Exec(
			sessionID, c.Language, c.ChunkID, c.Version,
			c.StartTime, c.EndTime, c.Rating, c.Text,
		); err != nil {
			return fmt.Errorf("failed to insert chunk %d_%d (%s): %w", c.ChunkID, c.Version, c.Language, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit archive transaction: %w", err)
	}
	return nil
}

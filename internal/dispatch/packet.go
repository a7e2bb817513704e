package dispatch

import (
	"time"

	"live-transcript-server/internal/transcript"
)

// RedeliveryTimeout is how long a packet stays checked out to a worker
// before it becomes due again.
const RedeliveryTimeout = 15 * time.Second

// TranscribePacket is one unit of ASR work in the transcribe queue.
// Lifecycle: created -> offered (SentOutTime set) -> offered again on
// timeout -> received (removed from the queue).
type TranscribePacket struct {
	SessionID      string
	PacketID       int
	SourceLang     string
	TranscriptLang string
	Prompt         string
	Audio          []float32
	IsFile         bool

	SentOutTime time.Time
	Received    bool
}

// Due reports whether the packet should be offered to a worker: never
// offered yet, or checked out longer than the redelivery timeout.
func (p *TranscribePacket) Due(now time.Time) bool {
	if p.Received {
		return false
	}
	return p.SentOutTime.IsZero() || now.Sub(p.SentOutTime) > RedeliveryTimeout
}

// TranslatePacket is one unit of translation work: a committed stretch
// of transcript to be rendered into every other supported language.
type TranslatePacket struct {
	SessionID   string
	PacketID    int
	SourceLang  string
	TargetLangs []string
	SourceText  string
	Timespan    transcript.Timespan

	SentOutTime time.Time
	Received    bool
}

// Due mirrors TranscribePacket.Due.
func (p *TranslatePacket) Due(now time.Time) bool {
	if p.Received {
		return false
	}
	return p.SentOutTime.IsZero() || now.Sub(p.SentOutTime) > RedeliveryTimeout
}

// TranscribeJob is the wire form of a transcribe packet offered to a
// worker. The packet id travels as "timestamp" for compatibility with
// the worker fleet.
type TranscribeJob struct {
	SessionID      string    `json:"session_id"`
	PacketID       int       `json:"timestamp"`
	SourceLang     string    `json:"source_language"`
	TranscriptLang string    `json:"transcript_language"`
	Prompt         string    `json:"prompt"`
	Audio          []float32 `json:"audio"`
	IsFile         bool      `json:"is_file"`
}

// TranslateJob is the wire form of a translate packet.
type TranslateJob struct {
	SessionID   string              `json:"session_id"`
	PacketID    int                 `json:"timestamp"`
	SourceLang  string              `json:"source_language"`
	TargetLangs []string            `json:"target_languages"`
	SourceText  string              `json:"source_text"`
	Timespan    transcript.Timespan `json:"timespan"`
}

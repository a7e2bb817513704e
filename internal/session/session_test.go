package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"live-transcript-server/internal/tokenizer"
	"live-transcript-server/internal/transcript"
)

func testConfig(dir string) Config {
	return Config{
		SupportedLanguages:        []string{"en", "de"},
		DefaultSourceLanguage:     "en",
		DefaultTranscriptLanguage: "en",
		RecordingsDir:             dir,
		WordSeparator:             " ",
		Tokenizers:                tokenizer.NewRegistry(),
	}
}

func TestNewSessionBuildsStoresPerLanguage(t *testing.T) {
	s, err := New("demo", testConfig(""))
	require.NoError(t, err)

	assert.Equal(t, "en", s.SourceLang)
	assert.Equal(t, "en", s.TranscriptLang)
	require.Len(t, s.Texts, 2)
	assert.NotNil(t, s.Texts["en"])
	assert.NotNil(t, s.Texts["de"])
	assert.Empty(t, s.SavePath, "no recordings dir, no disk layout")
}

func TestNewSessionRejectsUnsupportedTranscriptLanguage(t *testing.T) {
	cfg := testConfig("")
	cfg.DefaultTranscriptLanguage = "klingon"
	_, err := New("demo", cfg)
	assert.Error(t, err)
}

func TestSwitchLanguages(t *testing.T) {
	s, err := New("demo", testConfig(""))
	require.NoError(t, err)

	s.SwitchSourceLanguage("cs")
	assert.Equal(t, "cs", s.SourceLang)

	require.NoError(t, s.SwitchTranscriptLanguage("de"))
	assert.Equal(t, "de", s.TranscriptLang)

	assert.Error(t, s.SwitchTranscriptLanguage("klingon"))
	assert.Equal(t, "de", s.TranscriptLang, "failed switch leaves the language unchanged")
}

func TestResetProcessorDropsBuffer(t *testing.T) {
	s, err := New("demo", testConfig(""))
	require.NoError(t, err)

	s.Processor.InsertAudioChunk(make([]float32, 16000))
	require.NoError(t, s.ResetProcessor())
	assert.Equal(t, 0.0, s.Processor.BufferSeconds())
}

func TestResetProcessorKeepsPacketCounter(t *testing.T) {
	s, err := New("demo", testConfig(""))
	require.NoError(t, err)

	s.Processor.NextPacketID = 7
	require.NoError(t, s.ResetProcessor())
	assert.Equal(t, 7, s.Processor.NextPacketID)
}

func TestAllocateSaveFolderPicksSmallestFreeIndex(t *testing.T) {
	dir := t.TempDir()

	first, err := New("demo", testConfig(dir))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "demo", "0"), first.SavePath)

	second, err := New("demo", testConfig(dir))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "demo", "1"), second.SavePath)

	for _, sub := range []string{"audio", "text_chunks/en", "text_chunks/de", "final_transcripts/en"} {
		info, err := os.Stat(filepath.Join(first.SavePath, sub))
		require.NoError(t, err, sub)
		assert.True(t, info.IsDir())
	}
}

func TestFinalizeTranscriptsWritesAllLanguages(t *testing.T) {
	dir := t.TempDir()
	s, err := New("demo", testConfig(dir))
	require.NoError(t, err)

	s.Texts["en"].Append("Hello", transcript.Timespan{Start: 0, End: 1})
	s.FinalizeTranscripts()

	for _, lang := range []string{"en", "de"} {
		for _, name := range []string{"transcript.srt", "all_text_chunks.json"} {
			_, err := os.Stat(filepath.Join(s.SavePath, "final_transcripts", lang, name))
			assert.NoError(t, err, lang+"/"+name)
		}
	}

	srt, err := os.ReadFile(filepath.Join(s.SavePath, "final_transcripts", "en", "transcript.srt"))
	require.NoError(t, err)
	assert.Contains(t, string(srt), "Hello")
}

package asr

import (
	"math"
	"strings"
	"unicode/utf8"

	"live-transcript-server/internal/tokenizer"
)

const (
	// SamplingRate is the fixed input rate; clients must resample.
	SamplingRate = 16000

	// MaxBufferSeconds triggers a trim at the last completed segment.
	MaxBufferSeconds = 30

	// HardResetSeconds is the dispatcher's guard: past this the whole
	// processor is rebuilt and in-flight stabilization state is lost.
	HardResetSeconds = 45

	// promptChars bounds the prompt handed to workers for conditioning.
	promptChars = 200
)

// Commit is a stabilized stretch of transcript emitted by ProcessIter.
// OK is false when the round confirmed nothing.
type Commit struct {
	Beg  float64
	End  float64
	Text string
	OK   bool
}

// Processor owns one session's audio buffer and drives the hypothesis
// buffer over it. It does not talk to workers itself: the dispatcher
// snapshots its buffer into packets and feeds results back through
// ProcessIter.
type Processor struct {
	splitter tokenizer.SentenceSplitter

	// sep joins committed words; "" matches faster-whisper style
	// workers that emit words with embedded leading spaces.
	sep string

	audioBuffer      []float32
	bufferTimeOffset float64

	hypothesis *HypothesisBuffer
	committed  []Word

	lastChunkedAt float64

	// BufferUpdated flags unprocessed audio; the dispatcher clears it
	// when it snapshots the buffer into a packet.
	BufferUpdated bool

	// NextPacketID is the per-session packet counter, advanced by the
	// dispatcher under its lock when a packet is built.
	NextPacketID int
}

// NewProcessor creates a processor for one session using the sentence
// splitter of the session's transcript language.
func NewProcessor(splitter tokenizer.SentenceSplitter, sep string) *Processor {
	return &Processor{
		splitter:   splitter,
		sep:        sep,
		hypothesis: NewHypothesisBuffer(),
	}
}

// SetSplitter swaps the sentence splitter, used when the session's
// transcript language changes mid-recording.
func (p *Processor) SetSplitter(splitter tokenizer.SentenceSplitter) {
	p.splitter = splitter
}

// InsertAudioChunk appends samples to the audio buffer and marks it
// ready for another transcription round.
func (p *Processor) InsertAudioChunk(samples []float32) {
	p.audioBuffer = append(p.audioBuffer, samples...)
	p.BufferUpdated = true
}

// AudioSnapshot returns a copy of the current audio buffer for a packet.
func (p *Processor) AudioSnapshot() []float32 {
	snapshot := make([]float32, len(p.audioBuffer))
	copy(snapshot, p.audioBuffer)
	return snapshot
}

// BufferSeconds returns the audio buffer length in seconds.
func (p *Processor) BufferSeconds() float64 {
	return float64(len(p.audioBuffer)) / SamplingRate
}

// BufferTimeOffset returns the absolute time of the buffer's first sample.
func (p *Processor) BufferTimeOffset() float64 {
	return p.bufferTimeOffset
}

// Committed returns the stabilized words committed so far.
func (p *Processor) Committed() []Word {
	return p.committed
}

// Prompt returns the conditioning prompt and the in-buffer context.
// The prompt is a suffix (at most 200 characters) of committed text
// that has already scrolled out of the audio buffer; the context is
// committed text the worker will re-transcribe and skip, returned for
// diagnostics only.
func (p *Processor) Prompt() (string, string) {
	k := len(p.committed) - 1
	if k < 0 {
		k = 0
	}
	for k > 0 && p.committed[k-1].End > p.lastChunkedAt {
		k--
	}

	var prompt []string
	length := 0
	for i := k - 1; i >= 0 && length < promptChars; i-- {
		prompt = append([]string{p.committed[i].Text}, prompt...)
		length += utf8.RuneCountInString(p.committed[i].Text) + 1
	}

	context := make([]string, 0, len(p.committed)-k)
	for _, w := range p.committed[k:] {
		context = append(context, w.Text)
	}
	return strings.Join(prompt, p.sep), strings.Join(context, p.sep)
}

// ProcessIter absorbs one worker result: the word hypothesis for the
// current audio buffer (times relative to the buffer) and the segment
// end times the worker labeled. It commits what has stabilized, trims
// the audio buffer at completed sentence or segment boundaries, and
// returns the newly committed stretch.
func (p *Processor) ProcessIter(words []Word, segmentEnds []float64) Commit {
	p.hypothesis.Insert(words, p.bufferTimeOffset)
	commit := p.hypothesis.Flush()
	p.committed = append(p.committed, commit...)

	if len(commit) > 0 {
		p.chunkCompletedSentence()
	}
	if p.BufferSeconds() > MaxBufferSeconds {
		p.chunkCompletedSegment(segmentEnds)
	}

	return p.toFlush(commit)
}

// Finish returns the unconfirmed hypothesis tail. Called once when the
// session ends so trailing words are not lost.
func (p *Processor) Finish() Commit {
	return p.toFlush(p.hypothesis.Pending())
}

// chunkCompletedSentence trims the audio buffer after the second-to-last
// completed sentence, keeping the last two sentences of context.
func (p *Processor) chunkCompletedSentence() {
	if len(p.committed) == 0 {
		return
	}
	sentences := p.wordsToSentences(p.committed)
	if len(sentences) < 2 {
		return
	}
	p.chunkAt(sentences[len(sentences)-2].End)
}

// chunkCompletedSegment trims at the second-to-last worker-labeled
// segment end, walking candidates back from the end until one is not
// past the committed frontier.
func (p *Processor) chunkCompletedSegment(segmentEnds []float64) {
	if len(p.committed) == 0 || len(segmentEnds) < 2 {
		return
	}
	t := p.committed[len(p.committed)-1].End

	ends := append([]float64(nil), segmentEnds...)
	e := ends[len(ends)-2] + p.bufferTimeOffset
	for len(ends) > 2 && e > t {
		ends = ends[:len(ends)-1]
		e = ends[len(ends)-2] + p.bufferTimeOffset
	}
	if e <= t {
		p.chunkAt(e)
	}
}

// chunkAt drops audio before time t and advances the buffer offset.
func (p *Processor) chunkAt(t float64) {
	p.hypothesis.PopCommitted(t)
	cutSamples := int(math.Floor(t-p.bufferTimeOffset)) * SamplingRate
	if cutSamples < 0 {
		cutSamples = 0
	}
	if cutSamples > len(p.audioBuffer) {
		cutSamples = len(p.audioBuffer)
	}
	p.audioBuffer = p.audioBuffer[cutSamples:]
	p.bufferTimeOffset = t
	p.lastChunkedAt = t
}

// Sentence is a tokenized sentence mapped back onto word timestamps.
type Sentence struct {
	Beg  float64
	End  float64
	Text string
}

// wordsToSentences splits the committed words into sentences and
// recovers per-sentence timestamps by greedily consuming words: the
// word matching the sentence start sets Beg, the word that exhausts the
// sentence sets End.
func (p *Processor) wordsToSentences(words []Word) []Sentence {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Text
	}
	split := p.splitter.Split(strings.Join(parts, " "))

	remaining := append([]Word(nil), words...)
	var out []Sentence
	for _, full := range split {
		sentence := strings.TrimSpace(full)
		var beg float64
		begSet := false
		for len(remaining) > 0 {
			w := remaining[0]
			remaining = remaining[1:]
			if !begSet && strings.HasPrefix(sentence, w.Text) {
				beg = w.Start
				begSet = true
			} else if begSet && sentence == w.Text {
				out = append(out, Sentence{Beg: beg, End: w.End, Text: strings.TrimSpace(full)})
				break
			}
			sentence = strings.TrimSpace(strings.TrimPrefix(sentence, w.Text))
		}
	}
	return out
}

// toFlush concatenates words into one commit spanning the first begin
// to the last end.
func (p *Processor) toFlush(words []Word) Commit {
	if len(words) == 0 {
		return Commit{}
	}
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = w.Text
	}
	return Commit{
		Beg:  words[0].Start,
		End:  words[len(words)-1].End,
		Text: strings.Join(parts, p.sep),
		OK:   true,
	}
}

// Package tokenizer maps language codes to sentence splitters. The
// online processor needs sentence boundaries to decide where the audio
// buffer can be trimmed; the split quality only affects trim points,
// never the transcript text itself.
package tokenizer

import (
	"fmt"
	"strings"
	"unicode"
)

// SentenceSplitter splits running text into sentences.
type SentenceSplitter interface {
	Split(text string) []string
}

// whisperLangCodes is the set of languages the ASR workers can emit.
// Lookup fails fast for anything else.
var whisperLangCodes = strings.Split(
	"af,am,ar,as,az,ba,be,bg,bn,bo,br,bs,ca,cs,cy,da,de,el,en,es,et,eu,fa,fi,fo,fr,gl,gu,ha,haw,he,hi,hr,ht,hu,hy,id,is,it,ja,jw,ka,kk,km,kn,ko,la,lb,ln,lo,lt,lv,mg,mi,mk,ml,mn,mr,ms,mt,my,ne,nl,nn,no,oc,pa,pl,ps,pt,ro,ru,sa,sd,si,sk,sl,sn,so,sq,sr,su,sv,sw,ta,te,tg,th,tk,tl,tr,tt,uk,ur,uz,vi,yi,yo,zh",
	",")

// Registry resolves language codes to sentence splitters. Custom
// splitters can be registered at startup; every Whisper language code
// falls back to the rule-based splitter.
type Registry struct {
	splitters map[string]SentenceSplitter
}

// NewRegistry creates a registry covering all Whisper language codes
// with the default rule-based splitter.
func NewRegistry() *Registry {
	r := &Registry{splitters: make(map[string]SentenceSplitter, len(whisperLangCodes))}
	for _, code := range whisperLangCodes {
		r.splitters[code] = &ruleSplitter{}
	}
	// CJK scripts terminate sentences with fullwidth punctuation.
	for _, code := range []string{"ja", "zh"} {
		r.splitters[code] = &ruleSplitter{extraTerminators: "。！？"}
	}
	return r
}

// Register installs a splitter for a language code, overriding the
// default.
func (r *Registry) Register(lang string, s SentenceSplitter) {
	r.splitters[lang] = s
}

// Lookup returns the splitter for lang, or an error for unsupported
// languages.
func (r *Registry) Lookup(lang string) (SentenceSplitter, error) {
	s, ok := r.splitters[lang]
	if !ok {
		return nil, fmt.Errorf("language %q not supported by the sentence tokenizers", lang)
	}
	return s, nil
}

// Supported reports whether lang has a registered splitter.
func (r *Registry) Supported(lang string) bool {
	_, ok := r.splitters[lang]
	return ok
}

// ruleSplitter ends a sentence at ./!/?/… followed by whitespace or end
// of input. Closing quotes and brackets directly after the terminator
// stay with the sentence.
type ruleSplitter struct {
	extraTerminators string
}

func (rs *ruleSplitter) isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return strings.ContainsRune(rs.extraTerminators, r)
}

func (rs *ruleSplitter) Split(text string) []string {
	runes := []rune(text)
	sentences := make([]string, 0, 4)

	start := 0
	i := 0
	for i < len(runes) {
		if !rs.isTerminator(runes[i]) {
			i++
			continue
		}
		// Swallow runs of terminators ("?!", "...") and trailing quotes.
		for i+1 < len(runes) && (rs.isTerminator(runes[i+1]) || isClosing(runes[i+1])) {
			i++
		}
		// Fullwidth terminators end a sentence with no space after them.
		fullwidth := strings.ContainsRune(rs.extraTerminators, runes[i])
		atEnd := i+1 >= len(runes)
		if !atEnd && !fullwidth && !unicode.IsSpace(runes[i+1]) {
			// An abbreviation or a decimal point, not a boundary.
			i++
			continue
		}
		sentence := strings.TrimSpace(string(runes[start : i+1]))
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		i++
		start = i
	}

	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

func isClosing(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '»', '”', '’', '」', '』':
		return true
	}
	return false
}

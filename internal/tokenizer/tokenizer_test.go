package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()

	for _, lang := range []string{"en", "de", "cs", "ja", "zh"} {
		s, err := r.Lookup(lang)
		require.NoError(t, err, lang)
		assert.NotNil(t, s)
	}

	_, err := r.Lookup("klingon")
	assert.Error(t, err)
	assert.False(t, r.Supported("klingon"))
}

type fakeSplitter struct{}

func (fakeSplitter) Split(text string) []string { return []string{text} }

func TestRegistryRegisterOverrides(t *testing.T) {
	r := NewRegistry()
	r.Register("en", fakeSplitter{})

	s, err := r.Lookup("en")
	require.NoError(t, err)
	assert.Equal(t, []string{"One. Two."}, s.Split("One. Two."))
}

func TestRuleSplitter(t *testing.T) {
	s := &ruleSplitter{}

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"empty", "", nil},
		{"single", "Hello world.", []string{"Hello world."}},
		{"two sentences", "Hello world. How are you?", []string{"Hello world.", "How are you?"}},
		{"no terminator tail", "First one. still going", []string{"First one.", "still going"}},
		{"terminator runs", "Really?! Go on.", []string{"Really?!", "Go on."}},
		{"ellipsis", "Yes... maybe.", []string{"Yes...", "maybe."}},
		{"decimal point", "Pi is 3.14 roughly. Next.", []string{"Pi is 3.14 roughly.", "Next."}},
		{"closing quote", `He said "stop." Then left.`, []string{`He said "stop."`, "Then left."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nilIfEmpty(s.Split(tt.text)))
		})
	}
}

func TestRuleSplitterCJK(t *testing.T) {
	s := &ruleSplitter{extraTerminators: "。！？"}
	got := s.Split("こんにちは。元気ですか？")
	assert.Equal(t, []string{"こんにちは。", "元気ですか？"}, got)
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rule(to string, sources ...RuleSource) CorrectionRule {
	return CorrectionRule{Sources: sources, To: to}
}

func TestApplyRulesActiveAndInactiveSources(t *testing.T) {
	rules := []CorrectionRule{
		rule("the", RuleSource{String: "teh", Active: true}, RuleSource{String: "te", Active: false}),
	}

	assert.Equal(t, "the quick", applyRules(rules, "teh quick"))
	assert.Equal(t, "te quick", applyRules(rules, "te quick"), "inactive source must not match")
}

func TestApplyRulesNoRulesPassThrough(t *testing.T) {
	assert.Equal(t, "anything at all", applyRules(nil, "anything at all"))
	assert.Equal(t, "", applyRules(nil, ""))
}

func TestApplyRulesEarlierRuleDominates(t *testing.T) {
	rules := []CorrectionRule{
		rule("first", RuleSource{String: "ab", Active: true}),
		rule("second", RuleSource{String: "ab", Active: true}),
	}
	assert.Equal(t, "first", applyRules(rules, "ab"))
}

func TestApplyRulesFiresMidText(t *testing.T) {
	rules := []CorrectionRule{
		rule("color", RuleSource{String: "colour", Active: true}),
	}
	assert.Equal(t, "the color of the colors", applyRules(rules, "the colour of the colours"))
}

func TestApplyRulesReplacesEveryOccurrence(t *testing.T) {
	rules := []CorrectionRule{
		rule("b", RuleSource{String: "a", Active: true}),
	}
	assert.Equal(t, "bbb", applyRules(rules, "aaa"))
}

func TestApplyRulesConvergesWhenReapplied(t *testing.T) {
	rules := []CorrectionRule{
		rule("the", RuleSource{String: "teh", Active: true}),
	}
	once := applyRules(rules, "teh cat saw teh dog")
	assert.Equal(t, once, applyRules(rules, once))
}

func TestApplyRulesUnicodeSources(t *testing.T) {
	rules := []CorrectionRule{
		rule("Dvořák", RuleSource{String: "Dvorak", Active: true}),
	}
	assert.Equal(t, "Dvořák komponoval", applyRules(rules, "Dvorak komponoval"))
}

func TestSanitizeRules(t *testing.T) {
	rules := sanitizeRules([]CorrectionRule{
		rule("kept", RuleSource{String: "a", Active: true}, RuleSource{String: "", Active: true}),
		rule("", RuleSource{String: "b", Active: true}),
		rule("no-sources"),
		rule("inactive-kept", RuleSource{String: "c", Active: false}),
	})

	require.Len(t, rules, 2)
	assert.Equal(t, "kept", rules[0].To)
	require.Len(t, rules[0].Sources, 1, "empty source strings are dropped")
	assert.Equal(t, "inactive-kept", rules[1].To)
	assert.False(t, rules[1].Sources[0].Active, "inactive sources round-trip")
}

func TestStoreAppendAppliesRules(t *testing.T) {
	s := NewStore("", "en")
	s.SetRules([]CorrectionRule{
		rule("the", RuleSource{String: "teh", Active: true}),
	})

	unit := s.Append("teh answer", Timespan{Start: 0, End: 1})
	require.NotNil(t, unit)
	assert.Equal(t, "the answer", unit.Text)
}

func TestStoreRulesDefaultEmpty(t *testing.T) {
	s := NewStore("", "en")
	assert.NotNil(t, s.Rules())
	assert.Empty(t, s.Rules())
}

package transcript

import "strings"

// sanitizeRules drops what can never rewrite anything: empty source
// strings inside rules, and rules left without any source or without a
// replacement. Inactive sources survive so the client round-trips them.
func sanitizeRules(rules []CorrectionRule) []CorrectionRule {
	out := make([]CorrectionRule, 0, len(rules))
	for _, rule := range rules {
		sources := make([]RuleSource, 0, len(rule.Sources))
		for _, src := range rule.Sources {
			if src.String != "" {
				sources = append(sources, src)
			}
		}
		if len(sources) == 0 || rule.To == "" {
			continue
		}
		rule.Sources = sources
		out = append(out, rule)
	}
	return out
}

// longestActiveSource returns the rune length of the longest source
// string that can actually match, across all rules.
func longestActiveSource(rules []CorrectionRule) int {
	longest := 0
	for _, rule := range rules {
		for _, src := range rule.Sources {
			if !src.Active {
				continue
			}
			if n := len([]rune(src.String)); n > longest {
				longest = n
			}
		}
	}
	return longest
}

// applyRules rewrites text in a single left-to-right scan with a rolling
// buffer, so a rule fires the moment the last character of a source
// string is seen. Rules are tried in order and earlier rules dominate;
// within a rule, earlier sources dominate. When no rule fires the buffer
// is flushed down to the longest-source-minus-one trailing characters,
// which bounds memory regardless of input length.
func applyRules(rules []CorrectionRule, text string) string {
	longest := longestActiveSource(rules)
	if longest == 0 {
		return text
	}

	var out strings.Builder
	out.Grow(len(text))
	buf := make([]rune, 0, longest*2)

	for _, ch := range text {
		buf = append(buf, ch)

		for {
			fired := false
			for _, rule := range rules {
				for _, src := range rule.Sources {
					if !src.Active || src.String == "" {
						continue
					}
					hay := string(buf)
					pos := strings.Index(hay, src.String)
					if pos < 0 {
						continue
					}
					out.WriteString(hay[:pos])
					out.WriteString(rule.To)
					buf = append(buf[:0], []rune(hay[pos+len(src.String):])...)
					fired = true
					break
				}
				if fired {
					break
				}
			}
			if !fired {
				break
			}
		}

		if len(buf) > longest {
			emit := len(buf) - longest + 1
			out.WriteString(string(buf[:emit]))
			buf = append(buf[:0], buf[emit:]...)
		}
	}

	out.WriteString(string(buf))
	return out.String()
}

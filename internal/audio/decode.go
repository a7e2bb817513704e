// Package audio decodes the two audio inputs the server accepts: the
// browser chunk shape (a JSON object keyed by stringified sample
// ordinal) and one-shot WAV uploads.
package audio

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DecodeChunkMap converts the wire shape {"0": v0, "1": v1, ...} into
// float32 samples ordered by ordinal. Integer values are PCM16 and are
// scaled by 1/32768; fractional values are already normalized floats
// and pass through.
func DecodeChunkMap(chunk map[string]json.Number) ([]float32, error) {
	type sample struct {
		index int
		value float32
	}
	samples := make([]sample, 0, len(chunk))

	for key, raw := range chunk {
		index, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("sample key %q is not an ordinal", key)
		}

		var value float32
		text := raw.String()
		if isIntegerLiteral(text) {
			pcm, err := raw.Int64()
			if err != nil {
				return nil, fmt.Errorf("sample %d: %w", index, err)
			}
			value = float32(pcm) / 32768.0
		} else {
			f, err := raw.Float64()
			if err != nil {
				return nil, fmt.Errorf("sample %d: %w", index, err)
			}
			value = float32(f)
		}
		samples = append(samples, sample{index: index, value: value})
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i].index < samples[j].index })

	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = s.value
	}
	return out, nil
}

// isIntegerLiteral distinguishes the JSON literals 1 and 1.0: only the
// former is treated as a PCM16 sample.
func isIntegerLiteral(text string) bool {
	return !strings.ContainsAny(text, ".eE")
}

package audio

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildWAV assembles a minimal RIFF/WAVE file with 16-bit PCM frames.
func buildWAV(sampleRate, channels int, frames [][]int16) []byte {
	var data bytes.Buffer
	for _, frame := range frames {
		for _, sample := range frame {
			binary.Write(&data, binary.LittleEndian, sample)
		}
	}

	var fmtChunk bytes.Buffer
	binary.Write(&fmtChunk, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&fmtChunk, binary.LittleEndian, uint16(channels))
	binary.Write(&fmtChunk, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&fmtChunk, binary.LittleEndian, uint32(sampleRate*channels*2))
	binary.Write(&fmtChunk, binary.LittleEndian, uint16(channels*2))
	binary.Write(&fmtChunk, binary.LittleEndian, uint16(16))

	var out bytes.Buffer
	out.WriteString("RIFF")
	binary.Write(&out, binary.LittleEndian, uint32(4+8+fmtChunk.Len()+8+data.Len()))
	out.WriteString("WAVE")
	out.WriteString("fmt ")
	binary.Write(&out, binary.LittleEndian, uint32(fmtChunk.Len()))
	out.Write(fmtChunk.Bytes())
	out.WriteString("data")
	binary.Write(&out, binary.LittleEndian, uint32(data.Len()))
	out.Write(data.Bytes())
	return out.Bytes()
}

func TestParseWAVMono(t *testing.T) {
	wav, err := ParseWAV(buildWAV(16000, 1, [][]int16{{0}, {16384}, {-16384}}))
	require.NoError(t, err)

	assert.Equal(t, 16000, wav.SampleRate)
	require.Len(t, wav.Samples, 3)
	assert.InDelta(t, 0, wav.Samples[0], 1e-6)
	assert.InDelta(t, 0.5, wav.Samples[1], 1e-6)
	assert.InDelta(t, -0.5, wav.Samples[2], 1e-6)
}

func TestParseWAVStereoDownmix(t *testing.T) {
	wav, err := ParseWAV(buildWAV(16000, 2, [][]int16{{16384, 0}, {-16384, -16384}}))
	require.NoError(t, err)

	require.Len(t, wav.Samples, 2)
	assert.InDelta(t, 0.25, wav.Samples[0], 1e-6)
	assert.InDelta(t, -0.5, wav.Samples[1], 1e-6)
}

func TestParseWAVRejectsGarbage(t *testing.T) {
	_, err := ParseWAV([]byte("definitely not audio"))
	assert.Error(t, err)

	_, err = ParseWAV(nil)
	assert.Error(t, err)
}

func TestParseWAVRejectsNonPCM(t *testing.T) {
	data := buildWAV(16000, 1, [][]int16{{0}})
	// Patch the format tag (first two bytes of the fmt body) to 3 (IEEE float).
	copy(data[20:22], []byte{3, 0})
	_, err := ParseWAV(data)
	assert.Error(t, err)
}

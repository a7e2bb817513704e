package audio

import (
	"encoding/binary"
	"fmt"
)

// WAVData is a decoded mono PCM recording.
type WAVData struct {
	Samples    []float32
	SampleRate int
}

// ParseWAV decodes a RIFF/WAVE file with 16-bit PCM data. Multi-channel
// recordings are downmixed to mono by averaging. The caller is
// responsible for rejecting sample rates the pipeline cannot use.
func ParseWAV(data []byte) (*WAVData, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE file")
	}

	var (
		sampleRate    int
		numChannels   int
		bitsPerSample int
		pcm           []byte
		haveFmt       bool
	)

	// Walk the chunk list; only fmt and data matter.
	pos := 12
	for pos+8 <= len(data) {
		chunkID := string(data[pos : pos+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		if body+chunkSize > len(data) {
			chunkSize = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, fmt.Errorf("fmt chunk too short: %d bytes", chunkSize)
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return nil, fmt.Errorf("unsupported WAV format %d (only PCM)", format)
			}
			numChannels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			haveFmt = true
		case "data":
			pcm = data[body : body+chunkSize]
		}

		// Chunks are word-aligned.
		pos = body + chunkSize
		if chunkSize%2 == 1 {
			pos++
		}
	}

	if !haveFmt {
		return nil, fmt.Errorf("missing fmt chunk")
	}
	if pcm == nil {
		return nil, fmt.Errorf("missing data chunk")
	}
	if bitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported bit depth %d (only 16-bit PCM)", bitsPerSample)
	}
	if numChannels < 1 {
		return nil, fmt.Errorf("invalid channel count %d", numChannels)
	}

	frameSize := 2 * numChannels
	frames := len(pcm) / frameSize
	samples := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < numChannels; c++ {
			offset := i*frameSize + c*2
			sum += float32(int16(binary.LittleEndian.Uint16(pcm[offset:]))) / 32768.0
		}
		samples[i] = sum / float32(numChannels)
	}

	return &WAVData{Samples: samples, SampleRate: sampleRate}, nil
}

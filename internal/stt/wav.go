package stt

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writeTempWAV encodes 16-bit little-endian PCM into a temporary WAV file and
// returns its path with a cleanup func. Both the exec and openai adapters hand
// audio over as WAV.
func writeTempWAV(pcm []byte, sampleRate, channels int) (string, func(), error) {
	if len(pcm)%2 != 0 {
		return "", nil, fmt.Errorf("pcm payload not aligned")
	}

	file, err := os.CreateTemp(os.TempDir(), "fredrick_stt_*.wav")
	if err != nil {
		return "", nil, fmt.Errorf("temp file: %w", err)
	}
	cleanup := func() {
		file.Close()
		os.Remove(file.Name())
	}

	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return file.Name(), cleanup, nil
}

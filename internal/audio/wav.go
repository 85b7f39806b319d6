// Package audio provides helpers for inspecting synthesized audio artifacts.
package audio

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Duration returns the play duration of an audio file.
//
// WAV files are probed via their header. For other formats (e.g. MP3 from the
// synthesis backend) the duration is unknown and zero is returned without an
// error; callers treat zero as "not probed".
func Duration(path string) (time.Duration, error) {
	if strings.ToLower(filepath.Ext(path)) != ".wav" {
		return 0, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open audio file %s: %w", path, err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	dur, err := d.Duration()
	if err != nil {
		return 0, fmt.Errorf("failed to probe wav duration for %s: %w", path, err)
	}
	return dur, nil
}

// WritePCM wraps raw little-endian 16 bit mono PCM samples in a WAV container
// at the given sample rate. The partial file is removed on failure.
func WritePCM(path string, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create wav file %s: %w", path, err)
	}

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		enc.Close()
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to encode wav %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to finalize wav %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to close wav %s: %w", path, err)
	}
	return nil
}

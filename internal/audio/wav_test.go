// Package audio_test tests WAV encoding and decoding.
package audio_test

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/book-expert/indextts-handler/internal/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sineWave(count, sampleRate int) []float64 {
	samples := make([]float64, count)
	for i := range samples {
		samples[i] = 0.5 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate))
	}

	return samples
}

func TestEncodeWAV_RoundTrip(t *testing.T) {
	t.Parallel()

	const sampleRate = 22050

	samples := sineWave(sampleRate/2, sampleRate)

	encoded, err := audio.EncodeWAV(samples, sampleRate)
	require.NoError(t, err)
	require.Equal(t, "RIFF", string(encoded[:4]))
	require.Equal(t, "WAVE", string(encoded[8:12]))
	// 44-byte header plus two bytes per mono 16-bit sample.
	assert.Len(t, encoded, 44+2*len(samples))

	decoded, rate, err := audio.DecodeWAV(bytes.NewReader(encoded))
	require.NoError(t, err)
	assert.Equal(t, sampleRate, rate)
	require.Len(t, decoded, len(samples))

	for i := range samples {
		assert.InDelta(t, samples[i], decoded[i], 0.001)
	}
}

func TestEncodeWAV_ClipsOutOfRange(t *testing.T) {
	t.Parallel()

	encoded, err := audio.EncodeWAV([]float64{2.5, -3}, 8000)
	require.NoError(t, err)

	decoded, _, err := audio.DecodeWAV(bytes.NewReader(encoded))
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.InDelta(t, 1.0, decoded[0], 0.001)
	assert.InDelta(t, -1.0, decoded[1], 0.001)
}

func TestEncodeWAV_InvalidSampleRate(t *testing.T) {
	t.Parallel()

	for _, rate := range []int{0, -1, audio.MaxSampleRate + 1} {
		_, err := audio.EncodeWAV([]float64{0}, rate)
		require.ErrorIs(t, err, audio.ErrInvalidSampleRate)
	}
}

func TestDecodeWAV_RejectsGarbage(t *testing.T) {
	t.Parallel()

	_, _, err := audio.DecodeWAV(bytes.NewReader([]byte("definitely not a wav file")))
	require.Error(t, err)
}

func TestDuration(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 2.0, audio.Duration(make([]float64, 48000), 24000), 1e-9)
	assert.InDelta(t, 0.0, audio.Duration(make([]float64, 10), 0), 1e-9)
}

func TestProbe(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	encoded, err := audio.EncodeWAV(sineWave(16000, 16000), 16000)
	require.NoError(t, err)

	wavPath := filepath.Join(dir, "ref.wav")
	require.NoError(t, os.WriteFile(wavPath, encoded, 0o600))

	info, err := audio.Probe(wavPath)
	require.NoError(t, err)
	assert.Equal(t, 16000, info.SampleRate)
	assert.Equal(t, 1, info.NumChannels)
	assert.InDelta(t, 1.0, info.Seconds, 0.001)

	oggPath := filepath.Join(dir, "ref.ogg")
	require.NoError(t, os.WriteFile(oggPath, []byte("x"), 0o600))

	_, err = audio.Probe(oggPath)
	require.ErrorIs(t, err, audio.ErrUnsupportedFormat)

	_, err = audio.Probe(filepath.Join(dir, "missing.wav"))
	require.Error(t, err)
}

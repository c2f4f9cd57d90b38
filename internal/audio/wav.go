// Package audio converts between raw sample slices and encoded audio files
// for the IndexTTS2 handler.
package audio

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"
	"github.com/orcaman/writerseeker"
)

const (
	// MaxSampleRate is the highest sample rate accepted for encoding.
	MaxSampleRate = 192000

	monoChannels   = 1
	pcm16Precision = 2
	streamChunk    = 4096
)

// Common errors for the audio package.
var (
	ErrInvalidSampleRate = errors.New("invalid sample rate")
	ErrNoChannels        = errors.New("audio has no channels")
)

// EncodeWAV renders mono samples in [-1, 1] as a 16-bit PCM WAV file held
// in memory. Samples outside that range are clipped.
func EncodeWAV(samples []float64, sampleRate int) ([]byte, error) {
	if sampleRate <= 0 || sampleRate > MaxSampleRate {
		return nil, fmt.Errorf("%w: %d Hz", ErrInvalidSampleRate, sampleRate)
	}

	format := beep.Format{
		SampleRate:  beep.SampleRate(sampleRate),
		NumChannels: monoChannels,
		Precision:   pcm16Precision,
	}

	// wav.Encode seeks back to patch the RIFF sizes, so it needs a seeker.
	buffer := &writerseeker.WriterSeeker{}

	err := wav.Encode(buffer, &sliceStreamer{samples: samples}, format)
	if err != nil {
		return nil, fmt.Errorf("failed to encode wav: %w", err)
	}

	data, err := io.ReadAll(buffer.Reader())
	if err != nil {
		return nil, fmt.Errorf("failed to read encoded wav: %w", err)
	}

	return data, nil
}

// DecodeWAV reads a WAV stream and returns its samples downmixed to mono
// together with the sample rate.
func DecodeWAV(r io.Reader) ([]float64, int, error) {
	streamer, format, err := wav.Decode(r)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode wav: %w", err)
	}

	defer func() {
		_ = streamer.Close()
	}()

	if format.NumChannels < monoChannels {
		return nil, 0, ErrNoChannels
	}

	samples := make([]float64, 0, streamer.Len())
	chunk := make([][2]float64, streamChunk)

	for {
		n, ok := streamer.Stream(chunk)
		for _, frame := range chunk[:n] {
			if format.NumChannels == monoChannels {
				samples = append(samples, frame[0])
			} else {
				samples = append(samples, (frame[0]+frame[1])/2)
			}
		}

		if !ok {
			break
		}
	}

	streamErr := streamer.Err()
	if streamErr != nil {
		return nil, 0, fmt.Errorf("failed to read wav samples: %w", streamErr)
	}

	return samples, int(format.SampleRate), nil
}

// Duration returns the playback length in seconds of a mono sample slice.
func Duration(samples []float64, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}

	return float64(len(samples)) / float64(sampleRate)
}

// sliceStreamer feeds a mono slice to beep, duplicating each sample into
// both channel slots.
type sliceStreamer struct {
	samples []float64
	pos     int
}

func (s *sliceStreamer) Stream(out [][2]float64) (int, bool) {
	if s.pos >= len(s.samples) {
		return 0, false
	}

	n := copyFrames(out, s.samples[s.pos:])
	s.pos += n

	return n, true
}

func (s *sliceStreamer) Err() error {
	return nil
}

func copyFrames(out [][2]float64, samples []float64) int {
	n := min(len(out), len(samples))
	for i := range n {
		value := math.Max(-1, math.Min(1, samples[i]))
		out[i][0] = value
		out[i][1] = value
	}

	return n
}

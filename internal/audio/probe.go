package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
)

// ErrUnsupportedFormat is returned when a file extension has no decoder.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Info describes a decoded audio header.
type Info struct {
	SampleRate  int
	NumChannels int
	Seconds     float64
}

// Probe opens an audio file and reads its header with the decoder matching
// its extension. Only .wav and .mp3 are understood.
func Probe(path string) (Info, error) {
	file, err := os.Open(path) // #nosec G304 -- path is a handler-created temp file
	if err != nil {
		return Info{}, fmt.Errorf("failed to open audio file: %w", err)
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		streamer, format, err = wav.Decode(file)
	case ".mp3":
		streamer, format, err = mp3.Decode(file)
	default:
		_ = file.Close()

		return Info{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}

	if err != nil {
		_ = file.Close()

		return Info{}, fmt.Errorf("failed to decode audio header: %w", err)
	}

	// Closing the streamer closes the underlying file.
	defer func() {
		_ = streamer.Close()
	}()

	return Info{
		SampleRate:  int(format.SampleRate),
		NumChannels: format.NumChannels,
		Seconds:     format.SampleRate.D(streamer.Len()).Seconds(),
	}, nil
}

package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Default tuning parameter values applied when a job omits them.
const (
	DefaultTopK                    = 30
	DefaultTopP                    = 0.8
	DefaultNumBeams                = 3
	DefaultTemperature             = 0.8
	DefaultEmotionScale            = 1.0
	DefaultLengthPenalty           = 0.0
	DefaultMaxMelTokens            = 1500
	DefaultRandomizeEmotion        = false
	DefaultRepetitionPenalty       = 10.0
	DefaultIntervalSilenceMs       = 200
	DefaultMaxTextTokensPerSegment = 120
)

// Result status values.
const (
	StatusSuccess = "success"
	StatusMock    = "mock"

	unknownErrorMessage = "unknown error"

	// Largest magnitude a float64 holds without losing integer precision.
	maxExactInteger = 1 << 53
)

var (
	// ErrNotInteger indicates a fractional value for an integer parameter.
	ErrNotInteger = errors.New("must be a whole number")
	// ErrInvalidPayload indicates a job that does not decode as JSON.
	ErrInvalidPayload = errors.New("invalid job payload")
)

// Integer is an integer tuning value. It decodes from any JSON number, so
// clients that write whole numbers as 5.0 or 1.5e3 are accepted.
type Integer float64

// Int returns the value as an int. A fraction, or a magnitude beyond what a
// float64 represents exactly, is ErrNotInteger.
func (i Integer) Int() (int, error) {
	value := float64(i)
	if value != math.Trunc(value) || math.Abs(value) > maxExactInteger {
		return 0, fmt.Errorf("%w: got %v", ErrNotInteger, value)
	}

	return int(value), nil
}

// Job is one unit of work submitted to the handler.
type Job struct {
	ID    string   `json:"id,omitempty"`
	Input JobInput `json:"input"`
}

// DecodeJob parses one JSON job. Every entry point decodes through it so
// malformed payloads are reported the same way.
func DecodeJob(payload []byte) (Job, error) {
	var job Job

	err := json.Unmarshal(payload, &job)
	if err != nil {
		return Job{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	return job, nil
}

// JobInput is the caller-supplied input mapping. Pointer fields distinguish
// an absent value from a zero value.
type JobInput struct {
	Text                    string   `json:"text"`
	SpeakerAudio            *string  `json:"speaker_audio,omitempty"`
	TopK                    *Integer `json:"top_k,omitempty"`
	TopP                    *float64 `json:"top_p,omitempty"`
	NumBeams                *Integer `json:"num_beams,omitempty"`
	Temperature             *float64 `json:"temperature,omitempty"`
	EmotionScale            *float64 `json:"emotion_scale,omitempty"`
	LengthPenalty           *float64 `json:"length_penalty,omitempty"`
	MaxMelTokens            *Integer `json:"max_mel_tokens,omitempty"`
	RandomizeEmotion        *bool    `json:"randomize_emotion,omitempty"`
	RepetitionPenalty       *float64 `json:"repetition_penalty,omitempty"`
	IntervalSilenceMs       *Integer `json:"interval_silence_ms,omitempty"`
	MaxTextTokensPerSegment *Integer `json:"max_text_tokens_per_segment,omitempty"`
}

// Params holds the resolved tuning parameters forwarded to the synthesizer.
type Params struct {
	TopK                    int     `json:"top_k"`
	TopP                    float64 `json:"top_p"`
	NumBeams                int     `json:"num_beams"`
	Temperature             float64 `json:"temperature"`
	EmotionScale            float64 `json:"emotion_scale"`
	LengthPenalty           float64 `json:"length_penalty"`
	MaxMelTokens            int     `json:"max_mel_tokens"`
	RandomizeEmotion        bool    `json:"randomize_emotion"`
	RepetitionPenalty       float64 `json:"repetition_penalty"`
	IntervalSilenceMs       int     `json:"interval_silence_ms"`
	MaxTextTokensPerSegment int     `json:"max_text_tokens_per_segment"`
}

// DefaultParams returns the parameter set used when a job supplies none.
func DefaultParams() Params {
	return Params{
		TopK:                    DefaultTopK,
		TopP:                    DefaultTopP,
		NumBeams:                DefaultNumBeams,
		Temperature:             DefaultTemperature,
		EmotionScale:            DefaultEmotionScale,
		LengthPenalty:           DefaultLengthPenalty,
		MaxMelTokens:            DefaultMaxMelTokens,
		RandomizeEmotion:        DefaultRandomizeEmotion,
		RepetitionPenalty:       DefaultRepetitionPenalty,
		IntervalSilenceMs:       DefaultIntervalSilenceMs,
		MaxTextTokensPerSegment: DefaultMaxTextTokensPerSegment,
	}
}

// ResolveParams substitutes the documented default for every absent field.
// An integer field holding a fraction is reported as ErrNotInteger.
func (in JobInput) ResolveParams() (Params, error) {
	params := DefaultParams()

	integers := []struct {
		name  string
		value *Integer
		dst   *int
	}{
		{"top_k", in.TopK, &params.TopK},
		{"num_beams", in.NumBeams, &params.NumBeams},
		{"max_mel_tokens", in.MaxMelTokens, &params.MaxMelTokens},
		{"interval_silence_ms", in.IntervalSilenceMs, &params.IntervalSilenceMs},
		{"max_text_tokens_per_segment", in.MaxTextTokensPerSegment, &params.MaxTextTokensPerSegment},
	}

	for _, field := range integers {
		if field.value == nil {
			continue
		}

		value, err := field.value.Int()
		if err != nil {
			return Params{}, fmt.Errorf("%s %w", field.name, err)
		}

		*field.dst = value
	}

	if in.TopP != nil {
		params.TopP = *in.TopP
	}

	if in.Temperature != nil {
		params.Temperature = *in.Temperature
	}

	if in.EmotionScale != nil {
		params.EmotionScale = *in.EmotionScale
	}

	if in.LengthPenalty != nil {
		params.LengthPenalty = *in.LengthPenalty
	}

	if in.RandomizeEmotion != nil {
		params.RandomizeEmotion = *in.RandomizeEmotion
	}

	if in.RepetitionPenalty != nil {
		params.RepetitionPenalty = *in.RepetitionPenalty
	}

	return params, nil
}

// ReceivedParameters is echoed back in mock mode.
type ReceivedParameters struct {
	Text string `json:"text"`
	Params
	HasSpeakerAudio bool `json:"has_speaker_audio"`
}

// Result is the handler's reply. Exactly one shape is populated: success,
// mock, or error.
type Result struct {
	Status             string              `json:"status,omitempty"`
	Audio              string              `json:"audio,omitempty"`
	SampleRate         int                 `json:"sample_rate,omitempty"`
	Duration           float64             `json:"duration,omitempty"`
	Message            string              `json:"message,omitempty"`
	ReceivedParameters *ReceivedParameters `json:"received_parameters,omitempty"`
	Error              string              `json:"error,omitempty"`
}

// ErrorResult builds the error-shaped result. An empty message is replaced
// so the result cannot be mistaken for a success.
func ErrorResult(message string) Result {
	if message == "" {
		message = unknownErrorMessage
	}

	return Result{Error: message}
}

// MarshalJSON emits only the fields belonging to the populated shape.
func (r Result) MarshalJSON() ([]byte, error) {
	switch {
	case r.Error != "":
		return json.Marshal(struct {
			Error string `json:"error"`
		}{Error: r.Error})
	case r.Status == StatusMock:
		return json.Marshal(struct {
			Status             string              `json:"status"`
			Message            string              `json:"message"`
			ReceivedParameters *ReceivedParameters `json:"received_parameters"`
		}{Status: r.Status, Message: r.Message, ReceivedParameters: r.ReceivedParameters})
	default:
		return json.Marshal(struct {
			Status     string  `json:"status"`
			Audio      string  `json:"audio"`
			SampleRate int     `json:"sample_rate"`
			Duration   float64 `json:"duration"`
		}{Status: r.Status, Audio: r.Audio, SampleRate: r.SampleRate, Duration: r.Duration})
	}
}

// Failed reports whether the result is error-shaped.
func (r Result) Failed() bool {
	return r.Error != ""
}

package handler

import (
	"errors"
	"fmt"
	"math"

	"github.com/book-expert/indextts-handler/internal/core"
)

var (
	// ErrInvalidParams is the parent of every parameter bound violation.
	ErrInvalidParams = errors.New("invalid parameters")
	// ErrTopKRange indicates a negative top_k.
	ErrTopKRange = errors.New("top_k must be >= 0")
	// ErrTopPRange indicates that top_p is outside [0.0, 1.0].
	ErrTopPRange = errors.New("top_p must be between 0.0 and 1.0")
	// ErrNumBeamsRange indicates fewer than one beam.
	ErrNumBeamsRange = errors.New("num_beams must be >= 1")
	// ErrTemperatureRange indicates a negative temperature.
	ErrTemperatureRange = errors.New("temperature must be >= 0.0")
	// ErrEmotionScaleRange indicates a negative emotion scale.
	ErrEmotionScaleRange = errors.New("emotion_scale must be >= 0.0")
	// ErrLengthPenaltyRange indicates a NaN or infinite length penalty.
	ErrLengthPenaltyRange = errors.New("length_penalty must be finite")
	// ErrMaxMelTokensRange indicates a non-positive mel token budget.
	ErrMaxMelTokensRange = errors.New("max_mel_tokens must be >= 1")
	// ErrRepetitionPenaltyRange indicates a negative repetition penalty.
	ErrRepetitionPenaltyRange = errors.New("repetition_penalty must be >= 0.0")
	// ErrIntervalSilenceRange indicates a negative silence interval.
	ErrIntervalSilenceRange = errors.New("interval_silence_ms must be >= 0")
	// ErrMaxTextTokensRange indicates a non-positive segment token budget.
	ErrMaxTextTokensRange = errors.New("max_text_tokens_per_segment must be >= 1")
)

// ValidateParams checks every tuning parameter against its bound. The
// returned error wraps both ErrInvalidParams and the specific violation.
func ValidateParams(params core.Params) error {
	err := checkParams(params)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParams, err)
	}

	return nil
}

// Float bounds are written as negated comparisons so NaN fails them.
func checkParams(params core.Params) error {
	if params.TopK < 0 {
		return fmt.Errorf("%w: got %d", ErrTopKRange, params.TopK)
	}

	if !(params.TopP >= 0.0 && params.TopP <= 1.0) {
		return fmt.Errorf("%w: got %f", ErrTopPRange, params.TopP)
	}

	if params.NumBeams < 1 {
		return fmt.Errorf("%w: got %d", ErrNumBeamsRange, params.NumBeams)
	}

	if !(params.Temperature >= 0.0) {
		return fmt.Errorf("%w: got %f", ErrTemperatureRange, params.Temperature)
	}

	if !(params.EmotionScale >= 0.0) {
		return fmt.Errorf("%w: got %f", ErrEmotionScaleRange, params.EmotionScale)
	}

	if math.IsNaN(params.LengthPenalty) || math.IsInf(params.LengthPenalty, 0) {
		return fmt.Errorf("%w: got %f", ErrLengthPenaltyRange, params.LengthPenalty)
	}

	if params.MaxMelTokens < 1 {
		return fmt.Errorf("%w: got %d", ErrMaxMelTokensRange, params.MaxMelTokens)
	}

	if !(params.RepetitionPenalty >= 0.0) {
		return fmt.Errorf("%w: got %f", ErrRepetitionPenaltyRange, params.RepetitionPenalty)
	}

	if params.IntervalSilenceMs < 0 {
		return fmt.Errorf("%w: got %d", ErrIntervalSilenceRange, params.IntervalSilenceMs)
	}

	if params.MaxTextTokensPerSegment < 1 {
		return fmt.Errorf("%w: got %d", ErrMaxTextTokensRange, params.MaxTextTokensPerSegment)
	}

	return nil
}

// Package model loads the IndexTTS2 inference capability and exposes it as
// a core.Synthesizer.
package model

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/book-expert/indextts-handler/internal/audio"
	"github.com/book-expert/indextts-handler/internal/config"
	"github.com/book-expert/indextts-handler/internal/core"
	"github.com/book-expert/logger"
)

// Static errors.
var (
	ErrModelPathEmpty   = errors.New("model path cannot be empty")
	ErrModelPathNotDir  = errors.New("model path is not a directory")
	ErrBinaryPathEmpty  = errors.New("inference binary cannot be empty")
	ErrBinaryNotFound   = errors.New("inference binary not found")
	ErrInferenceFailed  = errors.New("inference binary execution failed")
	ErrEmptyOutputAudio = errors.New("inference produced no audio")
)

const (
	outputPattern = "indextts-output-*.wav"

	// processWaitDelay bounds how long a killed inference process may hold
	// its output pipes open.
	processWaitDelay = 2 * time.Second
)

// ExecSynthesizer implements core.Synthesizer by running the IndexTTS2
// inference binary once per request.
type ExecSynthesizer struct {
	binary   string
	modelDir string
	device   string
	log      *logger.Logger
}

// Load verifies the model directory and inference binary and returns a
// ready synthesizer. It is called once at process start; an error means
// the handler should run in mock mode.
func Load(cfg config.ModelConfig, log *logger.Logger) (*ExecSynthesizer, error) {
	if cfg.ModelPath == "" {
		return nil, ErrModelPathEmpty
	}

	info, err := os.Stat(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat model path '%s': %w", cfg.ModelPath, err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrModelPathNotDir, cfg.ModelPath)
	}

	if cfg.BinaryPath == "" {
		return nil, ErrBinaryPathEmpty
	}

	binary, err := exec.LookPath(cfg.BinaryPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBinaryNotFound, err)
	}

	return &ExecSynthesizer{
		binary:   binary,
		modelDir: cfg.ModelPath,
		device:   cfg.Device,
		log:      log,
	}, nil
}

// Synthesize runs the inference binary and decodes the WAV it writes.
func (s *ExecSynthesizer) Synthesize(ctx context.Context, req core.SynthesisRequest) ([]float64, int, error) {
	tempFile, err := os.CreateTemp("", outputPattern)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create temp file for tts output: %w", err)
	}

	outputPath := tempFile.Name()
	_ = tempFile.Close()

	defer func() {
		removeErr := os.Remove(outputPath)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			s.log.Warn("Failed to remove temp file '%s': %v", outputPath, removeErr)
		}
	}()

	args := s.buildArgs(req, outputPath)

	// #nosec G204 -- binary is resolved at load time and arguments are passed without a shell
	cmd := exec.CommandContext(ctx, s.binary, args...)
	cmd.WaitDelay = processWaitDelay

	output, err := cmd.CombinedOutput()
	if err != nil {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return nil, 0, fmt.Errorf("%w: %w", ErrInferenceFailed, ctxErr)
		}

		return nil, 0, fmt.Errorf("%w: %w - output: %s", ErrInferenceFailed, err, string(output))
	}

	file, err := os.Open(outputPath) // #nosec G304 -- path comes from os.CreateTemp
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open synthesized audio: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	samples, sampleRate, err := audio.DecodeWAV(file)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read synthesized audio: %w", err)
	}

	if len(samples) == 0 {
		return nil, 0, ErrEmptyOutputAudio
	}

	return samples, sampleRate, nil
}

func (s *ExecSynthesizer) buildArgs(req core.SynthesisRequest, outputPath string) []string {
	params := req.Params

	args := []string{
		"--model_dir", s.modelDir,
		"--text", req.Text,
		"--output", outputPath,
		"--top_k", strconv.Itoa(params.TopK),
		"--top_p", formatFloat(params.TopP),
		"--num_beams", strconv.Itoa(params.NumBeams),
		"--temperature", formatFloat(params.Temperature),
		"--emotion_scale", formatFloat(params.EmotionScale),
		"--length_penalty", formatFloat(params.LengthPenalty),
		"--max_mel_tokens", strconv.Itoa(params.MaxMelTokens),
		"--randomize_emotion", strconv.FormatBool(params.RandomizeEmotion),
		"--repetition_penalty", formatFloat(params.RepetitionPenalty),
		"--interval_silence_ms", strconv.Itoa(params.IntervalSilenceMs),
		"--max_text_tokens_per_segment", strconv.Itoa(params.MaxTextTokensPerSegment),
	}

	if s.device != "" {
		args = append(args, "--device", s.device)
	}

	if req.ReferencePath != "" {
		args = append(args, "--reference_audio", req.ReferencePath)
	}

	return args
}

// formatFloat renders the shortest representation that round-trips.
func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'g', -1, 64)
}

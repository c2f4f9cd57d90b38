// Package handler turns one IndexTTS2 job into one result. It resolves
// defaults, materializes the speaker reference, calls the synthesizer and
// packages the audio, converting every failure into an error-shaped result.
package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/indextts-handler/internal/audio"
	"github.com/book-expert/indextts-handler/internal/core"
	"github.com/book-expert/indextts-handler/internal/reference"
	"github.com/book-expert/logger"
)

// Messages returned to callers.
const (
	MsgNoText           = "No text provided"
	MsgDownloadFailed   = "Failed to download speaker audio"
	MsgDecodeFailedFmt  = "Failed to decode speaker audio: %s"
	MsgMockResponse     = "Model not loaded. This is a mock response."
	msgSynthesisTimeout = "synthesis timed out after %s: %v"
	msgPanic            = "internal error: %v"

	textPreviewLength = 100
)

// Log formats.
const (
	logFmtProcessing      = "Processing TTS request: %s..."
	logFmtDownloading     = "Downloading speaker audio from URL..."
	logFmtDownloadFailed  = "Error downloading audio from URL: %v"
	logFmtReferenceInfo   = "Speaker reference %s: %d Hz, %d channel(s), %.2fs"
	logFmtReferenceProbe  = "Could not probe speaker reference %s: %v"
	logFmtCleanupFailed   = "Failed to clean up speaker reference: %v"
	logFmtSynthesisFailed = "Synthesis failed: %v"
	logFmtRejected        = "Rejected job: %v"
	logFmtPanic           = "Error in handler: %v"
	logFmtSynthesized     = "Synthesized %.2fs of audio at %d Hz"
)

// Handler is the request adapter. A nil synthesizer puts it in mock mode.
type Handler struct {
	synth            core.Synthesizer
	fetcher          core.Fetcher
	log              *logger.Logger
	tempDir          string
	synthesisTimeout time.Duration
	enforceBounds    bool
}

// Option customizes a Handler.
type Option func(*Handler)

// WithFetcher replaces the HTTP fetcher used for URL references.
func WithFetcher(fetcher core.Fetcher) Option {
	return func(h *Handler) {
		h.fetcher = fetcher
	}
}

// WithTempDir sets the directory where reference files are written.
// Empty means os.TempDir.
func WithTempDir(dir string) Option {
	return func(h *Handler) {
		h.tempDir = dir
	}
}

// WithSynthesisTimeout bounds each synthesizer call. Zero disables the bound.
func WithSynthesisTimeout(timeout time.Duration) Option {
	return func(h *Handler) {
		h.synthesisTimeout = timeout
	}
}

// WithBounds enables parameter bound validation. Without it values are
// forwarded to the synthesizer uninterpreted.
func WithBounds(enforce bool) Option {
	return func(h *Handler) {
		h.enforceBounds = enforce
	}
}

// New creates a Handler around synth.
func New(synth core.Synthesizer, log *logger.Logger, opts ...Option) *Handler {
	h := &Handler{
		synth:   synth,
		fetcher: reference.NewHTTPFetcher(reference.FetchTimeout),
		log:     log,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Mock reports whether the handler answers with mock responses.
func (h *Handler) Mock() bool {
	return h.synth == nil
}

// HandleRaw decodes a JSON job, handles it and returns the JSON result.
func (h *Handler) HandleRaw(ctx context.Context, payload []byte) []byte {
	var result core.Result

	job, err := core.DecodeJob(payload)
	if err != nil {
		h.log.Error(logFmtRejected, err)
		result = core.ErrorResult(err.Error())
	} else {
		result = h.Handle(ctx, job)
	}

	data, err := json.Marshal(result)
	if err != nil {
		fallback, _ := json.Marshal(core.ErrorResult(err.Error()))

		return fallback
	}

	return data
}

// Handle processes one job. It never fails: errors are reported through
// the result's error field.
func (h *Handler) Handle(ctx context.Context, job core.Job) (result core.Result) {
	defer func() {
		recovered := recover()
		if recovered != nil {
			h.log.Error(logFmtPanic, recovered)
			result = core.ErrorResult(fmt.Sprintf(msgPanic, recovered))
		}
	}()

	input := job.Input
	if input.Text == "" {
		return core.ErrorResult(MsgNoText)
	}

	params, err := input.ResolveParams()
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrInvalidParams, err)
		h.log.Warn(logFmtRejected, err)

		return core.ErrorResult(err.Error())
	}

	if h.enforceBounds {
		err = ValidateParams(params)
		if err != nil {
			h.log.Warn(logFmtRejected, err)

			return core.ErrorResult(err.Error())
		}
	}

	h.log.Info(logFmtProcessing, preview(input.Text))

	refPath, cleanup, errResult := h.resolveReference(ctx, input.SpeakerAudio)
	if errResult != nil {
		return *errResult
	}

	defer func() {
		cleanupErr := cleanup()
		if cleanupErr != nil {
			h.log.Warn(logFmtCleanupFailed, cleanupErr)
		}
	}()

	if h.Mock() {
		return mockResult(input, params)
	}

	return h.synthesize(ctx, core.SynthesisRequest{
		Text:          input.Text,
		ReferencePath: refPath,
		Params:        params,
	})
}

// resolveReference parses and materializes speaker_audio. On failure it
// returns the error result to send back.
func (h *Handler) resolveReference(
	ctx context.Context,
	speakerAudio *string,
) (string, func() error, *core.Result) {
	noop := func() error { return nil }

	raw := ""
	if speakerAudio != nil {
		raw = *speakerAudio
	}

	ref, err := reference.Parse(raw)
	if err != nil {
		var decodeErr *reference.DecodeError
		if errors.As(err, &decodeErr) {
			result := core.ErrorResult(fmt.Sprintf(MsgDecodeFailedFmt, decodeErr.Err))

			return "", noop, &result
		}

		result := core.ErrorResult(err.Error())

		return "", noop, &result
	}

	if ref.Kind() == reference.KindURL {
		h.log.Info(logFmtDownloading)
	}

	path, cleanup, err := reference.Materialize(ctx, ref, h.fetcher, h.tempDir)
	if err != nil {
		if errors.Is(err, reference.ErrDownload) {
			h.log.Error(logFmtDownloadFailed, err)
			result := core.ErrorResult(MsgDownloadFailed)

			return "", noop, &result
		}

		result := core.ErrorResult(err.Error())

		return "", noop, &result
	}

	if path != "" {
		h.logReference(path)
	}

	return path, cleanup, nil
}

func (h *Handler) logReference(path string) {
	info, err := audio.Probe(path)
	if err != nil {
		h.log.Warn(logFmtReferenceProbe, path, err)

		return
	}

	h.log.Info(logFmtReferenceInfo, path, info.SampleRate, info.NumChannels, info.Seconds)
}

func (h *Handler) synthesize(ctx context.Context, req core.SynthesisRequest) core.Result {
	if h.synthesisTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, h.synthesisTimeout)
		defer cancel()
	}

	samples, sampleRate, err := h.synth.Synthesize(ctx, req)
	if err != nil {
		h.log.Error(logFmtSynthesisFailed, err)

		if errors.Is(err, context.DeadlineExceeded) {
			return core.ErrorResult(fmt.Sprintf(msgSynthesisTimeout, h.synthesisTimeout, err))
		}

		return core.ErrorResult(err.Error())
	}

	wavData, err := audio.EncodeWAV(samples, sampleRate)
	if err != nil {
		h.log.Error(logFmtSynthesisFailed, err)

		return core.ErrorResult(err.Error())
	}

	duration := audio.Duration(samples, sampleRate)
	h.log.Info(logFmtSynthesized, duration, sampleRate)

	return core.Result{
		Status:     core.StatusSuccess,
		Audio:      base64.StdEncoding.EncodeToString(wavData),
		SampleRate: sampleRate,
		Duration:   duration,
	}
}

func mockResult(input core.JobInput, params core.Params) core.Result {
	return core.Result{
		Status:  core.StatusMock,
		Message: MsgMockResponse,
		ReceivedParameters: &core.ReceivedParameters{
			Text:            preview(input.Text),
			Params:          params,
			HasSpeakerAudio: input.SpeakerAudio != nil,
		},
	}
}

// preview returns at most the first textPreviewLength characters of text.
func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= textPreviewLength {
		return text
	}

	return string(runes[:textPreviewLength])
}

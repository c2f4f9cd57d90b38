// Package core defines the core business logic and interfaces for the IndexTTS2 handler.
package core

import "context"

// ObjectStore archives synthesized audio under a key.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte) error
}

// Fetcher retrieves the raw bytes behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// SynthesisRequest carries everything one synthesis call needs.
// ReferencePath is empty when the default voice should be used.
type SynthesisRequest struct {
	Text          string
	ReferencePath string
	Params        Params
}

// Synthesizer is the external text-to-speech capability. Implementations
// return mono samples in the range [-1, 1] and their sample rate.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) ([]float64, int, error)
}

// JobHandler turns one job into one result.
type JobHandler interface {
	Handle(ctx context.Context, job Job) Result
}

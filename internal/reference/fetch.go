package reference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FetchTimeout bounds a single speaker audio download.
const FetchTimeout = 30 * time.Second

// ErrBadStatus is returned when the audio host answers with a non-2xx status.
var ErrBadStatus = errors.New("unexpected http status")

// HTTPFetcher downloads reference audio over HTTP(S).
type HTTPFetcher struct {
	httpClient *http.Client
}

// NewHTTPFetcher creates a fetcher whose requests are bounded by timeout.
// A non-positive timeout selects FetchTimeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = FetchTimeout
	}

	return &HTTPFetcher{
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Timeout returns the per-request bound applied to every fetch.
func (f *HTTPFetcher) Timeout() time.Duration {
	return f.httpClient.Timeout
}

// Fetch performs a GET and returns the response body.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch '%s': %w", url, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%w: %s", ErrBadStatus, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}

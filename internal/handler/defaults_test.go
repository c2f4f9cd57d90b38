package handler

import (
	"testing"
	"time"

	"github.com/book-expert/indextts-handler/internal/reference"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	log, err := logger.New(t.TempDir(), "defaults-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	h := New(nil, log)

	fetcher, ok := h.fetcher.(*reference.HTTPFetcher)
	require.True(t, ok, "default fetcher should be the HTTP fetcher")
	assert.Equal(t, 30*time.Second, fetcher.Timeout())
	assert.False(t, h.enforceBounds)
	assert.True(t, h.Mock())
}

// Package objectstore_test tests the NATS object store implementation.
package objectstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/book-expert/indextts-handler/internal/objectstore"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

// StartTestServer starts a JetStream-enabled NATS server for testing purposes.
func StartTestServer(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	return natsServer, natsConnection
}

func TestNatsObjectStore_Upload(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.New(jetstreamContext, "test-audio", 0)
	require.NoError(t, err)

	uploadData := []byte("RIFF....WAVEfmt fake audio payload")

	err = store.Upload(context.Background(), "job-1.wav", uploadData)
	require.NoError(t, err)

	raw, err := jetstreamContext.ObjectStore("test-audio")
	require.NoError(t, err)

	downloadData, err := raw.GetBytes("job-1.wav")
	require.NoError(t, err)
	require.Equal(t, uploadData, downloadData)
}

func TestNatsObjectStore_UploadMarksWAV(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := objectstore.New(jetstreamContext, "typed-audio", 0)
	require.NoError(t, err)
	require.NoError(t, store.Upload(context.Background(), "job-7.wav", []byte("RIFF")))

	raw, err := jetstreamContext.ObjectStore("typed-audio")
	require.NoError(t, err)

	info, err := raw.GetInfo("job-7.wav")
	require.NoError(t, err)
	require.Equal(t, "audio/wav", info.Headers.Get("Content-Type"))
	require.Equal(t, uint64(4), info.Size)
}

func TestNatsObjectStore_BindsExistingBucket(t *testing.T) {
	t.Parallel()

	natsServer, natsConnection := StartTestServer(t)
	defer natsServer.Shutdown()
	defer natsConnection.Close()

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	first, err := objectstore.New(jetstreamContext, "shared-audio", time.Hour)
	require.NoError(t, err)
	require.NoError(t, first.Upload(context.Background(), "a.wav", []byte("audio")))

	second, err := objectstore.New(jetstreamContext, "shared-audio", time.Hour)
	require.NoError(t, err)
	require.NoError(t, second.Upload(context.Background(), "b.wav", []byte("more audio")))

	raw, err := jetstreamContext.ObjectStore("shared-audio")
	require.NoError(t, err)

	data, err := raw.GetBytes("a.wav")
	require.NoError(t, err)
	require.Equal(t, []byte("audio"), data)

	data, err = raw.GetBytes("b.wav")
	require.NoError(t, err)
	require.Equal(t, []byte("more audio"), data)
}

func TestNew_EmptyBucket(t *testing.T) {
	t.Parallel()

	_, err := objectstore.New(nil, "", 0)
	require.ErrorIs(t, err, objectstore.ErrBucketEmpty)
}

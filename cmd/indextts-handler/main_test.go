package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/book-expert/indextts-handler/internal/config"
	"github.com/book-expert/indextts-handler/internal/handler"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "main-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

func TestLoadSynthesizer_MissingModelFallsBackToMock(t *testing.T) {
	t.Parallel()

	synth := loadSynthesizer(config.ModelConfig{
		ModelPath:  filepath.Join(t.TempDir(), "missing"),
		BinaryPath: "indextts-infer",
	}, newTestLogger(t))

	assert.Nil(t, synth)
}

func TestBuildWorkerOptions(t *testing.T) {
	t.Parallel()

	opts := test.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	cfg := &config.Config{}
	cfg.ApplyDefaults()

	plain, err := buildWorkerOptions(cfg, natsConnection, newTestLogger(t))
	require.NoError(t, err)
	assert.Len(t, plain, 2)

	cfg.NATS.AudioObjectStoreBucket = "indextts-audio"
	cfg.NATS.AudioChunkCreatedSubject = "audio.chunk.created"

	archived, err := buildWorkerOptions(cfg, natsConnection, newTestLogger(t))
	require.NoError(t, err)
	assert.Len(t, archived, 3)
}

func TestRunLocalJob(t *testing.T) {
	t.Parallel()

	jobHandler := handler.New(nil, newTestLogger(t))
	out := &bytes.Buffer{}

	err := runLocalJob(context.Background(), jobHandler, `{"input":{"text":"hi","top_k":5.0}}`, out)
	require.NoError(t, err)

	var decoded struct {
		Status             string         `json:"status"`
		ReceivedParameters map[string]any `json:"received_parameters"`
	}

	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "mock", decoded.Status)
	assert.InDelta(t, 5, decoded.ReceivedParameters["top_k"], 0)

	out.Reset()

	require.NoError(t, runLocalJob(context.Background(), jobHandler, `not json`, out))
	assert.Contains(t, out.String(), `"error":"invalid job payload: `)
}

func TestBuildHandler_BoundsFromConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Model.ModelPath = filepath.Join(t.TempDir(), "missing")
	cfg.Handler.EnforceBounds = true

	jobHandler := buildHandler(cfg, newTestLogger(t))

	raw := jobHandler.HandleRaw(context.Background(), []byte(`{"input":{"text":"hi","top_p":1.5}}`))
	assert.Contains(t, string(raw), "top_p must be between 0.0 and 1.0")
}

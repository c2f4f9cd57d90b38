package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/book-expert/indextts-handler/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fakeWAV = []byte("RIFF fake wav payload")

func newFakeEndpoint(t *testing.T) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var job core.Job

		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&job)) {
			http.Error(w, "bad job", http.StatusBadRequest)

			return
		}

		switch {
		case job.Input.SpeakerAudio != nil:
			_, _ = w.Write([]byte(`{"id":"j2","status":"COMPLETED","output":{"error":"Failed to download speaker audio"}}`))
		case job.Input.RepetitionPenalty != nil:
			_, _ = w.Write([]byte(`{"id":"j3","status":"FAILED","error":"out of memory"}`))
		default:
			_, _ = w.Write([]byte(`{"id":"j1","status":"COMPLETED","output":{"status":"success","audio":"` +
				base64.StdEncoding.EncodeToString(fakeWAV) + `","sample_rate":22050,"duration":2.25}}`))
		}
	}))

	t.Cleanup(server.Close)

	return server
}

func TestNewRunCommand(t *testing.T) {
	t.Parallel()

	cmd := newRunCommand()

	assert.Equal(t, "run <endpoint_id> <api_key>", cmd.Use)
	assert.True(t, cmd.HasExample())
	assert.NotNil(t, cmd.Flags().Lookup(flagBaseURL))
	assert.NotNil(t, cmd.Flags().Lookup(flagOutputDir))
	assert.NotNil(t, cmd.Flags().Lookup(flagTimeout))
}

func TestRunCommand_RequiresTwoArguments(t *testing.T) {
	t.Parallel()

	root := newRootCommand()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs([]string{"run", "only-endpoint"})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, out.String(), "Usage:")
}

func TestRunCommand_Scenarios(t *testing.T) {
	t.Parallel()

	server := newFakeEndpoint(t)
	outputDir := t.TempDir()

	root := newRootCommand()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetArgs([]string{"run", "abc123xyz", "key", "--base-url", server.URL, "--output-dir", outputDir})

	require.NoError(t, root.Execute())

	output := out.String()
	assert.Contains(t, output, "[Test 1] Simple text synthesis (no speaker audio)...")
	assert.Contains(t, output, "✓ Status: success")
	assert.Contains(t, output, "✓ Audio generated: 2.25s @ 22050Hz")
	assert.Contains(t, output, `Response: {"error":"Failed to download speaker audio"}`)
	assert.Contains(t, output, "✗ Error:")
	assert.Contains(t, output, "out of memory")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(output), strings.Repeat("=", ruleWidth)))

	data, err := os.ReadFile(filepath.Join(outputDir, "test_output_1.wav"))
	require.NoError(t, err)
	assert.Equal(t, fakeWAV, data)

	assert.NoFileExists(t, filepath.Join(outputDir, "test_output_2.wav"))
	assert.NoFileExists(t, filepath.Join(outputDir, "test_output_3.wav"))
}

// main package for the smoke-test CLI that exercises a deployed endpoint.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/indextts-handler/internal/core"
	"github.com/book-expert/indextts-handler/internal/endpoint"
	"github.com/spf13/cobra"
)

// Flag names and descriptions.
const (
	flagBaseURL      = "base-url"
	flagOutputDir    = "output-dir"
	flagTimeout      = "timeout"
	flagBaseURLDesc  = "Serverless API base URL"
	flagOutputDesc   = "Directory the generated WAV files are written to"
	flagTimeoutDesc  = "Per-scenario timeout"
	defaultTimeout   = 300 * time.Second
	defaultOutputDir = "."
)

// Output messages.
const (
	banner           = "Testing IndexTTS2 RunPod Serverless Endpoint"
	msgStatus        = "✓ Status: %s\n"
	msgAudio         = "✓ Audio generated: %.2fs @ %dHz\n"
	msgSaved         = "✓ Saved to: %s\n"
	msgResponse      = "Response: %s\n"
	msgError         = "✗ Error: %v\n"
	msgComplete      = "Testing complete!"
	outputFileFormat = "test_output_%d.wav"
	statusUnknown    = "unknown"
	ruleWidth        = 60
)

const sampleSpeakerURL = "https://replicate.delivery/pbxt/Nitgz9LwQUvwL4jOcOpJSsKqaJ3jt8puvvWPkrnd46WLjw3H/emmy-woman-emotional.mp3"

// scenario is one request sent to the endpoint.
type scenario struct {
	title string
	input core.JobInput
}

// runOptions holds the parsed flag values.
type runOptions struct {
	baseURL   string
	outputDir string
	timeout   time.Duration
}

func ptr[T any](v T) *T {
	return &v
}

func scenarios() []scenario {
	return []scenario{
		{
			title: "Simple text synthesis (no speaker audio)",
			input: core.JobInput{Text: "Hello, this is a test of IndexTTS2."},
		},
		{
			title: "Voice cloning with speaker audio URL",
			input: core.JobInput{
				Text:         "You miss 100% of the shots you don't take. Start today with Index TTS 2.",
				SpeakerAudio: ptr(sampleSpeakerURL),
				TopK:         ptr(core.Integer(30)),
				TopP:         ptr(0.8),
				Temperature:  ptr(0.8),
				EmotionScale: ptr(1.0),
			},
		},
		{
			title: "Custom parameters (high emotion, slower)",
			input: core.JobInput{
				Text:              "This is an emotional test with custom parameters!",
				EmotionScale:      ptr(1.5),
				Temperature:       ptr(0.9),
				RepetitionPenalty: ptr(15.0),
				IntervalSilenceMs: ptr(core.Integer(300)),
			},
		},
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "smoke-test",
		Short:         "Smoke-test a deployed IndexTTS2 serverless endpoint",
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newRunCommand())

	return cmd
}

func newRunCommand() *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:     "run <endpoint_id> <api_key>",
		Short:   "Run the synthesis scenarios against an endpoint",
		Example: "  smoke-test run abc123xyz YOUR_API_KEY",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := endpoint.NewClient(args[0], args[1], endpoint.WithBaseURL(opts.baseURL))
			if err != nil {
				return fmt.Errorf("failed to create endpoint client: %w", err)
			}

			runScenarios(cmd.Context(), client, cmd.OutOrStdout(), opts)

			return nil
		},
	}

	cmd.Flags().StringVar(&opts.baseURL, flagBaseURL, endpoint.DefaultBaseURL, flagBaseURLDesc)
	cmd.Flags().StringVar(&opts.outputDir, flagOutputDir, defaultOutputDir, flagOutputDesc)
	cmd.Flags().DurationVar(&opts.timeout, flagTimeout, defaultTimeout, flagTimeoutDesc)

	return cmd
}

// runScenarios never stops early; each failure is reported and the next
// scenario runs.
func runScenarios(ctx context.Context, client *endpoint.Client, out io.Writer, opts runOptions) {
	rule := strings.Repeat("=", ruleWidth)

	_, _ = fmt.Fprintln(out, rule)
	_, _ = fmt.Fprintln(out, banner)
	_, _ = fmt.Fprintln(out, rule)

	for i, sc := range scenarios() {
		number := i + 1

		_, _ = fmt.Fprintf(out, "\n[Test %d] %s...\n", number, sc.title)

		err := runScenario(ctx, client, out, sc, filepath.Join(opts.outputDir, fmt.Sprintf(outputFileFormat, number)), opts.timeout)
		if err != nil {
			_, _ = fmt.Fprintf(out, msgError, err)
		}
	}

	_, _ = fmt.Fprintln(out, "\n"+rule)
	_, _ = fmt.Fprintln(out, msgComplete)
	_, _ = fmt.Fprintln(out, rule)
}

func runScenario(
	ctx context.Context,
	client *endpoint.Client,
	out io.Writer,
	sc scenario,
	outputPath string,
	timeout time.Duration,
) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := client.RunSync(ctx, sc.input)
	if err != nil {
		return err
	}

	status := result.Status
	if status == "" {
		status = statusUnknown
	}

	_, _ = fmt.Fprintf(out, msgStatus, status)

	if result.Audio == "" {
		raw, marshalErr := json.Marshal(result)
		if marshalErr != nil {
			return fmt.Errorf("failed to render response: %w", marshalErr)
		}

		_, _ = fmt.Fprintf(out, msgResponse, raw)

		return nil
	}

	_, _ = fmt.Fprintf(out, msgAudio, result.Duration, result.SampleRate)

	audioData, err := base64.StdEncoding.DecodeString(result.Audio)
	if err != nil {
		return fmt.Errorf("failed to decode audio: %w", err)
	}

	err = os.WriteFile(outputPath, audioData, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}

	_, _ = fmt.Fprintf(out, msgSaved, outputPath)

	return nil
}

func main() {
	err := newRootCommand().ExecuteContext(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// main package for the indextts-handler service
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/indextts-handler/internal/config"
	"github.com/book-expert/indextts-handler/internal/core"
	"github.com/book-expert/indextts-handler/internal/handler"
	"github.com/book-expert/indextts-handler/internal/model"
	"github.com/book-expert/indextts-handler/internal/objectstore"
	"github.com/book-expert/indextts-handler/internal/reference"
	"github.com/book-expert/indextts-handler/internal/worker"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
)

const (
	serviceName      = "indextts-handler"
	bootstrapLogFile = "indextts-handler-bootstrap.log"
	serviceLogFile   = "indextts-handler.log"

	// Added to the fetch and synthesis budgets to cover encoding and archiving.
	messageTimeoutMargin = time.Minute

	flagTestInput     = "test_input"
	flagTestInputDesc = "Handle one JSON job locally, print the result and exit"
)

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

// loadSynthesizer returns nil when the model is unavailable, which puts the
// handler in mock mode.
func loadSynthesizer(cfg config.ModelConfig, log *logger.Logger) core.Synthesizer {
	synth, err := model.Load(cfg, log)
	if err != nil {
		log.Warn("Model unavailable, starting in mock mode: %v", err)

		return nil
	}

	return synth
}

func buildWorkerOptions(cfg *config.Config, natsConnection *nats.Conn, log *logger.Logger) ([]worker.Option, error) {
	opts := []worker.Option{
		worker.WithQueueGroup(cfg.NATS.QueueGroup),
		worker.WithMessageTimeout(cfg.Handler.FetchTimeout() + cfg.Handler.SynthesisTimeout() + messageTimeoutMargin),
	}

	if cfg.NATS.AudioObjectStoreBucket == "" {
		return opts, nil
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.NATS.AudioObjectStoreBucket, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio object store: %w", err)
	}

	log.Info("Archiving audio to object store bucket %s", cfg.NATS.AudioObjectStoreBucket)

	return append(opts, worker.WithArchive(store, cfg.NATS.AudioChunkCreatedSubject)), nil
}

func buildHandler(cfg *config.Config, log *logger.Logger) *handler.Handler {
	return handler.New(
		loadSynthesizer(cfg.Model, log),
		log,
		handler.WithFetcher(reference.NewHTTPFetcher(cfg.Handler.FetchTimeout())),
		handler.WithTempDir(cfg.Handler.TempDir),
		handler.WithSynthesisTimeout(cfg.Handler.SynthesisTimeout()),
		handler.WithBounds(cfg.Handler.EnforceBounds),
	)
}

// runLocalJob handles a single payload without NATS and writes the JSON
// result to out.
func runLocalJob(ctx context.Context, jobHandler *handler.Handler, payload string, out io.Writer) error {
	_, err := fmt.Fprintln(out, string(jobHandler.HandleRaw(ctx, []byte(payload))))
	if err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}

	return nil
}

func serve(ctx context.Context, cfg *config.Config, jobHandler *handler.Handler, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL, nats.Name(serviceName))
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	opts, err := buildWorkerOptions(cfg, natsConnection, log)
	if err != nil {
		return err
	}

	natsWorker, err := worker.NewNatsWorker(natsConnection, cfg.NATS.JobSubject, jobHandler, log, opts...)
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	log.System("%s initialized (mock mode: %t). Listening for jobs on subject: %s",
		serviceName, jobHandler.Mock(), cfg.NATS.JobSubject)

	err = natsWorker.Run(ctx)
	if err != nil {
		return fmt.Errorf("worker stopped: %w", err)
	}

	log.System("%s shut down cleanly", serviceName)

	return nil
}

func run(args []string) error {
	flags := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	testInput := flags.String(flagTestInput, "", flagTestInputDesc)

	err := flags.Parse(args)
	if err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() {
		_ = bootstrapLog.Close()
	}()

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, serviceLogFile)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobHandler := buildHandler(cfg, finalLog)

	if *testInput != "" {
		return runLocalJob(ctx, jobHandler, *testInput, os.Stdout)
	}

	return serve(ctx, cfg, jobHandler, finalLog)
}

func main() {
	err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}

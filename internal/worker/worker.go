// Package worker provides a NATS worker that dispatches IndexTTS2 jobs to the handler.
package worker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/indextts-handler/internal/core"
	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const (
	defaultMessageTimeout = 15 * time.Minute
	audioKeySuffix        = ".wav"
)

var (
	// ErrSubjectEmpty indicates that no job subject was configured.
	ErrSubjectEmpty = errors.New("job subject cannot be empty")
	// ErrHandlerNil indicates that no job handler was supplied.
	ErrHandlerNil = errors.New("job handler cannot be nil")
)

// Option customizes a NatsWorker.
type Option func(*NatsWorker)

// WithQueueGroup makes workers sharing the group split the job stream.
func WithQueueGroup(group string) Option {
	return func(w *NatsWorker) {
		w.queueGroup = group
	}
}

// WithArchive uploads successful audio to store and, when subject is not
// empty, announces each upload with an AudioChunkCreatedEvent.
func WithArchive(store core.ObjectStore, subject string) Option {
	return func(w *NatsWorker) {
		w.store = store
		w.eventSubject = subject
	}
}

// WithMessageTimeout bounds the handling of one message.
func WithMessageTimeout(timeout time.Duration) Option {
	return func(w *NatsWorker) {
		if timeout > 0 {
			w.messageTimeout = timeout
		}
	}
}

// NatsWorker listens for jobs on a NATS subject and replies with results.
type NatsWorker struct {
	natsConnection *nats.Conn
	subject        string
	queueGroup     string
	eventSubject   string
	messageTimeout time.Duration
	handler        core.JobHandler
	store          core.ObjectStore
	log            *logger.Logger
}

// NewNatsWorker creates a new instance of a NATS worker.
func NewNatsWorker(
	natsConnection *nats.Conn,
	subject string,
	handler core.JobHandler,
	log *logger.Logger,
	opts ...Option,
) (*NatsWorker, error) {
	if subject == "" {
		return nil, ErrSubjectEmpty
	}

	if handler == nil {
		return nil, ErrHandlerNil
	}

	w := &NatsWorker{
		natsConnection: natsConnection,
		subject:        subject,
		messageTimeout: defaultMessageTimeout,
		handler:        handler,
		log:            log,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Run starts the worker and begins listening for messages.
func (w *NatsWorker) Run(ctx context.Context) error {
	var (
		sub *nats.Subscription
		err error
	)

	if w.queueGroup != "" {
		sub, err = w.natsConnection.QueueSubscribe(w.subject, w.queueGroup, w.handleMessage)
	} else {
		sub, err = w.natsConnection.Subscribe(w.subject, w.handleMessage)
	}

	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *NatsWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), w.messageTimeout)
	defer cancel()

	var result core.Result

	job, err := w.parseJob(msg)
	if err != nil {
		w.log.Error("Failed to parse job: %v", err)
		result = core.ErrorResult(err.Error())
	} else {
		result = w.handler.Handle(ctx, *job)

		if result.Failed() {
			w.log.Warn("Job %s failed: %s", job.ID, result.Error)
		} else {
			w.archive(ctx, job.ID, result)
		}
	}

	err = w.reply(msg, result)
	if err != nil {
		w.log.Error("Failed to reply to job: %v", err)
	}
}

func (w *NatsWorker) parseJob(msg *nats.Msg) (*core.Job, error) {
	job, err := core.DecodeJob(msg.Data)
	if err != nil {
		return nil, err
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}

	return &job, nil
}

// archive stores the synthesized WAV and announces it. Failures are logged
// only; the caller still receives the inline audio.
func (w *NatsWorker) archive(ctx context.Context, jobID string, result core.Result) {
	if w.store == nil || result.Status != core.StatusSuccess {
		return
	}

	audioData, err := base64.StdEncoding.DecodeString(result.Audio)
	if err != nil {
		w.log.Error("Failed to decode audio for job %s: %v", jobID, err)

		return
	}

	audioKey := jobID + audioKeySuffix

	err = w.store.Upload(ctx, audioKey, audioData)
	if err != nil {
		w.log.Error("Failed to upload audio data for key '%s': %v", audioKey, err)

		return
	}

	w.log.Info("Archived audio for job %s as %s", jobID, audioKey)

	if w.eventSubject == "" {
		return
	}

	err = w.publishAudioEvent(jobID, audioKey)
	if err != nil {
		w.log.Error("Failed to publish audio event for job %s: %v", jobID, err)
	}
}

// publishAudioEvent marshals and publishes the AudioChunkCreatedEvent.
func (w *NatsWorker) publishAudioEvent(jobID, audioKey string) error {
	event := &events.AudioChunkCreatedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: jobID,
			EventID:    uuid.NewString(),
		},
		AudioKey: audioKey,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audio event: %w", err)
	}

	err = w.natsConnection.Publish(w.eventSubject, data)
	if err != nil {
		return fmt.Errorf("failed to publish audio event: %w", err)
	}

	return nil
}

// reply marshals and responds with the job result.
func (w *NatsWorker) reply(msg *nats.Msg, result core.Result) error {
	replyData, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	err = msg.Respond(replyData)
	if err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}

	return nil
}

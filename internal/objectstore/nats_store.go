// Package objectstore archives synthesized audio in a NATS JetStream object store.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	contentTypeHeader = "Content-Type"
	contentTypeWAV    = "audio/wav"
)

// ErrBucketEmpty indicates that no bucket name was supplied.
var ErrBucketEmpty = errors.New("bucket name cannot be empty")

// NatsObjectStore implements the core.ObjectStore interface using NATS JetStream.
type NatsObjectStore struct {
	bucket string
	store  nats.ObjectStore
}

// New creates the bucket, or binds to it when it already exists. A zero ttl
// keeps objects forever.
func New(jetstreamContext nats.JetStreamContext, bucketName string, ttl time.Duration) (*NatsObjectStore, error) {
	if bucketName == "" {
		return nil, ErrBucketEmpty
	}

	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Synthesized IndexTTS2 audio (%s).", bucketName),
		TTL:         ttl,
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsObjectStore{
		bucket: bucketName,
		store:  store,
	}, nil
}

// Upload saves a WAV object to the NATS object store.
func (n *NatsObjectStore) Upload(ctx context.Context, key string, data []byte) error {
	meta := &nats.ObjectMeta{
		Name:        key,
		Description: "synthesized speech",
		Headers:     nats.Header{contentTypeHeader: []string{contentTypeWAV}},
	}

	_, err := n.store.Put(meta, bytes.NewReader(data), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

// Package reference classifies and materializes the speaker reference audio
// attached to a synthesis job.
package reference

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/book-expert/indextts-handler/internal/core"
)

// Kind identifies which form of reference a job supplied.
type Kind int

const (
	// KindNone means no reference: the model's default voice is used.
	KindNone Kind = iota
	// KindURL means the reference must be downloaded.
	KindURL
	// KindInline means the reference bytes were sent base64-encoded.
	KindInline
)

const (
	httpPrefix  = "http://"
	httpsPrefix = "https://"

	suffixWAV = ".wav"
	suffixMP3 = ".mp3"

	tempPattern = "speaker-ref-*"
)

// Static errors.
var (
	ErrDecode       = errors.New("failed to decode speaker audio")
	ErrDownload     = errors.New("failed to download speaker audio")
	ErrUnknownKind  = errors.New("unknown reference kind")
	ErrFetcherUnset = errors.New("no fetcher configured for url reference")
)

// DecodeError reports a speaker_audio value that is neither a URL nor valid
// base64. It matches ErrDecode with errors.Is.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return ErrDecode.Error() + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}

// Reference is the parsed speaker_audio value. Only the field matching Kind
// is meaningful.
type Reference struct {
	kind Kind
	url  string
	data []byte
}

// None returns the empty reference.
func None() Reference {
	return Reference{kind: KindNone}
}

// FromURL returns a reference that must be fetched from url.
func FromURL(url string) Reference {
	return Reference{kind: KindURL, url: url}
}

// FromBytes returns a reference carrying inline audio bytes.
func FromBytes(data []byte) Reference {
	return Reference{kind: KindInline, data: data}
}

// Kind reports the reference form.
func (r Reference) Kind() Kind {
	return r.kind
}

// URL returns the download location of a KindURL reference.
func (r Reference) URL() string {
	return r.url
}

// Data returns the inline bytes of a KindInline reference.
func (r Reference) Data() []byte {
	return r.data
}

// Suffix is the temp file extension for the reference. The mp3 check is a
// plain substring test on the URL and never inspects content.
func (r Reference) Suffix() string {
	if r.kind == KindURL && strings.Contains(strings.ToLower(r.url), "mp3") {
		return suffixMP3
	}

	return suffixWAV
}

// Parse classifies a raw speaker_audio value. Empty input is KindNone, an
// http(s) prefix is KindURL, and everything else must be base64.
func Parse(raw string) (Reference, error) {
	if raw == "" {
		return None(), nil
	}

	if strings.HasPrefix(raw, httpPrefix) || strings.HasPrefix(raw, httpsPrefix) {
		return FromURL(raw), nil
	}

	data, err := decodeBase64(raw)
	if err != nil {
		return Reference{}, &DecodeError{Err: err}
	}

	return FromBytes(data), nil
}

// decodeBase64 accepts the standard alphabet with or without padding and
// ignores embedded whitespace.
func decodeBase64(raw string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		default:
			return r
		}
	}, raw)

	if strings.HasSuffix(cleaned, "=") || len(cleaned)%4 == 0 {
		data, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 payload: %w", err)
		}

		return data, nil
	}

	data, err := base64.RawStdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 payload: %w", err)
	}

	return data, nil
}

// Materialize writes the reference to a temporary file in dir and returns
// its path along with a cleanup function. For KindNone the path is empty.
// The cleanup function is always non-nil and safe to call more than once.
func Materialize(
	ctx context.Context,
	ref Reference,
	fetcher core.Fetcher,
	dir string,
) (string, func() error, error) {
	noop := func() error { return nil }

	var data []byte

	switch ref.kind {
	case KindNone:
		return "", noop, nil
	case KindURL:
		if fetcher == nil {
			return "", noop, ErrFetcherUnset
		}

		fetched, err := fetcher.Fetch(ctx, ref.url)
		if err != nil {
			return "", noop, fmt.Errorf("%w: %w", ErrDownload, err)
		}

		data = fetched
	case KindInline:
		data = ref.data
	default:
		return "", noop, fmt.Errorf("%w: %d", ErrUnknownKind, ref.kind)
	}

	path, err := writeTemp(dir, ref.Suffix(), data)
	if err != nil {
		return "", noop, err
	}

	cleanup := func() error {
		removeErr := os.Remove(path)
		if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
			return fmt.Errorf("failed to remove reference file '%s': %w", path, removeErr)
		}

		return nil
	}

	return path, cleanup, nil
}

func writeTemp(dir, suffix string, data []byte) (string, error) {
	tempFile, err := os.CreateTemp(dir, tempPattern+suffix)
	if err != nil {
		return "", fmt.Errorf("failed to create reference temp file: %w", err)
	}

	_, writeErr := tempFile.Write(data)
	closeErr := tempFile.Close()

	if writeErr == nil {
		writeErr = closeErr
	}

	if writeErr != nil {
		_ = os.Remove(tempFile.Name())

		return "", fmt.Errorf("failed to write reference temp file: %w", writeErr)
	}

	return tempFile.Name(), nil
}

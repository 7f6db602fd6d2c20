package mnist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sethvargo/go-retry"
)

// DefaultMirrorURL hosts the Keras copy of MNIST.
const DefaultMirrorURL = "https://storage.googleapis.com/tensorflow/tf-keras-datasets/mnist.npz"

// NPZDigest is the SHA-256 of the Keras mnist.npz archive.
const NPZDigest = "731c5ac602752760c8e48fbffcf8c3b850d9dc2a2aedcf2cc48468fc17b673d1"

// Download retry policy.
const (
	downloadRetries = 3
	downloadBackoff = 500 * time.Millisecond
)

// download fetches url into dest, retrying transient failures.
//
// The body is written to a temporary file in the destination directory and
// renamed into place only after its SHA-256 matches digest (skipped when
// digest is empty), so a partial download never shadows a good file.
func download(ctx context.Context, client *http.Client, url, dest, digest string, logger *slog.Logger) error {
	if client == nil {
		client = http.DefaultClient
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	backoff := retry.WithMaxRetries(downloadRetries, retry.NewExponential(downloadBackoff))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		logger.Info("downloading dataset", "url", url, "attempt", attempt)

		err := fetch(ctx, client, url, dest, digest)
		if err == nil {
			return nil
		}
		var te *transientError
		if errors.As(err, &te) {
			logger.Warn("download failed, retrying", "url", url, "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
}

// transientError marks failures worth retrying.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func fetch(ctx context.Context, client *http.Client, url, dest, digest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &transientError{fmt.Errorf("GET %s: %w", url, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return &transientError{fmt.Errorf("GET %s: %s", url, resp.Status)}
	default:
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), resp.Body); err != nil {
		_ = tmp.Close()
		return &transientError{fmt.Errorf("GET %s: reading body: %w", url, err)}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}

	if digest != "" {
		if got := hex.EncodeToString(h.Sum(nil)); got != digest {
			return fmt.Errorf("%w: %s has sha256 %s, want %s", ErrChecksumMismatch, url, got, digest)
		}
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("failed to move download into place: %w", err)
	}
	return nil
}

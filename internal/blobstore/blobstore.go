// Package blobstore is the blob fetcher (C2): it streams a packaged archive
// identified by a storage path out of a content-addressed object store,
// verifying the computed hash and byte count against what the metadata
// store recorded. Grounded on the hash-verification idiom in the teacher's
// package loader, re-pointed at an S3-compatible backend since the teacher
// fetches layers from local disk/NBD rather than object storage.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/novacore/novacore/internal/apperr"
)

// Fetcher streams a packaged archive and verifies its integrity.
type Fetcher interface {
	Fetch(ctx context.Context, packagePath, expectedHash string, expectedSize int64) (io.ReadCloser, error)
}

// Config controls retry behavior for transient transport errors.
type Config struct {
	Bucket      string
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	return c
}

// S3Fetcher fetches archives from an S3-compatible content-addressed bucket.
type S3Fetcher struct {
	client *s3.Client
	cfg    Config
}

func NewS3Fetcher(client *s3.Client, cfg Config) *S3Fetcher {
	return &S3Fetcher{client: client, cfg: cfg.withDefaults()}
}

// Fetch streams the object at packagePath, wrapping the returned reader so
// that the hash and byte count are verified once the caller finishes
// reading (on Close). Non-transient errors (object not found, access
// denied) fail on the first attempt; transient errors are retried with
// exponential backoff up to cfg.MaxRetries.
func (f *S3Fetcher) Fetch(ctx context.Context, packagePath, expectedHash string, expectedSize int64) (io.ReadCloser, error) {
	var lastErr error
	backoff := f.cfg.BaseBackoff

	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > f.cfg.MaxBackoff {
				backoff = f.cfg.MaxBackoff
			}
		}

		out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(f.cfg.Bucket),
			Key:    aws.String(packagePath),
		})
		if err == nil {
			return &verifyingReader{
				rc:           out.Body,
				expectedHash: expectedHash,
				expectedSize: expectedSize,
				hasher:       sha256.New(),
			}, nil
		}

		lastErr = err
		if !isTransient(err) {
			return nil, apperr.Wrap(apperr.KindStoreTransient, fmt.Sprintf("fetch package %s", packagePath), err)
		}
	}
	return nil, apperr.Wrap(apperr.KindStoreTransient, fmt.Sprintf("fetch package %s: retries exhausted", packagePath), lastErr)
}

// isTransient classifies S3 errors into retryable vs. fail-fast. Auth and
// not-found errors are never retried; everything else (network resets,
// throttling, 5xx) is treated as transient.
func isTransient(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return false
		}
	}
	return true
}

// verifyingReader wraps the S3 body, accumulating a running SHA-256 hash
// and byte count. Verification happens on Close, matching the spec's
// "on completion" timing — callers must read the stream to EOF (or at
// least to the point of calling Close after a full read) to get a verdict.
type verifyingReader struct {
	rc           io.ReadCloser
	hasher       hash.Hash
	expectedHash string
	expectedSize int64
	read         int64
}

func (v *verifyingReader) Read(p []byte) (int, error) {
	n, err := v.rc.Read(p)
	if n > 0 {
		v.hasher.Write(p[:n])
		v.read += int64(n)
	}
	return n, err
}

func (v *verifyingReader) Close() error {
	closeErr := v.rc.Close()

	gotHash := hex.EncodeToString(v.hasher.Sum(nil))

	if v.expectedSize != 0 && v.read != v.expectedSize {
		return apperr.New(apperr.KindSizeMismatch,
			fmt.Sprintf("package size mismatch: got %d bytes, expected %d", v.read, v.expectedSize))
	}
	if v.expectedHash != "" && gotHash != v.expectedHash {
		return apperr.New(apperr.KindHashMismatch,
			fmt.Sprintf("package hash mismatch: got %s, expected %s", gotHash, v.expectedHash))
	}
	return closeErr
}

package blobstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"testing"

	"github.com/novacore/novacore/internal/apperr"
)

type nopCloser struct{ io.Reader }

func (nopCloser) Close() error { return nil }

func newVerifyingReader(data []byte, expectedHash string, expectedSize int64) *verifyingReader {
	return &verifyingReader{
		rc:           nopCloser{bytes.NewReader(data)},
		hasher:       sha256.New(),
		expectedHash: expectedHash,
		expectedSize: expectedSize,
	}
}

func TestVerifyingReader_HashMatch(t *testing.T) {
	data := []byte("package contents")
	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	r := newVerifyingReader(data, hash, int64(len(data)))
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("read %q, want %q", got, data)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestVerifyingReader_HashMismatch(t *testing.T) {
	data := []byte("package contents")
	r := newVerifyingReader(data, "0000000000000000000000000000000000000000000000000000000000000000", int64(len(data)))
	if _, err := io.ReadAll(r); err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	err := r.Close()
	if !apperr.Is(err, apperr.KindHashMismatch) {
		t.Fatalf("Close error = %v, want KindHashMismatch", err)
	}
}

func TestVerifyingReader_SizeMismatch(t *testing.T) {
	data := []byte("package contents")
	r := newVerifyingReader(data, "", int64(len(data))+1)
	if _, err := io.ReadAll(r); err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	err := r.Close()
	if !apperr.Is(err, apperr.KindSizeMismatch) {
		t.Fatalf("Close error = %v, want KindSizeMismatch", err)
	}
}

func TestIsTransient_GenericErrorIsTransient(t *testing.T) {
	if isTransient(errors.New("network reset")) != true {
		t.Fatal("generic errors should be treated as transient")
	}
}

package pkgcache

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/novacore/novacore/internal/apperr"
)

func writeTarGz(t *testing.T, entries []tar.Header, contents []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for i, hdr := range entries {
		hdr.Size = int64(len(contents[i]))
		if err := tw.WriteHeader(&hdr); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if _, err := tw.Write([]byte(contents[i])); err != nil {
			t.Fatalf("write body: %v", err)
		}
	}
	tw.Close()
	gz.Close()
	return buf.Bytes()
}

func TestExtractTarGz_RejectsDotDotEscape(t *testing.T) {
	data := writeTarGz(t,
		[]tar.Header{{Name: "../../etc/passwd", Typeflag: tar.TypeReg, Mode: 0o644}},
		[]string{"pwned"},
	)
	dest := t.TempDir()
	_, err := extractTarGz(bytes.NewReader(data), dest)
	if !apperr.Is(err, apperr.KindUnsafeArchive) {
		t.Fatalf("err = %v, want KindUnsafeArchive", err)
	}
	if _, statErr := os.Stat(filepath.Join(dest, "..", "..", "etc", "passwd")); statErr == nil {
		t.Fatal("escaped file should not have been written")
	}
}

func TestExtractTarGz_RejectsSymlinkEscape(t *testing.T) {
	data := writeTarGz(t,
		[]tar.Header{{Name: "link", Typeflag: tar.TypeSymlink, Linkname: "../../etc/passwd", Mode: 0o644}},
		[]string{""},
	)
	dest := t.TempDir()
	_, err := extractTarGz(bytes.NewReader(data), dest)
	if !apperr.Is(err, apperr.KindUnsafeArchive) {
		t.Fatalf("err = %v, want KindUnsafeArchive", err)
	}
}

func TestExtractTarGz_ValidArchiveExtractsCleanly(t *testing.T) {
	data := writeTarGz(t,
		[]tar.Header{
			{Name: "index.js", Typeflag: tar.TypeReg, Mode: 0o644},
			{Name: "lib/helper.js", Typeflag: tar.TypeReg, Mode: 0o644},
		},
		[]string{"entry", "helper"},
	)
	dest := t.TempDir()
	size, err := extractTarGz(bytes.NewReader(data), dest)
	if err != nil {
		t.Fatalf("extractTarGz: %v", err)
	}
	if size != int64(len("entry")+len("helper")) {
		t.Fatalf("size = %d, want %d", size, len("entry")+len("helper"))
	}
	if _, err := os.Stat(filepath.Join(dest, "index.js")); err != nil {
		t.Fatalf("index.js missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dest, "lib", "helper.js")); err != nil {
		t.Fatalf("lib/helper.js missing: %v", err)
	}
}

func TestSafeJoin_RejectsEscape(t *testing.T) {
	if _, err := safeJoin("/cache/fn-1", "../../etc/passwd"); !apperr.Is(err, apperr.KindUnsafeArchive) {
		t.Fatalf("err = %v, want KindUnsafeArchive", err)
	}
}

func TestSafeJoin_AllowsNestedPath(t *testing.T) {
	got, err := safeJoin("/cache/fn-1", "lib/helper.js")
	if err != nil {
		t.Fatalf("safeJoin: %v", err)
	}
	if got != filepath.Join("/cache/fn-1", "lib/helper.js") {
		t.Fatalf("got %q", got)
	}
}

package pkgcache

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/novacore/novacore/internal/apperr"
)

// extractTarGz extracts a gzip-compressed tar archive into destDir,
// rejecting any entry whose resolved path would escape destDir (absolute
// paths, "..", or a symlink pointing outside). Returns the total extracted
// size in bytes. No third-party archive library appears anywhere in the
// retrieved pack, so this is one of the few places stdlib is used directly
// rather than an ecosystem dependency (see DESIGN.md).
func extractTarGz(r io.Reader, destDir string) (int64, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindBadPackage, "open gzip stream", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var total int64

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, apperr.Wrap(apperr.KindBadPackage, "read tar entry", err)
		}

		target, err := safeJoin(destDir, hdr.Name)
		if err != nil {
			return 0, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return 0, apperr.Wrap(apperr.KindBadPackage, "create directory", err)
			}

		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return 0, apperr.Wrap(apperr.KindBadPackage, "create parent directory", err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return 0, apperr.Wrap(apperr.KindBadPackage, "create file", err)
			}
			n, err := io.Copy(f, tr)
			f.Close()
			if err != nil {
				return 0, apperr.Wrap(apperr.KindBadPackage, "write file", err)
			}
			total += n

		case tar.TypeSymlink, tar.TypeLink:
			// Symlink targets are attacker-controlled; refuse any escape
			// rather than trying to canonicalize a link that may not exist
			// on disk yet.
			linkTarget := hdr.Linkname
			if filepath.IsAbs(linkTarget) || strings.Contains(linkTarget, "..") {
				return 0, apperr.New(apperr.KindUnsafeArchive, "archive entry link escapes package root: "+hdr.Name)
			}

		default:
			// Device nodes, fifos, etc. are silently skipped; they have no
			// meaning inside a guest package root.
		}
	}

	return total, nil
}

// safeJoin resolves name under root, rejecting any result that escapes root
// after cleaning — the path-escape-proof property required of both
// extraction and the guest filesystem bridge.
func safeJoin(root, name string) (string, error) {
	cleaned := filepath.Clean("/" + name) // neutralizes leading ".." segments
	target := filepath.Join(root, cleaned)

	rootWithSep := filepath.Clean(root) + string(filepath.Separator)
	if target != filepath.Clean(root) && !strings.HasPrefix(target, rootWithSep) {
		return "", apperr.New(apperr.KindUnsafeArchive, "archive entry escapes package root: "+name)
	}
	return target, nil
}

package pkgcache

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/novacore/novacore/internal/apperr"
	"github.com/novacore/novacore/internal/logging"
)

// populate runs the population algorithm from spec §4.3 step 3: stream the
// fetched archive straight into extraction in a staging directory with no
// path escapes, verify hash/size (enforced by blobstore on Close), atomically rename staging
// to the entry's root, and record Ready metadata. It is always invoked
// inside the per-fingerprint singleflight group, so at most one goroutine
// per (function_id, package_hash) ever runs this body.
func (c *Cache) populate(ctx context.Context, functionID string, version int, packageHash, packagePath string, expectedSize int64) error {
	c.mu.Lock()
	if e, ok := c.entries[functionID]; ok && e.packageHash == packageHash && e.state == StateReady {
		c.mu.Unlock()
		return nil // a racing caller already finished this exact fingerprint
	}
	c.entries[functionID] = &entry{
		functionID:  functionID,
		version:     version,
		packageHash: packageHash,
		state:       StatePopulating,
	}
	c.mu.Unlock()

	root, size, err := c.fetchAndExtract(ctx, functionID, packagePath, packageHash, expectedSize)
	if err != nil {
		c.mu.Lock()
		if e, ok := c.entries[functionID]; ok && e.packageHash == packageHash {
			e.state = StateFailed
		}
		c.mu.Unlock()
		return err
	}

	newEntry := &entry{
		functionID:  functionID,
		version:     version,
		packageHash: packageHash,
		rootPath:    root,
		totalSize:   size,
		lastAccess:  time.Now(),
		accessCount: 0,
		state:       StateReady,
	}

	c.mu.Lock()
	prev := c.entries[functionID]
	c.entries[functionID] = newEntry
	var retirePath string
	retireNow := false
	if prev != nil && prev.rootPath != "" && prev.packageHash != packageHash {
		// prev is the version this populate is superseding. Its directory
		// lives at a hash-versioned path distinct from root, so the fetch
		// above never touched it; a Handle issued against prev before this
		// populate started remains valid until released. Only reclaim its
		// directory once nothing still holds it.
		prev.retired = true
		if prev.handles == 0 {
			retirePath = prev.rootPath
			retireNow = true
		}
	}
	c.mu.Unlock()

	if retireNow {
		if err := removeAll(retirePath); err != nil {
			logging.Op().Warn("stale cache entry cleanup failed", "function_id", functionID, "path", retirePath, "err", err)
		}
	}

	logging.Op().Info("package cache populated", "function_id", functionID, "hash", shortHash(packageHash), "size", size)
	return nil
}

func (c *Cache) fetchAndExtract(ctx context.Context, functionID, packagePath, packageHash string, expectedSize int64) (string, int64, error) {
	if err := os.MkdirAll(c.cfg.CacheDir, 0o755); err != nil {
		return "", 0, apperr.Wrap(apperr.KindCacheFull, "create cache dir", err)
	}

	stream, err := c.fetcher.Fetch(ctx, packagePath, packageHash, expectedSize)
	if err != nil {
		return "", 0, err
	}

	stagingDir := filepath.Join(c.cfg.CacheDir, ".staging-"+uuid.New().String())
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		stream.Close()
		return "", 0, apperr.Wrap(apperr.KindCacheFull, "create staging dir", err)
	}
	defer os.RemoveAll(stagingDir)

	size, err := extractTarGz(stream, stagingDir)
	closeErr := stream.Close()
	if err != nil {
		return "", 0, err
	}
	if closeErr != nil {
		// Fetch's Close performs the hash/size verification; surface it
		// verbatim (already a properly-kinded apperr.Error).
		return "", 0, closeErr
	}

	if _, err := os.Stat(filepath.Join(stagingDir, "index.js")); err != nil {
		return "", 0, apperr.New(apperr.KindBadPackage, "extracted package has no top-level index.js")
	}

	// Versioned by packageHash, not just functionID: two different versions
	// of the same function never share a directory, so promoting a new
	// version can never delete or overwrite files a Handle from an older,
	// still-referenced version points at.
	root := filepath.Join(c.cfg.CacheDir, functionID, packageHash)
	os.RemoveAll(root)
	if err := os.Rename(stagingDir, root); err != nil {
		return "", 0, apperr.Wrap(apperr.KindCacheFull, "promote staging directory", err)
	}
	// stagingDir was just renamed away; the deferred os.RemoveAll above is a
	// harmless no-op against a now-nonexistent path.
	return root, size, nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func removeAll(path string) error {
	if path == "" {
		return nil
	}
	return os.RemoveAll(path)
}

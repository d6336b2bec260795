package assets

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"golang.org/x/sync/errgroup"
)

// skipDirs are never scanned as library content.
var skipDirs = map[string]bool{
	".git":   true,
	StateDir: true,
}

// ScanLibrary lists a library's files with their checksums, sorted by path.
// Checksums are computed concurrently.
func ScanLibrary(ctx context.Context, lib *Library) ([]LibraryAsset, error) {
	matchers, err := compileGlobs(lib.Include)
	if err != nil {
		return nil, fmt.Errorf("library %s: %w", lib.ID, err)
	}

	var paths []string
	err = filepath.WalkDir(lib.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != lib.Root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(lib.Root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if matchAny(matchers, rel) {
			paths = append(paths, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning library %s: %w", lib.ID, err)
	}
	sort.Strings(paths)

	out := make([]LibraryAsset, len(paths))
	now := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, rel := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			full := filepath.Join(lib.Root, filepath.FromSlash(rel))
			sum, _, err := FileChecksum(full)
			if err != nil {
				return err
			}
			info, err := os.Stat(full)
			if err != nil {
				return err
			}
			out[i] = LibraryAsset{
				LibraryID: lib.ID,
				Path:      rel,
				Checksum:  sum,
				Version:   lib.Version,
				Size:      info.Size(),
				ScannedAt: now,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("checksumming library %s: %w", lib.ID, err)
	}
	return out, nil
}

// projectChecksums hashes the project copies of the given paths concurrently.
// Missing files are omitted from the result.
func projectChecksums(ctx context.Context, root string, paths []string) (map[string]string, error) {
	var mu sync.Mutex
	sums := make(map[string]string, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, rel := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			full, err := ResolvePath(root, rel)
			if err != nil {
				return err
			}
			sum, exists, err := FileChecksum(full)
			if err != nil || !exists {
				return err
			}
			mu.Lock()
			sums[rel] = sum
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sums, nil
}

func compileGlobs(patterns []string) ([]glob.Glob, error) {
	matchers := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid include pattern %q: %w", p, err)
		}
		matchers = append(matchers, g)
	}
	return matchers, nil
}

func matchAny(matchers []glob.Glob, path string) bool {
	if len(matchers) == 0 {
		return true
	}
	for _, m := range matchers {
		if m.Match(path) {
			return true
		}
	}
	return false
}

package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"git.home.luguber.info/inful/wheelworks/internal/logfields"
	"git.home.luguber.info/inful/wheelworks/internal/pytag"
	"git.home.luguber.info/inful/wheelworks/internal/util/slugify"
)

// Store is a filesystem-backed artifact store with a content-addressable
// layout:
//
//	store/
//	  objects/
//	    ab/
//	      cd1234... (first 2 chars = subdir, rest = filename)
//	  refs/
//	    artifacts/
//	      <run-id>/
//	        <name>.json (manifest listing member files and hashes)
type Store struct {
	basePath string
	mu       sync.RWMutex
}

// NewStore creates the store directory structure.
func NewStore(basePath string) (*Store, error) {
	dirs := []string{
		filepath.Join(basePath, "objects"),
		filepath.Join(basePath, "refs", "artifacts"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return &Store{basePath: basePath}, nil
}

// Upload stores every file matching the patterns (relative to dir) under the
// given artifact name. Files with wheel filenames are validated and flagged;
// other files are allowed and logged. Zero matches is an error so a build
// that silently produced nothing cannot pass.
func (s *Store) Upload(ctx context.Context, runID, name, dir string, patterns []string) (*Artifact, error) {
	paths, err := resolvePatterns(dir, patterns)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no files matched %s under %s", strings.Join(patterns, " "), dir)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	art := &Artifact{Name: name, RunID: runID, CreatedAt: time.Now().UTC()}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		file, err := s.putFile(path)
		if err != nil {
			return nil, fmt.Errorf("store %s: %w", path, err)
		}
		if !file.Wheel {
			slog.Debug("Uploading non-wheel artifact member",
				logfields.Artifact(name), logfields.Path(file.Name))
		}
		art.Files = append(art.Files, file)
	}

	if err := s.writeManifest(art); err != nil {
		return nil, err
	}
	slog.Info("Stored artifact",
		logfields.RunID(runID), logfields.Artifact(name),
		slog.Int("files", len(art.Files)), slog.Int64("bytes", art.TotalSize()))
	return art, nil
}

// resolvePatterns expands the glob patterns under dir, deduplicating and
// keeping a stable order.
func resolvePatterns(dir string, patterns []string) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, pattern := range patterns {
		full := pattern
		if !filepath.IsAbs(pattern) {
			full = filepath.Join(dir, pattern)
		}
		matches, err := filepath.Glob(full)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || info.IsDir() {
				continue
			}
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// putFile hashes the file and writes the object if it isn't stored yet.
func (s *Store) putFile(path string) (File, error) {
	f, err := os.Open(path) // #nosec G304 - paths come from operator-supplied globs
	if err != nil {
		return File{}, err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return File{}, fmt.Errorf("hash: %w", err)
	}
	hash := hex.EncodeToString(h.Sum(nil))

	objectPath := s.objectPath(hash)
	if _, err := os.Stat(objectPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(objectPath), 0o750); err != nil {
			return File{}, fmt.Errorf("create object directory: %w", err)
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return File{}, err
		}
		dst, err := os.OpenFile(objectPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			return File{}, fmt.Errorf("write object: %w", err)
		}
		if _, err := io.Copy(dst, f); err != nil {
			_ = dst.Close()
			_ = os.Remove(objectPath)
			return File{}, fmt.Errorf("write object: %w", err)
		}
		if err := dst.Close(); err != nil {
			return File{}, fmt.Errorf("write object: %w", err)
		}
	}

	name := filepath.Base(path)
	_, wheelErr := pytag.ParseWheelFilename(name)
	return File{Name: name, Hash: hash, Size: size, Wheel: wheelErr == nil}, nil
}

// Get loads one artifact manifest.
func (s *Store) Get(runID, name string) (*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readManifest(s.manifestPath(runID, name), runID, name)
}

// List returns the artifacts recorded for a run, sorted by name.
func (s *Store) List(runID string) ([]*Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := filepath.Join(s.basePath, "refs", "artifacts", slugify.Slug(runID))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read run refs: %w", err)
	}

	var out []*Artifact
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		art, err := s.readManifest(filepath.Join(dir, entry.Name()), runID, "")
		if err != nil {
			slog.Warn("Skipping unreadable artifact manifest",
				logfields.Path(entry.Name()), logfields.Error(err))
			continue
		}
		out = append(out, art)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Runs lists the run IDs that still have stored artifacts, sorted. IDs come
// from the manifests, not the slugified directory names.
func (s *Store) Runs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	refsDir := filepath.Join(s.basePath, "refs", "artifacts")
	entries, err := os.ReadDir(refsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read refs: %w", err)
	}

	var out []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runDir := filepath.Join(refsDir, entry.Name())
		manifests, err := os.ReadDir(runDir)
		if err != nil {
			continue
		}
		for _, m := range manifests {
			if m.IsDir() || !strings.HasSuffix(m.Name(), ".json") {
				continue
			}
			art, err := s.readManifest(filepath.Join(runDir, m.Name()), "", "")
			if err != nil {
				continue
			}
			if art.RunID != "" {
				out = append(out, art.RunID)
			}
			break
		}
	}
	sort.Strings(out)
	return out, nil
}

// Fetch writes the artifact's files into destDir under their original names
// and returns the written paths.
func (s *Store) Fetch(ctx context.Context, runID, name, destDir string) ([]string, error) {
	art, err := s.Get(runID, name)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(destDir, 0o750); err != nil {
		return nil, fmt.Errorf("create destination: %w", err)
	}
	var written []string
	for _, file := range art.Files {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		data, err := os.ReadFile(s.objectPath(file.Hash)) // #nosec G304 - hash-derived path
		if err != nil {
			if os.IsNotExist(err) {
				return written, ErrNotFound{What: "object " + file.Hash}
			}
			return written, fmt.Errorf("read object: %w", err)
		}
		dest := filepath.Join(destDir, file.Name)
		if err := os.WriteFile(dest, data, 0o600); err != nil {
			return written, fmt.Errorf("write %s: %w", dest, err)
		}
		written = append(written, dest)
	}
	return written, nil
}

// DeleteRun removes a run's manifests. Orphaned objects are left for GC.
func (s *Store) DeleteRun(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.basePath, "refs", "artifacts", slugify.Slug(runID))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove run refs: %w", err)
	}
	return nil
}

// GC removes objects no manifest references and returns how many went away.
func (s *Store) GC(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	referenced := map[string]bool{}
	refsDir := filepath.Join(s.basePath, "refs", "artifacts")
	err := filepath.Walk(refsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !strings.HasSuffix(path, ".json") {
			return err
		}
		art, rerr := s.readManifest(path, "", "")
		if rerr != nil {
			return nil // unreadable manifest must not trigger deletions
		}
		for _, f := range art.Files {
			referenced[f.Hash] = true
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk refs: %w", err)
	}

	removed := 0
	objectsDir := filepath.Join(s.basePath, "objects")
	err = filepath.Walk(objectsDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		rel, rerr := filepath.Rel(objectsDir, path)
		if rerr != nil {
			return nil
		}
		hash := strings.ReplaceAll(rel, string(filepath.Separator), "")
		if referenced[hash] {
			return nil
		}
		if rmErr := os.Remove(path); rmErr != nil {
			return fmt.Errorf("delete object %s: %w", hash, rmErr)
		}
		_ = os.Remove(filepath.Dir(path)) // drop emptied shard dirs, best effort
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("walk objects: %w", err)
	}
	return removed, nil
}

func (s *Store) objectPath(hash string) string {
	if len(hash) < 2 {
		return filepath.Join(s.basePath, "objects", hash)
	}
	return filepath.Join(s.basePath, "objects", hash[:2], hash[2:])
}

func (s *Store) manifestPath(runID, name string) string {
	return filepath.Join(s.basePath, "refs", "artifacts",
		slugify.Slug(runID), slugify.Slug(name)+".json")
}

func (s *Store) writeManifest(art *Artifact) error {
	path := s.manifestPath(art.RunID, art.Name)
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create refs directory: %w", err)
	}
	data, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func (s *Store) readManifest(path, runID, name string) (*Artifact, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path derives from store layout
	if err != nil {
		if os.IsNotExist(err) {
			what := name
			if what == "" {
				what = path
			}
			return nil, ErrNotFound{What: "artifact " + what}
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var art Artifact
	if err := json.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return &art, nil
}

package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeWheelhouse(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestStoreUploadAndGet(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	ctx := context.Background()
	dir := writeWheelhouse(t, map[string]string{
		"pymatgen-2020.4.2-cp38-cp38-manylinux1_x86_64.whl": "wheel bytes",
		"build.log": "not a wheel",
	})

	// Upload everything
	art, err := store.Upload(ctx, "run-abc", "wheels", dir, []string{"*"})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if len(art.Files) != 2 {
		t.Fatalf("Expected 2 files, got %d", len(art.Files))
	}
	if art.WheelCount() != 1 {
		t.Errorf("Expected 1 wheel, got %d", art.WheelCount())
	}

	// Object file exists on disk
	for _, f := range art.Files {
		if _, err := os.Stat(store.objectPath(f.Hash)); err != nil {
			t.Errorf("Object for %s not created: %v", f.Name, err)
		}
	}

	// Get round trip
	got, err := store.Get("run-abc", "wheels")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "wheels" || got.RunID != "run-abc" {
		t.Errorf("Got manifest %s/%s, want run-abc/wheels", got.RunID, got.Name)
	}
	if got.TotalSize() != art.TotalSize() {
		t.Errorf("Got size %d, want %d", got.TotalSize(), art.TotalSize())
	}
}

func TestStoreUploadNoMatches(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	dir := writeWheelhouse(t, map[string]string{"readme.txt": "text"})
	_, err = store.Upload(context.Background(), "run-1", "wheels", dir, []string{"*.whl"})
	if err == nil {
		t.Fatal("Expected error for zero matching files")
	}
}

func TestStoreDeduplication(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	ctx := context.Background()
	dir := writeWheelhouse(t, map[string]string{
		"a.whl": "same content",
		"b.whl": "same content",
	})

	art, err := store.Upload(ctx, "run-1", "wheels", dir, []string{"*.whl"})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if art.Files[0].Hash != art.Files[1].Hash {
		t.Errorf("Expected same hash, got %s and %s", art.Files[0].Hash, art.Files[1].Hash)
	}

	// One object on disk despite two manifest entries
	objects := 0
	root := filepath.Join(store.basePath, "objects")
	err = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			objects++
		}
		return err
	})
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	if objects != 1 {
		t.Errorf("Expected 1 stored object, got %d", objects)
	}
}

func TestStoreList(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	ctx := context.Background()
	dir := writeWheelhouse(t, map[string]string{"out.whl": "x"})

	if _, err := store.Upload(ctx, "run-1", "wheels", dir, []string{"*.whl"}); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if _, err := store.Upload(ctx, "run-1", "logs", dir, []string{"*.whl"}); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	arts, err := store.List("run-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(arts) != 2 {
		t.Fatalf("Expected 2 artifacts, got %d", len(arts))
	}
	if arts[0].Name != "logs" || arts[1].Name != "wheels" {
		t.Errorf("Expected sorted names [logs wheels], got [%s %s]", arts[0].Name, arts[1].Name)
	}

	// Unknown run lists empty, not an error
	none, err := store.List("run-unknown")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Expected no artifacts, got %d", len(none))
	}
}

func TestStoreFetch(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	ctx := context.Background()
	dir := writeWheelhouse(t, map[string]string{
		"pymatgen-2020.4.2-cp38-cp38-win_amd64.whl": "windows wheel",
	})
	if _, err := store.Upload(ctx, "run-1", "wheels", dir, []string{"*.whl"}); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	dest := t.TempDir()
	written, err := store.Fetch(ctx, "run-1", "wheels", dest)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(written) != 1 {
		t.Fatalf("Expected 1 file, got %d", len(written))
	}

	data, err := os.ReadFile(written[0])
	if err != nil {
		t.Fatalf("Read fetched file failed: %v", err)
	}
	if string(data) != "windows wheel" {
		t.Errorf("Got content %q, want %q", data, "windows wheel")
	}
}

func TestStoreGC(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	ctx := context.Background()
	keepDir := writeWheelhouse(t, map[string]string{"keep.whl": "keep me"})
	dropDir := writeWheelhouse(t, map[string]string{"drop.whl": "drop me"})

	kept, err := store.Upload(ctx, "run-keep", "wheels", keepDir, []string{"*.whl"})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if _, err := store.Upload(ctx, "run-drop", "wheels", dropDir, []string{"*.whl"}); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	// Drop one run, then collect
	if err := store.DeleteRun("run-drop"); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
	removed, err := store.GC(ctx)
	if err != nil {
		t.Fatalf("GC failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 removed, got %d", removed)
	}

	// Referenced object survives
	if _, err := os.Stat(store.objectPath(kept.Files[0].Hash)); err != nil {
		t.Errorf("Referenced object was removed: %v", err)
	}
}

func TestStoreObjectPath(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewStore(tmpDir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	hash := "abcdef1234567890"
	expected := filepath.Join(tmpDir, "objects", "ab", "cdef1234567890")
	if got := store.objectPath(hash); got != expected {
		t.Errorf("Got path %s, want %s", got, expected)
	}
}

func TestStoreGetNotFound(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	_, err = store.Get("run-x", "missing")
	if !IsNotFound(err) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

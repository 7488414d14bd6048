package utils

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestGetImagePaths(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "b.jpg"))
	touch(t, filepath.Join(dir, "a.PNG"))
	touch(t, filepath.Join(dir, "notes.txt"))
	touch(t, filepath.Join(dir, "nested", "c.jpeg"))

	// Top level only
	paths, err := GetImagePaths(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(dir, "a.PNG"), filepath.Join(dir, "b.jpg")}
	if len(paths) != len(want) {
		t.Fatalf("Expected %v, got %v", want, paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %s, want %s", i, paths[i], want[i])
		}
	}

	// Recursive
	paths, err = GetImagePaths(dir, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 3 {
		t.Fatalf("Expected 3 images with subdirs, got %v", paths)
	}
	if paths[2] != filepath.Join(dir, "nested", "c.jpeg") {
		t.Errorf("Expected nested image last, got %s", paths[2])
	}
}

func TestGetImagePaths_Missing(t *testing.T) {
	if _, err := GetImagePaths(filepath.Join(t.TempDir(), "nope"), false); !os.IsNotExist(err) {
		t.Errorf("Expected not-exist error, got %v", err)
	}
}

func TestGenerateDatasetID(t *testing.T) {
	dir := t.TempDir()

	id, err := GenerateDatasetID(dir)
	if err != nil || id == "" {
		t.Errorf("Failed to generate ID: %v", err)
	}

	// Verify Determinism (trailing separator must not matter)
	id2, _ := GenerateDatasetID(dir + string(os.PathSeparator))
	if id != id2 {
		t.Errorf("Hash is not deterministic. Got %s, then %s", id, id2)
	}

	id3, _ := GenerateDatasetID(filepath.Join(dir, "other"))
	if id == id3 {
		t.Error("Different directories produced the same ID")
	}
}

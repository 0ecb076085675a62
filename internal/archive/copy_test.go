package archive_test

import (
	"os"
	"path/filepath"
	"testing"

	"savekeeper/internal/archive"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func checkTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, want := range files {
		got, err := os.ReadFile(filepath.Join(root, rel))
		if err != nil {
			t.Errorf("reading %s: %v", rel, err)
			continue
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", rel, got, want)
		}
	}
}

func TestOSCopier_CopyTree(t *testing.T) {
	t.Run("copies a nested tree and reports its size", func(t *testing.T) {
		base := t.TempDir()
		src := filepath.Join(base, "src")
		files := map[string]string{
			"save.dat":        "top",
			"slot0/save.dat":  "nested",
			"slot0/meta/info": "deep",
			"slot1/auto.sav":  "sibling slot",
		}
		writeTree(t, src, files)

		copier := archive.NewOSCopier()
		dst := filepath.Join(base, "dst")
		size, err := copier.CopyTree(src, dst)
		if err != nil {
			t.Fatalf("CopyTree() error = %v", err)
		}

		var want int64
		for _, content := range files {
			want += int64(len(content))
		}
		if size != want {
			t.Errorf("size = %d, want %d", size, want)
		}
		checkTree(t, dst, files)
	})

	t.Run("preserves file modes", func(t *testing.T) {
		base := t.TempDir()
		src := filepath.Join(base, "src")
		writeTree(t, src, map[string]string{"run.sh": "#!/bin/sh"})
		if err := os.Chmod(filepath.Join(src, "run.sh"), 0755); err != nil {
			t.Fatal(err)
		}

		dst := filepath.Join(base, "dst")
		if _, err := archive.NewOSCopier().CopyTree(src, dst); err != nil {
			t.Fatal(err)
		}

		info, err := os.Stat(filepath.Join(dst, "run.sh"))
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0755 {
			t.Errorf("mode = %v, want 0755", info.Mode().Perm())
		}
	})

	t.Run("missing source is an error", func(t *testing.T) {
		base := t.TempDir()
		_, err := archive.NewOSCopier().CopyTree(filepath.Join(base, "nope"), filepath.Join(base, "dst"))
		if err == nil {
			t.Error("CopyTree() expected error for missing source")
		}
	})

	t.Run("a plain file source is an error", func(t *testing.T) {
		base := t.TempDir()
		file := filepath.Join(base, "file")
		if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := archive.NewOSCopier().CopyTree(file, filepath.Join(base, "dst")); err == nil {
			t.Error("CopyTree() expected error for non-directory source")
		}
	})
}

func TestOSCopier_RemoveAll(t *testing.T) {
	base := t.TempDir()
	victim := filepath.Join(base, "victim")
	writeTree(t, victim, map[string]string{"a/b/c": "deep"})

	if err := archive.NewOSCopier().RemoveAll(victim); err != nil {
		t.Fatalf("RemoveAll() error = %v", err)
	}
	if _, err := os.Stat(victim); !os.IsNotExist(err) {
		t.Error("tree still present after RemoveAll")
	}
}

// Package archive moves snapshot bytes: directory tree copies, zip
// archives, and deletions. It is the only package that implements
// keeper.Copier against the real filesystem.
package archive

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"savekeeper/internal/keeper"
)

// OSCopier performs copies and archives on the real filesystem.
type OSCopier struct{}

// NewOSCopier creates a copier that operates on the real filesystem.
func NewOSCopier() *OSCopier {
	return &OSCopier{}
}

// CopyTree mirrors the directory tree at src into dst.
// dst must not exist; it is created with src's permissions.
// Returns the total number of bytes copied.
func (c *OSCopier) CopyTree(src, dst string) (int64, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("stat source: %w", err)
	}
	if !srcInfo.IsDir() {
		return 0, fmt.Errorf("source is not a directory: %s", src)
	}

	var total int64
	err = filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", p, err)
		}
		target := filepath.Join(dst, rel)

		if d.IsDir() {
			info, err := d.Info()
			if err != nil {
				return fmt.Errorf("stat %s: %w", p, err)
			}
			if err := os.MkdirAll(target, info.Mode().Perm()); err != nil {
				return fmt.Errorf("creating %s: %w", target, err)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			// Symlinks, devices, and the like have no business in a save
			// directory; skip rather than fail the whole snapshot.
			return nil
		}

		n, err := copyFile(p, target)
		if err != nil {
			return err
		}
		total += n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// RemoveAll deletes the file or directory tree at path.
func (c *OSCopier) RemoveAll(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// copyFile copies a single regular file, preserving mode and mtime.
func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", src, err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", dst, err)
	}

	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		os.Remove(dst)
		return 0, fmt.Errorf("copying %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return 0, fmt.Errorf("closing %s: %w", dst, err)
	}

	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return 0, fmt.Errorf("setting times on %s: %w", dst, err)
	}
	return n, nil
}

// Compile-time check that OSCopier implements keeper.Copier
var _ keeper.Copier = (*OSCopier)(nil)

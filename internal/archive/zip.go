package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ArchiveTree packs the directory tree at src into a zip archive at dst.
// Returns the size of the finished archive in bytes.
func (c *OSCopier) ArchiveTree(src, dst string) (int64, error) {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return 0, fmt.Errorf("stat source: %w", err)
	}
	if !srcInfo.IsDir() {
		return 0, fmt.Errorf("source is not a directory: %s", src)
	}

	out, err := os.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("creating archive: %w", err)
	}

	zw := zip.NewWriter(out)
	err = filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", p, err)
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return fmt.Errorf("building header for %s: %w", p, err)
		}
		hdr.Name = filepath.ToSlash(rel)
		hdr.Method = zip.Deflate

		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("adding %s to archive: %w", rel, err)
		}

		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("opening %s: %w", p, err)
		}
		_, err = io.Copy(w, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("archiving %s: %w", rel, err)
		}
		return nil
	})
	if err != nil {
		zw.Close()
		out.Close()
		os.Remove(dst)
		return 0, err
	}

	if err := zw.Close(); err != nil {
		out.Close()
		os.Remove(dst)
		return 0, fmt.Errorf("finalizing archive: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return 0, fmt.Errorf("closing archive: %w", err)
	}

	dstInfo, err := os.Stat(dst)
	if err != nil {
		return 0, fmt.Errorf("stat archive: %w", err)
	}
	return dstInfo.Size(), nil
}

// ExtractArchive unpacks the zip archive at src into the directory dst.
func (c *OSCopier) ExtractArchive(src, dst string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("creating destination: %w", err)
	}

	for _, f := range r.File {
		if err := extractOne(f, dst); err != nil {
			return err
		}
	}
	return nil
}

// extractOne writes a single archive entry under dst, refusing paths that
// would escape it.
func extractOne(f *zip.File, dst string) error {
	name := filepath.FromSlash(f.Name)
	target := filepath.Join(dst, name)
	if !strings.HasPrefix(target, filepath.Clean(dst)+string(os.PathSeparator)) {
		return fmt.Errorf("archive entry escapes destination: %s", f.Name)
	}

	if f.FileInfo().IsDir() {
		if err := os.MkdirAll(target, f.Mode().Perm()); err != nil {
			return fmt.Errorf("creating %s: %w", target, err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("creating parent of %s: %w", target, err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("opening archive entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode().Perm())
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		os.Remove(target)
		return fmt.Errorf("extracting %s: %w", f.Name, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(target)
		return fmt.Errorf("closing %s: %w", target, err)
	}

	if err := os.Chtimes(target, f.Modified, f.Modified); err != nil {
		return fmt.Errorf("setting times on %s: %w", target, err)
	}
	return nil
}

package keeper

// Copier performs the byte-moving half of snapshot and restore work.
// It abstracts tree copies and archives so the engine can be tested against
// a real temp directory or a failing implementation alike.
type Copier interface {
	// CopyTree mirrors the directory tree at src into dst, creating dst.
	// Returns the total number of bytes copied.
	CopyTree(src, dst string) (int64, error)

	// ArchiveTree packs the directory tree at src into a zip archive at dst.
	// Returns the size of the archive in bytes.
	ArchiveTree(src, dst string) (int64, error)

	// ExtractArchive unpacks the zip archive at src into the directory dst,
	// creating dst.
	ExtractArchive(src, dst string) error

	// RemoveAll deletes the file or directory tree at path.
	RemoveAll(path string) error
}

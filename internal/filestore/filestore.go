package filestore

import (
	"io"
)

// FileStore is an interface for storing and retrieving files by name.
type FileStore interface {
	// Save writes the content under name, replacing any previous file.
	Save(r io.Reader, name string) (int64, error)

	// Get retrieves the file content for the given name.
	Get(name string) (io.ReadCloser, error)

	// Remove deletes the file. Removing a missing file is not an error.
	Remove(name string) error

	// Path is the location of the file on disk.
	Path(name string) string
}

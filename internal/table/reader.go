package table

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Reader loads a frame from a file on disk.
type Reader interface {
	CanRead(filename string) bool
	Read(path string) (*Frame, error)
}

var registry []Reader

// Register adds a reader implementation to the registry.
func Register(r Reader) {
	registry = append(registry, r)
}

// ReadFile selects a reader based on filename and loads the frame.
func ReadFile(path string) (*Frame, error) {
	for _, r := range registry {
		if r.CanRead(path) {
			f, err := r.Read(path)
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
			}
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupported, filepath.Base(path))
}

// Supported reports whether any registered reader accepts the filename.
func Supported(filename string) bool {
	for _, r := range registry {
		if r.CanRead(filename) {
			return true
		}
	}
	return false
}

// NameOf derives a table name from a file path: base name, no extension, lower-cased.
func NameOf(path string) string {
	base := filepath.Base(path)
	return strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
}

func init() {
	Register(csvReader{})
	Register(xlsxReader{})
}

// ErrUnsupported indicates a table format is not supported.
var ErrUnsupported = errors.New("unsupported table format")

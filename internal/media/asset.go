// Package media binds media assets to streaming decoders and produces
// time-ordered sample sequences for arbitrary time ranges.
package media

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/spf13/afero"
)

// Asset is an opaque, read-only handle to encoded media
type Asset interface {
	// ID identifies the asset content. Cache entries are keyed on it.
	ID() string

	// Name is the filename used for extension-based format detection
	Name() string

	// Open returns a fresh reader positioned at the start of the content
	Open() (io.ReadSeekCloser, error)
}

// FileAsset is media stored at a path on an afero filesystem
type FileAsset struct {
	fs   afero.Fs
	path string
	id   string
}

// NewFileAsset stats path and returns an asset for it. The ID includes the
// size and modification time so rewritten files get a new identity.
func NewFileAsset(fs afero.Fs, path string) (*FileAsset, error) {
	slog.Debug("creating file asset", "path", path)

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}

	info, err := fs.Stat(abs)
	if err != nil {
		slog.Error("failed to stat asset", "path", abs, "error", err)
		return nil, NewAssetIOError(abs, zeroRange, err)
	}
	if info.IsDir() {
		slog.Error("asset path is a directory", "path", abs)
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnreadableAsset, abs)
	}

	id := fmt.Sprintf("%s@%d:%d", abs, info.Size(), info.ModTime().UnixNano())

	slog.Debug("file asset created", "path", abs, "asset_id", id)

	return &FileAsset{fs: fs, path: abs, id: id}, nil
}

func (a *FileAsset) ID() string   { return a.id }
func (a *FileAsset) Name() string { return a.path }

// Path returns the absolute path of the asset
func (a *FileAsset) Path() string { return a.path }

func (a *FileAsset) Open() (io.ReadSeekCloser, error) {
	return a.fs.Open(a.path)
}

// BytesAsset is encoded media held in memory
type BytesAsset struct {
	id   string
	name string
	data []byte
}

// NewBytesAsset wraps data. name is only used for format detection.
func NewBytesAsset(id, name string, data []byte) *BytesAsset {
	return &BytesAsset{id: id, name: name, data: data}
}

func (a *BytesAsset) ID() string   { return a.id }
func (a *BytesAsset) Name() string { return a.name }

func (a *BytesAsset) Open() (io.ReadSeekCloser, error) {
	return bytesFile{bytes.NewReader(a.data)}, nil
}

// bytesFile keeps io.ReaderAt visible to decoders that need random access
type bytesFile struct {
	*bytes.Reader
}

func (bytesFile) Close() error { return nil }

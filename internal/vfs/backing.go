package vfs

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Backing is the real file system the overlay falls through to.
type Backing interface {
	ReadFile(path string) ([]byte, error)
	Stat(path string) (fs.FileInfo, error)
	ReadDir(path string) ([]fs.DirEntry, error)
}

// OSBacking reads from the host file system. Paths are slash-separated.
type OSBacking struct{}

func (OSBacking) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(filepath.FromSlash(path))
}

func (OSBacking) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(filepath.FromSlash(path))
}

func (OSBacking) ReadDir(path string) ([]fs.DirEntry, error) {
	return os.ReadDir(filepath.FromSlash(path))
}

// EmptyBacking has no files. It makes the overlay purely in-memory.
type EmptyBacking struct{}

func (EmptyBacking) ReadFile(string) ([]byte, error) { return nil, fs.ErrNotExist }
func (EmptyBacking) Stat(string) (fs.FileInfo, error) { return nil, fs.ErrNotExist }
func (EmptyBacking) ReadDir(string) ([]fs.DirEntry, error) { return nil, fs.ErrNotExist }

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// recordInfo adapts a Record to fs.FileInfo.
type recordInfo struct {
	rec Record
}

func (i recordInfo) Name() string {
	return filepath.Base(i.rec.Path)
}

func (i recordInfo) Size() int64 {
	return int64(len(i.rec.Content))
}

func (i recordInfo) Mode() fs.FileMode {
	if i.rec.Kind == KindDirectory {
		return fs.ModeDir | 0o755
	}
	return 0o644
}

func (i recordInfo) ModTime() time.Time { return i.rec.ModTime }
func (i recordInfo) IsDir() bool { return i.rec.Kind == KindDirectory }
func (i recordInfo) Sys() interface{} { return nil }

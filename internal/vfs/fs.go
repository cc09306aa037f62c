package vfs

import (
	"io"
	"io/fs"
	"strings"
)

// FS exposes the overlay as an io/fs.FS rooted at "/".
func (o *Overlay) FS() fs.FS {
	return overlayFS{o}
}

type overlayFS struct {
	o *Overlay
}

func (f overlayFS) abs(name string) (string, error) {
	if !fs.ValidPath(name) {
		return "", &fs.PathError{Op: opOpen, Path: name, Err: fs.ErrInvalid}
	}
	if name == "." {
		return "/", nil
	}
	return "/" + name, nil
}

func (f overlayFS) Open(name string) (fs.File, error) {
	p, err := f.abs(name)
	if err != nil {
		return nil, err
	}
	rec, err := f.o.Stat(p)
	if err != nil {
		return nil, &fs.PathError{Op: opOpen, Path: name, Err: fs.ErrNotExist}
	}
	if rec.Kind == KindDirectory {
		return &dirFile{o: f.o, rec: rec}, nil
	}
	content, err := f.o.ReadFile(p)
	if err != nil {
		return nil, &fs.PathError{Op: opOpen, Path: name, Err: fs.ErrNotExist}
	}
	rec.Content = content
	return &memFile{rec: rec, r: strings.NewReader(content)}, nil
}

func (f overlayFS) ReadFile(name string) ([]byte, error) {
	p, err := f.abs(name)
	if err != nil {
		return nil, err
	}
	content, err := f.o.ReadFile(p)
	if err != nil {
		return nil, &fs.PathError{Op: opRead, Path: name, Err: fs.ErrNotExist}
	}
	return []byte(content), nil
}

type memFile struct {
	rec Record
	r   *strings.Reader
}

func (m *memFile) Stat() (fs.FileInfo, error) { return recordInfo{m.rec}, nil }
func (m *memFile) Read(b []byte) (int, error) { return m.r.Read(b) }
func (m *memFile) Close() error { return nil }

type dirFile struct {
	o       *Overlay
	rec     Record
	entries []fs.DirEntry
	loaded  bool
}

func (d *dirFile) Stat() (fs.FileInfo, error) { return recordInfo{d.rec}, nil }
func (d *dirFile) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: opRead, Path: d.rec.Path, Err: ErrIsDirectory}
}
func (d *dirFile) Close() error { return nil }

func (d *dirFile) ReadDir(n int) ([]fs.DirEntry, error) {
	if !d.loaded {
		d.loaded = true
		dirs, _ := d.o.ListDirectories(d.rec.Path)
		files, _ := d.o.ListFiles(d.rec.Path)
		for _, p := range dirs {
			d.entries = append(d.entries, fs.FileInfoToDirEntry(recordInfo{Record{Path: p, Kind: KindDirectory}}))
		}
		for _, p := range files {
			rec, err := d.o.Stat(p)
			if err != nil {
				continue
			}
			d.entries = append(d.entries, fs.FileInfoToDirEntry(recordInfo{rec}))
		}
	}
	if n <= 0 {
		out := d.entries
		d.entries = nil
		return out, nil
	}
	if len(d.entries) == 0 {
		return nil, io.EOF
	}
	if n > len(d.entries) {
		n = len(d.entries)
	}
	out := d.entries[:n]
	d.entries = d.entries[n:]
	return out, nil
}

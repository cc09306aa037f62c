// Package vfs implements the overlay file system the compiler and the bundler
// share. An in-memory map of records shadows a backing file system; every
// write is tracked in a change set until the build manager resets it.
package vfs

import (
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ngweave/internal/logging"
)

// Kind distinguishes file and directory records.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
)

func (k Kind) String() string {
	if k == KindDirectory {
		return "directory"
	}
	return "file"
}

// Record is one virtual file or directory.
type Record struct {
	Path    string
	Content string
	Kind    Kind
	ModTime time.Time
	Dirty   bool
	// Deleted marks an invalidated path. Lookups treat it as absent from the
	// overlay and fall through to the backing store.
	Deleted bool
}

// Cache is the bundler-side file cache that Sync pushes dirty entries into.
type Cache interface {
	SetData(path string, content []byte)
	SetMissing(path string)
}

// Options configures an Overlay.
type Options struct {
	// BaseDir anchors relative paths. Defaults to "/".
	BaseDir string
	// CacheReads promotes backing reads into the overlay as clean records.
	CacheReads bool
	// Backing defaults to OSBacking.
	Backing Backing
	// Now is the clock used for ModTime. Defaults to time.Now.
	Now func() time.Time
}

// Overlay merges an in-memory record map with a backing file system.
// It is safe for concurrent use; the bundler loads modules in parallel.
type Overlay struct {
	mu       sync.RWMutex
	opts     Options
	records  map[string]*Record
	changed  map[string]struct{}
	versions map[string]uint64
}

// New creates an empty overlay.
func New(opts Options) *Overlay {
	if opts.Backing == nil {
		opts.Backing = OSBacking{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BaseDir == "" {
		opts.BaseDir = "/"
	}
	opts.BaseDir = cleanSlash(opts.BaseDir)
	return &Overlay{
		opts:     opts,
		records:  make(map[string]*Record),
		changed:  make(map[string]struct{}),
		versions: make(map[string]uint64),
	}
}

// BaseDir returns the normalized base directory.
func (o *Overlay) BaseDir() string {
	return o.opts.BaseDir
}

// Normalize converts p to the overlay's canonical form: forward slashes,
// absolute against the base directory, cleaned.
func (o *Overlay) Normalize(p string) string {
	return Normalize(o.opts.BaseDir, p)
}

// Normalize is the package-level form of Overlay.Normalize.
func Normalize(base, p string) string {
	p = strings.ReplaceAll(filepath.ToSlash(p), `\`, "/")
	if !isAbs(p) {
		p = path.Join(filepath.ToSlash(base), p)
	}
	return cleanSlash(p)
}

func isAbs(p string) bool {
	if strings.HasPrefix(p, "/") {
		return true
	}
	// Windows volume paths ("C:/x").
	return len(p) >= 3 && p[1] == ':' && p[2] == '/'
}

func cleanSlash(p string) string {
	p = path.Clean(strings.ReplaceAll(filepath.ToSlash(p), `\`, "/"))
	if p == "." {
		return "/"
	}
	return p
}

// live returns the non-deleted record for an already normalized path.
func (o *Overlay) live(p string) (*Record, bool) {
	rec, ok := o.records[p]
	if !ok || rec.Deleted {
		return nil, false
	}
	return rec, true
}

// Exists reports whether p is a file or directory in the overlay or on disk.
func (o *Overlay) Exists(p string) bool {
	p = o.Normalize(p)
	o.mu.RLock()
	_, ok := o.live(p)
	o.mu.RUnlock()
	if ok {
		return true
	}
	_, err := o.opts.Backing.Stat(p)
	return err == nil
}

// IsFile reports whether p names a file.
func (o *Overlay) IsFile(p string) bool {
	rec, err := o.Stat(p)
	return err == nil && rec.Kind == KindFile
}

// ReadFile returns the content of p, preferring the overlay.
func (o *Overlay) ReadFile(p string) (string, error) {
	p = o.Normalize(p)

	o.mu.RLock()
	rec, ok := o.live(p)
	o.mu.RUnlock()
	if ok {
		if rec.Kind == KindDirectory {
			return "", &Error{Op: opRead, Path: p, Err: ErrIsDirectory}
		}
		return rec.Content, nil
	}

	data, err := o.opts.Backing.ReadFile(p)
	if err != nil {
		if isNotExist(err) {
			return "", &Error{Op: opRead, Path: p, Err: ErrNotFound}
		}
		return "", &Error{Op: opRead, Path: p, Err: err}
	}
	content := string(data)

	if o.opts.CacheReads {
		o.mu.Lock()
		// A concurrent write wins over the promoted disk content.
		if _, ok := o.live(p); !ok {
			o.ensureParents(p)
			o.records[p] = &Record{Path: p, Content: content, Kind: KindFile, ModTime: o.opts.Now()}
			logging.VFSDebug("cached %s from disk (%d bytes)", p, len(content))
		}
		o.mu.Unlock()
	}
	return content, nil
}

// WriteFile stores content at p. It always succeeds and creates the parent
// directory chain. Only p is marked changed unless a file sat on that chain.
func (o *Overlay) WriteFile(p, content string) {
	p = o.Normalize(p)

	o.mu.Lock()
	defer o.mu.Unlock()

	o.ensureParents(p)
	o.records[p] = &Record{Path: p, Content: content, Kind: KindFile, ModTime: o.opts.Now(), Dirty: true}
	o.changed[p] = struct{}{}
	o.versions[p]++
	logging.VFSDebug("wrote %s (%d bytes)", p, len(content))
}

// A live file on the chain is replaced by the directory and its content is
// dropped; the displaced path is marked changed so Sync reports it missing.
func (o *Overlay) ensureParents(p string) {
	for dir := path.Dir(p); ; dir = path.Dir(dir) {
		if rec, ok := o.records[dir]; ok && !rec.Deleted {
			if rec.Kind == KindDirectory {
				return
			}
			logging.Get(logging.CategoryVFS).Warn("file %s replaced by a directory for %s", dir, p)
			o.changed[dir] = struct{}{}
			o.versions[dir]++
		}
		o.records[dir] = &Record{Path: dir, Kind: KindDirectory, ModTime: o.opts.Now()}
		if dir == "/" || path.Dir(dir) == dir {
			return
		}
	}
}

// Invalidate drops p from the overlay so the next read falls through to the
// backing store, and marks p as changed.
func (o *Overlay) Invalidate(p string) {
	p = o.Normalize(p)

	o.mu.Lock()
	defer o.mu.Unlock()

	o.records[p] = &Record{Path: p, Kind: KindFile, ModTime: o.opts.Now(), Dirty: true, Deleted: true}
	o.changed[p] = struct{}{}
	o.versions[p]++
	logging.VFSDebug("invalidated %s", p)
}

// Stat returns the record for p. Paths only present on disk get a
// synthesized clean record without content.
func (o *Overlay) Stat(p string) (Record, error) {
	p = o.Normalize(p)

	o.mu.RLock()
	rec, ok := o.live(p)
	var out Record
	if ok {
		out = *rec
	}
	o.mu.RUnlock()
	if ok {
		return out, nil
	}

	info, err := o.opts.Backing.Stat(p)
	if err != nil {
		if isNotExist(err) {
			return Record{}, &Error{Op: opStat, Path: p, Err: ErrNotFound}
		}
		return Record{}, &Error{Op: opStat, Path: p, Err: err}
	}
	kind := KindFile
	if info.IsDir() {
		kind = KindDirectory
	}
	return Record{Path: p, Kind: kind, ModTime: info.ModTime()}, nil
}

// Version returns a counter that moves on every write or invalidation of p.
func (o *Overlay) Version(p string) uint64 {
	p = o.Normalize(p)
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.versions[p]
}

// ListFiles returns the absolute paths of the files directly inside dir.
func (o *Overlay) ListFiles(dir string) ([]string, error) {
	return o.list(dir, KindFile)
}

// ListDirectories returns the absolute paths of the directories directly inside dir.
func (o *Overlay) ListDirectories(dir string) ([]string, error) {
	return o.list(dir, KindDirectory)
}

func (o *Overlay) list(dir string, kind Kind) ([]string, error) {
	dir = o.Normalize(dir)

	seen := make(map[string]bool)
	hidden := make(map[string]bool)
	found := false

	o.mu.RLock()
	if rec, ok := o.live(dir); ok && rec.Kind == KindDirectory {
		found = true
	}
	for p, rec := range o.records {
		if p == dir || path.Dir(p) != dir {
			continue
		}
		if rec.Deleted {
			hidden[p] = true
			continue
		}
		if rec.Kind == kind {
			seen[p] = true
		}
	}
	o.mu.RUnlock()

	entries, err := o.opts.Backing.ReadDir(dir)
	switch {
	case err == nil:
		found = true
		for _, e := range entries {
			p := path.Join(dir, e.Name())
			if hidden[p] {
				// Invalidated paths show up again only if they still exist.
				if _, serr := o.opts.Backing.Stat(p); serr != nil {
					continue
				}
			}
			if (kind == KindDirectory) == e.IsDir() {
				seen[p] = true
			}
		}
	case !isNotExist(err):
		return nil, &Error{Op: opList, Path: dir, Err: err}
	}

	if !found {
		return nil, &Error{Op: opList, Path: dir, Err: ErrNotFound}
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// ChangedPaths returns the sorted change set since the last reset.
func (o *Overlay) ChangedPaths() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]string, 0, len(o.changed))
	for p := range o.changed {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// IsChanged reports whether p is in the change set.
func (o *Overlay) IsChanged(p string) bool {
	p = o.Normalize(p)
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.changed[p]
	return ok
}

// ResetChangeTracking empties the change set and clears dirty flags.
// Tombstones of invalidated paths are dropped.
func (o *Overlay) ResetChangeTracking() {
	o.mu.Lock()
	defer o.mu.Unlock()

	for p, rec := range o.records {
		if rec.Deleted {
			delete(o.records, p)
			continue
		}
		rec.Dirty = false
	}
	o.changed = make(map[string]struct{})
	logging.VFSDebug("change tracking reset")
}

// Sync pushes every dirty entry into the bundler's cache: written files as
// data, invalidated paths and files displaced by directories as missing.
func (o *Overlay) Sync(c Cache) int {
	o.mu.RLock()
	defer o.mu.RUnlock()

	n := 0
	for p := range o.changed {
		rec, ok := o.records[p]
		switch {
		case !ok:
			continue
		case rec.Deleted, rec.Kind == KindDirectory:
			c.SetMissing(p)
		default:
			c.SetData(p, []byte(rec.Content))
		}
		n++
	}
	return n
}

// Snapshot returns a sorted copy of every record, tombstones included.
func (o *Overlay) Snapshot() []Record {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]Record, 0, len(o.records))
	for _, rec := range o.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

package plugin

import (
	"sync"

	"ngweave/internal/vfs"
)

// ContentCache is the bundler-side copy of overlay content. The overlay
// pushes its dirty entries into it after every build.
type ContentCache struct {
	mu      sync.RWMutex
	data    map[string][]byte
	missing map[string]bool
}

var _ vfs.Cache = (*ContentCache)(nil)

// NewContentCache returns an empty cache.
func NewContentCache() *ContentCache {
	return &ContentCache{data: make(map[string][]byte), missing: make(map[string]bool)}
}

// SetData implements vfs.Cache.
func (c *ContentCache) SetData(path string, content []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[path] = content
	delete(c.missing, path)
}

// SetMissing implements vfs.Cache.
func (c *ContentCache) SetMissing(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, path)
	c.missing[path] = true
}

// Get returns cached content. missing reports a path known to be deleted.
func (c *ContentCache) Get(path string) (content []byte, ok, missing bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	content, ok = c.data[path]
	return content, ok, c.missing[path]
}

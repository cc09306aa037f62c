package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"ngweave/internal/config"
	"ngweave/internal/vfs"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	dir     string
	overlay *vfs.Overlay
	w       *Watcher
	batches chan []string
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "node_modules", "lib"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "a.ts"), []byte("v1"), 0644))

	f := &fixture{
		dir:     dir,
		overlay: vfs.New(vfs.Options{BaseDir: filepath.ToSlash(dir), CacheReads: true}),
		batches: make(chan []string, 16),
	}
	cfg := config.DefaultWatchConfig()
	cfg.Debounce = "30ms"
	f.w, err = New(dir, f.overlay, cfg, func(_ context.Context, paths []string) {
		f.batches <- paths
	})
	require.NoError(t, err)
	require.NoError(t, f.w.Start(context.Background()))
	t.Cleanup(f.w.Stop)
	return f
}

func (f *fixture) next(t *testing.T) []string {
	t.Helper()
	select {
	case b := <-f.batches:
		return b
	case <-time.After(5 * time.Second):
		t.Fatal("no change batch")
		return nil
	}
}

func TestWatcher_ModifiedFileReachesOverlay(t *testing.T) {
	f := setup(t)
	a := filepath.ToSlash(filepath.Join(f.dir, "src", "a.ts"))

	got, err := f.overlay.ReadFile(a)
	require.NoError(t, err)
	require.Equal(t, "v1", got)
	f.overlay.ResetChangeTracking()

	require.NoError(t, os.WriteFile(a, []byte("v2"), 0644))
	assert.Equal(t, []string{a}, f.next(t))

	got, err = f.overlay.ReadFile(a)
	require.NoError(t, err)
	assert.Equal(t, "v2", got)
	assert.Contains(t, f.overlay.ChangedPaths(), a)
	assert.GreaterOrEqual(t, f.w.Stats().Batches, 1)
}

func TestWatcher_DebouncesRapidWrites(t *testing.T) {
	f := setup(t)
	a := filepath.Join(f.dir, "src", "a.ts")

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(a, []byte{byte('a' + i)}, 0644))
	}
	assert.Equal(t, []string{filepath.ToSlash(a)}, f.next(t))

	select {
	case extra := <-f.batches:
		t.Fatalf("unexpected second batch %v", extra)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestWatcher_RemovedFile(t *testing.T) {
	f := setup(t)
	a := filepath.ToSlash(filepath.Join(f.dir, "src", "a.ts"))
	_, err := f.overlay.ReadFile(a)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.FromSlash(a)))
	assert.Equal(t, []string{a}, f.next(t))
	assert.False(t, f.overlay.Exists(a))
}

func TestWatcher_NewDirectoryIsWatched(t *testing.T) {
	f := setup(t)
	sub := filepath.Join(f.dir, "src", "lazy")
	require.NoError(t, os.MkdirAll(sub, 0755))

	require.Eventually(t, func() bool {
		for _, d := range f.w.WatchedDirs() {
			if d == sub {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	mod := filepath.Join(sub, "lazy.module.ts")
	require.NoError(t, os.WriteFile(mod, []byte("export class LazyModule {}"), 0644))
	assert.Contains(t, f.next(t), filepath.ToSlash(mod))
}

func TestWatcher_IgnoresConfiguredDirectories(t *testing.T) {
	f := setup(t)
	for _, d := range f.w.WatchedDirs() {
		assert.NotContains(t, d, "node_modules")
	}
	assert.True(t, f.w.ignored(filepath.Join(f.dir, "node_modules", "lib", "x.js")))
	assert.True(t, f.w.ignored(filepath.Join(f.dir, "dist")))
	assert.False(t, f.w.ignored(filepath.Join(f.dir, "src", "a.ts")))
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	f := setup(t)
	assert.True(t, f.w.IsWatching())
	f.w.Stop()
	f.w.Stop()
	assert.False(t, f.w.IsWatching())
}

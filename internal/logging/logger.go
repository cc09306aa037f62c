// Package logging provides categorized logging for ngweave.
// Every subsystem logs through a category logger obtained with Get. The loggers
// are children of a single zap logger installed with Init; until Init is called
// all loggers are no-ops, so library code can log unconditionally.
package logging

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // CLI startup, config loading
	CategoryVFS       Category = "vfs"       // Overlay file system
	CategoryTransform Category = "transform" // Transform engine and passes
	CategoryCompile   Category = "compile"   // Program creation, diagnostics, emit
	CategoryRoutes    Category = "routes"    // Lazy route discovery and merging
	CategoryWorker    Category = "worker"    // Out-of-process diagnostics worker
	CategoryPlugin    Category = "plugin"    // Bundler hooks
	CategoryWatch     Category = "watch"     // File watcher
	CategoryCache     Category = "cache"     // Persistent route store
)

// Logger is a category-scoped logger with printf-style methods.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
}

var (
	mu      sync.RWMutex
	base    = zap.NewNop()
	loggers = make(map[Category]*Logger)
)

// Init installs the root zap logger. Category loggers created before Init
// are rebuilt on their next Get.
func Init(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	mu.Lock()
	defer mu.Unlock()
	base = l
	loggers = make(map[Category]*Logger)
}

// Root returns the installed zap logger.
func Root() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// NewZap builds the process logger used by the CLI and the worker.
// Worker processes log to stderr so their stdout stays free.
func NewZap(verbose, json bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	if json {
		cfg = zap.NewProductionConfig()
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return l, nil
}

// Get returns (or creates) a logger for the given category.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	l := &Logger{
		category: category,
		sugar:    base.Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

// With returns a logger carrying structured key-value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Sync flushes the root logger. Errors from syncing stderr are ignored.
func Sync() {
	_ = Root().Sync()
}

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// VFSDebug logs debug to the vfs category
func VFSDebug(format string, args ...interface{}) {
	Get(CategoryVFS).Debug(format, args...)
}

// Transform logs to the transform category
func Transform(format string, args ...interface{}) {
	Get(CategoryTransform).Info(format, args...)
}

// TransformDebug logs debug to the transform category
func TransformDebug(format string, args ...interface{}) {
	Get(CategoryTransform).Debug(format, args...)
}

// Compile logs to the compile category
func Compile(format string, args ...interface{}) {
	Get(CategoryCompile).Info(format, args...)
}

// CompileDebug logs debug to the compile category
func CompileDebug(format string, args ...interface{}) {
	Get(CategoryCompile).Debug(format, args...)
}

// Routes logs to the routes category
func Routes(format string, args ...interface{}) {
	Get(CategoryRoutes).Info(format, args...)
}

// RoutesDebug logs debug to the routes category
func RoutesDebug(format string, args ...interface{}) {
	Get(CategoryRoutes).Debug(format, args...)
}

// Worker logs to the worker category
func Worker(format string, args ...interface{}) {
	Get(CategoryWorker).Info(format, args...)
}

// WorkerDebug logs debug to the worker category
func WorkerDebug(format string, args ...interface{}) {
	Get(CategoryWorker).Debug(format, args...)
}

// Plugin logs to the plugin category
func Plugin(format string, args ...interface{}) {
	Get(CategoryPlugin).Info(format, args...)
}

// PluginDebug logs debug to the plugin category
func PluginDebug(format string, args ...interface{}) {
	Get(CategoryPlugin).Debug(format, args...)
}

// Watch logs to the watch category
func Watch(format string, args ...interface{}) {
	Get(CategoryWatch).Info(format, args...)
}

// WatchDebug logs debug to the watch category
func WatchDebug(format string, args ...interface{}) {
	Get(CategoryWatch).Debug(format, args...)
}

// CacheDebug logs debug to the cache category
func CacheDebug(format string, args ...interface{}) {
	Get(CategoryCache).Debug(format, args...)
}

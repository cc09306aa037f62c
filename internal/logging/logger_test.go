package logging

import (
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestGet_NoopBeforeInit(t *testing.T) {
	Init(nil)
	// Must not panic without an installed logger.
	Get(CategoryVFS).Info("hello %s", "world")
	Routes("merged %d routes", 3)
}

func TestCategoriesAreNamed(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	Init(zap.New(core))
	defer Init(nil)

	Get(CategoryRoutes).Warn("conflict for %s", "./lazy#Lazy")
	CompileDebug("emitted %d files", 2)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].LoggerName != "routes" || entries[0].Message != "conflict for ./lazy#Lazy" {
		t.Errorf("unexpected first entry: %+v", entries[0])
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Errorf("expected warn level, got %v", entries[0].Level)
	}
	if entries[1].LoggerName != "compile" || entries[1].Level != zapcore.DebugLevel {
		t.Errorf("unexpected second entry: %+v", entries[1])
	}
}

func TestInitRebuildsCachedLoggers(t *testing.T) {
	Init(nil)
	before := Get(CategoryWorker)

	core, logs := observer.New(zapcore.InfoLevel)
	Init(zap.New(core))
	defer Init(nil)

	after := Get(CategoryWorker)
	if before == after {
		t.Fatal("expected a fresh logger after Init")
	}
	after.Info("started")
	if logs.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", logs.Len())
	}
}

func TestWith_AddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	Init(zap.New(core))
	defer Init(nil)

	Get(CategoryPlugin).With("build", "b-1").Info("build started")
	entry := logs.All()[0]
	if entry.ContextMap()["build"] != "b-1" {
		t.Errorf("expected build field, got %v", entry.ContextMap())
	}
}

func TestGet_Concurrent(t *testing.T) {
	Init(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Get(CategoryTransform).Debug("x")
		}()
	}
	wg.Wait()
}

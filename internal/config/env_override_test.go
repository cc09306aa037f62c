package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("NGWEAVE_TYPE_CHECK selects worker", func(t *testing.T) {
		t.Setenv("NGWEAVE_TYPE_CHECK", "worker")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, TypeCheckWorker, cfg.TypeCheck)
		assert.True(t, cfg.UsesWorker())
	})

	t.Run("NGWEAVE_CODEGEN parses booleans", func(t *testing.T) {
		t.Setenv("NGWEAVE_CODEGEN", "true")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.True(t, cfg.CompilerOptions.Codegen)
	})

	t.Run("invalid NGWEAVE_CODEGEN is ignored", func(t *testing.T) {
		t.Setenv("NGWEAVE_CODEGEN", "maybe")

		cfg := &Config{CompilerOptions: CompilerOptions{Codegen: true}}
		cfg.applyEnvOverrides()

		assert.True(t, cfg.CompilerOptions.Codegen)
	})

	t.Run("locale, cache and log level", func(t *testing.T) {
		t.Setenv("NGWEAVE_LOCALE", "fr")
		t.Setenv("NGWEAVE_CACHE", "/tmp/routes.db")
		t.Setenv("NGWEAVE_LOG_LEVEL", "DEBUG")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "fr", cfg.I18n.Locale)
		assert.Equal(t, "/tmp/routes.db", cfg.Cache.Path)
		assert.True(t, cfg.IsVerbose())
	})
}

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ngweave/internal/config"
)

func setupWorkspace(t *testing.T, descriptor string, files map[string]string) string {
	t.Helper()
	logger = zap.NewNop()
	ws := t.TempDir()
	workspace = ws
	configPath = ""
	t.Cleanup(func() { workspace = "" })

	require.NoError(t, os.WriteFile(filepath.Join(ws, config.DefaultFileName), []byte(descriptor), 0644))
	for rel, content := range files {
		p := filepath.Join(ws, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	return ws
}

func testCmd() (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	return cmd, out
}

const descriptor = `root_modules:
  - src/main.ts
main_module: src/main.ts
bundle:
  out_dir: dist
  external: ["@angular/*"]
`

func TestBuildCmd(t *testing.T) {
	ws := setupWorkspace(t, descriptor, map[string]string{
		"src/main.ts":     "import { greeting } from './greeting';\nconsole.log(greeting);\n",
		"src/greeting.ts": "export const greeting: string = 'hello from ngweave';\n",
	})

	cmd, out := testCmd()
	require.NoError(t, runBuild(cmd, nil))
	assert.Contains(t, out.String(), "wrote")

	bundle, err := os.ReadFile(filepath.Join(ws, "dist", "main.js"))
	require.NoError(t, err)
	assert.Contains(t, string(bundle), "hello from ngweave")
}

func TestBuildCmd_ReportsCompileErrors(t *testing.T) {
	setupWorkspace(t, descriptor, map[string]string{
		"src/main.ts": "import { missing } from './nowhere';\nconsole.log(missing);\n",
	})

	cmd, out := testCmd()
	err := runBuild(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, out.String(), "Cannot find module './nowhere'")
}

func TestLoadConfig_Invalid(t *testing.T) {
	setupWorkspace(t, "type_check: sideways\nroot_modules: [src/main.ts]\n", nil)
	_, err := loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid type_check")
}

func TestLoadConfig_NoRoots(t *testing.T) {
	setupWorkspace(t, "main_module: src/main.ts\n", nil)
	_, err := loadConfig()
	assert.ErrorIs(t, err, config.ErrNoRoots)
}

func TestLoadConfig_ExplicitPath(t *testing.T) {
	ws := setupWorkspace(t, descriptor, nil)
	alt := filepath.Join(ws, "alt.yaml")
	require.NoError(t, os.WriteFile(alt, []byte("root_modules: [app/entry.ts]\n"), 0644))
	configPath = alt
	t.Cleanup(func() { configPath = "" })

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.ToSlash(filepath.Join(ws, "app", "entry.ts"))}, cfg.RootPaths())
}

func TestWorkerCmdIsHidden(t *testing.T) {
	assert.True(t, workerCmd.Hidden)
	found, _, err := rootCmd.Find([]string{"worker"})
	require.NoError(t, err)
	assert.Same(t, workerCmd, found)
}

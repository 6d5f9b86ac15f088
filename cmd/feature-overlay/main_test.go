package main

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"feature-overlay/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func sharedDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "SharedFolder")
	t.Setenv(config.EnvPrefix+"SHARED_DIR", dir)
	t.Setenv(config.EnvPrefix+"ALLOW_EXEC", "false")
	t.Setenv(config.EnvPrefix+"LOG_LEVEL", "error")
	return dir
}

func TestUsage(t *testing.T) {
	code, _, stderr := runCLI(t)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Commands:")

	code, _, stderr = runCLI(t, "bogus")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, `unknown command "bogus"`)
}

func TestSharedFolderCommands(t *testing.T) {
	dir := sharedDir(t)
	src := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, os.WriteFile(src, []byte("echo hi\n"), 0o644))

	code, out, _ := runCLI(t, "add", "-file", src)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "added script.sh")
	assert.FileExists(t, filepath.Join(dir, "script.sh"))

	code, out, _ = runCLI(t, "ls")
	require.Equal(t, 0, code)
	assert.Equal(t, "script.sh\n", out)

	code, out, _ = runCLI(t, "ls", "-l")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "script.sh")

	code, out, _ = runCLI(t, "exec", "-name", "script.sh")
	assert.Equal(t, 1, code)
	assert.True(t, strings.HasPrefix(out, "Error executing script.sh:"), out)

	code, _, _ = runCLI(t, "rm", "-name", "script.sh")
	require.Equal(t, 0, code)
	assert.NoFileExists(t, filepath.Join(dir, "script.sh"))

	code, _, stderr := runCLI(t, "rm", "-name", "script.sh")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "not found")

	code, _, _ = runCLI(t, "rm")
	assert.Equal(t, 2, code)
}

func TestPatternAndProcess(t *testing.T) {
	sharedDir(t)
	dir := t.TempDir()
	patternPath := filepath.Join(dir, "blocks.png")
	outPath := filepath.Join(dir, "out.png")

	code, _, stderr := runCLI(t, "pattern", "-kind", "blocks", "-out", patternPath)
	require.Equal(t, 0, code, stderr)

	code, out, stderr := runCLI(t, "process", "-in", patternPath, "-out", outPath, "-slider", "2.5")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "500 features")

	f, err := os.Open(outPath)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 640, img.Bounds().Dx())
	assert.Equal(t, 480, img.Bounds().Dy())

	code, _, _ = runCLI(t, "pattern", "-kind", "spiral", "-out", patternPath)
	assert.Equal(t, 1, code)
}

func TestBadConfig(t *testing.T) {
	sharedDir(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output:\n  rotate: 45\n"), 0o644))

	code, _, stderr := runCLI(t, "-config", path, "ls")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "rotation 45")
}

package browser

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindBinaryConfiguredPath(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "my-chrome")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

	got, err := FindBinary(bin)
	require.NoError(t, err)
	assert.Equal(t, bin, got)

	_, err = FindBinary(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestFindBinaryOnPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on unix executable bits")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "chromium")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))
	t.Setenv("PATH", dir)

	got, err := FindBinary("")
	require.NoError(t, err)
	assert.Equal(t, bin, got)

	got, err = FindBinary("chromium")
	require.NoError(t, err)
	assert.Equal(t, bin, got)
}

func TestFindBinaryNothingInstalled(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	_, err := FindBinary("")
	assert.ErrorIs(t, err, ErrBinaryNotFound)
}

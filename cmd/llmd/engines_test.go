package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEngineArchive(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	body := []byte("#!/bin/sh\n")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "bin/llama-server", Mode: 0o755, Size: int64(len(body)), Typeflag: tar.TypeReg}))
	_, err := tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	p := filepath.Join(t.TempDir(), "cortex.llamacpp-0.1.40-linux-amd64-avx2.tar.gz")
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
	return p
}

func TestEnginesInstallFromSourceAndUninstall(t *testing.T) {
	dataDir := t.TempDir()
	archive := writeEngineArchive(t)

	out, err := execute(t, "engines", "install", "llama-cpp", "--source", archive, "--version", "v0.1.40", "--data-dir", dataDir, "--log-level", "error")
	require.NoError(t, err)
	assert.Equal(t, "engine llama-cpp v0.1.40 installed (cortex.llamacpp-0.1.40-linux-amd64-avx2.tar.gz)\n", out)
	assert.FileExists(t, filepath.Join(dataDir, "engines", "llama-cpp", "bin", "llama-server"))

	out, err = execute(t, "engines", "list", "--data-dir", dataDir, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "llama-cpp")
	assert.Contains(t, out, "v0.1.40")

	out, err = execute(t, "engines", "uninstall", "llama-cpp", "--data-dir", dataDir, "--log-level", "error")
	require.NoError(t, err)
	assert.Equal(t, "engine llama-cpp uninstalled\n", out)
	assert.NoDirExists(t, filepath.Join(dataDir, "engines", "llama-cpp"))
}

func TestEnginesUnsupported(t *testing.T) {
	_, err := execute(t, "engines", "get", "vllm", "--data-dir", t.TempDir(), "--log-level", "error")
	require.Error(t, err)
}

package logutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.log")
	log, err := New(path)
	require.NoError(t, err)

	log.Infow("iteration complete", "iter", 42)
	require.NoError(t, log.Sync())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "iteration complete")
	assert.Contains(t, string(raw), "42")
}

func TestNewAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.log")
	for _, msg := range []string{"first run", "second run"} {
		log, err := New(path)
		require.NoError(t, err)
		log.Info(msg)
		require.NoError(t, log.Sync())
	}

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "first run")
	assert.Contains(t, string(raw), "second run")
}

func TestNewStdoutLogger(t *testing.T) {
	log, err := New("")
	require.NoError(t, err)
	require.NotNil(t, log)
}

package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAnns(t *testing.T, rows int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "train.txt")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	for i := 0; i < rows; i++ {
		fmt.Fprintf(f, "pts/%03d.xyz pts/%03d.rgb pts/%03d.sift cams/%03d.cam imgs/%03d.png\n", i, i, i, i, i)
	}
	return path
}

func TestLoadAnnotations(t *testing.T) {
	t.Run("valid file", func(t *testing.T) {
		samples, err := LoadAnnotations(writeAnns(t, 3))
		require.NoError(t, err)
		require.Len(t, samples, 3)
		assert.Equal(t, "pts/001.xyz", samples[1].PointsXYZ)
		assert.Equal(t, "imgs/002.png", samples[2].GTImage)
	})

	t.Run("malformed row is fatal", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.txt")
		require.NoError(t, os.WriteFile(path, []byte("a b c\n"), 0o644))
		_, err := LoadAnnotations(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected 5 columns")
	})

	t.Run("empty file is fatal", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.txt")
		require.NoError(t, os.WriteFile(path, []byte("\n\n"), 0o644))
		_, err := LoadAnnotations(path)
		require.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadAnnotations(filepath.Join(t.TempDir(), "nope.txt"))
		require.Error(t, err)
	})
}

func TestBatchSourceDeterministicResumption(t *testing.T) {
	path := writeAnns(t, 10)
	const batchSize = 4
	const seed = 7
	const resumeAt = 13

	full, err := NewBatchSource(path, batchSize, 0, seed)
	require.NoError(t, err)
	var reference [][]Sample
	for i := 0; i < resumeAt+5; i++ {
		reference = append(reference, full.GetBatch())
	}

	resumed, err := NewBatchSource(path, batchSize, resumeAt, seed)
	require.NoError(t, err)
	for i := resumeAt; i < resumeAt+5; i++ {
		if diff := cmp.Diff(reference[i], resumed.GetBatch()); diff != "" {
			t.Errorf("batch %d diverged after resumption (-reference +resumed):\n%s", i, diff)
		}
	}
}

func TestBatchSourceReshufflesAcrossEpochs(t *testing.T) {
	path := writeAnns(t, 6)
	src, err := NewBatchSource(path, 3, 0, 1)
	require.NoError(t, err)

	// Pull enough batches to cross several epoch boundaries; every batch
	// must stay full-size and draw only from the annotation rows.
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		batch := src.GetBatch()
		require.Len(t, batch, 3)
		for _, s := range batch {
			seen[s.GTImage] = true
		}
	}
	assert.Len(t, seen, 6, "reshuffling should eventually visit every row")
}

func TestBatchSourceConstructionErrors(t *testing.T) {
	path := writeAnns(t, 4)

	_, err := NewBatchSource(path, 0, 0, 1)
	require.Error(t, err)

	_, err = NewBatchSource(path, 5, 0, 1)
	require.Error(t, err, "batch size larger than the dataset")
}

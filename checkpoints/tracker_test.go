package checkpoints

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touchCheckpoints(t *testing.T, dir, kind string, iters ...int) {
	t.Helper()
	for _, iter := range iters {
		require.NoError(t, os.WriteFile(Path(dir, iter, kind), []byte("{}"), 0o644))
	}
}

func remainingIters(t *testing.T, dir, kind string) []int {
	t.Helper()
	tr, err := NewTracker(Glob(dir, kind))
	require.NoError(t, err)
	var iters []int
	for iter := range tr.files {
		iters = append(iters, iter)
	}
	sort.Ints(iters)
	return iters
}

func TestPathNaming(t *testing.T) {
	assert.Equal(t, filepath.Join("exp", "iter_0012500.rmodel.json"), Path("exp", 12500, KindRefine))
	assert.Equal(t, filepath.Join("exp", "iter_0012500.dmodel.json"), Path("exp", 12500, KindDiscriminator))
	assert.Equal(t, filepath.Join("exp", "iter_0012500.opt.pb"), Path("exp", 12500, KindOptimizer))
}

func TestTrackerDiscovery(t *testing.T) {
	dir := t.TempDir()

	t.Run("empty directory", func(t *testing.T) {
		tr, err := NewTracker(Glob(dir, KindRefine))
		require.NoError(t, err)
		assert.Equal(t, 0, tr.Iter())
		assert.Equal(t, "", tr.Latest())
	})

	t.Run("missing directory", func(t *testing.T) {
		tr, err := NewTracker(Glob(filepath.Join(dir, "absent"), KindRefine))
		require.NoError(t, err)
		assert.Equal(t, 0, tr.Iter())
	})

	t.Run("finds max iteration", func(t *testing.T) {
		touchCheckpoints(t, dir, KindRefine, 100, 1500, 700)
		tr, err := NewTracker(Glob(dir, KindRefine))
		require.NoError(t, err)
		assert.Equal(t, 1500, tr.Iter())
		assert.Equal(t, Path(dir, 1500, KindRefine), tr.Latest())
	})

	t.Run("ignores other kinds", func(t *testing.T) {
		touchCheckpoints(t, dir, KindDiscriminator, 9000)
		tr, err := NewTracker(Glob(dir, KindRefine))
		require.NoError(t, err)
		assert.Equal(t, 1500, tr.Iter())
	})

	t.Run("iterations past the padded width", func(t *testing.T) {
		// %07d grows to eight digits at ten million; discovery and
		// retention must still see those files.
		touchCheckpoints(t, dir, KindRefine, 10000000)
		tr, err := NewTracker(Glob(dir, KindRefine))
		require.NoError(t, err)
		assert.Equal(t, 10000000, tr.Iter())
		assert.Equal(t, Path(dir, 10000000, KindRefine), tr.Latest())
	})
}

func TestTrackerClean(t *testing.T) {
	t.Run("keeps milestones and latest", func(t *testing.T) {
		dir := t.TempDir()
		var iters []int
		for i := 100; i <= 1000; i += 100 {
			iters = append(iters, i)
		}
		touchCheckpoints(t, dir, KindRefine, iters...)

		tr, err := NewTracker(Glob(dir, KindRefine))
		require.NoError(t, err)
		require.NoError(t, tr.Clean(500, 1))

		assert.Equal(t, []int{500, 1000}, remainingIters(t, dir, KindRefine))
	})

	t.Run("never deletes the absolute latest", func(t *testing.T) {
		dir := t.TempDir()
		touchCheckpoints(t, dir, KindOptimizer, 300, 700)
		tr, err := NewTracker(Glob(dir, KindOptimizer))
		require.NoError(t, err)
		// every=0 disables milestones entirely; 700 must survive.
		require.NoError(t, tr.Clean(0, 1))
		assert.Equal(t, []int{700}, remainingIters(t, dir, KindOptimizer))
	})

	t.Run("last below one treated as one", func(t *testing.T) {
		dir := t.TempDir()
		touchCheckpoints(t, dir, KindRefine, 100, 200)
		tr, err := NewTracker(Glob(dir, KindRefine))
		require.NoError(t, err)
		require.NoError(t, tr.Clean(0, 0))
		assert.Equal(t, []int{200}, remainingIters(t, dir, KindRefine))
	})

	t.Run("record keeps tracker current without rescans", func(t *testing.T) {
		dir := t.TempDir()
		tr, err := NewTracker(Glob(dir, KindRefine))
		require.NoError(t, err)
		touchCheckpoints(t, dir, KindRefine, 42)
		tr.Record(42, Path(dir, 42, KindRefine))
		assert.Equal(t, 42, tr.Iter())
	})
}

func TestWeightsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "iter_0000005.rmodel.json")
	wf := &WeightFile{
		Stage:     "refinenet",
		Iteration: 5,
		Weights: []WeightTensor{
			{Name: "block0.weight", Shape: []int{2, 3}, Data: []float32{1, 2, 3, 4, 5, 6}},
			{Name: "block0.bias", Shape: []int{3}, Data: []float32{0.1, 0.2, 0.3}},
		},
	}
	// Directory is created on demand.
	require.NoError(t, SaveWeights(path, wf))

	got, err := LoadWeights(path)
	require.NoError(t, err)
	assert.Equal(t, wf.Stage, got.Stage)
	assert.Equal(t, wf.Iteration, got.Iteration)
	assert.Equal(t, wf.Weights, got.Weights)
	assert.False(t, got.SavedAt.IsZero())

	_, err = LoadWeights(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestOptimizerStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "iter_0000010.opt.pb")
	st := &OptimizerState{
		Type:      "adam",
		Iteration: 10,
		Step:      7,
		Hyper:     map[string]float64{"lr": 1e-4, "beta1": 0.9, "eps": 1e-8},
		Slots: []OptimizerSlot{
			{Name: "refinenet/block0.weight", Kind: "m", Shape: []int{2, 2}, Data: []float32{1, 2, 3, 4}},
			{Name: "refinenet/block0.weight", Kind: "v", Shape: []int{2, 2}, Data: []float32{5, 6, 7, 8}},
		},
	}
	require.NoError(t, SaveOptimizerState(path, st))

	got, err := LoadOptimizerState(path)
	require.NoError(t, err)
	assert.Equal(t, st.Type, got.Type)
	assert.Equal(t, st.Iteration, got.Iteration)
	assert.Equal(t, st.Step, got.Step)
	assert.InDelta(t, st.Hyper["lr"], got.Hyper["lr"], 1e-12)
	assert.Equal(t, st.Slots, got.Slots)
}

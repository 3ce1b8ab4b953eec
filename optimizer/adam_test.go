package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenewise/refinery/checkpoints"
	"github.com/scenewise/refinery/tensor"
)

// quadLoss computes mean((p - target)^2) so Step has a gradient to follow.
func quadLoss(t *testing.T, p *tensor.Tensor, target *tensor.Tensor) float32 {
	t.Helper()
	loss, err := tensor.MeanSquaredDiff(p, target)
	require.NoError(t, err)
	require.NoError(t, loss.Backward())
	v, err := loss.Item()
	require.NoError(t, err)
	return v
}

func TestAdamReducesLoss(t *testing.T) {
	p, err := tensor.NewTensor([]int{2}, []float32{4, -3})
	require.NoError(t, err)
	p.SetRequiresGrad(true)
	target, _ := tensor.NewTensor([]int{2}, []float32{1, 1})

	a := NewAdam(map[string]*tensor.Tensor{"w": p}, AdamConfig{LR: 0.1, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8})

	first := quadLoss(t, p, target)
	for i := 0; i < 200; i++ {
		require.NoError(t, a.Step())
		a.ZeroGrad()
		last := quadLoss(t, p, target)
		if i == 199 {
			assert.Less(t, last, first/10, "loss should shrink substantially")
		}
	}
	assert.Equal(t, 200, a.StepCount())
}

func TestAdamZeroGrad(t *testing.T) {
	p, _ := tensor.NewTensor([]int{1}, []float32{2})
	p.SetRequiresGrad(true)
	target, _ := tensor.NewTensor([]int{1}, []float32{0})

	a := NewAdam(map[string]*tensor.Tensor{"w": p}, DefaultAdamConfig())
	quadLoss(t, p, target)
	require.NotNil(t, p.Grad())
	a.ZeroGrad()
	assert.Nil(t, p.Grad())

	// A step with no gradient leaves the parameter untouched.
	before := p.Data[0]
	require.NoError(t, a.Step())
	assert.Equal(t, before, p.Data[0])
}

func TestAdamStateRoundTrip(t *testing.T) {
	build := func(init float32) (*tensor.Tensor, *Adam) {
		p, _ := tensor.NewTensor([]int{2}, []float32{init, -init})
		p.SetRequiresGrad(true)
		return p, NewAdam(map[string]*tensor.Tensor{"conv.weight": p}, AdamConfig{LR: 0.05, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8})
	}
	target, _ := tensor.NewTensor([]int{2}, []float32{0, 0})

	p1, a1 := build(3)
	for i := 0; i < 5; i++ {
		quadLoss(t, p1, target)
		require.NoError(t, a1.Step())
		a1.ZeroGrad()
	}
	slots := a1.State("refine")
	require.Len(t, slots, 2)
	assert.Equal(t, "refine/conv.weight", slots[0].Name)

	// Restoring state and parameters makes the next updates identical.
	p2, a2 := build(3)
	require.NoError(t, p2.CopyFrom(p1))
	require.NoError(t, a2.LoadState("refine", slots))
	a2.SetStepCount(a1.StepCount())

	for i := 0; i < 3; i++ {
		quadLoss(t, p1, target)
		require.NoError(t, a1.Step())
		a1.ZeroGrad()
		quadLoss(t, p2, target)
		require.NoError(t, a2.Step())
		a2.ZeroGrad()
	}
	assert.Equal(t, p1.Data, p2.Data)
}

func TestAdamLoadStateErrors(t *testing.T) {
	p, _ := tensor.NewTensor([]int{2}, []float32{1, 2})
	p.SetRequiresGrad(true)
	a := NewAdam(map[string]*tensor.Tensor{"w": p}, DefaultAdamConfig())

	t.Run("unknown parameter", func(t *testing.T) {
		err := a.LoadState("g", []checkpoints.OptimizerSlot{{Name: "g/other", Kind: "m", Data: []float32{0, 0}}})
		require.Error(t, err)
	})

	t.Run("unknown slot kind", func(t *testing.T) {
		err := a.LoadState("g", []checkpoints.OptimizerSlot{{Name: "g/w", Kind: "z", Data: []float32{0, 0}}})
		require.Error(t, err)
	})

	t.Run("length mismatch", func(t *testing.T) {
		err := a.LoadState("g", []checkpoints.OptimizerSlot{{Name: "g/w", Kind: "m", Data: []float32{0}}})
		require.Error(t, err)
	})

	t.Run("foreign prefix ignored", func(t *testing.T) {
		err := a.LoadState("g", []checkpoints.OptimizerSlot{{Name: "other/w", Kind: "m", Data: []float32{7}}})
		require.NoError(t, err)
	})
}

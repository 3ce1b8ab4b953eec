package models

import (
	"context"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenewise/refinery/checkpoints"
	"github.com/scenewise/refinery/dataset"
	"github.com/scenewise/refinery/projection"
	"github.com/scenewise/refinery/tensor"
)

func loadTestBatch(t *testing.T, n, crop int) *projection.TensorSet {
	t.Helper()
	loader := &projection.SyntheticLoader{CropSize: crop, ValidFraction: 0.6}
	samples := make([]dataset.Sample, n)
	for i := range samples {
		samples[i] = dataset.Sample{PointsXYZ: filepath.Join("pts", string(rune('a'+i)))}
	}
	ts, err := loader.LoadBatch(context.Background(), samples)
	require.NoError(t, err)
	return ts
}

func TestConvNetForwardShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	spec := projection.DepthRGB

	visib := NewVisibNet(spec, rng)
	in, err := tensor.Zeros([]int{2, 4, 4, spec.StageChannels()})
	require.NoError(t, err)
	out, err := visib.Forward(in)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 4, 1}, out.Shape)

	// Sigmoid head keeps probabilities in [0,1].
	for _, v := range out.Data {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}

	t.Run("wrong channel count rejected", func(t *testing.T) {
		bad, _ := tensor.Zeros([]int{2, 4, 4, 7})
		_, err := visib.Forward(bad)
		require.Error(t, err)
	})
}

func TestBatchNormModes(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	net := newConvNet("probe", 2, []int{4}, 1, actNone, rng)
	in, _ := tensor.NewTensor([]int{1, 2, 2, 2}, []float32{5, -3, 2, 8, -1, 0, 4, 7})

	net.SetMode(Train)
	trainOut, err := net.Forward(in)
	require.NoError(t, err)

	// Train passes fold batch statistics into the running averages, so a
	// later Eval pass sees different normalization than a fresh net.
	net.SetMode(Eval)
	assert.Equal(t, Eval, net.Mode())
	evalOut, err := net.Forward(in)
	require.NoError(t, err)
	assert.NotEqual(t, trainOut.Data, evalOut.Data)

	// Eval passes are pure: repeating one gives identical output.
	evalOut2, err := net.Forward(in)
	require.NoError(t, err)
	assert.Equal(t, evalOut.Data, evalOut2.Data)
}

func TestStageSaveLoadRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	spec := projection.Depth
	dir := t.TempDir()
	path := checkpoints.Path(dir, 12, checkpoints.KindRefine)

	orig := NewRefineNet(spec, rng)
	in, _ := tensor.Zeros([]int{1, 2, 2, spec.RefineChannels()})
	orig.SetMode(Eval)
	want, err := orig.Forward(in)
	require.NoError(t, err)

	require.NoError(t, orig.Save(path, 12))

	// A differently initialized net produces the original's outputs after
	// loading its checkpoint.
	other := NewRefineNet(spec, rand.New(rand.NewSource(99)))
	other.SetMode(Eval)
	before, err := other.Forward(in)
	require.NoError(t, err)
	assert.NotEqual(t, want.Data, before.Data)

	require.NoError(t, other.Load(path))
	after, err := other.Forward(in)
	require.NoError(t, err)
	assert.Equal(t, want.Data, after.Data)
}

func TestStageLoadErrors(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	net := NewVisibNet(projection.Depth, rng)

	t.Run("missing file is fatal", func(t *testing.T) {
		err := net.Load(filepath.Join(t.TempDir(), "absent.json"))
		require.Error(t, err)
	})

	t.Run("checkpoint from another stage rejected", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "wrong.json")
		wf := &checkpoints.WeightFile{Stage: "other", Weights: []checkpoints.WeightTensor{
			{Name: "unrelated", Shape: []int{1}, Data: []float32{1}},
		}}
		require.NoError(t, checkpoints.SaveWeights(path, wf))
		err := net.Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing tensor")
	})
}

func TestCascadeCoarsePass(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	spec := projection.DepthSIFTRGB
	c := &Cascade{
		Spec:   spec,
		Visib:  NewVisibNet(spec, rng),
		Coarse: NewCoarseNet(spec, rng),
		Refine: NewRefineNet(spec, rng),
	}
	c.Visib.SetMode(Eval)
	c.Coarse.SetMode(Eval)

	ts := loadTestBatch(t, 2, 4)
	out, err := c.CoarsePass(ts)
	require.NoError(t, err)

	assert.Equal(t, []int{2, 4, 4, 1}, out.VisProb.Shape)
	assert.Equal(t, []int{2, 4, 4, spec.RefineChannels()}, out.RefineInput.Shape)

	// Invalid pixels must be masked no matter what the visibility stage
	// says, and the mask can only shrink the valid set.
	for i, d := range ts.Depth.Data {
		if d <= 0 {
			assert.Zero(t, out.Mask.Data[i], "pixel %d has no valid projection", i)
		}
		if out.Mask.Data[i] == 1 {
			assert.Equal(t, float32(1), out.Valid.Data[i])
		}
	}

	rpred, err := c.RefinePass(out.RefineInput)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 4, 3}, rpred.Shape)
	// Display range after rescale.
	for _, v := range rpred.Data {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(255))
	}
}

func TestPerceptualExtractor(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	p := NewPerceptualExtractor(rng)

	assert.Empty(t, p.Parameters(), "perceptual weights are frozen")

	img, _ := tensor.Zeros([]int{1, 8, 8, 3})
	feats, err := p.Extract(img)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 8, 8, PerceptualC1}, feats.Conv1.Shape)
	assert.Equal(t, []int{1, 4, 4, PerceptualC2}, feats.Conv2.Shape)
	assert.Equal(t, []int{1, 2, 2, PerceptualC3}, feats.Conv3.Shape)
	assert.Len(t, feats.Layers(), 3)
}

func TestDiscriminatorPredict(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	spec := projection.Depth
	d := NewDiscriminator(spec, rng)
	p := NewPerceptualExtractor(rng)

	img, _ := tensor.Zeros([]int{2, 4, 4, 3})
	rinp, _ := tensor.Zeros([]int{2, 4, 4, spec.RefineChannels()})
	feats, err := p.Extract(img)
	require.NoError(t, err)

	logits, err := d.Predict(rinp, img, feats)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, logits.Shape)

	// Gradients reach the discriminator head through the full path.
	loss, err := tensor.SoftmaxCrossEntropy(logits, []int{1, 0})
	require.NoError(t, err)
	require.NoError(t, loss.Backward())
	assert.NotNil(t, d.headW.Grad())
}

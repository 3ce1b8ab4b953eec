package models

import (
	"math/rand"

	"github.com/scenewise/refinery/projection"
	"github.com/scenewise/refinery/tensor"
)

const discHidden = 16

// Discriminator scores images as real or generated. It consumes the three
// perceptual feature layers, with the full-resolution layer fused with the
// refine input and the image under judgement, and emits 2-class logits per
// image (class 1 = real).
type Discriminator struct {
	*paramStore
	fusedC int
	conv0  *convBlock
	conv1  *convBlock
	conv2  *convBlock
	headW  *tensor.Tensor
	headB  *tensor.Tensor
}

// NewDiscriminator builds the discriminator for the given input variant.
func NewDiscriminator(spec projection.InputSpec, rng *rand.Rand) *Discriminator {
	store := newParamStore("discriminator")
	fusedC := spec.RefineChannels() + 3 + PerceptualC1
	w, b := xavierPair(3*discHidden, 2, rng)
	return &Discriminator{
		paramStore: store,
		fusedC:     fusedC,
		conv0:      newConvBlock(store, "conv0", fusedC, discHidden, false, true, rng),
		conv1:      newConvBlock(store, "conv1", PerceptualC2, discHidden, false, true, rng),
		conv2:      newConvBlock(store, "conv2", PerceptualC3, discHidden, false, true, rng),
		headW:      store.register("head.weight", w, true),
		headB:      store.register("head.bias", b, true),
	}
}

// Predict scores one image. refineInput is the conditioning tensor the
// refiner saw, img the image under judgement (generated or real, display
// range) and feats its perceptual features.
func (d *Discriminator) Predict(refineInput, img *tensor.Tensor, feats *Features) (*tensor.Tensor, error) {
	fused, err := tensor.ConcatChannels(refineInput, img, feats.Conv1)
	if err != nil {
		return nil, err
	}

	pooled := make([]*tensor.Tensor, 0, 3)
	for _, pair := range []struct {
		blk *convBlock
		in  *tensor.Tensor
	}{
		{d.conv0, fused},
		{d.conv1, feats.Conv2},
		{d.conv2, feats.Conv3},
	} {
		y, err := pair.blk.forward(pair.in, d.mode)
		if err != nil {
			return nil, err
		}
		g, err := tensor.GlobalAvgPool(y)
		if err != nil {
			return nil, err
		}
		// ConcatChannels operates on 4D grids; view [N,C] as [N,1,1,C].
		v, err := tensor.Reshape(g, []int{g.Shape[0], 1, 1, g.Shape[1]})
		if err != nil {
			return nil, err
		}
		pooled = append(pooled, v)
	}

	joined, err := tensor.ConcatChannels(pooled...)
	if err != nil {
		return nil, err
	}
	flat, err := tensor.Reshape(joined, []int{joined.Shape[0], joined.Shape[3]})
	if err != nil {
		return nil, err
	}
	return tensor.Dense(flat, d.headW, d.headB)
}

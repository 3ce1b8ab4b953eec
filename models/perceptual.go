package models

import (
	"math/rand"

	"github.com/scenewise/refinery/tensor"
)

// Perceptual feature channel widths at the three extracted scales.
const (
	PerceptualC1 = 8
	PerceptualC2 = 16
	PerceptualC3 = 32
)

// Features holds activations from the three perceptual layers: full,
// half and quarter resolution.
type Features struct {
	Conv1 *tensor.Tensor
	Conv2 *tensor.Tensor
	Conv3 *tensor.Tensor
}

// Layers returns the feature maps in depth order.
func (f *Features) Layers() []*tensor.Tensor {
	return []*tensor.Tensor{f.Conv1, f.Conv2, f.Conv3}
}

// PerceptualExtractor is the fixed pretrained feature network used by the
// perceptual loss and the discriminator. Its weights are frozen; no
// gradient reaches them, though gradients flow through the features into
// the generated image.
type PerceptualExtractor struct {
	*paramStore
	conv1 *convBlock
	conv2 *convBlock
	conv3 *convBlock
}

// NewPerceptualExtractor builds the extractor with deterministic random
// weights. Real runs immediately Load pretrained weights over them.
func NewPerceptualExtractor(rng *rand.Rand) *PerceptualExtractor {
	store := newParamStore("perceptual")
	p := &PerceptualExtractor{
		paramStore: store,
		conv1:      newConvBlock(store, "conv1", 3, PerceptualC1, false, true, rng),
		conv2:      newConvBlock(store, "conv2", PerceptualC1, PerceptualC2, false, true, rng),
		conv3:      newConvBlock(store, "conv3", PerceptualC2, PerceptualC3, false, true, rng),
	}
	// Frozen.
	for _, t := range store.params {
		t.SetRequiresGrad(false)
	}
	return p
}

// Extract computes the three feature layers for a display-range image.
// Spatial dims must be divisible by four.
func (p *PerceptualExtractor) Extract(img *tensor.Tensor) (*Features, error) {
	x, err := tensor.Affine(img, 1.0/127.5, -1.0)
	if err != nil {
		return nil, err
	}
	f1, err := p.conv1.forward(x, Eval)
	if err != nil {
		return nil, err
	}
	h1, err := tensor.AvgPool2(f1)
	if err != nil {
		return nil, err
	}
	f2, err := p.conv2.forward(h1, Eval)
	if err != nil {
		return nil, err
	}
	h2, err := tensor.AvgPool2(f2)
	if err != nil {
		return nil, err
	}
	f3, err := p.conv3.forward(h2, Eval)
	if err != nil {
		return nil, err
	}
	return &Features{Conv1: f1, Conv2: f2, Conv3: f3}, nil
}

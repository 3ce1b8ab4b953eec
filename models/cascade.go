package models

import (
	"github.com/scenewise/refinery/projection"
	"github.com/scenewise/refinery/tensor"
)

// Cascade wires the three stages together. VisibNet and CoarseNet are
// pretrained and held fixed during refine training; RefineNet is the
// trainable generator.
type Cascade struct {
	Spec   projection.InputSpec
	Visib  Stage
	Coarse Stage
	Refine Stage
}

// CoarseOutput carries the intermediate maps from the fixed front of the
// cascade, up to and including the refine-stage input tensor.
type CoarseOutput struct {
	VisProb       *tensor.Tensor // [N,H,W,1] visibility probability
	Valid         *tensor.Tensor // [N,H,W,1] geometric validity
	Mask          *tensor.Tensor // visibility AND validity
	CoarseDisplay *tensor.Tensor // [N,H,W,3] coarse prediction, display range
	RefineInput   *tensor.Tensor // [N,H,W,RefineChannels] concat(coarse, conditioning)
}

// CoarsePass runs visibility and coarse prediction and assembles the
// refine-stage input for a loaded batch.
func (c *Cascade) CoarsePass(ts *projection.TensorSet) (*CoarseOutput, error) {
	vinp, err := ts.StageInput(c.Spec)
	if err != nil {
		return nil, err
	}
	vprob, err := c.Visib.Forward(vinp)
	if err != nil {
		return nil, err
	}
	valid, _ := projection.ValidMask(ts.Depth)
	mask := projection.CombineVisibility(vprob, valid)

	cinp, err := ts.MaskedStageInput(c.Spec, mask)
	if err != nil {
		return nil, err
	}
	cpred, err := c.Coarse.Forward(cinp)
	if err != nil {
		return nil, err
	}
	cdisp, err := projection.ToDisplayRange(cpred)
	if err != nil {
		return nil, err
	}
	rinp, err := tensor.ConcatChannels(cdisp, cinp)
	if err != nil {
		return nil, err
	}
	return &CoarseOutput{
		VisProb:       vprob,
		Valid:         valid,
		Mask:          mask,
		CoarseDisplay: cdisp,
		RefineInput:   rinp,
	}, nil
}

// RefinePass runs the refiner over a buffered input and returns the final
// prediction in display range.
func (c *Cascade) RefinePass(refineInput *tensor.Tensor) (*tensor.Tensor, error) {
	rpred, err := c.Refine.Forward(refineInput)
	if err != nil {
		return nil, err
	}
	return projection.ToDisplayRange(rpred)
}

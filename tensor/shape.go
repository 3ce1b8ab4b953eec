package tensor

import (
	"fmt"
)

type channelAffineOp struct {
	in    *Tensor // [N,H,W,C]
	scale *Tensor // [C]
	shift *Tensor // [C]
}

func (op *channelAffineOp) Inputs() []*Tensor {
	return []*Tensor{op.in, op.scale, op.shift}
}

func (op *channelAffineOp) Backward(gradOut *Tensor) []*Tensor {
	c := op.scale.Shape[0]
	pixels := op.in.NumElems / c
	gIn, _ := NewTensor(op.in.Shape, nil)
	gScale, _ := NewTensor(op.scale.Shape, nil)
	gShift, _ := NewTensor(op.shift.Shape, nil)
	for p := 0; p < pixels; p++ {
		base := p * c
		for ch := 0; ch < c; ch++ {
			g := gradOut.Data[base+ch]
			gIn.Data[base+ch] = g * op.scale.Data[ch]
			gScale.Data[ch] += g * op.in.Data[base+ch]
			gShift.Data[ch] += g
		}
	}
	return []*Tensor{gIn, gScale, gShift}
}

// ChannelAffine computes out[...,c] = in[...,c]*scale[c] + shift[c]. It is
// the building block for normalization layers: frozen statistics enter as
// constant scale/shift tensors, learned gamma/beta as trainable ones.
func ChannelAffine(in, scale, shift *Tensor) (*Tensor, error) {
	if len(in.Shape) != 4 {
		return nil, fmt.Errorf("ChannelAffine requires a 4D input, got %v", in.Shape)
	}
	c := in.Shape[3]
	if len(scale.Shape) != 1 || scale.Shape[0] != c || len(shift.Shape) != 1 || shift.Shape[0] != c {
		return nil, fmt.Errorf("scale/shift must be [%d], got %v and %v", c, scale.Shape, shift.Shape)
	}
	out, _ := NewTensor(in.Shape, nil)
	pixels := in.NumElems / c
	for p := 0; p < pixels; p++ {
		base := p * c
		for ch := 0; ch < c; ch++ {
			out.Data[base+ch] = in.Data[base+ch]*scale.Data[ch] + shift.Data[ch]
		}
	}
	if tracksGrad(in, scale, shift) {
		out.creator = &channelAffineOp{in: in, scale: scale, shift: shift}
	}
	return out, nil
}

type reshapeOp struct {
	in *Tensor
}

func (op *reshapeOp) Inputs() []*Tensor { return []*Tensor{op.in} }
func (op *reshapeOp) Backward(gradOut *Tensor) []*Tensor {
	g, _ := NewTensor(op.in.Shape, gradOut.Data)
	return []*Tensor{g}
}

// Reshape returns a tensor viewing the same data under a new shape with an
// equal element count.
func Reshape(t *Tensor, shape []int) (*Tensor, error) {
	out, err := NewTensor(shape, t.Data)
	if err != nil {
		return nil, err
	}
	if out.NumElems != t.NumElems {
		return nil, fmt.Errorf("cannot reshape %v to %v", t.Shape, shape)
	}
	if tracksGrad(t) {
		out.creator = &reshapeOp{in: t}
	}
	return out, nil
}

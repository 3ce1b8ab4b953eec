package tensor

import (
	"fmt"
)

func checkSameShape(t1, t2 *Tensor) error {
	if !shapesEqual(t1.Shape, t2.Shape) {
		return fmt.Errorf("tensors have incompatible shapes: %v vs %v", t1.Shape, t2.Shape)
	}
	return nil
}

// tracksGrad reports whether a result should stay connected to the graph.
func tracksGrad(ins ...*Tensor) bool {
	for _, in := range ins {
		if in.requiresGrad || in.creator != nil {
			return true
		}
	}
	return false
}

type addOp struct{ a, b *Tensor }

func (op *addOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }
func (op *addOp) Backward(gradOut *Tensor) []*Tensor {
	return []*Tensor{gradOut, gradOut}
}

// Add computes the elementwise sum of two same-shape tensors.
func Add(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkSameShape(t1, t2); err != nil {
		return nil, err
	}
	out, _ := NewTensor(t1.Shape, nil)
	for i := range out.Data {
		out.Data[i] = t1.Data[i] + t2.Data[i]
	}
	if tracksGrad(t1, t2) {
		out.creator = &addOp{a: t1, b: t2}
	}
	return out, nil
}

type subOp struct{ a, b *Tensor }

func (op *subOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }
func (op *subOp) Backward(gradOut *Tensor) []*Tensor {
	neg := gradOut.Clone()
	for i := range neg.Data {
		neg.Data[i] = -neg.Data[i]
	}
	return []*Tensor{gradOut, neg}
}

// Sub computes the elementwise difference of two same-shape tensors.
func Sub(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkSameShape(t1, t2); err != nil {
		return nil, err
	}
	out, _ := NewTensor(t1.Shape, nil)
	for i := range out.Data {
		out.Data[i] = t1.Data[i] - t2.Data[i]
	}
	if tracksGrad(t1, t2) {
		out.creator = &subOp{a: t1, b: t2}
	}
	return out, nil
}

type mulOp struct{ a, b *Tensor }

func (op *mulOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }
func (op *mulOp) Backward(gradOut *Tensor) []*Tensor {
	ga := gradOut.Clone()
	gb := gradOut.Clone()
	for i := range ga.Data {
		ga.Data[i] *= op.b.Data[i]
		gb.Data[i] *= op.a.Data[i]
	}
	return []*Tensor{ga, gb}
}

// Mul computes the elementwise (Hadamard) product of two same-shape tensors.
func Mul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkSameShape(t1, t2); err != nil {
		return nil, err
	}
	out, _ := NewTensor(t1.Shape, nil)
	for i := range out.Data {
		out.Data[i] = t1.Data[i] * t2.Data[i]
	}
	if tracksGrad(t1, t2) {
		out.creator = &mulOp{a: t1, b: t2}
	}
	return out, nil
}

type affineOp struct {
	in    *Tensor
	scale float32
}

func (op *affineOp) Inputs() []*Tensor { return []*Tensor{op.in} }
func (op *affineOp) Backward(gradOut *Tensor) []*Tensor {
	g := gradOut.Clone()
	for i := range g.Data {
		g.Data[i] *= op.scale
	}
	return []*Tensor{g}
}

// Affine computes scale*t + shift elementwise. Covers the x/127.5-1
// normalization and the (x+1)*127.5 display rescale.
func Affine(t *Tensor, scale, shift float32) (*Tensor, error) {
	out, _ := NewTensor(t.Shape, nil)
	for i := range out.Data {
		out.Data[i] = t.Data[i]*scale + shift
	}
	if tracksGrad(t) {
		out.creator = &affineOp{in: t, scale: scale}
	}
	return out, nil
}

type mulMaskOp struct {
	in   *Tensor
	mask *Tensor // [N,H,W,1], treated as constant
}

func (op *mulMaskOp) Inputs() []*Tensor { return []*Tensor{op.in} }
func (op *mulMaskOp) Backward(gradOut *Tensor) []*Tensor {
	g := gradOut.Clone()
	channels := op.in.Shape[3]
	for p := 0; p < op.mask.NumElems; p++ {
		m := op.mask.Data[p]
		base := p * channels
		for c := 0; c < channels; c++ {
			g.Data[base+c] *= m
		}
	}
	return []*Tensor{g}
}

// MulMask multiplies every channel of t [N,H,W,C] by a single-channel mask
// [N,H,W,1]. The mask is not differentiated through.
func MulMask(t, mask *Tensor) (*Tensor, error) {
	if len(t.Shape) != 4 || len(mask.Shape) != 4 {
		return nil, fmt.Errorf("MulMask requires 4D tensors, got %v and %v", t.Shape, mask.Shape)
	}
	if mask.Shape[3] != 1 {
		return nil, fmt.Errorf("mask must have a single channel, got shape %v", mask.Shape)
	}
	if t.Shape[0] != mask.Shape[0] || t.Shape[1] != mask.Shape[1] || t.Shape[2] != mask.Shape[2] {
		return nil, fmt.Errorf("mask grid %v does not match tensor grid %v", mask.Shape, t.Shape)
	}
	out, _ := NewTensor(t.Shape, nil)
	channels := t.Shape[3]
	for p := 0; p < mask.NumElems; p++ {
		m := mask.Data[p]
		base := p * channels
		for c := 0; c < channels; c++ {
			out.Data[base+c] = t.Data[base+c] * m
		}
	}
	if tracksGrad(t) {
		out.creator = &mulMaskOp{in: t, mask: mask}
	}
	return out, nil
}

type concatChannelsOp struct {
	ins []*Tensor
}

func (op *concatChannelsOp) Inputs() []*Tensor { return op.ins }
func (op *concatChannelsOp) Backward(gradOut *Tensor) []*Tensor {
	grads := make([]*Tensor, len(op.ins))
	totalC := gradOut.Shape[3]
	pixels := gradOut.NumElems / totalC
	offset := 0
	for i, in := range op.ins {
		c := in.Shape[3]
		g, _ := NewTensor(in.Shape, nil)
		for p := 0; p < pixels; p++ {
			copy(g.Data[p*c:(p+1)*c], gradOut.Data[p*totalC+offset:p*totalC+offset+c])
		}
		grads[i] = g
		offset += c
	}
	return grads
}

// ConcatChannels concatenates 4D tensors along the channel axis. All inputs
// must share the [N,H,W] grid.
func ConcatChannels(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("ConcatChannels requires at least one tensor")
	}
	first := ts[0]
	if len(first.Shape) != 4 {
		return nil, fmt.Errorf("ConcatChannels requires 4D tensors, got %v", first.Shape)
	}
	totalC := 0
	for _, t := range ts {
		if len(t.Shape) != 4 {
			return nil, fmt.Errorf("ConcatChannels requires 4D tensors, got %v", t.Shape)
		}
		if t.Shape[0] != first.Shape[0] || t.Shape[1] != first.Shape[1] || t.Shape[2] != first.Shape[2] {
			return nil, fmt.Errorf("grid mismatch: %v vs %v", t.Shape, first.Shape)
		}
		totalC += t.Shape[3]
	}
	outShape := []int{first.Shape[0], first.Shape[1], first.Shape[2], totalC}
	out, _ := NewTensor(outShape, nil)
	pixels := first.Shape[0] * first.Shape[1] * first.Shape[2]
	offset := 0
	for _, t := range ts {
		c := t.Shape[3]
		for p := 0; p < pixels; p++ {
			copy(out.Data[p*totalC+offset:p*totalC+offset+c], t.Data[p*c:(p+1)*c])
		}
		offset += c
	}
	if tracksGrad(ts...) {
		out.creator = &concatChannelsOp{ins: ts}
	}
	return out, nil
}

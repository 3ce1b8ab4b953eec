package tensor

import (
	"math"
)

type reluOp struct{ in, out *Tensor }

func (op *reluOp) Inputs() []*Tensor { return []*Tensor{op.in} }
func (op *reluOp) Backward(gradOut *Tensor) []*Tensor {
	g := gradOut.Clone()
	for i := range g.Data {
		if op.in.Data[i] <= 0 {
			g.Data[i] = 0
		}
	}
	return []*Tensor{g}
}

// ReLU applies max(0, x) elementwise.
func ReLU(t *Tensor) (*Tensor, error) {
	out, _ := NewTensor(t.Shape, nil)
	for i, v := range t.Data {
		if v > 0 {
			out.Data[i] = v
		}
	}
	if tracksGrad(t) {
		out.creator = &reluOp{in: t, out: out}
	}
	return out, nil
}

type sigmoidOp struct{ in, out *Tensor }

func (op *sigmoidOp) Inputs() []*Tensor { return []*Tensor{op.in} }
func (op *sigmoidOp) Backward(gradOut *Tensor) []*Tensor {
	g := gradOut.Clone()
	for i := range g.Data {
		s := op.out.Data[i]
		g.Data[i] *= s * (1 - s)
	}
	return []*Tensor{g}
}

// Sigmoid applies 1/(1+exp(-x)) elementwise.
func Sigmoid(t *Tensor) (*Tensor, error) {
	out, _ := NewTensor(t.Shape, nil)
	for i, v := range t.Data {
		out.Data[i] = float32(1.0 / (1.0 + math.Exp(-float64(v))))
	}
	if tracksGrad(t) {
		out.creator = &sigmoidOp{in: t, out: out}
	}
	return out, nil
}

type tanhOp struct{ in, out *Tensor }

func (op *tanhOp) Inputs() []*Tensor { return []*Tensor{op.in} }
func (op *tanhOp) Backward(gradOut *Tensor) []*Tensor {
	g := gradOut.Clone()
	for i := range g.Data {
		th := op.out.Data[i]
		g.Data[i] *= 1 - th*th
	}
	return []*Tensor{g}
}

// Tanh applies the hyperbolic tangent elementwise. Stage outputs live in
// [-1,1] and are rescaled to display range by the caller.
func Tanh(t *Tensor) (*Tensor, error) {
	out, _ := NewTensor(t.Shape, nil)
	for i, v := range t.Data {
		out.Data[i] = float32(math.Tanh(float64(v)))
	}
	if tracksGrad(t) {
		out.creator = &tanhOp{in: t, out: out}
	}
	return out, nil
}

package tensor

import (
	"fmt"
)

type denseOp struct {
	in     *Tensor // [N,Cin]
	weight *Tensor // [Cin,Cout]
	bias   *Tensor // [Cout] or nil
}

func (op *denseOp) Inputs() []*Tensor {
	if op.bias != nil {
		return []*Tensor{op.in, op.weight, op.bias}
	}
	return []*Tensor{op.in, op.weight}
}

func (op *denseOp) Backward(gradOut *Tensor) []*Tensor {
	n := op.in.Shape[0]
	cin := op.weight.Shape[0]
	cout := op.weight.Shape[1]

	gIn, _ := NewTensor(op.in.Shape, nil)
	gW, _ := NewTensor(op.weight.Shape, nil)
	for b := 0; b < n; b++ {
		for i := 0; i < cin; i++ {
			x := op.in.Data[b*cin+i]
			var acc float32
			for o := 0; o < cout; o++ {
				g := gradOut.Data[b*cout+o]
				acc += g * op.weight.Data[i*cout+o]
				gW.Data[i*cout+o] += g * x
			}
			gIn.Data[b*cin+i] = acc
		}
	}
	if op.bias == nil {
		return []*Tensor{gIn, gW}
	}
	gB, _ := NewTensor(op.bias.Shape, nil)
	for b := 0; b < n; b++ {
		for o := 0; o < cout; o++ {
			gB.Data[o] += gradOut.Data[b*cout+o]
		}
	}
	return []*Tensor{gIn, gW, gB}
}

// Dense computes y = xW + b for x shaped [N,Cin] and W shaped [Cin,Cout].
func Dense(in, weight, bias *Tensor) (*Tensor, error) {
	if len(in.Shape) != 2 {
		return nil, fmt.Errorf("Dense requires a 2D input, got %v", in.Shape)
	}
	if len(weight.Shape) != 2 || weight.Shape[0] != in.Shape[1] {
		return nil, fmt.Errorf("weight shape %v incompatible with input features %d", weight.Shape, in.Shape[1])
	}
	n := in.Shape[0]
	cin := weight.Shape[0]
	cout := weight.Shape[1]
	if bias != nil && (len(bias.Shape) != 1 || bias.Shape[0] != cout) {
		return nil, fmt.Errorf("bias shape %v incompatible with %d output features", bias.Shape, cout)
	}
	out, _ := NewTensor([]int{n, cout}, nil)
	for b := 0; b < n; b++ {
		for o := 0; o < cout; o++ {
			var acc float32
			if bias != nil {
				acc = bias.Data[o]
			}
			for i := 0; i < cin; i++ {
				acc += in.Data[b*cin+i] * weight.Data[i*cout+o]
			}
			out.Data[b*cout+o] = acc
		}
	}
	ins := []*Tensor{in, weight}
	if bias != nil {
		ins = append(ins, bias)
	}
	if tracksGrad(ins...) {
		out.creator = &denseOp{in: in, weight: weight, bias: bias}
	}
	return out, nil
}

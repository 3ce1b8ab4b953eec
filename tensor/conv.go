package tensor

import (
	"fmt"
)

type conv1x1Op struct {
	in     *Tensor // [N,H,W,Cin]
	weight *Tensor // [Cin,Cout]
	bias   *Tensor // [Cout] or nil
}

func (op *conv1x1Op) Inputs() []*Tensor {
	if op.bias != nil {
		return []*Tensor{op.in, op.weight, op.bias}
	}
	return []*Tensor{op.in, op.weight}
}

func (op *conv1x1Op) Backward(gradOut *Tensor) []*Tensor {
	cin := op.weight.Shape[0]
	cout := op.weight.Shape[1]
	pixels := op.in.NumElems / cin

	gIn, _ := NewTensor(op.in.Shape, nil)
	gW, _ := NewTensor(op.weight.Shape, nil)
	for p := 0; p < pixels; p++ {
		inBase := p * cin
		outBase := p * cout
		for i := 0; i < cin; i++ {
			x := op.in.Data[inBase+i]
			wRow := i * cout
			var acc float32
			for o := 0; o < cout; o++ {
				g := gradOut.Data[outBase+o]
				acc += g * op.weight.Data[wRow+o]
				gW.Data[wRow+o] += g * x
			}
			gIn.Data[inBase+i] = acc
		}
	}
	if op.bias == nil {
		return []*Tensor{gIn, gW}
	}
	gB, _ := NewTensor(op.bias.Shape, nil)
	for p := 0; p < pixels; p++ {
		outBase := p * cout
		for o := 0; o < cout; o++ {
			gB.Data[o] += gradOut.Data[outBase+o]
		}
	}
	return []*Tensor{gIn, gW, gB}
}

// Conv1x1 applies a pointwise convolution (per-pixel channel mixing):
// out[n,h,w,:] = in[n,h,w,:] * W + b, W shaped [Cin,Cout].
func Conv1x1(in, weight, bias *Tensor) (*Tensor, error) {
	if len(in.Shape) != 4 {
		return nil, fmt.Errorf("Conv1x1 requires a 4D input, got %v", in.Shape)
	}
	if len(weight.Shape) != 2 || weight.Shape[0] != in.Shape[3] {
		return nil, fmt.Errorf("weight shape %v incompatible with input channels %d", weight.Shape, in.Shape[3])
	}
	cin := weight.Shape[0]
	cout := weight.Shape[1]
	if bias != nil && (len(bias.Shape) != 1 || bias.Shape[0] != cout) {
		return nil, fmt.Errorf("bias shape %v incompatible with %d output channels", bias.Shape, cout)
	}
	outShape := []int{in.Shape[0], in.Shape[1], in.Shape[2], cout}
	out, _ := NewTensor(outShape, nil)
	pixels := in.NumElems / cin
	for p := 0; p < pixels; p++ {
		inBase := p * cin
		outBase := p * cout
		for o := 0; o < cout; o++ {
			var acc float32
			if bias != nil {
				acc = bias.Data[o]
			}
			for i := 0; i < cin; i++ {
				acc += in.Data[inBase+i] * weight.Data[i*cout+o]
			}
			out.Data[outBase+o] = acc
		}
	}
	ins := []*Tensor{in, weight}
	if bias != nil {
		ins = append(ins, bias)
	}
	if tracksGrad(ins...) {
		out.creator = &conv1x1Op{in: in, weight: weight, bias: bias}
	}
	return out, nil
}

type avgPool2Op struct {
	in *Tensor
}

func (op *avgPool2Op) Inputs() []*Tensor { return []*Tensor{op.in} }
func (op *avgPool2Op) Backward(gradOut *Tensor) []*Tensor {
	g, _ := NewTensor(op.in.Shape, nil)
	n, h, w, c := op.in.Shape[0], op.in.Shape[1], op.in.Shape[2], op.in.Shape[3]
	oh, ow := h/2, w/2
	for b := 0; b < n; b++ {
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				for ch := 0; ch < c; ch++ {
					share := gradOut.Data[((b*oh+y)*ow+x)*c+ch] / 4
					for dy := 0; dy < 2; dy++ {
						for dx := 0; dx < 2; dx++ {
							g.Data[((b*h+2*y+dy)*w+2*x+dx)*c+ch] += share
						}
					}
				}
			}
		}
	}
	return []*Tensor{g}
}

// AvgPool2 downsamples a 4D tensor by 2x2 mean pooling with stride 2.
// Spatial dims must be even.
func AvgPool2(in *Tensor) (*Tensor, error) {
	if len(in.Shape) != 4 {
		return nil, fmt.Errorf("AvgPool2 requires a 4D input, got %v", in.Shape)
	}
	n, h, w, c := in.Shape[0], in.Shape[1], in.Shape[2], in.Shape[3]
	if h%2 != 0 || w%2 != 0 {
		return nil, fmt.Errorf("AvgPool2 requires even spatial dims, got %dx%d", h, w)
	}
	oh, ow := h/2, w/2
	out, _ := NewTensor([]int{n, oh, ow, c}, nil)
	for b := 0; b < n; b++ {
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				for ch := 0; ch < c; ch++ {
					var acc float32
					for dy := 0; dy < 2; dy++ {
						for dx := 0; dx < 2; dx++ {
							acc += in.Data[((b*h+2*y+dy)*w+2*x+dx)*c+ch]
						}
					}
					out.Data[((b*oh+y)*ow+x)*c+ch] = acc / 4
				}
			}
		}
	}
	if tracksGrad(in) {
		out.creator = &avgPool2Op{in: in}
	}
	return out, nil
}

type globalAvgPoolOp struct {
	in *Tensor
}

func (op *globalAvgPoolOp) Inputs() []*Tensor { return []*Tensor{op.in} }
func (op *globalAvgPoolOp) Backward(gradOut *Tensor) []*Tensor {
	g, _ := NewTensor(op.in.Shape, nil)
	n, h, w, c := op.in.Shape[0], op.in.Shape[1], op.in.Shape[2], op.in.Shape[3]
	area := float32(h * w)
	for b := 0; b < n; b++ {
		for p := 0; p < h*w; p++ {
			for ch := 0; ch < c; ch++ {
				g.Data[(b*h*w+p)*c+ch] = gradOut.Data[b*c+ch] / area
			}
		}
	}
	return []*Tensor{g}
}

// GlobalAvgPool reduces [N,H,W,C] to [N,C] by spatial mean.
func GlobalAvgPool(in *Tensor) (*Tensor, error) {
	if len(in.Shape) != 4 {
		return nil, fmt.Errorf("GlobalAvgPool requires a 4D input, got %v", in.Shape)
	}
	n, h, w, c := in.Shape[0], in.Shape[1], in.Shape[2], in.Shape[3]
	out, _ := NewTensor([]int{n, c}, nil)
	area := float32(h * w)
	for b := 0; b < n; b++ {
		for p := 0; p < h*w; p++ {
			for ch := 0; ch < c; ch++ {
				out.Data[b*c+ch] += in.Data[(b*h*w+p)*c+ch]
			}
		}
	}
	for i := range out.Data {
		out.Data[i] /= area
	}
	if tracksGrad(in) {
		out.creator = &globalAvgPoolOp{in: in}
	}
	return out, nil
}

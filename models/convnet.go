package models

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/scenewise/refinery/tensor"
)

const (
	normEps      = 1e-5
	normMomentum = 0.9
)

// batchNorm normalizes per channel. Train mode uses the current batch's
// statistics and folds them into the running averages; Eval mode applies
// the frozen running statistics. Gradients flow through the affine
// application only, with the statistics treated as constants.
type batchNorm struct {
	gamma   *tensor.Tensor
	beta    *tensor.Tensor
	runMean []float32
	runVar  []float32
}

func newBatchNorm(store *paramStore, prefix string, channels int) *batchNorm {
	gamma, _ := tensor.Ones([]int{channels})
	beta, _ := tensor.Zeros([]int{channels})
	bn := &batchNorm{
		gamma:   store.register(prefix+".gamma", gamma, true),
		beta:    store.register(prefix+".beta", beta, true),
		runMean: make([]float32, channels),
		runVar:  make([]float32, channels),
	}
	for i := range bn.runVar {
		bn.runVar[i] = 1
	}
	store.stats[prefix+".running_mean"] = bn.runMean
	store.stats[prefix+".running_var"] = bn.runVar
	return bn
}

func (bn *batchNorm) forward(x *tensor.Tensor, mode Mode) (*tensor.Tensor, error) {
	c := x.Shape[3]
	mean := make([]float32, c)
	variance := make([]float32, c)

	if mode == Train {
		pixels := x.NumElems / c
		for p := 0; p < pixels; p++ {
			for ch := 0; ch < c; ch++ {
				mean[ch] += x.Data[p*c+ch]
			}
		}
		for ch := range mean {
			mean[ch] /= float32(pixels)
		}
		for p := 0; p < pixels; p++ {
			for ch := 0; ch < c; ch++ {
				d := x.Data[p*c+ch] - mean[ch]
				variance[ch] += d * d
			}
		}
		for ch := range variance {
			variance[ch] /= float32(pixels)
			bn.runMean[ch] = normMomentum*bn.runMean[ch] + (1-normMomentum)*mean[ch]
			bn.runVar[ch] = normMomentum*bn.runVar[ch] + (1-normMomentum)*variance[ch]
		}
	} else {
		copy(mean, bn.runMean)
		copy(variance, bn.runVar)
	}

	scale := make([]float32, c)
	shift := make([]float32, c)
	for ch := 0; ch < c; ch++ {
		inv := float32(1.0 / math.Sqrt(float64(variance[ch])+normEps))
		scale[ch] = inv
		shift[ch] = -mean[ch] * inv
	}
	scaleT, _ := tensor.NewTensor([]int{c}, scale)
	shiftT, _ := tensor.NewTensor([]int{c}, shift)
	xhat, err := tensor.ChannelAffine(x, scaleT, shiftT)
	if err != nil {
		return nil, err
	}
	return tensor.ChannelAffine(xhat, bn.gamma, bn.beta)
}

type convBlock struct {
	weight *tensor.Tensor
	bias   *tensor.Tensor
	norm   *batchNorm
	relu   bool
}

func newConvBlock(store *paramStore, prefix string, inC, outC int, withNorm, relu bool, rng *rand.Rand) *convBlock {
	w, b := xavierPair(inC, outC, rng)
	blk := &convBlock{
		weight: store.register(prefix+".weight", w, true),
		bias:   store.register(prefix+".bias", b, true),
		relu:   relu,
	}
	if withNorm {
		blk.norm = newBatchNorm(store, prefix+".norm", outC)
	}
	return blk
}

func (b *convBlock) forward(x *tensor.Tensor, mode Mode) (*tensor.Tensor, error) {
	y, err := tensor.Conv1x1(x, b.weight, b.bias)
	if err != nil {
		return nil, err
	}
	if b.norm != nil {
		if y, err = b.norm.forward(y, mode); err != nil {
			return nil, err
		}
	}
	if b.relu {
		return tensor.ReLU(y)
	}
	return y, nil
}

type outputActivation int

const (
	actNone outputActivation = iota
	actSigmoid
	actTanh
)

// convNet is a stack of pointwise blocks with an output activation. The
// cascade stages are all instances of it; they differ only in channel
// counts and head.
type convNet struct {
	*paramStore
	blocks []*convBlock
	outAct outputActivation
	inC    int
}

func newConvNet(name string, inC int, hidden []int, outC int, outAct outputActivation, rng *rand.Rand) *convNet {
	store := newParamStore(name)
	net := &convNet{paramStore: store, outAct: outAct, inC: inC}
	prev := inC
	for i, h := range hidden {
		net.blocks = append(net.blocks, newConvBlock(store, fmt.Sprintf("block%d", i), prev, h, true, true, rng))
		prev = h
	}
	net.blocks = append(net.blocks, newConvBlock(store, "head", prev, outC, false, false, rng))
	return net
}

func (n *convNet) Forward(in *tensor.Tensor) (*tensor.Tensor, error) {
	if len(in.Shape) != 4 || in.Shape[3] != n.inC {
		return nil, fmt.Errorf("%s expects [N,H,W,%d] input, got %v", n.name, n.inC, in.Shape)
	}
	x := in
	var err error
	for _, blk := range n.blocks {
		if x, err = blk.forward(x, n.mode); err != nil {
			return nil, err
		}
	}
	switch n.outAct {
	case actSigmoid:
		return tensor.Sigmoid(x)
	case actTanh:
		return tensor.Tanh(x)
	default:
		return x, nil
	}
}

package tensor

import (
	"fmt"
	"math"
)

type meanAbsDiffOp struct {
	a, b *Tensor
}

func (op *meanAbsDiffOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }
func (op *meanAbsDiffOp) Backward(gradOut *Tensor) []*Tensor {
	scale := gradOut.Data[0] / float32(op.a.NumElems)
	ga, _ := NewTensor(op.a.Shape, nil)
	gb, _ := NewTensor(op.b.Shape, nil)
	for i := range op.a.Data {
		diff := op.a.Data[i] - op.b.Data[i]
		var sign float32
		if diff > 0 {
			sign = 1
		} else if diff < 0 {
			sign = -1
		}
		ga.Data[i] = sign * scale
		gb.Data[i] = -sign * scale
	}
	return []*Tensor{ga, gb}
}

// MeanAbsDiff computes mean(|a-b|) as a scalar tensor (pixel L1 loss).
func MeanAbsDiff(a, b *Tensor) (*Tensor, error) {
	if err := checkSameShape(a, b); err != nil {
		return nil, err
	}
	var sum float64
	for i := range a.Data {
		sum += math.Abs(float64(a.Data[i] - b.Data[i]))
	}
	out := FromScalar(float32(sum / float64(a.NumElems)))
	if tracksGrad(a, b) {
		out.creator = &meanAbsDiffOp{a: a, b: b}
	}
	return out, nil
}

type meanSquaredDiffOp struct {
	a, b *Tensor
}

func (op *meanSquaredDiffOp) Inputs() []*Tensor { return []*Tensor{op.a, op.b} }
func (op *meanSquaredDiffOp) Backward(gradOut *Tensor) []*Tensor {
	scale := 2 * gradOut.Data[0] / float32(op.a.NumElems)
	ga, _ := NewTensor(op.a.Shape, nil)
	gb, _ := NewTensor(op.b.Shape, nil)
	for i := range op.a.Data {
		diff := op.a.Data[i] - op.b.Data[i]
		ga.Data[i] = diff * scale
		gb.Data[i] = -diff * scale
	}
	return []*Tensor{ga, gb}
}

// MeanSquaredDiff computes mean((a-b)^2) as a scalar tensor.
func MeanSquaredDiff(a, b *Tensor) (*Tensor, error) {
	if err := checkSameShape(a, b); err != nil {
		return nil, err
	}
	var sum float64
	for i := range a.Data {
		d := float64(a.Data[i] - b.Data[i])
		sum += d * d
	}
	out := FromScalar(float32(sum / float64(a.NumElems)))
	if tracksGrad(a, b) {
		out.creator = &meanSquaredDiffOp{a: a, b: b}
	}
	return out, nil
}

type softmaxCrossEntropyOp struct {
	logits *Tensor
	labels []int
	probs  []float32
}

func (op *softmaxCrossEntropyOp) Inputs() []*Tensor { return []*Tensor{op.logits} }
func (op *softmaxCrossEntropyOp) Backward(gradOut *Tensor) []*Tensor {
	n := op.logits.Shape[0]
	k := op.logits.Shape[1]
	scale := gradOut.Data[0] / float32(n)
	g, _ := NewTensor(op.logits.Shape, nil)
	for b := 0; b < n; b++ {
		for c := 0; c < k; c++ {
			delta := op.probs[b*k+c]
			if c == op.labels[b] {
				delta -= 1
			}
			g.Data[b*k+c] = delta * scale
		}
	}
	return []*Tensor{g}
}

// SoftmaxCrossEntropy computes the mean sparse softmax cross-entropy of
// logits [N,K] against integer labels.
func SoftmaxCrossEntropy(logits *Tensor, labels []int) (*Tensor, error) {
	if len(logits.Shape) != 2 {
		return nil, fmt.Errorf("SoftmaxCrossEntropy requires 2D logits, got %v", logits.Shape)
	}
	n := logits.Shape[0]
	k := logits.Shape[1]
	if len(labels) != n {
		return nil, fmt.Errorf("got %d labels for %d rows", len(labels), n)
	}
	probs := make([]float32, n*k)
	var total float64
	for b := 0; b < n; b++ {
		if labels[b] < 0 || labels[b] >= k {
			return nil, fmt.Errorf("label %d out of range [0,%d)", labels[b], k)
		}
		maxLogit := logits.Data[b*k]
		for c := 1; c < k; c++ {
			if logits.Data[b*k+c] > maxLogit {
				maxLogit = logits.Data[b*k+c]
			}
		}
		var denom float64
		for c := 0; c < k; c++ {
			e := math.Exp(float64(logits.Data[b*k+c] - maxLogit))
			probs[b*k+c] = float32(e)
			denom += e
		}
		for c := 0; c < k; c++ {
			probs[b*k+c] /= float32(denom)
		}
		total += -math.Log(float64(probs[b*k+labels[b]]) + 1e-12)
	}
	out := FromScalar(float32(total / float64(n)))
	if tracksGrad(logits) {
		out.creator = &softmaxCrossEntropyOp{logits: logits, labels: labels, probs: probs}
	}
	return out, nil
}

// Accuracy reports the fraction of logit rows whose argmax matches the label.
// No gradient flows through it.
func Accuracy(logits *Tensor, labels []int) (float64, error) {
	if len(logits.Shape) != 2 {
		return 0, fmt.Errorf("Accuracy requires 2D logits, got %v", logits.Shape)
	}
	n := logits.Shape[0]
	k := logits.Shape[1]
	if len(labels) != n {
		return 0, fmt.Errorf("got %d labels for %d rows", len(labels), n)
	}
	correct := 0
	for b := 0; b < n; b++ {
		best := 0
		for c := 1; c < k; c++ {
			if logits.Data[b*k+c] > logits.Data[b*k+best] {
				best = c
			}
		}
		if best == labels[b] {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

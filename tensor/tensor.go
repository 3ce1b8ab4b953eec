package tensor

import (
	"fmt"
)

// Operation is the contract every differentiable op implements. Forward
// results keep a pointer to their creator so Backward can walk the graph.
type Operation interface {
	Inputs() []*Tensor
	Backward(gradOut *Tensor) []*Tensor
}

// Tensor is a CPU-resident float32 tensor in NHWC layout for image data.
type Tensor struct {
	Shape        []int
	Strides      []int
	Data         []float32
	NumElems     int
	requiresGrad bool
	grad         *Tensor
	creator      Operation
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d)", t.Shape, t.NumElems)
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

// Grad returns the accumulated gradient, nil until Backward has run.
func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// ZeroGrad clears the accumulated gradient.
func (t *Tensor) ZeroGrad() {
	t.grad = nil
}

// Detach returns a view of the same data with no graph history. Used when a
// stage's output feeds a buffer slot and must not backprop into the producer.
func (t *Tensor) Detach() *Tensor {
	out := &Tensor{
		Shape:    append([]int(nil), t.Shape...),
		Strides:  append([]int(nil), t.Strides...),
		Data:     t.Data,
		NumElems: t.NumElems,
	}
	return out
}

// Clone returns a deep copy with no graph history.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	out, _ := NewTensor(append([]int(nil), t.Shape...), data)
	return out
}

// CopyFrom overwrites the receiver's data with src's. Shapes must match
// exactly; used by the double-buffer slots and by weight loading.
func (t *Tensor) CopyFrom(src *Tensor) error {
	if !shapesEqual(t.Shape, src.Shape) {
		return fmt.Errorf("shape mismatch: %v vs %v", t.Shape, src.Shape)
	}
	copy(t.Data, src.Data)
	return nil
}

// Item returns the sole element of a scalar tensor.
func (t *Tensor) Item() (float32, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("Item on non-scalar tensor with %d elements", t.NumElems)
	}
	return t.Data[0], nil
}

func shapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

// Backward runs reverse-mode differentiation from t, which must be scalar.
// Gradients accumulate into every tensor on the graph that requires grad.
func (t *Tensor) Backward() error {
	if t.NumElems != 1 {
		return fmt.Errorf("Backward requires a scalar tensor, got shape %v", t.Shape)
	}

	// Topological order over the creator graph.
	var order []*Tensor
	visited := make(map[*Tensor]bool)
	var visit func(n *Tensor)
	visit = func(n *Tensor) {
		if visited[n] {
			return
		}
		visited[n] = true
		if n.creator != nil {
			for _, in := range n.creator.Inputs() {
				visit(in)
			}
		}
		order = append(order, n)
	}
	visit(t)

	seed, _ := NewTensor([]int{1}, []float32{1})
	t.accumulateGrad(seed)

	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		if n.creator == nil || n.grad == nil {
			continue
		}
		grads := n.creator.Backward(n.grad)
		inputs := n.creator.Inputs()
		if len(grads) != len(inputs) {
			return fmt.Errorf("op returned %d gradients for %d inputs", len(grads), len(inputs))
		}
		for j, in := range inputs {
			if grads[j] == nil {
				continue
			}
			if in.requiresGrad || in.creator != nil {
				in.accumulateGrad(grads[j])
			}
		}
	}
	return nil
}

func (t *Tensor) accumulateGrad(g *Tensor) {
	if t.grad == nil {
		t.grad = g.Clone()
		return
	}
	for i := range t.grad.Data {
		t.grad.Data[i] += g.Data[i]
	}
}

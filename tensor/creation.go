package tensor

import (
	"fmt"
	"math"
	"math/rand"
)

// NewTensor creates a tensor over the given data. When data is nil a zeroed
// backing slice is allocated.
func NewTensor(shape []int, data []float32) (*Tensor, error) {
	if len(shape) == 0 {
		return nil, fmt.Errorf("tensor shape cannot be empty")
	}
	numElems := 1
	for _, dim := range shape {
		if dim <= 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", dim, shape)
		}
		numElems *= dim
	}
	if data == nil {
		data = make([]float32, numElems)
	} else if len(data) != numElems {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, numElems)
	}
	return &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  calculateStrides(shape),
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zeros creates a zero-filled tensor.
func Zeros(shape []int) (*Tensor, error) {
	return NewTensor(shape, nil)
}

// Ones creates a one-filled tensor.
func Ones(shape []int) (*Tensor, error) {
	t, err := NewTensor(shape, nil)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = 1
	}
	return t, nil
}

// Full creates a tensor filled with value.
func Full(shape []int, value float32) (*Tensor, error) {
	t, err := NewTensor(shape, nil)
	if err != nil {
		return nil, err
	}
	for i := range t.Data {
		t.Data[i] = value
	}
	return t, nil
}

// FromScalar wraps a single value in a [1] tensor.
func FromScalar(value float32) *Tensor {
	t, _ := NewTensor([]int{1}, []float32{value})
	return t
}

// XavierUniform creates a weight tensor initialized with Xavier/Glorot
// uniform values, W ~ U(-sqrt(6/(fanIn+fanOut)), sqrt(6/(fanIn+fanOut))).
func XavierUniform(shape []int, fanIn, fanOut int, rng *rand.Rand) (*Tensor, error) {
	t, err := NewTensor(shape, nil)
	if err != nil {
		return nil, err
	}
	bound := math.Sqrt(6.0 / float64(fanIn+fanOut))
	for i := range t.Data {
		t.Data[i] = float32((rng.Float64()*2.0 - 1.0) * bound)
	}
	return t, nil
}

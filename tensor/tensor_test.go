package tensor

import (
	"math"
	"testing"
)

func almostEqual(a, b float32, tol float64) bool {
	return math.Abs(float64(a-b)) <= tol
}

func TestNewTensor(t *testing.T) {
	t.Run("Valid creation", func(t *testing.T) {
		tn, err := NewTensor([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}
		if tn.NumElems != 6 {
			t.Errorf("Expected 6 elements, got %d", tn.NumElems)
		}
		if tn.Strides[0] != 3 || tn.Strides[1] != 1 {
			t.Errorf("Unexpected strides %v", tn.Strides)
		}
	})

	t.Run("Nil data allocates zeros", func(t *testing.T) {
		tn, err := NewTensor([]int{4}, nil)
		if err != nil {
			t.Fatalf("NewTensor failed: %v", err)
		}
		for i, v := range tn.Data {
			if v != 0 {
				t.Errorf("Expected zero at %d, got %f", i, v)
			}
		}
	})

	t.Run("Length mismatch rejected", func(t *testing.T) {
		if _, err := NewTensor([]int{2, 2}, []float32{1, 2}); err == nil {
			t.Error("Expected error for data length mismatch")
		}
	})

	t.Run("Invalid dimension rejected", func(t *testing.T) {
		if _, err := NewTensor([]int{2, 0}, nil); err == nil {
			t.Error("Expected error for zero dimension")
		}
	})
}

func TestElementwiseOps(t *testing.T) {
	a, _ := NewTensor([]int{2, 2}, []float32{1, 2, 3, 4})
	b, _ := NewTensor([]int{2, 2}, []float32{5, 6, 7, 8})

	sum, err := Add(a, b)
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if sum.Data[3] != 12 {
		t.Errorf("Expected 12, got %f", sum.Data[3])
	}

	diff, _ := Sub(b, a)
	if diff.Data[0] != 4 {
		t.Errorf("Expected 4, got %f", diff.Data[0])
	}

	prod, _ := Mul(a, b)
	if prod.Data[2] != 21 {
		t.Errorf("Expected 21, got %f", prod.Data[2])
	}

	scaled, _ := Affine(a, 1.0/127.5, -1.0)
	if !almostEqual(scaled.Data[0], 1.0/127.5-1.0, 1e-6) {
		t.Errorf("Affine normalization wrong: %f", scaled.Data[0])
	}
}

func TestMulMask(t *testing.T) {
	// 1x2x2x3 image, 1x2x2x1 mask zeroing the second pixel row.
	img, _ := NewTensor([]int{1, 2, 2, 3}, []float32{
		1, 2, 3, 4, 5, 6,
		7, 8, 9, 10, 11, 12,
	})
	mask, _ := NewTensor([]int{1, 2, 2, 1}, []float32{1, 1, 0, 0})

	out, err := MulMask(img, mask)
	if err != nil {
		t.Fatalf("MulMask failed: %v", err)
	}
	for i := 0; i < 6; i++ {
		if out.Data[i] != img.Data[i] {
			t.Errorf("Unmasked pixel changed at %d", i)
		}
	}
	for i := 6; i < 12; i++ {
		if out.Data[i] != 0 {
			t.Errorf("Masked pixel not zero at %d: %f", i, out.Data[i])
		}
	}
}

func TestConcatChannels(t *testing.T) {
	a, _ := NewTensor([]int{1, 1, 2, 1}, []float32{1, 2})
	b, _ := NewTensor([]int{1, 1, 2, 2}, []float32{3, 4, 5, 6})

	out, err := ConcatChannels(a, b)
	if err != nil {
		t.Fatalf("ConcatChannels failed: %v", err)
	}
	if out.Shape[3] != 3 {
		t.Fatalf("Expected 3 channels, got %d", out.Shape[3])
	}
	expected := []float32{1, 3, 4, 2, 5, 6}
	for i, v := range expected {
		if out.Data[i] != v {
			t.Errorf("At %d expected %f, got %f", i, v, out.Data[i])
		}
	}

	if _, err := ConcatChannels(); err == nil {
		t.Error("Expected error for empty concat")
	}
}

func TestConv1x1ForwardBackward(t *testing.T) {
	in, _ := NewTensor([]int{1, 1, 2, 2}, []float32{1, 2, 3, 4})
	w, _ := NewTensor([]int{2, 1}, []float32{0.5, 0.25})
	bias, _ := NewTensor([]int{1}, []float32{1})
	w.SetRequiresGrad(true)
	bias.SetRequiresGrad(true)

	out, err := Conv1x1(in, w, bias)
	if err != nil {
		t.Fatalf("Conv1x1 failed: %v", err)
	}
	// Pixel 0: 1*0.5 + 2*0.25 + 1 = 2, pixel 1: 3*0.5 + 4*0.25 + 1 = 3.5
	if !almostEqual(out.Data[0], 2.0, 1e-6) || !almostEqual(out.Data[1], 3.5, 1e-6) {
		t.Errorf("Forward wrong: %v", out.Data)
	}

	target, _ := NewTensor([]int{1, 1, 2, 1}, []float32{0, 0})
	loss, _ := MeanSquaredDiff(out, target)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// dL/dout = 2*(out-target)/2 = out. dL/db = sum = 5.5.
	if !almostEqual(bias.Grad().Data[0], 5.5, 1e-5) {
		t.Errorf("Bias grad wrong: %f", bias.Grad().Data[0])
	}
	// dL/dw0 = 1*2 + 3*3.5 = 12.5, dL/dw1 = 2*2 + 4*3.5 = 18.
	if !almostEqual(w.Grad().Data[0], 12.5, 1e-5) || !almostEqual(w.Grad().Data[1], 18, 1e-5) {
		t.Errorf("Weight grad wrong: %v", w.Grad().Data)
	}
}

func TestBackwardAccumulatesThroughChain(t *testing.T) {
	x, _ := NewTensor([]int{1, 2, 2, 1}, []float32{-1, 0.5, 2, -3})
	x.SetRequiresGrad(true)

	act, err := ReLU(x)
	if err != nil {
		t.Fatalf("ReLU failed: %v", err)
	}
	scaled, _ := Affine(act, 2, 0)
	target, _ := Zeros([]int{1, 2, 2, 1})
	loss, _ := MeanAbsDiff(scaled, target)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// d|y|/dx = sign(y) * 2 / 4 for positive inputs, 0 otherwise.
	g := x.Grad().Data
	if g[0] != 0 || g[3] != 0 {
		t.Errorf("Gradient should be zero for negative inputs: %v", g)
	}
	if !almostEqual(g[1], 0.5, 1e-6) || !almostEqual(g[2], 0.5, 1e-6) {
		t.Errorf("Gradient wrong for positive inputs: %v", g)
	}
}

func TestBackwardRequiresScalar(t *testing.T) {
	x, _ := NewTensor([]int{2}, []float32{1, 2})
	if err := x.Backward(); err == nil {
		t.Error("Expected error for non-scalar Backward")
	}
}

func TestSoftmaxCrossEntropy(t *testing.T) {
	t.Run("Uniform logits give log(K)", func(t *testing.T) {
		logits, _ := NewTensor([]int{2, 2}, []float32{0, 0, 0, 0})
		loss, err := SoftmaxCrossEntropy(logits, []int{0, 1})
		if err != nil {
			t.Fatalf("SoftmaxCrossEntropy failed: %v", err)
		}
		if !almostEqual(loss.Data[0], float32(math.Log(2)), 1e-5) {
			t.Errorf("Expected ln2, got %f", loss.Data[0])
		}
	})

	t.Run("Gradient is softmax minus onehot over N", func(t *testing.T) {
		logits, _ := NewTensor([]int{1, 2}, []float32{0, 0})
		logits.SetRequiresGrad(true)
		loss, _ := SoftmaxCrossEntropy(logits, []int{1})
		if err := loss.Backward(); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}
		g := logits.Grad().Data
		if !almostEqual(g[0], 0.5, 1e-5) || !almostEqual(g[1], -0.5, 1e-5) {
			t.Errorf("Gradient wrong: %v", g)
		}
	})

	t.Run("Label out of range rejected", func(t *testing.T) {
		logits, _ := NewTensor([]int{1, 2}, []float32{0, 0})
		if _, err := SoftmaxCrossEntropy(logits, []int{2}); err == nil {
			t.Error("Expected error for out-of-range label")
		}
	})
}

func TestAccuracy(t *testing.T) {
	logits, _ := NewTensor([]int{4, 2}, []float32{
		2, 1, // argmax 0
		0, 3, // argmax 1
		1, 2, // argmax 1
		5, 0, // argmax 0
	})
	acc, err := Accuracy(logits, []int{0, 1, 0, 0})
	if err != nil {
		t.Fatalf("Accuracy failed: %v", err)
	}
	if acc != 0.75 {
		t.Errorf("Expected 0.75, got %f", acc)
	}
}

func TestPooling(t *testing.T) {
	t.Run("AvgPool2", func(t *testing.T) {
		in, _ := NewTensor([]int{1, 2, 2, 1}, []float32{1, 2, 3, 4})
		out, err := AvgPool2(in)
		if err != nil {
			t.Fatalf("AvgPool2 failed: %v", err)
		}
		if !almostEqual(out.Data[0], 2.5, 1e-6) {
			t.Errorf("Expected 2.5, got %f", out.Data[0])
		}
	})

	t.Run("AvgPool2 odd dims rejected", func(t *testing.T) {
		in, _ := NewTensor([]int{1, 3, 2, 1}, nil)
		if _, err := AvgPool2(in); err == nil {
			t.Error("Expected error for odd spatial dim")
		}
	})

	t.Run("GlobalAvgPool", func(t *testing.T) {
		in, _ := NewTensor([]int{1, 2, 2, 2}, []float32{1, 10, 2, 20, 3, 30, 4, 40})
		out, err := GlobalAvgPool(in)
		if err != nil {
			t.Fatalf("GlobalAvgPool failed: %v", err)
		}
		if !almostEqual(out.Data[0], 2.5, 1e-6) || !almostEqual(out.Data[1], 25, 1e-5) {
			t.Errorf("GlobalAvgPool wrong: %v", out.Data)
		}
	})
}

func TestDetachStopsGradient(t *testing.T) {
	x, _ := NewTensor([]int{1, 1, 1, 1}, []float32{2})
	x.SetRequiresGrad(true)
	y, _ := Affine(x, 3, 0)
	d := y.Detach()

	z, _ := Affine(d, 2, 0)
	target, _ := Zeros([]int{1, 1, 1, 1})
	loss, _ := MeanSquaredDiff(z, target)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}
	if x.Grad() != nil {
		t.Error("Gradient leaked through Detach")
	}
}

func TestCopyFrom(t *testing.T) {
	dst, _ := Zeros([]int{2, 2})
	src, _ := NewTensor([]int{2, 2}, []float32{1, 2, 3, 4})
	if err := dst.CopyFrom(src); err != nil {
		t.Fatalf("CopyFrom failed: %v", err)
	}
	if dst.Data[3] != 4 {
		t.Errorf("CopyFrom did not copy data")
	}

	bad, _ := Zeros([]int{3})
	if err := dst.CopyFrom(bad); err == nil {
		t.Error("Expected shape mismatch error")
	}
}

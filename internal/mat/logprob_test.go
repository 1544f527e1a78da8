package mat

import (
	"math"
	"testing"
)

func TestLogAddExp(t *testing.T) {
	got := LogAddExp(0, 0)
	want := float32(math.Log(2))
	if math.Abs(float64(got-want)) > 1e-6 {
		t.Fatalf("logaddexp(0,0): expected %v, got %v", want, got)
	}
	if got := LogAddExp(LogZero, -1.5); got != -1.5 {
		t.Fatalf("logaddexp with zero operand: expected -1.5, got %v", got)
	}
	if got := LogAddExp(-1.5, LogZero); got != -1.5 {
		t.Fatalf("logaddexp with zero operand: expected -1.5, got %v", got)
	}
	// Symmetry regardless of operand order.
	if a, b := LogAddExp(-3, -1), LogAddExp(-1, -3); math.Abs(float64(a-b)) > 1e-6 {
		t.Fatalf("logaddexp not symmetric: %v vs %v", a, b)
	}
}

func TestLogSumExpMatchesPairwise(t *testing.T) {
	x := []float32{-1.2, -0.3, -4.5, -2.2}
	want := x[0]
	for _, v := range x[1:] {
		want = LogAddExp(want, v)
	}
	got := LogSumExp(x)
	if math.Abs(float64(got-want)) > 1e-5 {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestLogSoftmaxNormalises(t *testing.T) {
	x := []float32{1, 2, 3, 4}
	LogSoftmax(x)
	var sum float64
	for _, v := range x {
		sum += math.Exp(float64(v))
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Fatalf("exp(logsoftmax) sums to %v, expected 1", sum)
	}
	// Order is preserved.
	for i := 1; i < len(x); i++ {
		if x[i] <= x[i-1] {
			t.Fatalf("logsoftmax broke ordering: %v", x)
		}
	}
}

func TestArgMax(t *testing.T) {
	if got := ArgMax([]float32{-1, 5, 3, 7, 2}); got != 3 {
		t.Fatalf("expected index 3, got %d", got)
	}
	// Ties resolve to the lowest index.
	if got := ArgMax([]float32{2, 7, 7, 1}); got != 1 {
		t.Fatalf("expected tie to resolve to 1, got %d", got)
	}
}

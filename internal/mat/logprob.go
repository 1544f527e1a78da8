package mat

import "math"

// LogZero stands in for log(0) in log-space accumulations. It is large enough
// in magnitude to never win a max against a real log-probability while staying
// far from the float32 overflow region under repeated addition.
const LogZero float32 = -1e10

// LogAddExp returns log(exp(a) + exp(b)) computed stably. Operands at or
// below LogZero are treated as true zeros.
func LogAddExp(a, b float32) float32 {
	if a <= LogZero {
		return b
	}
	if b <= LogZero {
		return a
	}
	if a < b {
		a, b = b, a
	}
	return a + float32(math.Log1p(math.Exp(float64(b-a))))
}

// LogSumExp returns log(sum(exp(x))) computed stably. It panics on an empty
// input.
func LogSumExp(x []float32) float32 {
	if len(x) == 0 {
		panic("logsumexp: empty slice")
	}
	maxv := x[0]
	for _, v := range x[1:] {
		if v > maxv {
			maxv = v
		}
	}
	if maxv <= LogZero {
		return LogZero
	}
	var sum float64
	for _, v := range x {
		sum += math.Exp(float64(v - maxv))
	}
	return maxv + float32(math.Log(sum))
}

// LogSoftmax normalises x in place so that exp(x) sums to one.
func LogSoftmax(x []float32) {
	z := LogSumExp(x)
	for i := range x {
		x[i] -= z
	}
}

// ArgMax returns the index of the maximum value in the slice. Ties resolve to
// the lowest index. It panics on an empty slice.
func ArgMax(x []float32) int {
	if len(x) == 0 {
		panic("argmax: empty slice")
	}
	bestI := 0
	bestV := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > bestV {
			bestV = x[i]
			bestI = i
		}
	}
	return bestI
}

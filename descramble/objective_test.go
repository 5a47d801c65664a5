package descramble

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func randomSignal(n, m int, seed int64) *mat.Dense {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, n*m)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(n, m, data)
}

func TestGradientMatchesFiniteDifference(t *testing.T) {
	const (
		n      = 5
		m      = 30
		h      = 1e-6
		relTol = 1e-5
		absTol = 1e-7
	)

	eval, err := newEvaluator(randomSignal(n, m, 42), NewGonumBackend())
	if err != nil {
		t.Fatalf("newEvaluator() error = %v", err)
	}

	rng := rand.New(rand.NewSource(123))
	for trial := 0; trial < 5; trial++ {
		q := make([]float64, eval.optDim())
		for i := range q {
			q[i] = 0.5 * rng.NormFloat64()
		}

		analytic := make([]float64, len(q))
		eval.gradient(analytic, q)

		for i := range q {
			orig := q[i]
			q[i] = orig + h
			fPlus := eval.value(q)
			q[i] = orig - h
			fMinus := eval.value(q)
			q[i] = orig

			fd := (fPlus - fMinus) / (2 * h)
			if diff := math.Abs(analytic[i] - fd); diff > relTol*(math.Abs(analytic[i])+math.Abs(fd))+absTol {
				t.Errorf("trial %d parameter %d: analytic gradient %g, finite difference %g", trial, i, analytic[i], fd)
			}
		}
	}
}

func TestObjectiveNonNegative(t *testing.T) {
	const (
		n = 6
		m = 40
	)

	eval, err := newEvaluator(randomSignal(n, m, 7), NewGonumBackend())
	if err != nil {
		t.Fatalf("newEvaluator() error = %v", err)
	}

	rng := rand.New(rand.NewSource(99))
	for trial := 0; trial < 20; trial++ {
		q := make([]float64, eval.optDim())
		for i := range q {
			q[i] = rng.NormFloat64()
		}
		// Trace of a PSD-congruent product.
		if v := eval.value(q); v < -1e-10 {
			t.Errorf("trial %d: objective %g is negative", trial, v)
		}
	}
}

func TestGradientVanishesWhenGramIsScaledIdentity(t *testing.T) {
	const (
		n   = 6
		tol = 1e-10
	)

	// SSᵗ ∝ I commutes with DᵗD, so the objective is constant over the
	// orthogonal group and every gradient must vanish.
	signal := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		signal.Set(i, i, 2.0)
	}

	eval, err := newEvaluator(signal, NewGonumBackend())
	if err != nil {
		t.Fatalf("newEvaluator() error = %v", err)
	}

	rng := rand.New(rand.NewSource(5))
	for trial := 0; trial < 5; trial++ {
		q := make([]float64, eval.optDim())
		for i := range q {
			q[i] = rng.NormFloat64()
		}

		grad := make([]float64, len(q))
		eval.gradient(grad, q)
		for i, g := range grad {
			if math.Abs(g) > tol {
				t.Errorf("trial %d: gradient component %d = %g, want 0", trial, i, g)
			}
		}
	}
}

func TestEvaluatorScalingInvariance(t *testing.T) {
	const (
		n   = 5
		m   = 25
		tol = 1e-9
	)

	signal := randomSignal(n, m, 13)
	scaled := mat.NewDense(n, m, nil)
	scaled.Scale(1e6, signal)

	a, err := newEvaluator(signal, NewGonumBackend())
	if err != nil {
		t.Fatalf("newEvaluator() error = %v", err)
	}
	b, err := newEvaluator(scaled, NewGonumBackend())
	if err != nil {
		t.Fatalf("newEvaluator() error = %v", err)
	}

	// The spectral-norm rescaling makes the objective independent of the
	// raw scale of the signal.
	rng := rand.New(rand.NewSource(21))
	q := make([]float64, a.optDim())
	for i := range q {
		q[i] = rng.NormFloat64()
	}
	va, vb := a.value(q), b.value(q)
	if math.Abs(va-vb) > tol*(math.Abs(va)+1) {
		t.Errorf("objective changed under signal rescaling: %g vs %g", va, vb)
	}
}

// failingInverseBackend delegates to the gonum backend but refuses to invert,
// standing in for a backend that cannot factor a point.
type failingInverseBackend struct {
	Backend
}

func (failingInverseBackend) Inverse(dst *mat.Dense, a mat.Matrix) error {
	return errors.New("factorization failed")
}

func TestEvaluatorDegradedPairOnInversionFailure(t *testing.T) {
	const (
		n = 4
		m = 20
	)

	eval, err := newEvaluator(randomSignal(n, m, 31), NewGonumBackend())
	if err != nil {
		t.Fatalf("newEvaluator() error = %v", err)
	}
	// Swap the backend after construction so only the per-evaluation
	// inverse fails, not the cross-product setup.
	eval.backend = failingInverseBackend{NewGonumBackend()}

	q := make([]float64, eval.optDim())
	for i := range q {
		q[i] = 0.1 * float64(i+1)
	}

	// An unfactorable point must present one consistent degraded signal:
	// +Inf objective so the linesearch rejects it, zero gradient so the
	// rejected point never reads as anything else.
	if v := eval.value(q); !math.IsInf(v, 1) {
		t.Errorf("value() = %g at unfactorable point, want +Inf", v)
	}

	grad := make([]float64, len(q))
	for i := range grad {
		grad[i] = math.NaN()
	}
	eval.gradient(grad, q)
	for i, g := range grad {
		if g != 0 {
			t.Errorf("gradient component %d = %g at unfactorable point, want 0", i, g)
		}
	}
}

func TestEvaluatorRejectsInvalidSignal(t *testing.T) {
	backend := NewGonumBackend()

	bad := mat.NewDense(3, 4, nil)
	bad.Set(1, 2, math.NaN())
	if _, err := newEvaluator(bad, backend); err == nil {
		t.Error("expected error for NaN signal entry")
	}

	bad.Set(1, 2, math.Inf(-1))
	if _, err := newEvaluator(bad, backend); err == nil {
		t.Error("expected error for infinite signal entry")
	}

	if _, err := newEvaluator(mat.NewDense(1, 4, nil), backend); err == nil {
		t.Error("expected error for single-row signal")
	}

	// An all-zero signal has a degenerate cross-product.
	if _, err := newEvaluator(mat.NewDense(3, 4, nil), backend); err == nil {
		t.Error("expected error for zero signal")
	}
}

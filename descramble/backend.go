package descramble

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Backend abstracts the dense linear algebra the evaluator depends on, so an
// accelerated implementation (batched BLAS, GPU) can be swapped in without
// touching the objective or the optimizer.
type Backend interface {
	// Mul stores the product a·b into dst.
	Mul(dst *mat.Dense, a, b mat.Matrix)
	// Inverse stores a⁻¹ into dst. Implementations may return a
	// conditioning warning while still producing a usable result.
	Inverse(dst *mat.Dense, a mat.Matrix) error
	// SpectralNorm returns the largest absolute eigenvalue of a.
	SpectralNorm(a *mat.SymDense) (float64, error)
	// Trace returns the trace of the square matrix a.
	Trace(a mat.Matrix) float64
}

// NewGonumBackend returns the default single-core CPU backend built on gonum/mat.
func NewGonumBackend() Backend { return gonumBackend{} }

type gonumBackend struct{}

func (gonumBackend) Mul(dst *mat.Dense, a, b mat.Matrix) { dst.Mul(a, b) }

func (gonumBackend) Inverse(dst *mat.Dense, a mat.Matrix) error { return dst.Inverse(a) }

func (gonumBackend) SpectralNorm(a *mat.SymDense) (float64, error) {
	var eig mat.EigenSym
	if ok := eig.Factorize(a, false); !ok {
		return 0, errors.New("symmetric eigendecomposition failed")
	}

	norm := 0.0
	for _, v := range eig.Values(nil) {
		if av := math.Abs(v); av > norm {
			norm = av
		}
	}
	return norm, nil
}

func (gonumBackend) Trace(a mat.Matrix) float64 { return mat.Trace(a) }

// isConditionWarning reports whether err only flags ill-conditioning, in
// which case the computed result is degraded but still usable.
func isConditionWarning(err error) bool {
	var cond mat.Condition
	return errors.As(err, &cond)
}

package descramble

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// evaluator holds the immutable context for objective and gradient
// evaluations: the pre-scaled cross-products DᵗD and SSᵗ and the linear
// algebra backend. It is built once per descrambling run and is read-only
// afterwards, so evaluations share no mutable state.
type evaluator struct {
	n       int
	rough   *mat.Dense // n · DᵗD / ‖DᵗD‖₂
	gram    *mat.Dense // n · SSᵗ / ‖SSᵗ‖₂
	backend Backend
}

func newEvaluator(signal mat.Matrix, backend Backend) (*evaluator, error) {
	n, m := signal.Dims()
	if n < 2 {
		return nil, fmt.Errorf("signal matrix must have at least 2 rows, got %d", n)
	}
	if m < 1 {
		return nil, fmt.Errorf("signal matrix must have at least 1 column, got %d", m)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < m; j++ {
			if v := signal.At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("signal matrix entry (%d,%d) is not finite: %v", i, j, v)
			}
		}
	}

	deriv, err := SpectralSecondDerivative(n)
	if err != nil {
		return nil, err
	}

	rough := mat.NewDense(n, n, nil)
	backend.Mul(rough, deriv.T(), deriv)

	gram := mat.NewDense(n, n, nil)
	backend.Mul(gram, signal, signal.T())

	// Both cross-products are rescaled to spectral norm n so the objective
	// and gradient magnitudes stay stable as the dimension grows, keeping
	// the per-iteration inverse well-conditioned.
	if err := rescale(rough, backend, "roughness"); err != nil {
		return nil, err
	}
	if err := rescale(gram, backend, "signal"); err != nil {
		return nil, err
	}

	return &evaluator{n: n, rough: rough, gram: gram, backend: backend}, nil
}

// rescale divides a symmetric PSD matrix by its spectral norm and multiplies
// it by its order, in place.
func rescale(a *mat.Dense, backend Backend, name string) error {
	n, _ := a.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}

	norm, err := backend.SpectralNorm(sym)
	if err != nil {
		return fmt.Errorf("%s cross-product: %w", name, err)
	}
	if norm <= 0 {
		return fmt.Errorf("%s cross-product is degenerate: zero spectral norm", name)
	}

	a.Scale(float64(n)/norm, a)
	return nil
}

// optDim is the number of free parameters of the generator.
func (e *evaluator) optDim() int { return skewDim(e.n) }

// factor computes (I+Q)⁻¹ and P = (I+Q)⁻¹(I−Q) for packed parameters q.
// The inverse is the dominant cost of an evaluation and is computed exactly
// once, shared by the objective and the gradient. A hard inversion failure
// reports ok=false; mere ill-conditioning keeps the degraded result.
func (e *evaluator) factor(q []float64) (inv, p *mat.Dense, ok bool) {
	iPlusQ, iMinusQ := cayleyFactors(e.n, q)

	inv = mat.NewDense(e.n, e.n, nil)
	if err := e.backend.Inverse(inv, iPlusQ); err != nil && !isConditionWarning(err) {
		return nil, nil, false
	}

	p = mat.NewDense(e.n, e.n, nil)
	e.backend.Mul(p, inv, iMinusQ)
	return inv, p, true
}

// value computes the Tikhonov smoothness energy η(q) = tr(DᵗD·P·SSᵗ·Pᵗ).
func (e *evaluator) value(q []float64) float64 {
	_, p, ok := e.factor(q)
	if !ok {
		return math.Inf(1)
	}

	ap := mat.NewDense(e.n, e.n, nil)
	e.backend.Mul(ap, e.rough, p)
	apb := mat.NewDense(e.n, e.n, nil)
	e.backend.Mul(apb, ap, e.gram)
	full := mat.NewDense(e.n, e.n, nil)
	e.backend.Mul(full, apb, p.T())
	return e.backend.Trace(full)
}

// gradient writes ∇η(q) into dst. The matrix gradient is
//
//	∇_Q η = −2·(I+Q)⁻ᵗ·DᵗD·P·SSᵗ·(I+P)ᵗ
//
// projected onto the skew-symmetric tangent space by antisymmetrization;
// only its strictly-lower triangle is reported, matching the packing of q.
//
// A hard inversion failure zeroes the gradient. The paired objective is +Inf
// at the same point, so the linesearch rejects it before a zero gradient can
// read as stationary; the pair is the single degraded signal for a point the
// backend cannot factor.
func (e *evaluator) gradient(dst, q []float64) {
	inv, p, ok := e.factor(q)
	if !ok {
		for i := range dst {
			dst[i] = 0
		}
		return
	}

	ap := mat.NewDense(e.n, e.n, nil)
	e.backend.Mul(ap, e.rough, p)
	apb := mat.NewDense(e.n, e.n, nil)
	e.backend.Mul(apb, ap, e.gram)

	iPlusP := mat.NewDense(e.n, e.n, nil)
	iPlusP.Copy(p)
	for i := 0; i < e.n; i++ {
		iPlusP.Set(i, i, iPlusP.At(i, i)+1)
	}

	right := mat.NewDense(e.n, e.n, nil)
	e.backend.Mul(right, apb, iPlusP.T())
	g := mat.NewDense(e.n, e.n, nil)
	e.backend.Mul(g, inv.T(), right)
	g.Scale(-2, g)

	k := 0
	for i := 1; i < e.n; i++ {
		for j := 0; j < i; j++ {
			dst[k] = g.At(i, j) - g.At(j, i)
			k++
		}
	}
}

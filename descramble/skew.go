package descramble

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// SkewSymmetric is an n×n skew-symmetric generator Q = L − Lᵗ stored as its
// n(n−1)/2 strictly-lower-triangular entries, packed row-major over (i, j)
// for i = 1…n−1, j = 0…i−1. The diagonal and upper triangle are derived, so
// the skew-symmetry invariant holds by construction and never needs to be
// enforced by a caller or an optimizer.
type SkewSymmetric struct {
	n      int
	params []float64
}

// skewDim is the number of free parameters of an order-n generator.
func skewDim(n int) int { return n * (n - 1) / 2 }

// NewSkewSymmetric creates a generator of order n from packed
// strictly-lower-triangular parameters.
func NewSkewSymmetric(n int, params []float64) (*SkewSymmetric, error) {
	if n < 2 {
		return nil, fmt.Errorf("generator order must be at least 2, got %d", n)
	}
	if len(params) != skewDim(n) {
		return nil, fmt.Errorf("parameter length %d != n(n-1)/2 = %d for order %d", len(params), skewDim(n), n)
	}
	for i, v := range params {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("parameter %d is not finite: %v", i, v)
		}
	}

	p := make([]float64, len(params))
	copy(p, params)
	return &SkewSymmetric{n: n, params: p}, nil
}

// NewZeroSkewSymmetric creates the zero generator of order n, whose Cayley
// transform is the identity.
func NewZeroSkewSymmetric(n int) (*SkewSymmetric, error) {
	if n < 2 {
		return nil, fmt.Errorf("generator order must be at least 2, got %d", n)
	}
	return &SkewSymmetric{n: n, params: make([]float64, skewDim(n))}, nil
}

// SkewSymmetricFromMatrix creates a generator from the strictly-lower
// triangle of a square matrix. The diagonal and upper triangle of g are
// ignored, so g itself does not need to be skew-symmetric.
func SkewSymmetricFromMatrix(g mat.Matrix) (*SkewSymmetric, error) {
	r, c := g.Dims()
	if r != c {
		return nil, fmt.Errorf("generator matrix must be square, got %dx%d", r, c)
	}

	params := make([]float64, 0, skewDim(r))
	for i := 1; i < r; i++ {
		for j := 0; j < i; j++ {
			params = append(params, g.At(i, j))
		}
	}
	return NewSkewSymmetric(r, params)
}

// Order returns the generator order n.
func (s *SkewSymmetric) Order() int { return s.n }

// Params returns a copy of the packed strictly-lower-triangular parameters.
func (s *SkewSymmetric) Params() []float64 {
	p := make([]float64, len(s.params))
	copy(p, s.params)
	return p
}

// Dense materializes the full skew-symmetric matrix Q = L − Lᵗ.
func (s *SkewSymmetric) Dense() *mat.Dense { return embedSkew(s.n, s.params) }

// embedSkew expands packed lower-triangular parameters into the full matrix.
func embedSkew(n int, params []float64) *mat.Dense {
	q := mat.NewDense(n, n, nil)
	k := 0
	for i := 1; i < n; i++ {
		for j := 0; j < i; j++ {
			q.Set(i, j, params[k])
			q.Set(j, i, -params[k])
			k++
		}
	}
	return q
}

// Cayley maps the generator to its orthogonal image P = (I+Q)⁻¹(I−Q).
// I+Q is invertible for every real skew-symmetric Q, since the eigenvalues
// of Q are purely imaginary.
func (s *SkewSymmetric) Cayley() (*Orthogonal, error) {
	return s.cayley(NewGonumBackend())
}

func (s *SkewSymmetric) cayley(backend Backend) (*Orthogonal, error) {
	iPlusQ, iMinusQ := cayleyFactors(s.n, s.params)

	inv := mat.NewDense(s.n, s.n, nil)
	if err := backend.Inverse(inv, iPlusQ); err != nil && !isConditionWarning(err) {
		return nil, fmt.Errorf("cayley transform: %w", err)
	}

	p := mat.NewDense(s.n, s.n, nil)
	backend.Mul(p, inv, iMinusQ)
	return &Orthogonal{m: p}, nil
}

// cayleyFactors builds I+Q and I−Q from packed parameters.
func cayleyFactors(n int, params []float64) (iPlusQ, iMinusQ *mat.Dense) {
	iPlusQ = mat.NewDense(n, n, nil)
	iMinusQ = mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		iPlusQ.Set(i, i, 1)
		iMinusQ.Set(i, i, 1)
	}
	k := 0
	for i := 1; i < n; i++ {
		for j := 0; j < i; j++ {
			v := params[k]
			iPlusQ.Set(i, j, v)
			iPlusQ.Set(j, i, -v)
			iMinusQ.Set(i, j, -v)
			iMinusQ.Set(j, i, v)
			k++
		}
	}
	return iPlusQ, iMinusQ
}

// Orthogonal is a real orthogonal matrix P (P·Pᵗ = I) produced by the Cayley
// transform of a skew-symmetric generator. Its inverse is its transpose.
type Orthogonal struct {
	m *mat.Dense
}

// Order returns the matrix order n.
func (o *Orthogonal) Order() int {
	n, _ := o.m.Dims()
	return n
}

// Dense returns a copy of the orthogonal matrix.
func (o *Orthogonal) Dense() *mat.Dense {
	n, _ := o.m.Dims()
	out := mat.NewDense(n, n, nil)
	out.Copy(o.m)
	return out
}

// At returns the element at row i, column j.
func (o *Orthogonal) At(i, j int) float64 { return o.m.At(i, j) }

// Apply returns P·W, the descrambled view of a layer weight matrix W whose
// row dimension matches the basis (pre-activation wiretap).
func (o *Orthogonal) Apply(w mat.Matrix) (*mat.Dense, error) {
	n, _ := o.m.Dims()
	r, c := w.Dims()
	if r != n {
		return nil, fmt.Errorf("weight matrix has %d rows, basis has order %d", r, n)
	}

	out := mat.NewDense(n, c, nil)
	out.Mul(o.m, w)
	return out, nil
}

// ApplyInverse returns U·Pᵗ, descrambling the input dimension of the next
// layer's weight matrix U (post-activation wiretap).
func (o *Orthogonal) ApplyInverse(u mat.Matrix) (*mat.Dense, error) {
	n, _ := o.m.Dims()
	r, c := u.Dims()
	if c != n {
		return nil, fmt.Errorf("weight matrix has %d columns, basis has order %d", c, n)
	}

	out := mat.NewDense(r, n, nil)
	out.Mul(u, o.m.T())
	return out, nil
}

// Package descramble recovers an interpretable basis for the hidden-layer
// weight matrices of a small feed-forward network. Pre-activation outputs are
// invariant under W → P·W, Wnext → Wnext·Pᵗ for any orthogonal P, so the
// package searches the orthogonal group for the change of basis that makes
// the weights smooth (low-frequency) along the hidden dimension, given only a
// matrix of layer outputs sampled over many inputs.
package descramble

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// DefaultIterations is the default optimizer iteration cap.
const DefaultIterations = 500

// Descrambler minimizes the Tikhonov smoothness energy
//
//	η(Q) = tr(DᵗD·P·SSᵗ·Pᵗ),  P = (I+Q)⁻¹(I−Q)
//
// over skew-symmetric generators Q, where D is the spectral second-derivative
// operator and S the sampled signal matrix. Features:
// - Cayley-transform parametrization keeps P orthogonal by construction
// - analytic gradients on the skew-symmetric tangent space (no finite differencing)
// - limited-memory quasi-Newton (L-BFGS) driver over the free parameters
// - spectral-norm rescaling of DᵗD and SSᵗ for dimension-independent conditioning
// - pluggable dense linear-algebra backend
type Descrambler struct {
	n      int
	optDim int
	nIter  int

	guessMat mat.Matrix
	guess    *SkewSymmetric
	backend  Backend

	eval *evaluator
}

// Option defines a functional option for configuring a Descrambler.
type Option func(*Descrambler)

// WithIterations sets the optimizer iteration cap.
func WithIterations(n int) Option {
	return func(d *Descrambler) {
		d.nIter = n
	}
}

// WithGuess sets the initial generator. Only the strictly-lower triangle of
// the matrix is used; the default is the zero generator, i.e. starting from
// the identity basis.
func WithGuess(g mat.Matrix) Option {
	return func(d *Descrambler) {
		d.guessMat = g
	}
}

// WithBackend sets the dense linear-algebra backend.
func WithBackend(b Backend) Option {
	return func(d *Descrambler) {
		d.backend = b
	}
}

// New creates a Descrambler for a signal matrix whose d rows are the output
// channels of the layer being descrambled and whose m columns are samples.
// The signal is consumed only as SSᵗ; all validation happens here, before any
// optimization work.
func New(signal mat.Matrix, options ...Option) (*Descrambler, error) {
	if signal == nil {
		return nil, errors.New("signal matrix is required")
	}
	n, _ := signal.Dims()

	d := &Descrambler{
		n:       n,
		optDim:  skewDim(n),
		nIter:   DefaultIterations,
		backend: NewGonumBackend(),
	}

	// Apply options
	for _, opt := range options {
		opt(d)
	}

	if d.nIter <= 0 {
		return nil, fmt.Errorf("iteration cap must be positive, got %d", d.nIter)
	}
	if d.backend == nil {
		return nil, errors.New("backend is required")
	}

	eval, err := newEvaluator(signal, d.backend)
	if err != nil {
		return nil, err
	}
	d.eval = eval

	if d.guessMat != nil {
		r, c := d.guessMat.Dims()
		if r != n || c != n {
			return nil, fmt.Errorf("guess must be %dx%d to match the signal dimension, got %dx%d", n, n, r, c)
		}
		if d.guess, err = SkewSymmetricFromMatrix(d.guessMat); err != nil {
			return nil, fmt.Errorf("invalid guess: %w", err)
		}
	} else {
		if d.guess, err = NewZeroSkewSymmetric(n); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// Dim returns the signal dimension d (the order of the recovered basis).
func (d *Descrambler) Dim() int { return d.n }

// OptDim returns the number of free generator parameters, d(d−1)/2.
func (d *Descrambler) OptDim() int { return d.optDim }

// Objective evaluates the smoothness energy at a generator.
func (d *Descrambler) Objective(gen *SkewSymmetric) (float64, error) {
	if gen == nil {
		return 0, errors.New("generator is required")
	}
	if gen.Order() != d.n {
		return 0, fmt.Errorf("generator order %d != signal dimension %d", gen.Order(), d.n)
	}
	return d.eval.value(gen.params), nil
}

// Gradient evaluates the analytic gradient of the smoothness energy at a
// generator, packed like the generator parameters.
func (d *Descrambler) Gradient(gen *SkewSymmetric) ([]float64, error) {
	if gen == nil {
		return nil, errors.New("generator is required")
	}
	if gen.Order() != d.n {
		return nil, fmt.Errorf("generator order %d != signal dimension %d", gen.Order(), d.n)
	}

	grad := make([]float64, d.optDim)
	d.eval.gradient(grad, gen.params)
	return grad, nil
}

// Result holds the outcome of a descrambling run.
type Result struct {
	P *Orthogonal    // recovered orthogonal change of basis
	Q *SkewSymmetric // generator of P

	Objective        float64 // smoothness energy at P
	InitialObjective float64 // smoothness energy at the starting generator

	Iterations  int    // optimizer major iterations used
	Evaluations int    // objective evaluations used
	Status      string // optimizer termination status
}

// Run minimizes the smoothness energy and returns the recovered basis.
// The free parameters are unconstrained, so a plain quasi-Newton method
// applies; the generator parametrization carries the orthogonality
// constraint. Non-convergence within the iteration cap is not an error:
// the best iterate found is returned.
func (d *Descrambler) Run() (*Result, error) {
	q0 := d.guess.Params()
	initial := d.eval.value(q0)

	problem := optimize.Problem{
		Func: d.eval.value,
		Grad: d.eval.gradient,
	}
	settings := &optimize.Settings{
		MajorIterations: d.nIter,
	}

	res, err := optimize.Minimize(problem, q0, settings, &optimize.LBFGS{})
	if res == nil {
		return nil, fmt.Errorf("optimization failed: %w", err)
	}

	// Linesearch stalls and iteration-cap exits still carry a usable best
	// iterate; only a regression below the starting point is discarded.
	best, objective := res.X, res.F
	if objective > initial {
		best, objective = q0, initial
	}

	gen, err := NewSkewSymmetric(d.n, best)
	if err != nil {
		return nil, fmt.Errorf("optimizer returned invalid parameters: %w", err)
	}
	p, err := gen.cayley(d.backend)
	if err != nil {
		return nil, err
	}

	return &Result{
		P:                p,
		Q:                gen,
		Objective:        objective,
		InitialObjective: initial,
		Iterations:       res.Stats.MajorIterations,
		Evaluations:      res.Stats.FuncEvaluations,
		Status:           res.Status.String(),
	}, nil
}

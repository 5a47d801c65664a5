package descramble

import (
	"encoding/gob"
	"errors"
	"io"
)

// resultState represents the serializable state of a Result. The orthogonal
// matrix is not stored: it is reconstructed from the generator on load, so
// the persisted form can never violate the orthogonality invariant.
type resultState struct {
	Version          int
	Order            int
	Params           []float64
	Objective        float64
	InitialObjective float64
	Iterations       int
	Evaluations      int
	Status           string
}

// Save serializes the result to gob format.
func (r *Result) Save(w io.Writer) error {
	if r.Q == nil {
		return errors.New("result has no generator")
	}

	state := resultState{
		Version:          1,
		Order:            r.Q.Order(),
		Params:           r.Q.Params(),
		Objective:        r.Objective,
		InitialObjective: r.InitialObjective,
		Iterations:       r.Iterations,
		Evaluations:      r.Evaluations,
		Status:           r.Status,
	}
	return gob.NewEncoder(w).Encode(state)
}

// LoadResult deserializes a result from gob format, rebuilding the
// orthogonal basis from the stored generator.
func LoadResult(rd io.Reader) (*Result, error) {
	var state resultState
	if err := gob.NewDecoder(rd).Decode(&state); err != nil {
		return nil, err
	}
	if state.Version != 1 {
		return nil, errors.New("unsupported gob version")
	}

	gen, err := NewSkewSymmetric(state.Order, state.Params)
	if err != nil {
		return nil, err
	}
	p, err := gen.Cayley()
	if err != nil {
		return nil, err
	}

	return &Result{
		P:                p,
		Q:                gen,
		Objective:        state.Objective,
		InitialObjective: state.InitialObjective,
		Iterations:       state.Iterations,
		Evaluations:      state.Evaluations,
		Status:           state.Status,
	}, nil
}

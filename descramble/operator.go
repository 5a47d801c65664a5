package descramble

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"
)

// SpectralSecondDerivative builds the n×n matrix of the periodic
// second-derivative operator on a signal sampled at n equispaced points,
// using Fourier differentiation: column j is F⁻¹(−k² ⊙ F(eⱼ)) with the
// domain taken as one 2π period. The result is exact for band-limited
// periodic signals, unlike a local finite-difference stencil, so applying
// it twice penalizes high-frequency content at every circulant shift phase.
func SpectralSecondDerivative(n int) (*mat.Dense, error) {
	if n < 2 {
		return nil, fmt.Errorf("operator dimension must be at least 2, got %d", n)
	}

	fft := fourier.NewFFT(n)
	coeffs := make([]complex128, n/2+1)
	col := make([]float64, n)
	unit := make([]float64, n)

	d := mat.NewDense(n, n, nil)
	for j := 0; j < n; j++ {
		unit[j] = 1
		fft.Coefficients(coeffs, unit)
		unit[j] = 0

		// Mode k of the second derivative carries the multiplier −k².
		for k := range coeffs {
			coeffs[k] *= complex(-float64(k*k), 0)
		}

		fft.Sequence(col, coeffs)
		// The transform pair is unnormalized and scales by n.
		for i := 0; i < n; i++ {
			d.Set(i, j, col[i]/float64(n))
		}
	}

	return d, nil
}

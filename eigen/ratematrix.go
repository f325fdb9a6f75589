package eigen

import (
	"fmt"
	"math"

	"github.com/gonum/matrix/mat64"
	"gonum.org/v1/gonum/floats"
)

// Exchangeability builds the reversible rate matrix Q_ij = r_ij f_j,
// where r holds the upper triangle of the symmetric exchangeability
// matrix row by row (n(n-1)/2 values). Q is scaled to one expected
// substitution per unit time; the scale factor is returned.
func Exchangeability(r []float64, freqs []float64) (*mat64.Dense, float64, error) {
	n := len(freqs)
	if len(r) != n*(n-1)/2 {
		return nil, 0, fmt.Errorf("%d exchangeabilities for %d states, expected %d", len(r), n, n*(n-1)/2)
	}
	if err := CheckFrequencies(freqs); err != nil {
		return nil, 0, err
	}
	for i, v := range r {
		if v < 0 || math.IsNaN(v) {
			return nil, 0, fmt.Errorf("exchangeability %d is %v", i, v)
		}
	}
	Q := mat64.NewDense(n, n, nil)
	x := 0
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			Q.Set(i, j, r[x]*freqs[j])
			Q.Set(j, i, r[x]*freqs[i])
			x++
		}
	}
	scale, err := normalize(Q, freqs)
	return Q, scale, err
}

// EqualInput builds the rate matrix where the rate towards a state is
// proportional to its frequency, scaled to one expected substitution
// per unit time.
func EqualInput(freqs []float64) (*mat64.Dense, float64, error) {
	n := len(freqs)
	r := make([]float64, n*(n-1)/2)
	for i := range r {
		r[i] = 1
	}
	return Exchangeability(r, freqs)
}

// normalize fills the diagonal and scales Q so that
// -sum_i f_i Q_ii = 1.
func normalize(Q *mat64.Dense, freqs []float64) (float64, error) {
	n := len(freqs)
	row := make([]float64, n)
	rate := 0.0
	for i := 0; i < n; i++ {
		Q.Set(i, i, 0)
		mat64.Row(row, i, Q)
		s := floats.Sum(row)
		Q.Set(i, i, -s)
		rate += freqs[i] * s
	}
	if rate <= 0 {
		return 0, fmt.Errorf("rate matrix has no substitutions")
	}
	Q.Scale(1/rate, Q)
	return 1 / rate, nil
}

// CheckFrequencies requires at least two positive frequencies summing
// to one.
func CheckFrequencies(freqs []float64) error {
	if len(freqs) < 2 {
		return fmt.Errorf("need at least two states, got %d", len(freqs))
	}
	if floats.Min(freqs) <= 0 {
		return fmt.Errorf("frequencies must be positive: %v", freqs)
	}
	if s := floats.Sum(freqs); math.Abs(s-1) > 1e-6 {
		return fmt.Errorf("frequencies sum to %v", s)
	}
	return nil
}

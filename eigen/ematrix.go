// Package eigen builds reversible rate matrices and their spectral
// decompositions for the likelihood engine.
package eigen

import (
	"errors"
	"fmt"
	"math"

	"github.com/gonum/matrix/mat64"
	"github.com/op/go-logging"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"bitbucket.org/Davydov/plh/core"
)

// log is the global logging variable.
var log = logging.MustGetLogger("eigen")

// EMatrix is a reversible rate matrix Q with stationary frequencies
// and, once Eigen was called, its eigen decomposition
// Q = V diag(d) V^-1.
type EMatrix struct {
	Q     *mat64.Dense
	Freqs []float64
	// Scale is the factor applied to Q to get one expected
	// substitution per unit time.
	Scale float64
	v     *mat64.Dense
	d     []float64
	iv    *mat64.Dense
}

// NewEMatrix creates a new EMatrix from a rate matrix and its
// stationary frequencies.
func NewEMatrix(Q *mat64.Dense, freqs []float64, scale float64) *EMatrix {
	return &EMatrix{Q: Q, Freqs: freqs, Scale: scale}
}

// Set replaces the rate matrix and drops the decomposition.
func (m *EMatrix) Set(Q *mat64.Dense, freqs []float64, scale float64) {
	m.Q = Q
	m.Freqs = freqs
	m.Scale = scale
	m.v = nil
}

// Eigen decomposes the matrix. A reversible Q is similar to the
// symmetric matrix Pi^1/2 Q Pi^-1/2, which is decomposed instead.
func (m *EMatrix) Eigen() error {
	if m.v != nil {
		return nil
	}
	n, cols := m.Q.Dims()
	if n != cols {
		return errors.New("rate matrix isn't square")
	}
	if len(m.Freqs) != n {
		return fmt.Errorf("%d frequencies for %d states", len(m.Freqs), n)
	}
	sq := make([]float64, n)
	for i, f := range m.Freqs {
		if f <= 0 {
			return fmt.Errorf("frequency of state %d is %v, must be positive", i, f)
		}
		sq[i] = math.Sqrt(f)
	}

	a := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			// average out rounding asymmetry
			v := (m.Q.At(i, j)*sq[i]/sq[j] + m.Q.At(j, i)*sq[j]/sq[i]) / 2
			a.SetSym(i, j, v)
		}
	}
	var es mat.EigenSym
	if !es.Factorize(a, true) {
		return errors.New("eigen decomposition failed")
	}
	var u mat.Dense
	es.VectorsTo(&u)

	m.d = es.Values(nil)
	// the stationary eigenvalue must be exactly zero for infinite
	// branches
	tol := 1e-10 * floats.Norm(m.d, math.Inf(1))
	for i, v := range m.d {
		if math.Abs(v) < tol {
			m.d[i] = 0
		}
	}
	m.v = mat64.NewDense(n, n, nil)
	m.iv = mat64.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for k := 0; k < n; k++ {
			m.v.Set(i, k, u.At(i, k)/sq[i])
			m.iv.Set(k, i, u.At(i, k)*sq[i])
		}
	}
	log.Debugf("eigenvalues: %v", m.d)
	return nil
}

// Values returns the eigenvalues.
func (m *EMatrix) Values() []float64 {
	return m.d
}

// Decomposition returns the decomposition in the layout used by the
// likelihood engine.
func (m *EMatrix) Decomposition() (core.EigenDecomposition, error) {
	if err := m.Eigen(); err != nil {
		return core.EigenDecomposition{}, err
	}
	n := len(m.d)
	e := core.EigenDecomposition{
		Values:         make([]float64, n),
		Vectors:        make([]float64, n*n),
		InverseVectors: make([]float64, n*n),
	}
	copy(e.Values, m.d)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			e.Vectors[i*n+j] = m.v.At(i, j)
			e.InverseVectors[i*n+j] = m.iv.At(i, j)
		}
	}
	return e, nil
}

// Exp computes exp(Qt) through the decomposition. It allocates and is
// meant for checks and one-off computations.
func (m *EMatrix) Exp(t float64) (*mat64.Dense, error) {
	if err := m.Eigen(); err != nil {
		return nil, err
	}
	// This is a dirty hack to allow 0-scale matricies
	if math.IsInf(t, 1) {
		t = math.MaxFloat64
	}
	n := len(m.d)
	cD := mat64.NewDense(n, n, nil)
	for i, d := range m.d {
		cD.Set(i, i, math.Exp(d*t))
	}
	res := mat64.NewDense(n, n, nil)
	res.Mul(m.v, cD)
	res.Mul(res, m.iv)
	// Remove sligtly negative values
	res.Apply(func(r, c int, v float64) float64 {
		return math.Max(0, v)
	}, res)
	return res, nil
}

// CheckInverse verifies that the inverse eigenvectors invert the
// eigenvectors to tolerance tol.
func (m *EMatrix) CheckInverse(tol float64) error {
	if err := m.Eigen(); err != nil {
		return err
	}
	n := len(m.d)
	inv := mat64.NewDense(n, n, nil)
	if err := inv.Inverse(m.v); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if math.Abs(inv.At(i, j)-m.iv.At(i, j)) > tol {
				return fmt.Errorf("inverse mismatch at (%d, %d): %v != %v", i, j, inv.At(i, j), m.iv.At(i, j))
			}
		}
	}
	return nil
}

// CheckStochastic verifies that p is a transition probability matrix:
// entries in [0, 1+tol] and rows summing to one within tol.
func CheckStochastic(p *mat64.Dense, tol float64) error {
	rows, cols := p.Dims()
	row := make([]float64, cols)
	for i := 0; i < rows; i++ {
		mat64.Row(row, i, p)
		for j, v := range row {
			if v < -tol || v > 1+tol || math.IsNaN(v) {
				return fmt.Errorf("P[%d,%d]=%v is not a probability", i, j, v)
			}
		}
		if s := floats.Sum(row); math.Abs(s-1) > tol {
			return fmt.Errorf("row %d sums to %v", i, s)
		}
	}
	return nil
}

package core

import (
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
)

// EigenDecomposition is the spectral decomposition of a rate matrix:
// Q = V diag(Values) Vinv. Vectors and InverseVectors are row-major
// States x States.
type EigenDecomposition struct {
	Values         []float64
	Vectors        []float64
	InverseVectors []float64
}

// SetEigenDecomposition stores a new eigen system. The previous one stays
// available until Accept and comes back on Reject. Matrices are not
// recomputed; call UpdateTransitionMatrices for the affected branches.
func (c *Core[T]) SetEigenDecomposition(e EigenDecomposition) error {
	S := c.dims.States
	if len(e.Values) != S || len(e.Vectors) != S*S || len(e.InverseVectors) != S*S {
		return fmt.Errorf("%w: eigen system of sizes %d/%d/%d for %d states",
			ErrDimension, len(e.Values), len(e.Vectors), len(e.InverseVectors), S)
	}
	c.eigenIdx.flip(0)
	c.state = Dirty
	es := &c.eigen[c.eigenIdx.current(0)]
	copy(es.values, e.Values)
	for i := 0; i < S; i++ {
		for j := 0; j < S; j++ {
			cij := es.c[(i*S+j)*S : (i*S+j+1)*S]
			for k := range cij {
				cij[k] = e.Vectors[i*S+k] * e.InverseVectors[k*S+j]
			}
		}
	}
	es.set = true
	return nil
}

// UpdateTransitionMatrices recomputes the matrices of the given branches
// for every rate category: P = V diag(exp(values*t*rate)) Vinv. A branch
// is identified by the node below it. Only the working buffer is
// written.
func (c *Core[T]) UpdateTransitionMatrices(branches []int, lengths []float64, rates []float64) error {
	if len(lengths) != len(branches) {
		return fmt.Errorf("%w: %d branch lengths for %d branches", ErrDimension, len(lengths), len(branches))
	}
	if len(rates) != c.dims.Categories {
		return fmt.Errorf("%w: %d category rates for %d categories", ErrDimension, len(rates), c.dims.Categories)
	}
	for i, br := range branches {
		if err := c.checkNode(br); err != nil {
			return err
		}
		if !(lengths[i] >= 0) {
			return fmt.Errorf("%w: branch %d has length %v", ErrInvalidArgument, br, lengths[i])
		}
	}
	es := &c.eigen[c.eigenIdx.current(0)]
	if !es.set {
		return ErrNoEigen
	}

	for _, br := range branches {
		c.matIdx.flip(br)
	}
	c.state = Dirty

	if c.opts.workers == 1 || len(branches) == 1 {
		exps := <-c.expBuf
		for i, br := range branches {
			c.fillMatrices(es, br, lengths[i], rates, exps)
		}
		c.expBuf <- exps
	} else {
		g := new(errgroup.Group)
		g.SetLimit(c.opts.workers)
		for i, br := range branches {
			br, t := br, lengths[i]
			g.Go(func() error {
				exps := <-c.expBuf
				c.fillMatrices(es, br, t, rates, exps)
				c.expBuf <- exps
				return nil
			})
		}
		// workers never fail
		_ = g.Wait()
	}
	c.counters.matrices.Add(uint64(len(branches)))
	return nil
}

func (c *Core[T]) fillMatrices(es *eigenSystem, br int, t float64, rates []float64, exps []float64) {
	S := c.dims.States
	// exp(0*Inf) would give NaN for the zero eigenvalue
	if math.IsInf(t, 1) {
		t = math.MaxFloat64
	}
	for l, r := range rates {
		e := exps[l*S : (l+1)*S]
		for k, v := range es.values {
			e[k] = math.Exp(v * t * r)
		}
	}
	dst := c.matrices[c.matIdx.current(br)][br*c.brSize : (br+1)*c.brSize]
	for l := range rates {
		e := exps[l*S : (l+1)*S]
		m := dst[l*c.matSize : (l+1)*c.matSize]
		for ij := range m {
			cij := es.c[ij*S : (ij+1)*S]
			sum := 0.0
			for k, ek := range e {
				sum += cij[k] * ek
			}
			// Remove slightly negative values
			m[ij] = T(math.Max(0, sum))
		}
	}
}

// SetTransitionMatrix sets the matrix of one branch and category
// directly, row = parent state, column = child state.
func (c *Core[T]) SetTransitionMatrix(branch, category int, m []T) error {
	if err := c.checkNode(branch); err != nil {
		return err
	}
	if category < 0 || category >= c.dims.Categories {
		return fmt.Errorf("%w: category %d", ErrInvalidArgument, category)
	}
	if len(m) != c.matSize {
		return fmt.Errorf("%w: matrix of size %d for %d states", ErrDimension, len(m), c.dims.States)
	}
	c.FlipMatrices(branch)
	copy(c.matrix(branch, category), m)
	return nil
}

// TransitionMatrix returns the current matrix of a branch and category.
// The slice aliases engine storage and must not be modified.
func (c *Core[T]) TransitionMatrix(branch, category int) []T {
	return c.matrix(branch, category)
}

// StoredTransitionMatrix returns the last accepted matrix of a branch.
func (c *Core[T]) StoredTransitionMatrix(branch, category int) []T {
	off := branch*c.brSize + category*c.matSize
	return c.matrices[c.matIdx.stored(branch)][off : off+c.matSize]
}

// FlipMatrices redirects writes of the branch matrices to the spare
// buffer, which starts as a copy of the stored matrices. Matrix updates
// flip on their own; repeated flips within a transaction are ignored.
func (c *Core[T]) FlipMatrices(branch int) {
	if c.matIdx.flip(branch) {
		off := branch * c.brSize
		copy(c.matrices[c.matIdx.current(branch)][off:off+c.brSize],
			c.matrices[c.matIdx.stored(branch)][off:off+c.brSize])
	}
	c.state = Dirty
}

func (c *Core[T]) matrix(branch, category int) []T {
	off := branch*c.brSize + category*c.matSize
	return c.matrices[c.matIdx.current(branch)][off : off+c.matSize]
}

package core

import (
	"fmt"
	"math"
)

// CalculateLogLikelihood integrates the partials of root over rate
// categories and states and sums the pattern log-likelihoods:
//
//	logL = sum_k w_k (log sum_i f_i sum_l p_l root[l,k,i] + scale[root,k])
//
// where scale[root,k] accumulates the scaling factors of every internal
// node below root. A pattern with a non-positive sum contributes -Inf;
// patterns with zero weight are skipped.
//
// If rescaling was switched off automatically and a pattern sum falls
// below the scaling threshold, rescaling is switched on again and
// ErrRescaleRequired is returned. The error is returned until every
// internal node has been recomputed.
func (c *Core[T]) CalculateLogLikelihood(root int, proportions, freqs, weights []float64) (float64, error) {
	if err := c.checkRoot(root, proportions, freqs); err != nil {
		return 0, err
	}
	if len(weights) != c.dims.Patterns {
		return 0, fmt.Errorf("%w: %d pattern weights for %d patterns", ErrDimension, len(weights), c.dims.Patterns)
	}
	if err := c.checkUnderflow(root, proportions, freqs, weights); err != nil {
		return 0, err
	}
	buf := c.partIdx.current(root)
	part := c.nodePartials(root, buf)
	cum := c.nodeScale(c.cum, root, buf)
	lnL := 0.0
	for k, w := range weights {
		if w == 0 {
			continue
		}
		lnL += w * (math.Log(c.patternSum(part, k, proportions, freqs)) + cum[k])
	}
	log.Debugf("root=%d, lnL=%v", root, lnL)
	return lnL, nil
}

// PatternLogLikelihoods writes the log-likelihood of every pattern,
// including the scaling factors, into dst and returns it. dst is
// allocated if nil.
func (c *Core[T]) PatternLogLikelihoods(root int, proportions, freqs, dst []float64) ([]float64, error) {
	if err := c.checkRoot(root, proportions, freqs); err != nil {
		return nil, err
	}
	if dst == nil {
		dst = make([]float64, c.dims.Patterns)
	}
	if len(dst) != c.dims.Patterns {
		return nil, fmt.Errorf("%w: destination of length %d for %d patterns", ErrDimension, len(dst), c.dims.Patterns)
	}
	if err := c.checkUnderflow(root, proportions, freqs, nil); err != nil {
		return nil, err
	}
	buf := c.partIdx.current(root)
	part := c.nodePartials(root, buf)
	cum := c.nodeScale(c.cum, root, buf)
	for k := range dst {
		dst[k] = math.Log(c.patternSum(part, k, proportions, freqs)) + cum[k]
	}
	return dst, nil
}

func (c *Core[T]) checkRoot(root int, proportions, freqs []float64) error {
	if err := c.checkInternal(root); err != nil {
		return err
	}
	if len(proportions) != c.dims.Categories {
		return fmt.Errorf("%w: %d category proportions for %d categories", ErrDimension, len(proportions), c.dims.Categories)
	}
	if len(freqs) != c.dims.States {
		return fmt.Errorf("%w: %d frequencies for %d states", ErrDimension, len(freqs), c.dims.States)
	}
	return nil
}

// patternSum returns sum_i f_i sum_l p_l part[l,k,i]. Negative sums are
// reported as zero so that log gives -Inf.
func (c *Core[T]) patternSum(part []T, k int, proportions, freqs []float64) float64 {
	S := c.dims.States
	sum := 0.0
	for l, p := range proportions {
		row := part[(l*c.dims.Patterns+k)*S : (l*c.dims.Patterns+k+1)*S]
		cs := 0.0
		for i, f := range freqs {
			cs += f * float64(row[i])
		}
		sum += p * cs
	}
	if sum < 0 {
		return 0
	}
	return sum
}

// checkUnderflow detects patterns that would have been rescaled while
// rescaling is off. weights may be nil.
func (c *Core[T]) checkUnderflow(root int, proportions, freqs, weights []float64) error {
	if c.needFull {
		return ErrRescaleRequired
	}
	if !c.autoOff.Load() {
		return nil
	}
	part := c.nodePartials(root, c.partIdx.current(root))
	for k := 0; k < c.dims.Patterns; k++ {
		if weights != nil && weights[k] == 0 {
			continue
		}
		if c.patternSum(part, k, proportions, freqs) < c.opts.threshold {
			c.enableScaling()
			return ErrRescaleRequired
		}
	}
	return nil
}

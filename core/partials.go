package core

import (
	"fmt"
)

// SetTipStates sets the observed state of a tip for every pattern. A
// state outside [0, States) marks missing data: every state is
// compatible with the observation.
func (c *Core[T]) SetTipStates(tip int, states []int) error {
	if err := c.checkTip(tip); err != nil {
		return err
	}
	if len(states) != c.dims.Patterns {
		return fmt.Errorf("%w: %d tip states for %d patterns", ErrDimension, len(states), c.dims.Patterns)
	}
	S := c.dims.States
	ts := c.tipStates[tip]
	if ts == nil {
		ts = make([]int32, len(states))
		c.tipStates[tip] = ts
	}
	for k, s := range states {
		if s < 0 || s >= S {
			s = S
		}
		ts[k] = int32(s)
	}
	c.tipPartials[tip] = nil
	return nil
}

// SetTipPartials sets the observation vectors of a tip. p holds either
// Patterns*States values shared by all rate categories or
// Categories*Patterns*States values. Ambiguous observations are
// expressed by more than one non-zero state.
func (c *Core[T]) SetTipPartials(tip int, p []T) error {
	if err := c.checkTip(tip); err != nil {
		return err
	}
	var stride int
	switch len(p) {
	case c.catSize:
		stride = 0
	case c.nodeSize:
		stride = c.catSize
	default:
		return fmt.Errorf("%w: %d tip partials, expected %d or %d",
			ErrDimension, len(p), c.catSize, c.nodeSize)
	}
	tp := c.tipPartials[tip]
	if len(tp) != len(p) {
		tp = make([]T, len(p))
		c.tipPartials[tip] = tp
	}
	copy(tp, p)
	c.tipStride[tip] = stride
	c.tipStates[tip] = nil
	return nil
}

// TipStates returns the compact states of a tip, nil if the tip is
// stored as partials. Missing data is encoded as States.
func (c *Core[T]) TipStates(tip int) []int32 {
	return c.tipStates[tip]
}

func (c *Core[T]) hasTipData(tip int) bool {
	return c.tipStates[tip] != nil || c.tipPartials[tip] != nil
}

// CurrentPartials returns the working partials of a node laid out as
// (category, pattern, state). For tips it returns the tip partials, or
// nil if the tip is stored as states. The slice aliases engine storage.
func (c *Core[T]) CurrentPartials(node int) []T {
	if c.isTip(node) {
		return c.tipPartials[node]
	}
	return c.nodePartials(node, c.partIdx.current(node))
}

// StoredPartials returns the last accepted partials of a node.
func (c *Core[T]) StoredPartials(node int) []T {
	if c.isTip(node) {
		return c.tipPartials[node]
	}
	return c.nodePartials(node, c.partIdx.stored(node))
}

// CurrentScalingFactors returns the log scaling factors applied to the
// working partials of a node itself. Tips are never scaled and return
// nil.
func (c *Core[T]) CurrentScalingFactors(node int) []float64 {
	if c.isTip(node) {
		return nil
	}
	return c.nodeScale(c.scale, node, c.partIdx.current(node))
}

// StoredScalingFactors returns the log scaling factors of the last
// accepted partials of a node.
func (c *Core[T]) StoredScalingFactors(node int) []float64 {
	if c.isTip(node) {
		return nil
	}
	return c.nodeScale(c.scale, node, c.partIdx.stored(node))
}

// CumulativeScalingFactors returns, per pattern, the sum of the log
// scaling factors of a node and of every internal node below it.
func (c *Core[T]) CumulativeScalingFactors(node int) []float64 {
	if c.isTip(node) {
		return nil
	}
	return c.nodeScale(c.cum, node, c.partIdx.current(node))
}

// FlipPartials redirects writes of the node partials and scaling
// factors to the spare buffer. UpdatePartials flips parents on its own;
// repeated flips within a transaction are ignored so the accepted value
// is never overwritten.
func (c *Core[T]) FlipPartials(node int) error {
	if err := c.checkInternal(node); err != nil {
		return err
	}
	c.partIdx.flip(node)
	c.state = Dirty
	return nil
}

func (c *Core[T]) nodePartials(node, buf int) []T {
	off := (node - c.dims.Tips) * c.nodeSize
	return c.partials[buf][off : off+c.nodeSize]
}

func (c *Core[T]) nodeScale(arena [2][]float64, node, buf int) []float64 {
	P := c.dims.Patterns
	off := (node - c.dims.Tips) * P
	return arena[buf][off : off+P]
}

// childData is the read side of a child for one rate category.
type childData[T Float] struct {
	states   []int32
	partials []T
	cum      []float64
}

func (c *Core[T]) child(node, category int) childData[T] {
	if c.isTip(node) {
		if ts := c.tipStates[node]; ts != nil {
			return childData[T]{states: ts}
		}
		off := category * c.tipStride[node]
		return childData[T]{partials: c.tipPartials[node][off : off+c.catSize]}
	}
	buf := c.partIdx.current(node)
	off := (node-c.dims.Tips)*c.nodeSize + category*c.catSize
	return childData[T]{
		partials: c.partials[buf][off : off+c.catSize],
		cum:      c.nodeScale(c.cum, node, buf),
	}
}

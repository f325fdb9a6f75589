package core

import (
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
)

// Operation folds the partials of two children into their parent. The
// matrices used are those of the branches above the children.
//
// An operation list must be ordered children first: a node recomputed
// by the list may only be read by later operations. The engine does not
// check this unless created WithValidation; a misordered list silently
// reads stale partials.
type Operation struct {
	Child1 int
	Child2 int
	Parent int
}

// UpdatePartials executes the operations in order. Each parent is
// flipped, folded and rescaled before the next operation starts. Work
// on one operation is split between the workers by rate category and
// pattern chunk.
func (c *Core[T]) UpdatePartials(ops []Operation) error {
	if err := c.checkOperations(ops); err != nil {
		return err
	}
	if c.opts.validate {
		if err := validateOrder(ops); err != nil {
			return err
		}
	}
	for i := range ops {
		c.runBatch(ops[i : i+1])
	}
	c.afterUpdate()
	return nil
}

// UpdatePartialsBatches executes batches in order and the operations of
// one batch concurrently. No two operations of a batch may write the
// same parent, and no operation may read a parent written in the same
// batch.
func (c *Core[T]) UpdatePartialsBatches(batches [][]Operation) error {
	for _, b := range batches {
		if err := c.checkOperations(b); err != nil {
			return err
		}
	}
	if c.opts.validate {
		if err := validateBatches(batches); err != nil {
			return err
		}
	}
	for _, b := range batches {
		if len(b) > 0 {
			c.runBatch(b)
		}
	}
	c.afterUpdate()
	return nil
}

func (c *Core[T]) checkOperations(ops []Operation) error {
	for _, op := range ops {
		if err := c.checkInternal(op.Parent); err != nil {
			return fmt.Errorf("operation %v: %w", op, err)
		}
		for _, ch := range [2]int{op.Child1, op.Child2} {
			if err := c.checkNode(ch); err != nil {
				return fmt.Errorf("operation %v: %w", op, err)
			}
			if c.isTip(ch) && !c.hasTipData(ch) {
				return fmt.Errorf("%w: operation %v reads tip %d without data", ErrInvalidArgument, op, ch)
			}
		}
	}
	return nil
}

// runBatch flips the parents first so that workers only read the buffer
// index, then folds and rescales.
func (c *Core[T]) runBatch(ops []Operation) {
	for _, op := range ops {
		c.partIdx.flip(op.Parent)
	}
	c.state = Dirty
	C := c.dims.Categories
	P := c.dims.Patterns

	if c.opts.workers == 1 {
		for _, op := range ops {
			for l := 0; l < C; l++ {
				c.fold(op, l, 0, P)
			}
			c.rescale(op, 0, P)
		}
	} else {
		g := new(errgroup.Group)
		g.SetLimit(c.opts.workers)
		for _, op := range ops {
			for l := 0; l < C; l++ {
				for k0 := 0; k0 < P; k0 += c.chunk {
					op, l, k0, k1 := op, l, k0, min(k0+c.chunk, P)
					g.Go(func() error {
						c.fold(op, l, k0, k1)
						return nil
					})
				}
			}
		}
		_ = g.Wait()
		// scaling needs all categories of a pattern
		g = new(errgroup.Group)
		g.SetLimit(c.opts.workers)
		for _, op := range ops {
			for k0 := 0; k0 < P; k0 += c.chunk {
				op, k0, k1 := op, k0, min(k0+c.chunk, P)
				g.Go(func() error {
					c.rescale(op, k0, k1)
					return nil
				})
			}
		}
		_ = g.Wait()
	}
	c.counters.operations.Add(uint64(len(ops)))
	if c.needFull {
		c.markFresh(ops)
	}
}

// markFresh records parents recomputed with rescaling on. needFull is
// cleared once every internal node was recomputed.
func (c *Core[T]) markFresh(ops []Operation) {
	for _, op := range ops {
		i := op.Parent - c.dims.Tips
		if !c.fresh[i] {
			c.fresh[i] = true
			c.nFresh++
		}
	}
	if c.nFresh == len(c.fresh) {
		c.needFull = false
		log.Debug("All partials recomputed with rescaling")
	}
}

// markStale requires every internal node to be recomputed before the
// next integration.
func (c *Core[T]) markStale() {
	c.needFull = true
	c.nFresh = 0
	for i := range c.fresh {
		c.fresh[i] = false
	}
}

// fold computes category l of the parent partials for patterns k0..k1-1.
func (c *Core[T]) fold(op Operation, l, k0, k1 int) {
	S := c.dims.States
	off := (op.Parent-c.dims.Tips)*c.nodeSize + l*c.catSize
	dst := c.partials[c.partIdx.current(op.Parent)][off : off+c.catSize]
	m1, m2 := c.matrix(op.Child1, l), c.matrix(op.Child2, l)
	d1, d2 := c.child(op.Child1, l), c.child(op.Child2, l)

	switch {
	case d1.states != nil && d2.states != nil:
		statesStates(dst, d1.states, m1, d2.states, m2, k0, k1, S)
	case d1.states != nil:
		statesPartials(dst, d1.states, m1, d2.partials, m2, k0, k1, S)
	case d2.states != nil:
		statesPartials(dst, d2.states, m2, d1.partials, m1, k0, k1, S)
	case c.gemm != nil:
		for k := k0; k < k1; k += c.chunk {
			kk := min(k+c.chunk, k1)
			scratch := <-c.scratch
			c.gemm(dst, d1.partials, m1, d2.partials, m2, k, kk, S, scratch)
			c.scratch <- scratch
		}
	default:
		partialsPartials(dst, d1.partials, m1, d2.partials, m2, k0, k1, S)
	}
}

// rescale normalizes patterns k0..k1-1 of a freshly folded parent and
// writes its own and cumulative log scaling factors.
func (c *Core[T]) rescale(op Operation, k0, k1 int) {
	S := c.dims.States
	P := c.dims.Patterns
	C := c.dims.Categories
	buf := c.partIdx.current(op.Parent)
	part := c.nodePartials(op.Parent, buf)
	own := c.nodeScale(c.scale, op.Parent, buf)
	cum := c.nodeScale(c.cum, op.Parent, buf)
	var cum1, cum2 []float64
	if !c.isTip(op.Child1) {
		cum1 = c.nodeScale(c.cum, op.Child1, c.partIdx.current(op.Child1))
	}
	if !c.isTip(op.Child2) {
		cum2 = c.nodeScale(c.cum, op.Child2, c.partIdx.current(op.Child2))
	}

	active := c.ScalingActive()
	threshold := c.opts.threshold
	var sum float64
	var scaled uint64
	for k := k0; k < k1; k++ {
		f := 0.0
		if active {
			var max T
			for l := 0; l < C; l++ {
				for _, v := range part[(l*P+k)*S : (l*P+k+1)*S] {
					if v > max {
						max = v
					}
				}
			}
			if max > 0 && float64(max) < threshold {
				for l := 0; l < C; l++ {
					row := part[(l*P+k)*S : (l*P+k+1)*S]
					for i := range row {
						row[i] /= max
					}
				}
				f = math.Log(float64(max))
				sum += f
				scaled++
			}
		}
		own[k] = f
		if cum1 != nil {
			f += cum1[k]
		}
		if cum2 != nil {
			f += cum2[k]
		}
		cum[k] = f
	}
	if scaled > 0 {
		c.counters.scaledPatterns.Add(scaled)
		c.scaleMu.Lock()
		c.scaleSum += sum
		c.scaleMu.Unlock()
	}
}

// afterUpdate switches rescaling off once if it was never needed during
// the first check calls.
func (c *Core[T]) afterUpdate() {
	c.counters.updates.Add(1)
	c.calls++
	if c.opts.check == 0 || c.pinned || c.autoOff.Load() || !c.opts.scaling {
		return
	}
	if c.calls < c.opts.check {
		return
	}
	if c.scaleSum == 0 {
		c.autoOff.Store(true)
		log.Infof("No partials rescaled in %d updates, rescaling disabled", c.calls)
	} else {
		c.pinned = true
		log.Debugf("Rescaling needed (sum of log factors %g), keeping it", c.scaleSum)
	}
}

// enableScaling switches rescaling back on for good. Partials computed
// before are unusable until recomputed.
func (c *Core[T]) enableScaling() {
	c.autoOff.Store(false)
	c.pinned = true
	c.storedUnscaled = true
	c.markStale()
	c.counters.rescales.Add(1)
	log.Info("Partials underflow, rescaling enabled")
}

// validateOrder checks that no operation reads a node written later in
// the list, no parent is written twice and no operation reads its own
// parent.
func validateOrder(ops []Operation) error {
	later := make(map[int]int, len(ops))
	for i, op := range ops {
		if _, ok := later[op.Parent]; ok {
			return fmt.Errorf("%w: node %d is computed twice", ErrOperationOrder, op.Parent)
		}
		later[op.Parent] = i
	}
	for i, op := range ops {
		for _, ch := range [2]int{op.Child1, op.Child2} {
			if ch == op.Parent {
				return fmt.Errorf("%w: operation %v reads its own parent", ErrOperationOrder, op)
			}
			if j, ok := later[ch]; ok && j > i {
				return fmt.Errorf("%w: node %d is read by operation %d before it is computed by operation %d",
					ErrOperationOrder, ch, i, j)
			}
		}
	}
	return nil
}

func validateBatches(batches [][]Operation) error {
	written := make(map[int]bool)
	for bi, b := range batches {
		parents := make(map[int]bool, len(b))
		for _, op := range b {
			if parents[op.Parent] || written[op.Parent] {
				return fmt.Errorf("%w: node %d is computed twice", ErrOperationOrder, op.Parent)
			}
			parents[op.Parent] = true
		}
		for _, op := range b {
			for _, ch := range [2]int{op.Child1, op.Child2} {
				if parents[ch] {
					return fmt.Errorf("%w: batch %d reads node %d it computes", ErrOperationOrder, bi, ch)
				}
			}
		}
		for p := range parents {
			written[p] = true
		}
	}
	// a node computed in a later batch must not be read earlier
	computedAt := make(map[int]int)
	for bi, b := range batches {
		for _, op := range b {
			computedAt[op.Parent] = bi
		}
	}
	for bi, b := range batches {
		for _, op := range b {
			for _, ch := range [2]int{op.Child1, op.Child2} {
				if j, ok := computedAt[ch]; ok && j > bi {
					return fmt.Errorf("%w: node %d is read in batch %d before it is computed in batch %d",
						ErrOperationOrder, ch, bi, j)
				}
			}
		}
	}
	return nil
}

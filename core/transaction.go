package core

// State is the transaction state of an engine.
type State int

const (
	// Clean means the working values equal the stored ones.
	Clean State = iota
	// Dirty means some matrices, partials or the eigen system were
	// recomputed and not yet accepted or rejected.
	Dirty
)

func (s State) String() string {
	switch s {
	case Clean:
		return "clean"
	case Dirty:
		return "dirty"
	}
	return "unknown"
}

// State returns the transaction state.
func (c *Core[T]) State() State {
	return c.state
}

// Propose marks the start of a speculative change. Flipping buffers
// does the same, so calling it is optional.
func (c *Core[T]) Propose() {
	c.state = Dirty
}

// Accept makes the working values the stored ones. The cost is
// proportional to the number of entries recomputed since the last
// Accept or Reject.
func (c *Core[T]) Accept() {
	if !c.needFull {
		c.storedUnscaled = false
	}
	if c.state == Clean {
		return
	}
	c.partIdx.accept()
	c.matIdx.accept()
	c.eigenIdx.accept()
	c.state = Clean
	c.counters.accepts.Add(1)
}

// Reject discards everything computed since the last Accept. No
// numbers are copied or recomputed and nothing is allocated. If
// rescaling was switched back on since the last Accept, the restored
// partials are unscaled and have to be recomputed.
func (c *Core[T]) Reject() {
	if c.state == Clean {
		return
	}
	c.partIdx.reject()
	c.matIdx.reject()
	c.eigenIdx.reject()
	c.state = Clean
	c.counters.rejects.Add(1)
	if c.storedUnscaled {
		c.markStale()
	}
}

// StoreState is Accept.
func (c *Core[T]) StoreState() {
	c.Accept()
}

// RestoreState is Reject.
func (c *Core[T]) RestoreState() {
	c.Reject()
}

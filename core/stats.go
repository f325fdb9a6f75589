package core

// Stats are engine counters since creation.
type Stats struct {
	// Updates is the number of UpdatePartials and
	// UpdatePartialsBatches calls.
	Updates uint64
	// Operations is the number of executed operations.
	Operations uint64
	// Matrices is the number of recomputed branches.
	Matrices uint64
	// ScaledPatterns counts patterns rescaled, per node.
	ScaledPatterns uint64
	Accepts        uint64
	Rejects        uint64
	// Rescales counts switching rescaling back on after an underflow.
	Rescales uint64
	// ScalingActive reports whether partials are currently rescaled.
	ScalingActive bool
}

// Stats returns a snapshot of the engine counters. It is safe to call
// concurrently with a computation.
func (c *Core[T]) Stats() Stats {
	return Stats{
		Updates:        c.counters.updates.Load(),
		Operations:     c.counters.operations.Load(),
		Matrices:       c.counters.matrices.Load(),
		ScaledPatterns: c.counters.scaledPatterns.Load(),
		Accepts:        c.counters.accepts.Load(),
		Rejects:        c.counters.rejects.Load(),
		Rescales:       c.counters.rescales.Load(),
		ScalingActive:  c.ScalingActive(),
	}
}

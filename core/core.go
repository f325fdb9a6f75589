// Package core implements the partial-likelihood propagation engine.
//
// A Core owns, for a fixed number of nodes, patterns, states and rate
// categories, the transition matrices of every branch, the partials and
// scaling factors of every internal node and the tip data. Everything is
// allocated once in New. Matrices, partials and the eigen system are
// double-buffered: every recomputation writes to the spare buffer, Accept
// makes it the stored one and Reject discards it without touching any
// numbers.
//
// The engine does not walk trees. Callers pass operation lists ordered
// children first; see Operation.
package core

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/op/go-logging"
)

// log is the global logging variable.
var log = logging.MustGetLogger("core")

// Float is the element type of partials and transition matrices.
type Float interface {
	~float32 | ~float64
}

// Dims are the sizes fixed at initialization. Tips are nodes
// 0..Tips-1, internal nodes are Tips..Nodes-1.
type Dims struct {
	Nodes      int
	Tips       int
	Patterns   int
	States     int
	Categories int
}

func (d Dims) validate() error {
	switch {
	case d.Tips < 1:
		return fmt.Errorf("%w: tip count %d", ErrDimension, d.Tips)
	case d.Nodes <= d.Tips:
		return fmt.Errorf("%w: node count %d with %d tips", ErrDimension, d.Nodes, d.Tips)
	case d.Patterns < 1:
		return fmt.Errorf("%w: pattern count %d", ErrDimension, d.Patterns)
	case d.States < 1:
		return fmt.Errorf("%w: state count %d", ErrDimension, d.States)
	case d.Categories < 1:
		return fmt.Errorf("%w: category count %d", ErrDimension, d.Categories)
	}
	return nil
}

// Option configures a Core.
type Option func(*settings)

type settings struct {
	scaling   bool
	threshold float64
	check     int
	workers   int
	chunk     int
	validate  bool
	blas      bool
}

// WithScaling turns rescaling of partials on or off. It is on by
// default.
func WithScaling(on bool) Option {
	return func(s *settings) { s.scaling = on }
}

// WithScalingThreshold sets the per-pattern maximum below which partials
// are rescaled. The default is 1e-30 for float64 and 1e-15 for float32.
func WithScalingThreshold(t float64) Option {
	return func(s *settings) { s.threshold = t }
}

// WithScalingCheck sets the number of UpdatePartials calls after which
// rescaling is switched off if no pattern needed it so far. Zero keeps
// rescaling on for good.
func WithScalingCheck(calls int) Option {
	return func(s *settings) { s.check = calls }
}

// WithWorkers sets the number of goroutines used to fold partials and
// compute matrices. One means fully serial execution.
func WithWorkers(n int) Option {
	return func(s *settings) { s.workers = n }
}

// WithChunkSize sets the number of patterns folded by a single work
// unit. By default patterns are split evenly between the workers.
func WithChunkSize(n int) Option {
	return func(s *settings) { s.chunk = n }
}

// WithValidation enables ordering checks of operation lists.
func WithValidation(on bool) Option {
	return func(s *settings) { s.validate = on }
}

// WithBLAS folds two internal children with a matrix-matrix product
// when the element type is float32 or float64.
func WithBLAS(on bool) Option {
	return func(s *settings) { s.blas = on }
}

// eigenSystem is one buffer of the spectral decomposition. c holds
// V[i,k]*Vinv[k,j] at (i*S+j)*S+k.
type eigenSystem struct {
	values []float64
	c      []float64
	set    bool
}

// gemmFunc folds two partials children of one category for patterns
// k0..k1-1 using a matrix product.
type gemmFunc[T Float] func(dst, p1, m1, p2, m2 []T, k0, k1, s int, scratch []T)

// Core is the likelihood engine for a single tree shape.
type Core[T Float] struct {
	dims Dims
	opts settings

	// sizes
	catSize  int // Patterns*States
	nodeSize int // Categories*Patterns*States
	matSize  int // States*States
	brSize   int // Categories*States*States
	chunk    int

	eigen    [2]eigenSystem
	eigenIdx *bufferIndex

	matrices [2][]T
	matIdx   *bufferIndex

	partials [2][]T
	scale    [2][]float64
	cum      [2][]float64
	partIdx  *bufferIndex

	tipStates   [][]int32
	tipPartials [][]T
	// tipStride is zero for tip partials shared by all categories.
	tipStride []int

	gemm    gemmFunc[T]
	scratch chan []T
	expBuf  chan []float64

	// rescaling state
	scaleMu  sync.Mutex
	scaleSum float64
	calls    int
	autoOff  atomic.Bool
	pinned   bool
	// needFull is set while partials computed without rescaling are
	// still in use; fresh marks internal nodes recomputed since.
	needFull bool
	fresh    []bool
	nFresh   int
	// storedUnscaled is set while the stored buffers may hold
	// partials computed without rescaling.
	storedUnscaled bool

	state State

	counters counters
}

type counters struct {
	updates        atomic.Uint64
	operations     atomic.Uint64
	matrices       atomic.Uint64
	scaledPatterns atomic.Uint64
	accepts        atomic.Uint64
	rejects        atomic.Uint64
	rescales       atomic.Uint64
}

// New allocates an engine. All storage is allocated here and never
// resized.
func New[T Float](dims Dims, options ...Option) (*Core[T], error) {
	if err := dims.validate(); err != nil {
		return nil, err
	}
	opts := settings{
		scaling: true,
		check:   0,
		workers: 1,
	}
	if singlePrecision[T]() {
		opts.threshold = 1e-15
	} else {
		opts.threshold = 1e-30
	}
	for _, o := range options {
		o(&opts)
	}
	if opts.workers < 1 {
		return nil, fmt.Errorf("%w: %d workers", ErrInvalidArgument, opts.workers)
	}
	if opts.check < 0 {
		return nil, fmt.Errorf("%w: scaling check %d", ErrInvalidArgument, opts.check)
	}
	if math.IsNaN(opts.threshold) || opts.threshold <= 0 {
		return nil, fmt.Errorf("%w: scaling threshold %v", ErrInvalidArgument, opts.threshold)
	}

	S, P, C := dims.States, dims.Patterns, dims.Categories
	internal := dims.Nodes - dims.Tips
	c := &Core[T]{
		dims:     dims,
		opts:     opts,
		catSize:  P * S,
		nodeSize: C * P * S,
		matSize:  S * S,
		brSize:   C * S * S,
		eigenIdx: newBufferIndex(1),
		matIdx:   newBufferIndex(dims.Nodes),
		partIdx:  newBufferIndex(dims.Nodes),

		tipStates:   make([][]int32, dims.Tips),
		tipPartials: make([][]T, dims.Tips),
		tipStride:   make([]int, dims.Tips),
		fresh:       make([]bool, internal),
		state:       Clean,
	}

	c.chunk = opts.chunk
	if c.chunk <= 0 || c.chunk > P {
		c.chunk = (P + opts.workers - 1) / opts.workers
	}

	for b := 0; b < 2; b++ {
		c.eigen[b] = eigenSystem{
			values: make([]float64, S),
			c:      make([]float64, S*S*S),
		}
		c.matrices[b] = make([]T, dims.Nodes*c.brSize)
		c.partials[b] = make([]T, internal*c.nodeSize)
		c.scale[b] = make([]float64, internal*P)
		c.cum[b] = make([]float64, internal*P)
	}

	c.expBuf = make(chan []float64, opts.workers)
	for i := 0; i < opts.workers; i++ {
		c.expBuf <- make([]float64, C*S)
	}

	if opts.blas {
		switch e := any(c).(type) {
		case *Core[float64]:
			e.gemm = gemm64
		case *Core[float32]:
			e.gemm = gemm32
		default:
			log.Warning("No BLAS kernel for this element type, using loops")
		}
		if c.gemm != nil {
			c.scratch = make(chan []T, opts.workers)
			for i := 0; i < opts.workers; i++ {
				c.scratch <- make([]T, 2*c.chunk*S)
			}
		}
	}

	log.Debugf("core: %d nodes, %d tips, %d patterns, %d states, %d categories, %d workers, chunk=%d",
		dims.Nodes, dims.Tips, P, S, C, opts.workers, c.chunk)
	return c, nil
}

// singlePrecision reports whether T cannot hold the smallest float64.
func singlePrecision[T Float]() bool {
	tiny := math.SmallestNonzeroFloat64
	return float64(T(tiny)) == 0
}

// Dims returns the sizes the engine was created with.
func (c *Core[T]) Dims() Dims {
	return c.dims
}

// Workers returns the number of goroutines used for a computation.
func (c *Core[T]) Workers() int {
	return c.opts.workers
}

// ScalingActive reports whether rescaling is currently applied to
// recomputed partials.
func (c *Core[T]) ScalingActive() bool {
	return c.opts.scaling && !c.autoOff.Load()
}

// ScalingThreshold returns the rescaling threshold.
func (c *Core[T]) ScalingThreshold() float64 {
	return c.opts.threshold
}

func (c *Core[T]) isTip(node int) bool {
	return node < c.dims.Tips
}

func (c *Core[T]) checkNode(node int) error {
	if node < 0 || node >= c.dims.Nodes {
		return fmt.Errorf("%w: node %d not in [0, %d)", ErrInvalidArgument, node, c.dims.Nodes)
	}
	return nil
}

func (c *Core[T]) checkInternal(node int) error {
	if node < c.dims.Tips || node >= c.dims.Nodes {
		return fmt.Errorf("%w: node %d is not an internal node", ErrInvalidArgument, node)
	}
	return nil
}

func (c *Core[T]) checkTip(tip int) error {
	if tip < 0 || tip >= c.dims.Tips {
		return fmt.Errorf("%w: tip %d not in [0, %d)", ErrInvalidArgument, tip, c.dims.Tips)
	}
	return nil
}

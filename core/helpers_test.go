package core

import (
	"math"
	"math/rand"
	"testing"

	"github.com/op/go-logging"
)

const smallDiff = 1e-9

func init() {
	logging.SetLevel(logging.ERROR, "core")
}

// fixture is a random binary tree with random matrices and tip states.
// Tips are 0..n-1, internal nodes n..2n-2 in the order they are created,
// the root is 2n-2.
type fixture struct {
	n, s, p, c int
	ops        []Operation
	parent     []int
	root       int
	mats       [][]float64
	states     [][]int
	props      []float64
	freqs      []float64
	weights    []float64
}

func randomMatrix(rng *rand.Rand, s int) []float64 {
	m := make([]float64, s*s)
	for i := 0; i < s; i++ {
		sum := 0.0
		for j := 0; j < s; j++ {
			v := rng.Float64() + 0.01
			if i == j {
				v += 2
			}
			m[i*s+j] = v
			sum += v
		}
		for j := 0; j < s; j++ {
			m[i*s+j] /= sum
		}
	}
	return m
}

func randomDistribution(rng *rand.Rand, n int) []float64 {
	d := make([]float64, n)
	sum := 0.0
	for i := range d {
		d[i] = rng.Float64() + 0.1
		sum += d[i]
	}
	for i := range d {
		d[i] /= sum
	}
	return d
}

func newFixture(rng *rand.Rand, n, s, p, c int) *fixture {
	f := &fixture{
		n: n, s: s, p: p, c: c,
		parent: make([]int, 2*n-1),
		root:   2*n - 2,
	}
	avail := make([]int, n)
	for i := range avail {
		avail[i] = i
	}
	next := n
	for len(avail) > 1 {
		i := rng.Intn(len(avail))
		a := avail[i]
		avail = append(avail[:i], avail[i+1:]...)
		j := rng.Intn(len(avail))
		b := avail[j]
		avail = append(avail[:j], avail[j+1:]...)
		f.ops = append(f.ops, Operation{Child1: a, Child2: b, Parent: next})
		f.parent[a] = next
		f.parent[b] = next
		avail = append(avail, next)
		next++
	}
	f.parent[f.root] = -1

	f.mats = make([][]float64, 2*n-1)
	for node := range f.mats {
		f.mats[node] = make([]float64, 0, c*s*s)
		for l := 0; l < c; l++ {
			f.mats[node] = append(f.mats[node], randomMatrix(rng, s)...)
		}
	}
	f.states = make([][]int, n)
	for t := range f.states {
		f.states[t] = make([]int, p)
		for k := range f.states[t] {
			if rng.Intn(20) == 0 {
				f.states[t][k] = -1
			} else {
				f.states[t][k] = rng.Intn(s)
			}
		}
	}
	f.props = randomDistribution(rng, c)
	f.freqs = randomDistribution(rng, s)
	f.weights = make([]float64, p)
	for k := range f.weights {
		f.weights[k] = float64(1 + rng.Intn(5))
	}
	return f
}

func (f *fixture) dims() Dims {
	return Dims{Nodes: 2*f.n - 1, Tips: f.n, Patterns: f.p, States: f.s, Categories: f.c}
}

// pathOps returns the operations recomputing all ancestors of node.
func (f *fixture) pathOps(node int) (ops []Operation) {
	byParent := make(map[int]Operation, len(f.ops))
	for _, op := range f.ops {
		byParent[op.Parent] = op
	}
	for p := f.parent[node]; p >= 0; p = f.parent[p] {
		ops = append(ops, byParent[p])
	}
	return
}

// batches groups the operations by height.
func (f *fixture) batches() [][]Operation {
	height := make([]int, 2*f.n-1)
	var res [][]Operation
	for _, op := range f.ops {
		h := 1 + max(height[op.Child1], height[op.Child2])
		height[op.Parent] = h
		for len(res) < h {
			res = append(res, nil)
		}
		res[h-1] = append(res[h-1], op)
	}
	return res
}

func convert[T Float](v []float64) []T {
	r := make([]T, len(v))
	for i, x := range v {
		r[i] = T(x)
	}
	return r
}

func setMatrices[T Float](tst *testing.T, c *Core[T], f *fixture, node int) {
	for l := 0; l < f.c; l++ {
		m := f.mats[node][l*f.s*f.s : (l+1)*f.s*f.s]
		if err := c.SetTransitionMatrix(node, l, convert[T](m)); err != nil {
			tst.Fatal(err)
		}
	}
}

// load sets tips and matrices, computes all partials and accepts.
func load[T Float](tst *testing.T, c *Core[T], f *fixture) {
	for t := 0; t < f.n; t++ {
		if err := c.SetTipStates(t, f.states[t]); err != nil {
			tst.Fatal(err)
		}
	}
	for node := 0; node < f.root; node++ {
		setMatrices(tst, c, f, node)
	}
	if err := c.UpdatePartials(f.ops); err != nil {
		tst.Fatal(err)
	}
	c.Accept()
}

func logL[T Float](tst *testing.T, c *Core[T], f *fixture) float64 {
	l, err := c.CalculateLogLikelihood(f.root, f.props, f.freqs, f.weights)
	if err != nil {
		tst.Fatal(err)
	}
	return l
}

func relDiff(a, b float64) float64 {
	if a == b {
		return 0
	}
	return math.Abs(a-b) / math.Max(math.Abs(a), math.Abs(b))
}

// twoState returns the eigen system of the symmetric two-state model
// with rate one between the states.
func twoState() EigenDecomposition {
	return EigenDecomposition{
		Values:         []float64{0, -2},
		Vectors:        []float64{1, 1, 1, -1},
		InverseVectors: []float64{0.5, 0.5, 0.5, -0.5},
	}
}

// jc4 returns the eigen system of the four-state equal rates model
// with one expected substitution per unit time.
func jc4() EigenDecomposition {
	h := []float64{
		1, 1, 1, 1,
		1, -1, 1, -1,
		1, 1, -1, -1,
		1, -1, -1, 1,
	}
	v := make([]float64, 16)
	for i := range h {
		v[i] = h[i] / 2
	}
	return EigenDecomposition{
		Values:         []float64{0, -4.0 / 3, -4.0 / 3, -4.0 / 3},
		Vectors:        v,
		InverseVectors: v,
	}
}

package treelh

import (
	"bytes"
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/plh/bio"
	"bitbucket.org/Davydov/plh/core"
	"bitbucket.org/Davydov/plh/sitemodel"
	"bitbucket.org/Davydov/plh/tree"
)

const smallDiff = 1e-9

func init() {
	for _, m := range []string{"treelh", "core", "tree", "bio", "sitemodel", "eigen", "dist"} {
		logging.SetLevel(logging.ERROR, m)
	}
}

func parse(tst *testing.T, s string) *tree.Tree {
	t, err := tree.ParseNewick(bytes.NewBufferString(s))
	if err != nil {
		tst.Fatal(err)
	}
	return t
}

// randomTree returns a caterpillar-free random topology with n leaves
// named s0..s(n-1).
func randomTree(rng *rand.Rand, n int) string {
	nodes := make([]string, n)
	for i := range nodes {
		nodes[i] = fmt.Sprintf("s%d:%f", i, 0.01+rng.Float64()*0.3)
	}
	for len(nodes) > 1 {
		i := rng.Intn(len(nodes))
		a := nodes[i]
		nodes = append(nodes[:i], nodes[i+1:]...)
		j := rng.Intn(len(nodes))
		b := nodes[j]
		nodes = append(nodes[:j], nodes[j+1:]...)
		nodes = append(nodes, fmt.Sprintf("(%s,%s):%f", a, b, 0.01+rng.Float64()*0.3))
	}
	return nodes[0] + ";"
}

func randomAlignment(rng *rand.Rand, n, length int) bio.Sequences {
	const letters = "ACGTACGTACGTRN-"
	seqs := make(bio.Sequences, n)
	// a common ancestor keeps the likelihood realistic
	anc := make([]byte, length)
	for i := range anc {
		anc[i] = "ACGT"[rng.Intn(4)]
	}
	for i := range seqs {
		s := make([]byte, length)
		for k := range s {
			if rng.Intn(3) == 0 {
				s[k] = letters[rng.Intn(len(letters))]
			} else {
				s[k] = anc[k]
			}
		}
		seqs[i] = bio.Sequence{Name: fmt.Sprintf("s%d", i), Sequence: string(s)}
	}
	return seqs
}

func newModel[T core.Float](tst *testing.T, nwk string, seqs bio.Sequences, ncat int, s Settings) *TreeLikelihood[T] {
	t := parse(tst, nwk)
	pat, err := bio.Compress(seqs)
	if err != nil {
		tst.Fatal(err)
	}
	site, err := sitemodel.New(ncat, true, false)
	if err != nil {
		tst.Fatal(err)
	}
	site.Alpha = 0.7
	site.PInv = 0.1
	m, err := New[T](t, pat, site, pat.Frequencies(), s)
	if err != nil {
		tst.Fatal(err)
	}
	m.SetOptimizeBranchLengths()
	m.SetOptimizeSiteModel()
	m.SetOptimizeRates()
	return m
}

func relDiff(a, b float64) float64 {
	if a == b {
		return 0
	}
	return math.Abs(a-b) / math.Max(math.Abs(a), math.Abs(b))
}

func TestTwoTaxa(tst *testing.T) {
	t := parse(tst, "(a:0.1,b:0.2);")
	seqs := bio.Sequences{{"a", "AACGTT"}, {"b", "AACGTA"}}
	pat, err := bio.Compress(seqs)
	if err != nil {
		tst.Fatal(err)
	}
	site, _ := sitemodel.New(1, false, false)
	freqs := []float64{0.25, 0.25, 0.25, 0.25}
	m, err := New[float64](t, pat, site, freqs, Settings{})
	if err != nil {
		tst.Fatal(err)
	}
	e := math.Exp(-4. / 3 * 0.3)
	same := 0.25 + 0.75*e
	diff := 0.25 - 0.25*e
	exp := 5*math.Log(0.25*same) + math.Log(0.25*diff)
	if l := m.Likelihood(); math.Abs(l-exp) > smallDiff {
		tst.Error("Wrong likelihood:", l, exp)
	}
}

func TestIncremental(tst *testing.T) {
	rng := rand.New(rand.NewSource(1))
	nwk := randomTree(rng, 12)
	seqs := randomAlignment(rng, 12, 200)
	m := newModel[float64](tst, nwk, seqs, 4, Settings{})
	if l0 := m.Likelihood(); math.IsInf(l0, 0) || math.IsNaN(l0) || l0 >= 0 {
		tst.Fatal("Incorrect initial likelihood:", l0)
	}
	m.Accept()

	pars := m.GetFloatParameters()
	for i := 0; i < 30; i++ {
		par := pars[rng.Intn(len(pars))]
		par.Set(par.Get() * (0.8 + 0.4*rng.Float64()))
		l := m.Likelihood()
		m.Accept()

		// the same state computed from scratch
		fresh := newModel[float64](tst, m.Tree().String(), seqs, 4, Settings{})
		fresh.GetFloatParameters().SetValues(pars.Values(nil))
		if lf := fresh.Likelihood(); relDiff(l, lf) > smallDiff {
			tst.Errorf("Incremental likelihood %v, full %v after changing %s", l, lf, par.Name())
		}
	}
	if m.Core().Stats().Operations >= uint64(31*len(m.allOps)) {
		tst.Error("Incremental updates recompute the whole tree")
	}
}

func TestReject(tst *testing.T) {
	rng := rand.New(rand.NewSource(2))
	nwk := randomTree(rng, 10)
	seqs := randomAlignment(rng, 10, 150)
	m := newModel[float64](tst, nwk, seqs, 4, Settings{})
	l0 := m.Likelihood()
	m.Accept()

	for _, par := range m.GetFloatParameters() {
		par.Propose()
		l1 := m.Likelihood()
		par.Reject()
		m.Reject()
		if l := m.Likelihood(); l != l0 {
			tst.Errorf("Likelihood after rejecting %s is %v, expected %v (proposed %v)", par.Name(), l, l0, l1)
		}
		if m.Core().State() != core.Clean {
			tst.Error("Engine is dirty after reject")
		}
	}
}

func TestRejectRecomputesNothing(tst *testing.T) {
	rng := rand.New(rand.NewSource(6))
	nwk := randomTree(rng, 10)
	seqs := randomAlignment(rng, 10, 150)
	m := newModel[float64](tst, nwk, seqs, 2, Settings{})
	l0 := m.Likelihood()
	m.Accept()

	par := m.GetFloatParameters()[3]
	v := par.Get()
	par.Set(2 * v)
	m.Likelihood()
	par.Set(v)
	m.Reject()
	before := m.Stats()
	if l := m.Likelihood(); l != l0 {
		tst.Error("Likelihood after reject:", l, l0)
	}
	after := m.Stats()
	if after.Matrices != before.Matrices || after.Operations != before.Operations {
		tst.Errorf("Reject caused recomputation: %+v, %+v", before, after)
	}

	allocs := testing.AllocsPerRun(10, func() {
		par.Set(2 * v)
		par.Set(v)
		m.Reject()
	})
	if allocs != 0 {
		tst.Error("Reject allocates:", allocs)
	}
}

// caterpillar returns a model on a caterpillar tree of n identical
// sequences with branches of length 0.001 and one rate category.
func caterpillar(tst *testing.T, n int, s Settings) *TreeLikelihood[float64] {
	const anc = "ACGTTGCAACGGATCA"
	nwk := "s0"
	seqs := bio.Sequences{{"s0", anc}}
	for i := 1; i < n; i++ {
		name := fmt.Sprintf("s%d", i)
		nwk = fmt.Sprintf("(%s:0.001,%s:0.001)", nwk, name)
		seqs = append(seqs, bio.Sequence{Name: name, Sequence: anc})
	}
	pat, err := bio.Compress(seqs)
	if err != nil {
		tst.Fatal(err)
	}
	site, err := sitemodel.New(1, false, false)
	if err != nil {
		tst.Fatal(err)
	}
	m, err := New[float64](parse(tst, nwk+";"), pat, site, pat.Frequencies(), s)
	if err != nil {
		tst.Fatal(err)
	}
	m.SetOptimizeBranchLengths()
	return m
}

func setLengths(m *TreeLikelihood[float64], brlen float64) {
	for _, par := range m.GetFloatParameters() {
		par.Set(brlen)
	}
}

// long branches on a long caterpillar underflow unless the partials
// are rescaled
func TestUnderflowAfterScalingOff(tst *testing.T) {
	const n = 600
	ref := caterpillar(tst, n, Settings{})
	short := ref.Likelihood()
	setLengths(ref, 10)
	long := ref.Likelihood()
	if math.IsInf(long, 0) || math.IsNaN(long) {
		tst.Fatal("Reference likelihood is not finite:", long)
	}
	refSites, err := ref.SiteLogLikelihoods()
	if err != nil {
		tst.Fatal(err)
	}

	// scaling switched off after the first update
	start := func(tst *testing.T) *TreeLikelihood[float64] {
		m := caterpillar(tst, n, Settings{ScalingCheck: 1})
		if l := m.Likelihood(); relDiff(l, short) > smallDiff {
			tst.Fatal("Wrong short-branch likelihood:", l, short)
		}
		if m.Stats().ScalingActive {
			tst.Fatal("Rescaling was not switched off")
		}
		m.Accept()
		setLengths(m, 10)
		return m
	}

	tst.Run("reject", func(tst *testing.T) {
		m := start(tst)
		if l := m.Likelihood(); relDiff(l, long) > smallDiff {
			tst.Error("Wrong likelihood after underflow:", l, long)
		}
		setLengths(m, 0.001)
		m.Reject()
		if l := m.Likelihood(); relDiff(l, short) > smallDiff {
			tst.Error("Wrong likelihood after reject:", l, short)
		}
		if m.Stats().Rescales != 1 {
			tst.Error("Expected one rescale:", m.Stats().Rescales)
		}
	})

	tst.Run("accept", func(tst *testing.T) {
		m := start(tst)
		if l := m.Likelihood(); relDiff(l, long) > smallDiff {
			tst.Error("Wrong likelihood after underflow:", l, long)
		}
		m.Accept()
		if l := m.Likelihood(); relDiff(l, long) > smallDiff {
			tst.Error("Wrong likelihood after accept:", l, long)
		}
		par, rpar := m.GetFloatParameters()[0], ref.GetFloatParameters()[0]
		par.Set(0.5)
		rpar.Set(0.5)
		exp := ref.Likelihood()
		if l := m.Likelihood(); relDiff(l, exp) > smallDiff {
			tst.Error("Wrong incremental likelihood:", l, exp)
		}
		par.Set(10)
		rpar.Set(10)
		m.Reject()
		if l := m.Likelihood(); relDiff(l, long) > smallDiff {
			tst.Error("Wrong likelihood after reject:", l, long)
		}
	})

	tst.Run("sites", func(tst *testing.T) {
		m := start(tst)
		sl, err := m.SiteLogLikelihoods()
		if err != nil {
			tst.Fatal(err)
		}
		if len(sl) != len(refSites) {
			tst.Fatal("Wrong number of sites:", len(sl), len(refSites))
		}
		for i := range sl {
			if relDiff(sl[i], refSites[i]) > smallDiff {
				tst.Errorf("Site %d: %v, expected %v", i, sl[i], refSites[i])
			}
		}
		if l := m.Likelihood(); relDiff(l, long) > smallDiff {
			tst.Error("Wrong likelihood after site likelihoods:", l, long)
		}
	})
}

func TestZeroFrequency(tst *testing.T) {
	t := parse(tst, "(a:0.1,(b:0.2,c:0.1):0.1);")
	pat, err := bio.Compress(bio.Sequences{{"a", "ACGA"}, {"b", "ACGG"}, {"c", "AAGC"}})
	if err != nil {
		tst.Fatal(err)
	}
	site, _ := sitemodel.New(1, false, false)
	if _, err := New[float64](t, pat, site, pat.Frequencies(), Settings{}); err == nil {
		tst.Error("Zero frequency accepted")
	}
	m, err := New[float64](t, pat, site, []float64{0.25, 0.25, 0.25, 0.25}, Settings{})
	if err != nil {
		tst.Fatal(err)
	}
	if l := m.Likelihood(); math.IsInf(l, 0) || math.IsNaN(l) || l >= 0 {
		tst.Error("Incorrect likelihood:", l)
	}
}

func TestSinglePrecision(tst *testing.T) {
	rng := rand.New(rand.NewSource(3))
	nwk := randomTree(rng, 8)
	seqs := randomAlignment(rng, 8, 100)
	l64 := newModel[float64](tst, nwk, seqs, 4, Settings{}).Likelihood()
	l32 := newModel[float32](tst, nwk, seqs, 4, Settings{}).Likelihood()
	if relDiff(l64, l32) > 1e-4 {
		tst.Error("Single precision likelihood differs:", l32, l64)
	}
}

func TestSettingsAgree(tst *testing.T) {
	rng := rand.New(rand.NewSource(4))
	nwk := randomTree(rng, 16)
	seqs := randomAlignment(rng, 16, 300)
	l := newModel[float64](tst, nwk, seqs, 4, Settings{}).Likelihood()
	for _, s := range []Settings{
		{TipPartials: true},
		{Workers: 4, Batches: true},
		{Workers: 3, BLAS: true, Validate: true},
		{NoScaling: true},
		{ScalingCheck: 1},
	} {
		if ls := newModel[float64](tst, nwk, seqs, 4, s).Likelihood(); relDiff(l, ls) > smallDiff {
			tst.Errorf("Likelihood with %+v is %v, expected %v", s, ls, l)
		}
	}
}

func TestSiteLikelihoods(tst *testing.T) {
	rng := rand.New(rand.NewSource(5))
	nwk := randomTree(rng, 6)
	seqs := randomAlignment(rng, 6, 80)
	m := newModel[float64](tst, nwk, seqs, 2, Settings{})
	l := m.Likelihood()
	sl, err := m.SiteLogLikelihoods()
	if err != nil {
		tst.Fatal(err)
	}
	sum := 0.0
	for _, v := range sl {
		sum += v
	}
	if len(sl) != 80 || relDiff(sum, l) > smallDiff {
		tst.Error("Site likelihoods don't sum up:", sum, l)
	}
}

func TestMismatch(tst *testing.T) {
	t := parse(tst, "(a:0.1,(b:0.2,c:0.1):0.1);")
	pat, _ := bio.Compress(bio.Sequences{{"a", "ACGT"}, {"b", "ACGT"}})
	site, _ := sitemodel.New(1, false, false)
	if _, err := New[float64](t, pat, site, pat.Frequencies(), Settings{}); err == nil {
		tst.Error("Expected error for missing sequence")
	}
	pat, _ = bio.Compress(bio.Sequences{{"a", "ACGT"}, {"b", "ACGT"}, {"d", "ACGT"}})
	if _, err := New[float64](t, pat, site, pat.Frequencies(), Settings{}); err == nil {
		tst.Error("Expected error for unknown taxon")
	}
}

// Package treelh computes the likelihood of a nucleotide alignment on a
// tree with the partial-likelihood engine. It keeps track of the
// branches and nodes invalidated by parameter changes and recomputes
// only those.
package treelh

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/plh/bio"
	"bitbucket.org/Davydov/plh/core"
	"bitbucket.org/Davydov/plh/eigen"
	"bitbucket.org/Davydov/plh/optimize"
	"bitbucket.org/Davydov/plh/sitemodel"
	"bitbucket.org/Davydov/plh/tree"
)

// log is the global logging variable.
var log = logging.MustGetLogger("treelh")

// Default value for the maximum branch length.
const defaultMaxBrLen = 100

// Settings configure the engine and the parameters.
type Settings struct {
	// Workers is the number of goroutines of the engine.
	Workers int
	// Batches computes independent nodes concurrently.
	Batches bool
	// BLAS enables the matrix-product kernel.
	BLAS bool
	// NoScaling disables rescaling of partials.
	NoScaling bool
	// ScalingCheck is the number of updates after which unused
	// rescaling is switched off, zero to keep it.
	ScalingCheck int
	// Validate checks operation order.
	Validate bool
	// TipPartials stores every tip as partials.
	TipPartials bool
	// Exchangeabilities are the initial symmetric rates, upper
	// triangle row by row; nil means equal rates.
	Exchangeabilities []float64
}

// TreeLikelihood is a nucleotide model on a fixed topology.
type TreeLikelihood[T core.Float] struct {
	tree  *tree.Tree
	pat   *bio.Patterns
	site  *sitemodel.SiteModel
	freqs []float64
	exch  []float64
	em    *eigen.EMatrix
	core  *core.Core[T]

	parameters optimize.FloatParameters
	as         *optimize.AdaptiveSettings
	optBranch  bool
	optRates   bool
	optSite    bool
	maxBrLen   float64
	batches    bool

	// remember computations we need to perform
	eigenDone bool
	expAllBr  bool
	expBr     []bool
	dirty     []bool
	// branches changed since the matrices were last computed
	touched []int
	// all partials have to be recomputed after reject, they were
	// stored without rescaling
	repair bool

	allOps   []core.Operation
	ops      []core.Operation
	branches []int
	lengths  []float64
}

// New creates the model and loads the tip data. freqs are the
// stationary frequencies.
func New[T core.Float](t *tree.Tree, pat *bio.Patterns, site *sitemodel.SiteModel, freqs []float64, s Settings) (*TreeLikelihood[T], error) {
	if t.NLeaves() != len(pat.Names) {
		return nil, fmt.Errorf("tree has %d leaves, alignment has %d sequences", t.NLeaves(), len(pat.Names))
	}
	if len(freqs) != bio.NStates {
		return nil, fmt.Errorf("%d frequencies for %d states", len(freqs), bio.NStates)
	}
	if err := eigen.CheckFrequencies(freqs); err != nil {
		return nil, fmt.Errorf("stationary frequencies: %w", err)
	}
	nexch := bio.NStates * (bio.NStates - 1) / 2
	exch := make([]float64, nexch)
	if s.Exchangeabilities != nil {
		if len(s.Exchangeabilities) != nexch {
			return nil, fmt.Errorf("%d exchangeabilities, expected %d", len(s.Exchangeabilities), nexch)
		}
		copy(exch, s.Exchangeabilities)
	} else {
		for i := range exch {
			exch[i] = 1
		}
	}

	workers := s.Workers
	if workers < 1 {
		workers = 1
	}
	opts := []core.Option{
		core.WithWorkers(workers),
		core.WithScaling(!s.NoScaling),
		core.WithScalingCheck(s.ScalingCheck),
		core.WithValidation(s.Validate),
		core.WithBLAS(s.BLAS),
	}
	dims := core.Dims{
		Nodes:      t.NNodes(),
		Tips:       t.NLeaves(),
		Patterns:   pat.NPatterns(),
		States:     bio.NStates,
		Categories: site.NCategories(),
	}
	c, err := core.New[T](dims, opts...)
	if err != nil {
		return nil, err
	}

	m := &TreeLikelihood[T]{
		tree:     t,
		pat:      pat,
		site:     site,
		freqs:    freqs,
		exch:     exch,
		em:       &eigen.EMatrix{},
		core:     c,
		maxBrLen: defaultMaxBrLen,
		batches:  s.Batches && workers > 1,
		expBr:    make([]bool, t.NNodes()),
		dirty:    make([]bool, t.NNodes()),
		touched:  make([]int, 0, t.NNodes()),
		allOps:   t.Operations(),
		branches: make([]int, 0, t.NNodes()),
		lengths:  make([]float64, 0, t.NNodes()),
	}
	if err := m.loadTips(s.TipPartials); err != nil {
		return nil, err
	}
	m.setupParameters()
	log.Infof("%d tips, %d patterns, %d rate categories", dims.Tips, dims.Patterns, dims.Categories)
	return m, nil
}

func (m *TreeLikelihood[T]) loadTips(partials bool) error {
	for _, leaf := range m.tree.Leaves() {
		taxon, err := m.pat.Taxon(leaf.Name)
		if err != nil {
			return err
		}
		if partials || m.pat.Ambiguous(taxon) {
			p := m.pat.Partials(taxon)
			tp := make([]T, len(p))
			for i, v := range p {
				tp[i] = T(v)
			}
			err = m.core.SetTipPartials(leaf.Id, tp)
		} else {
			err = m.core.SetTipStates(leaf.Id, m.pat.States(taxon))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Core returns the engine.
func (m *TreeLikelihood[T]) Core() *core.Core[T] {
	return m.core
}

// Stats returns the engine counters. Safe for concurrent use.
func (m *TreeLikelihood[T]) Stats() core.Stats {
	return m.core.Stats()
}

// Tree returns the tree; branch lengths follow the parameters.
func (m *TreeLikelihood[T]) Tree() *tree.Tree {
	return m.tree
}

// SetAdaptive enables adaptive mode (for adaptive MCMC).
func (m *TreeLikelihood[T]) SetAdaptive(as *optimize.AdaptiveSettings) {
	m.as = as
	m.setupParameters()
}

// SetOptimizeBranchLengths enables branch-length optimization.
func (m *TreeLikelihood[T]) SetOptimizeBranchLengths() {
	m.optBranch = true
	m.setupParameters()
}

// SetOptimizeRates enables optimization of the exchangeabilities.
func (m *TreeLikelihood[T]) SetOptimizeRates() {
	m.optRates = true
	m.setupParameters()
}

// SetOptimizeSiteModel enables optimization of the gamma shape and
// the proportion of invariable sites.
func (m *TreeLikelihood[T]) SetOptimizeSiteModel() {
	m.optSite = true
	m.setupParameters()
}

// SetMaxBranchLength changes the maximum branch length for
// the optimization.
func (m *TreeLikelihood[T]) SetMaxBranchLength(maxBrLen float64) {
	m.maxBrLen = maxBrLen
	m.setupParameters()
}

// GetFloatParameters returns all the optimization parameters.
func (m *TreeLikelihood[T]) GetFloatParameters() optimize.FloatParameters {
	return m.parameters
}

// setupParameters first delete all the parameters and then adds
// them.
func (m *TreeLikelihood[T]) setupParameters() {
	m.parameters = nil
	var fpg optimize.FloatParameterGenerator
	if m.as != nil {
		fpg = m.as.ParameterGenerator
	} else {
		fpg = optimize.BasicFloatParameterGenerator
	}
	if m.optBranch {
		m.addBranchParameters(fpg)
	}
	if m.optSite {
		m.addSiteParameters(fpg)
	}
	if m.optRates {
		m.addRateParameters(fpg)
	}
}

// setProposal sets a fixed proposal unless adaptive parameters
// learn their own.
func (m *TreeLikelihood[T]) setProposal(par optimize.FloatParameter) {
	if m.as == nil {
		par.SetProposalFunc(optimize.NormalProposal(0.01))
	}
}

func (m *TreeLikelihood[T]) addBranchParameters(fpg optimize.FloatParameterGenerator) {
	for _, node := range m.tree.Nodes() {
		// Root branch is not optimized
		if node.IsRoot() {
			continue
		}
		nodeId := node.Id
		par := fpg(&node.BranchLength, "br"+strconv.Itoa(node.Id))
		par.SetOnChange(func() {
			if m.expBr[nodeId] {
				m.expBr[nodeId] = false
				m.touched = append(m.touched, nodeId)
			}
		})
		par.SetPriorFunc(optimize.GammaPrior(1, 2, false))
		par.SetMin(0)
		par.SetMax(m.maxBrLen)
		m.setProposal(par)
		m.parameters.Append(par)
	}
}

func (m *TreeLikelihood[T]) addSiteParameters(fpg optimize.FloatParameterGenerator) {
	onChange := func() {
		m.site.Invalidate()
		m.expAllBr = false
	}
	if m.site.Gamma() {
		alpha := fpg(&m.site.Alpha, "alpha")
		alpha.SetOnChange(onChange)
		alpha.SetPriorFunc(optimize.ExponentialPrior(1, false))
		alpha.SetMin(1e-2)
		alpha.SetMax(1000)
		m.setProposal(alpha)
		m.parameters.Append(alpha)
	}
	if m.site.Invariant() {
		pinv := fpg(&m.site.PInv, "pinv")
		pinv.SetOnChange(onChange)
		pinv.SetPriorFunc(optimize.UniformPrior(0, 1, true, false))
		pinv.SetMin(0)
		pinv.SetMax(1 - 1e-5)
		if m.as == nil {
			pinv.SetProposalFunc(optimize.UniformProposal(0.05))
		}
		m.parameters.Append(pinv)
	}
}

func (m *TreeLikelihood[T]) addRateParameters(fpg optimize.FloatParameterGenerator) {
	// the last exchangeability is the reference
	for i := 0; i < len(m.exch)-1; i++ {
		r := fpg(&m.exch[i], "r"+strconv.Itoa(i))
		r.SetOnChange(func() {
			m.eigenDone = false
			m.expAllBr = false
		})
		r.SetPriorFunc(optimize.GammaPrior(1, 2, false))
		r.SetMin(1e-3)
		r.SetMax(100)
		m.setProposal(r)
		m.parameters.Append(r)
	}
}

// setEigen decomposes the rate matrix into the engine.
func (m *TreeLikelihood[T]) setEigen() error {
	Q, scale, err := eigen.Exchangeability(m.exch, m.freqs)
	if err != nil {
		return err
	}
	m.em.Set(Q, m.freqs, scale)
	e, err := m.em.Decomposition()
	if err != nil {
		return err
	}
	if err := m.core.SetEigenDecomposition(e); err != nil {
		return err
	}
	m.eigenDone = true
	return nil
}

// updateMatrices recomputes the matrices of the changed branches and
// marks them dirty.
func (m *TreeLikelihood[T]) updateMatrices() error {
	m.branches = m.branches[:0]
	m.lengths = m.lengths[:0]
	for _, node := range m.tree.Nodes() {
		if node.IsRoot() || (m.expAllBr && m.expBr[node.Id]) {
			continue
		}
		m.branches = append(m.branches, node.Id)
		m.lengths = append(m.lengths, node.BranchLength)
	}
	if len(m.branches) == 0 {
		return nil
	}
	if err := m.core.UpdateTransitionMatrices(m.branches, m.lengths, m.site.Rates()); err != nil {
		return err
	}
	for _, br := range m.branches {
		m.expBr[br] = true
		m.dirty[br] = true
	}
	m.expAllBr = true
	m.touched = m.touched[:0]
	return nil
}

func (m *TreeLikelihood[T]) updatePartials(ops []core.Operation) error {
	if m.batches {
		return m.core.UpdatePartialsBatches(m.tree.Batches(ops))
	}
	return m.core.UpdatePartials(ops)
}

// clearDirty resets the marks set by the last matrix update and
// propagated by DirtyOperations.
func (m *TreeLikelihood[T]) clearDirty() {
	for _, br := range m.branches {
		m.dirty[br] = false
	}
	for _, op := range m.ops {
		m.dirty[op.Parent] = false
	}
}

func (m *TreeLikelihood[T]) compute() (float64, error) {
	if !m.eigenDone {
		if err := m.setEigen(); err != nil {
			return 0, err
		}
	}
	if err := m.updateMatrices(); err != nil {
		return 0, err
	}
	m.ops = m.tree.DirtyOperations(m.dirty, m.ops[:0])
	m.clearDirty()
	if len(m.ops) > 0 {
		if err := m.updatePartials(m.ops); err != nil {
			return 0, err
		}
	}
	return m.core.CalculateLogLikelihood(m.tree.Id, m.site.Proportions(), m.freqs, m.pat.Weights)
}

// rescaled computes the log-likelihood. If the engine has to switch
// rescaling back on, all partials are recomputed and the result is
// integrated again.
func (m *TreeLikelihood[T]) rescaled() (float64, error) {
	l, err := m.compute()
	if !errors.Is(err, core.ErrRescaleRequired) {
		return l, err
	}
	log.Info("Recomputing all partials with rescaling")
	m.repair = true
	if err := m.updatePartials(m.allOps); err != nil {
		return 0, err
	}
	return m.core.CalculateLogLikelihood(m.tree.Id, m.site.Proportions(), m.freqs, m.pat.Weights)
}

// Likelihood computes the log-likelihood. Errors are logged and give
// -Inf, so does NaN.
func (m *TreeLikelihood[T]) Likelihood() float64 {
	l, err := m.rescaled()
	if err != nil {
		log.Errorf("Error computing likelihood: %v", err)
		return math.Inf(-1)
	}
	if math.IsNaN(l) {
		log.Warning("Likelihood is NaN")
		return math.Inf(-1)
	}
	return l
}

// Accept stores the current state.
func (m *TreeLikelihood[T]) Accept() {
	m.core.Accept()
	m.repair = false
}

// Reject returns to the stored state. Parameter values must be the
// stored ones already.
func (m *TreeLikelihood[T]) Reject() {
	m.core.Reject()
	m.site.Invalidate()
	m.eigenDone = true
	m.expAllBr = true
	for _, br := range m.touched {
		m.expBr[br] = true
	}
	m.touched = m.touched[:0]
	m.clearDirty()
	if m.repair {
		if err := m.core.UpdatePartials(m.allOps); err != nil {
			log.Errorf("Error recomputing partials: %v", err)
		}
		m.core.Accept()
		m.repair = false
	}
}

// SiteLogLikelihoods returns the log-likelihood of every alignment
// column for the current state.
func (m *TreeLikelihood[T]) SiteLogLikelihoods() ([]float64, error) {
	if _, err := m.rescaled(); err != nil {
		return nil, err
	}
	pl, err := m.core.PatternLogLikelihoods(m.tree.Id, m.site.Proportions(), m.freqs, nil)
	if err != nil {
		return nil, err
	}
	res := make([]float64, m.pat.NSites())
	for i, k := range m.pat.SitePattern {
		res[i] = pl[k]
	}
	return res, nil
}

// Summary stores the final model state.
type Summary struct {
	Tree              string     `json:"tree"`
	Alpha             float64    `json:"alpha,omitempty"`
	PInv              float64    `json:"pinv,omitempty"`
	Rates             []float64  `json:"rates"`
	Exchangeabilities []float64  `json:"exchangeabilities"`
	Frequencies       []float64  `json:"frequencies"`
	Patterns          int        `json:"patterns"`
	Stats             core.Stats `json:"engine"`
}

// Summary returns the model summary.
func (m *TreeLikelihood[T]) Summary() Summary {
	return Summary{
		Tree:              m.tree.String(),
		Alpha:             m.site.Alpha,
		PInv:              m.site.PInv,
		Rates:             m.site.Rates(),
		Exchangeabilities: m.exch,
		Frequencies:       m.freqs,
		Patterns:          m.pat.NPatterns(),
		Stats:             m.core.Stats(),
	}
}

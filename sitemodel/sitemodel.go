// Package sitemodel computes rate categories and their proportions for
// gamma-distributed rates among sites with an optional proportion of
// invariable sites.
package sitemodel

import (
	"fmt"

	"github.com/op/go-logging"
	"gonum.org/v1/gonum/floats"

	"bitbucket.org/Davydov/plh/dist"
)

// log is the global logging variable.
var log = logging.MustGetLogger("sitemodel")

// SiteModel holds the parameters of the rate heterogeneity model.
// Parameters are public so optimizers can modify them; call Invalidate
// afterwards.
type SiteModel struct {
	// Alpha is the gamma shape parameter.
	Alpha float64
	// PInv is the proportion of invariable sites.
	PInv float64

	ncatg     int
	invariant bool
	median    bool

	rates []float64
	props []float64
	tmp   []float64
	done  bool
}

// New creates a site model with ncatg gamma categories. If invariant
// is set the last category has rate zero.
func New(ncatg int, invariant, median bool) (*SiteModel, error) {
	if ncatg < 1 {
		return nil, fmt.Errorf("number of gamma categories must be positive, got %d", ncatg)
	}
	n := ncatg
	if invariant {
		n++
	}
	return &SiteModel{
		Alpha:     1,
		ncatg:     ncatg,
		invariant: invariant,
		median:    median,
		rates:     make([]float64, n),
		props:     make([]float64, n),
		tmp:       make([]float64, ncatg),
	}, nil
}

// NCategories returns the number of rate categories.
func (m *SiteModel) NCategories() int {
	return len(m.rates)
}

// Gamma reports whether rates vary among sites.
func (m *SiteModel) Gamma() bool {
	return m.ncatg > 1
}

// Invariant reports whether the model has a category of invariable
// sites.
func (m *SiteModel) Invariant() bool {
	return m.invariant
}

// Invalidate forces recomputation of rates and proportions.
func (m *SiteModel) Invalidate() {
	m.done = false
}

// Rates returns category rates. The mean rate is one.
func (m *SiteModel) Rates() []float64 {
	m.update()
	return m.rates
}

// Proportions returns category proportions.
func (m *SiteModel) Proportions() []float64 {
	m.update()
	return m.props
}

func (m *SiteModel) update() {
	if m.done {
		return
	}
	pinv := 0.0
	if m.invariant {
		pinv = m.PInv
	}
	if m.ncatg == 1 {
		m.rates[0] = 1
	} else {
		dist.DiscreteGamma(m.Alpha, m.Alpha, m.ncatg, m.median, m.tmp, m.rates[:m.ncatg])
	}
	g := m.rates[:m.ncatg]
	floats.Scale(1/(1-pinv), g)
	for i := range g {
		m.props[i] = (1 - pinv) / float64(m.ncatg)
	}
	if m.invariant {
		m.rates[m.ncatg] = 0
		m.props[m.ncatg] = pinv
	}
	log.Debugf("alpha=%v, pinv=%v, rates=%v", m.Alpha, pinv, m.rates)
	m.done = true
}

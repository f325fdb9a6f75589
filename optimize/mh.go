package optimize

import (
	"math"
	"math/rand"
)

// MH is a Metropolis-Hastings sampler. A rejected proposal restores the
// parameter and rolls the model back to the stored state.
type MH struct {
	BaseOptimizer
	AccPeriod int
	annealing bool
	// iteration to skip before annealing
	annealingSkip int
	accepted      int
	proposed      int
}

// NewMH creates a new MH sampler.
func NewMH(annealing bool, annealingSkip int) (mcmc *MH) {
	mcmc = &MH{
		BaseOptimizer: BaseOptimizer{
			repPeriod: 10,
		},
		AccPeriod:     10,
		annealing:     annealing,
		annealingSkip: annealingSkip,
	}
	return
}

// AcceptanceRate returns the share of accepted proposals.
func (m *MH) AcceptanceRate() float64 {
	if m.proposed == 0 {
		return 0
	}
	return float64(m.accepted) / float64(m.proposed)
}

// Run starts sampling.
func (m *MH) Run(iterations int) {
	m.SaveStart()
	m.PrintHeader()
	accepted := 0
	lastReported := -1
	l := m.l
Iter:
	for m.i = 0; m.i < iterations; m.i++ {
		var T float64
		if m.annealing && m.i >= m.annealingSkip {
			T = math.Pow(0.9, float64(m.i-m.annealingSkip)/float64(iterations-m.annealingSkip)*100)
		} else {
			T = 1
		}
		if m.i > 0 && m.AccPeriod > 0 && m.i%m.AccPeriod == 0 {
			log.Infof("Acceptance rate %.2f%%", 100*float64(accepted)/float64(m.AccPeriod))
			accepted = 0
		}

		m.PrintLine(l, m.repPeriod)
		if m.repPeriod > 0 && m.i%m.repPeriod == 0 {
			if m.annealing {
				log.Debugf("%d: L=%f, T=%f", m.i, l, T)
			} else {
				log.Debugf("%d: L=%f", m.i, l)
			}
			lastReported = m.i
		}
		par := m.parameters[rand.Intn(len(m.parameters))]
		par.Propose()
		m.proposed++

		ok := false
		prior := par.Prior()
		if !math.IsInf(prior, -1) {
			newL := m.Likelihood()
			m.calls++
			var a float64
			if m.annealing {
				a = math.Exp((newL - l) / T)
			} else {
				a = math.Exp(prior - par.OldPrior() + newL - l)
			}
			if a > 1 || rand.Float64() < a {
				ok = true
				l = newL
			}
		}
		if ok {
			m.l = l
			par.Accept(m.i)
			m.Accept()
			accepted++
			m.accepted++
			m.updateMax(l)
		} else {
			par.Reject()
			m.Reject()
		}

		if m.interrupted() {
			break Iter
		}
	}

	if m.i != lastReported {
		m.PrintLine(l, 1)
	}
	m.l = l

	m.SaveCheckpoint(true)
	m.saveDeltaT()
}

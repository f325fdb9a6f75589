package optimize

import (
	"io"
	"math"
	"math/rand"
	"testing"

	"github.com/op/go-logging"
)

func init() {
	logging.SetLevel(logging.ERROR, "optimize")
}

// quadratic is a transactional model with the maximum at (1, -2).
type quadratic struct {
	x, y    float64
	stored  [2]float64
	pars    FloatParameters
	accepts int
	rejects int
	// broken counts rejects with parameters different from the stored
	// ones
	broken int
}

func newQuadratic(fpg FloatParameterGenerator) *quadratic {
	q := &quadratic{x: 3, y: 3}
	q.stored = [2]float64{q.x, q.y}
	for _, p := range []FloatParameter{fpg(&q.x, "x"), fpg(&q.y, "y")} {
		p.SetMin(-10)
		p.SetMax(10)
		p.SetPriorFunc(UniformPrior(-10, 10, true, true))
		if _, ok := p.(*BasicFloatParameter); ok {
			p.SetProposalFunc(NormalProposal(0.3))
		}
		q.pars.Append(p)
	}
	return q
}

func (q *quadratic) GetFloatParameters() FloatParameters {
	return q.pars
}

func (q *quadratic) Likelihood() float64 {
	return -square(q.x-1) - square(q.y+2)
}

func (q *quadratic) Accept() {
	q.accepts++
	q.stored = [2]float64{q.x, q.y}
}

func (q *quadratic) Reject() {
	q.rejects++
	if q.stored != [2]float64{q.x, q.y} {
		q.broken++
	}
}

func TestNone(tst *testing.T) {
	q := newQuadratic(BasicFloatParameterGenerator)
	opt := NewNone()
	opt.SetOutput(io.Discard)
	opt.SetOptimizable(q)
	opt.Run(10)
	if opt.GetL() != -4-25 || opt.Summary().Calls != 1 {
		tst.Error("Wrong likelihood:", opt.GetL(), opt.Summary())
	}
}

func TestMH(tst *testing.T) {
	rand.Seed(1)
	q := newQuadratic(BasicFloatParameterGenerator)
	opt := NewMH(false, 0)
	opt.SetOutput(io.Discard)
	opt.SetOptimizable(q)
	opt.Run(3000)

	if q.broken != 0 {
		tst.Error("Model rejected with modified parameters", q.broken, "times")
	}
	// the first accept is the starting state
	if q.accepts-1+q.rejects != 3000 {
		tst.Error("Wrong number of transactions:", q.accepts, q.rejects)
	}
	if r := opt.AcceptanceRate(); r <= 0 || r >= 1 {
		tst.Error("Wrong acceptance rate:", r)
	}
	if opt.GetMaxL() < -0.1 {
		tst.Error("Sampler did not reach the mode:", opt.GetMaxL(), opt.GetMaxLParameters())
	}
	if len(opt.Trace()) < 3000 {
		tst.Error("Trace too short:", len(opt.Trace()))
	}
}

func TestAdaptiveMH(tst *testing.T) {
	rand.Seed(2)
	as := NewAdaptiveSettings()
	as.Skip = 100
	as.MaxAdapt = 2000
	q := newQuadratic(as.ParameterGenerator)
	opt := NewMH(false, 0)
	opt.SetOutput(io.Discard)
	opt.SetOptimizable(q)
	opt.Run(3000)
	if q.broken != 0 {
		tst.Error("Model rejected with modified parameters", q.broken, "times")
	}
	for _, p := range q.pars {
		sd := p.(*AdaptiveParameter).ProposalSD()
		if sd <= as.SD*as.Lambda*1.01 {
			tst.Error("Proposal did not adapt for", p.Name(), sd)
		}
	}
}

func TestLBFGSB(tst *testing.T) {
	q := newQuadratic(BasicFloatParameterGenerator)
	opt := NewLBFGSB()
	opt.SetOutput(io.Discard)
	opt.SetOptimizable(q)
	opt.Run(100)

	if q.broken != 0 {
		tst.Error("Model rejected with modified parameters", q.broken, "times")
	}
	if math.Abs(q.x-1) > 1e-4 || math.Abs(q.y+2) > 1e-4 {
		tst.Error("Wrong optimum:", q.x, q.y)
	}
	if math.Abs(opt.GetMaxL()) > 1e-8 {
		tst.Error("Wrong maximum likelihood:", opt.GetMaxL())
	}
}

func TestPriors(tst *testing.T) {
	g := GammaPrior(2, 3, false)
	// (shape-1)*log(x) - x/scale - shape*log(scale) - lgamma(shape)
	x := 1.5
	exp := math.Log(x) - x/3 - 2*math.Log(3)
	if math.Abs(g(x)-exp) > 1e-12 {
		tst.Error("Wrong gamma prior:", g(x), exp)
	}
	if !math.IsInf(g(0), -1) || !math.IsInf(g(-1), -1) {
		tst.Error("Gamma prior outside of support")
	}
	e := ExponentialPrior(2, true)
	if math.Abs(e(1)-(math.Log(2)-2)) > 1e-12 {
		tst.Error("Wrong exponential prior:", e(1))
	}
	u := UniformPrior(0, 4, false, true)
	if u(0) != math.Inf(-1) || u(4) != -math.Log(4) {
		tst.Error("Wrong uniform prior bounds")
	}
	if p := ProductPrior(e, u)(1); math.Abs(p-(e(1)+u(1))) > 1e-12 {
		tst.Error("Wrong product prior:", p)
	}
}

func TestReflect(tst *testing.T) {
	x := 0.95
	p := NewBasicFloatParameter(&x, "x")
	p.SetMin(0)
	p.SetMax(1)
	p.SetProposalFunc(func(v float64) float64 { return v + 0.1 })
	changes := 0
	p.SetOnChange(func() { changes++ })
	p.Propose()
	if math.Abs(x-0.95) > 1e-12 || changes != 1 {
		tst.Error("Wrong reflection:", x)
	}
	p.SetProposalFunc(func(v float64) float64 { return v + 0.5 })
	p.Propose()
	if math.Abs(x-0.55) > 1e-12 {
		tst.Error("Wrong reflection:", x)
	}
	p.Reject()
	if math.Abs(x-0.95) > 1e-12 || changes != 3 {
		tst.Error("Reject did not restore the value:", x)
	}
	p.Set(0.95)
	if changes != 3 {
		tst.Error("Setting the same value should not trigger changes")
	}
}

package optimize

import (
	"math"

	lbfgsb "github.com/idavydov/go-lbfgsb"
)

// LBFGSB is the limited-memory BFGS optimizer with bounds. Gradients are
// computed by central differences; every shifted evaluation is rejected
// so only the branches depending on the shifted parameter are
// recomputed.
type LBFGSB struct {
	BaseOptimizer
	dH   float64
	grad []float64
	stop bool
}

func NewLBFGSB() (lbfgsb *LBFGSB) {
	lbfgsb = &LBFGSB{
		BaseOptimizer: BaseOptimizer{
			repPeriod: 10,
		},
		dH: 1e-6,
	}
	return
}

func (l *LBFGSB) Logger(info *lbfgsb.OptimizationIterationInformation) {
	l.i = info.Iteration
	l.PrintLine(-info.F, l.repPeriod)
	if l.interrupted() {
		l.stop = true
	}
}

// moveTo sets the parameters to x and accepts the new state.
func (l *LBFGSB) moveTo(x []float64) float64 {
	l.parameters.SetValues(x)
	L := l.Likelihood()
	l.calls++
	l.Accept()
	l.l = L
	l.updateMax(L)
	return L
}

func (l *LBFGSB) EvaluateFunction(x []float64) float64 {
	if l.stop {
		return math.Inf(+1)
	}
	if !l.parameters.ValuesInRange(x) {
		return math.Inf(+1)
	}
	return -l.moveTo(x)
}

func (l *LBFGSB) EvaluateGradient(x []float64) (grad []float64) {
	if l.grad == nil {
		l.grad = make([]float64, len(x))
	}
	grad = l.grad
	if l.stop {
		for i := range grad {
			grad[i] = 0
		}
		return
	}
	l.moveTo(x)
	for i, par := range l.parameters {
		par.Set(x[i] - l.dH)
		l1 := -l.Likelihood()
		par.Set(x[i])
		l.Reject()

		par.Set(x[i] + l.dH)
		l2 := -l.Likelihood()
		par.Set(x[i])
		l.Reject()
		l.calls += 2

		grad[i] = (l2 - l1) / 2 / l.dH
	}
	return
}

func (l *LBFGSB) Run(iterations int) {
	l.SaveStart()
	l.PrintHeader()
	bounds := make([][2]float64, len(l.parameters))

	for i, par := range l.parameters {
		bounds[i][0] = par.GetMin() + 1e-5
		bounds[i][1] = par.GetMax() - 1e-5
	}

	opt := new(lbfgsb.Lbfgsb)
	opt.SetApproximationSize(10)
	opt.SetFTolerance(1e-9)
	opt.SetGTolerance(1e-9)

	opt.SetBounds(bounds)
	opt.SetLogger(l.Logger)

	_, exitStatus := opt.Minimize(l, l.parameters.Values(nil))
	log.Info("Exit status: ", exitStatus)

	// finish at the best point
	if l.maxLPar != nil {
		l.moveTo(l.maxLPar)
	}
	l.PrintLine(l.l, 1)

	log.Infof("Finished LBFGSB, %d likelihood calls", l.calls)
	l.SaveCheckpoint(true)
	l.saveDeltaT()
}

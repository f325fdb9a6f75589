// Package optimize implements maximum likelihood optimization and
// Metropolis-Hastings sampling of model parameters. Optimizers rely on
// the model transactions: after every evaluation the model state is
// either accepted or rejected.
package optimize

import (
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"time"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/plh/checkpoint"
)

// log is the global logging variable.
var log = logging.MustGetLogger("optimize")

// Optimizable is a model with parameters and a transactional
// likelihood.
type Optimizable interface {
	// GetFloatParameters returns the parameters to optimize.
	GetFloatParameters() FloatParameters
	// Likelihood computes the log-likelihood for the current
	// parameter values.
	Likelihood() float64
	// Accept makes the current state the stored one.
	Accept()
	// Reject returns to the stored state. Parameter values must
	// already be the stored ones.
	Reject()
}

type Optimizer interface {
	SetOptimizable(Optimizable)
	SetOutput(io.Writer)
	SetCheckpointIO(*checkpoint.CheckpointIO)
	WatchSignals(...os.Signal)
	SetReportPeriod(period int)
	Run(iterations int)
	GetL() float64
	GetMaxL() float64
	GetMaxLParameters() map[string]float64
	Trace() []float64
	Summary() Summary
	PrintResults()
}

// Summary stores the optimization summary.
type Summary struct {
	// Iterations is the number of iterations performed.
	Iterations int `json:"iterations"`
	// Calls is the number of likelihood computations.
	Calls int `json:"likelihoodCalls"`
	// FinalLnL is the log-likelihood of the final state.
	FinalLnL float64 `json:"finalLnL"`
	// MaxLnL is the maximum log-likelihood observed.
	MaxLnL float64 `json:"maxLnL"`
	// MaxLParameters are the parameter values at MaxLnL.
	MaxLParameters map[string]float64 `json:"maxLParameters"`
	// Time is the optimization time in seconds.
	Time float64 `json:"time"`
}

type BaseOptimizer struct {
	Optimizable
	parameters FloatParameters
	i          int
	l          float64
	calls      int
	maxL       float64
	maxLPar    []float64
	repPeriod  int
	sig        chan os.Signal
	out        io.Writer
	cio        *checkpoint.CheckpointIO
	trace      []float64
	startTime  time.Time
	deltaT     time.Duration
	Quiet      bool
}

func (o *BaseOptimizer) SetOptimizable(opt Optimizable) {
	o.Optimizable = opt
	o.parameters = opt.GetFloatParameters()
}

// SetOutput sets the trajectory output, stdout by default.
func (o *BaseOptimizer) SetOutput(w io.Writer) {
	o.out = w
}

// SetCheckpointIO enables periodic checkpoints.
func (o *BaseOptimizer) SetCheckpointIO(cio *checkpoint.CheckpointIO) {
	o.cio = cio
}

func (o *BaseOptimizer) WatchSignals(sigs ...os.Signal) {
	o.sig = make(chan os.Signal, 1)
	signal.Notify(o.sig, sigs...)
}

func (o *BaseOptimizer) SetReportPeriod(period int) {
	o.repPeriod = period
}

// SaveStart computes the initial likelihood and accepts the starting
// state.
func (o *BaseOptimizer) SaveStart() {
	o.startTime = time.Now()
	o.maxL = math.Inf(-1)
	o.l = o.Likelihood()
	o.calls++
	o.Accept()
	o.updateMax(o.l)
	log.Infof("Initial likelihood: %v", o.l)
}

func (o *BaseOptimizer) saveDeltaT() {
	o.deltaT = time.Since(o.startTime)
}

func (o *BaseOptimizer) updateMax(l float64) {
	if l > o.maxL {
		o.maxL = l
		o.maxLPar = o.parameters.Values(o.maxLPar)
	}
}

// interrupted checks whether a watched signal was received.
func (o *BaseOptimizer) interrupted() bool {
	select {
	case s := <-o.sig:
		log.Warningf("Received signal %v, exiting.", s)
		return true
	default:
	}
	return false
}

func (o *BaseOptimizer) writer() io.Writer {
	if o.out == nil {
		return os.Stdout
	}
	return o.out
}

func (o *BaseOptimizer) PrintHeader() {
	if !o.Quiet {
		fmt.Fprintf(o.writer(), "iteration\tlikelihood\t%s\n", o.parameters.NamesString())
	}
}

// PrintLine records the likelihood and prints it with the parameter
// values every period iterations.
func (o *BaseOptimizer) PrintLine(l float64, period int) {
	o.trace = append(o.trace, l)
	if period > 0 && o.i%period != 0 {
		return
	}
	if !o.Quiet {
		fmt.Fprintf(o.writer(), "%d\t%f\t%s\n", o.i, l, o.parameters.ValuesString())
	}
	if o.cio != nil && o.cio.Old() {
		o.SaveCheckpoint(false)
	}
}

// SaveCheckpoint stores the current state in the checkpoint database.
func (o *BaseOptimizer) SaveCheckpoint(final bool) {
	if o.cio == nil {
		return
	}
	par := make(map[string]float64, len(o.parameters))
	for _, p := range o.parameters {
		par[p.Name()] = p.Get()
	}
	data := &checkpoint.CheckpointData{
		Parameters: par,
		Likelihood: o.l,
		Iter:       o.i,
		Final:      final,
	}
	if err := o.cio.Save(data); err == nil {
		log.Debugf("Checkpoint saved at iteration %d", o.i)
	}
}

func (o *BaseOptimizer) PrintResults() {
	log.Noticef("Maximum likelihood: %v", o.maxL)
	log.Infof("Likelihood function calls: %v", o.calls)
	for i, par := range o.parameters {
		if i < len(o.maxLPar) {
			log.Infof("%s=%v", par.Name(), o.maxLPar[i])
		}
	}
}

func (o *BaseOptimizer) GetL() float64 {
	return o.l
}

func (o *BaseOptimizer) GetMaxL() float64 {
	return o.maxL
}

// GetMaxLParameters returns the parameter values at the maximum
// likelihood.
func (o *BaseOptimizer) GetMaxLParameters() map[string]float64 {
	res := make(map[string]float64, len(o.maxLPar))
	for i, par := range o.parameters {
		if i < len(o.maxLPar) {
			res[par.Name()] = o.maxLPar[i]
		}
	}
	return res
}

// Trace returns the recorded likelihood trajectory.
func (o *BaseOptimizer) Trace() []float64 {
	return o.trace
}

func (o *BaseOptimizer) Summary() Summary {
	return Summary{
		Iterations:     o.i,
		Calls:          o.calls,
		FinalLnL:       o.l,
		MaxLnL:         o.maxL,
		MaxLParameters: o.GetMaxLParameters(),
		Time:           o.deltaT.Seconds(),
	}
}

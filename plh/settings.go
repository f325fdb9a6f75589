package main

import (
	"fmt"

	"bitbucket.org/Davydov/plh/config"
	"bitbucket.org/Davydov/plh/optimize"
)

// newConfig creates the run configuration from the settings file if
// given, otherwise from the command line parameters (global
// variables).
func newConfig() (*config.Config, error) {
	if *configFileName != "" {
		log.Notice("Model, engine and optimizer flags are ignored with -config")
		return config.Load(*configFileName)
	}
	c := config.Default()

	c.Model.Categories = *ncatsg
	c.Model.Invariant = *invariant
	c.Model.Median = *median
	c.Model.Frequencies = *freqs
	c.Model.OptimizeRates = *optRates
	c.Model.NoBranchLengths = *noOptBrLen
	c.Model.MaxBranchLength = *maxBrLen

	c.Engine.Workers = *nThreads
	c.Engine.Batches = *batches
	c.Engine.BLAS = *useBLAS
	c.Engine.NoScaling = *noScaling
	c.Engine.ScalingCheck = *scalingCheck
	c.Engine.Float32 = *float32Mode
	c.Engine.Validate = *validateOps
	c.Engine.TipPartials = *tipPartials

	c.Optimizer.Method = *method
	c.Optimizer.Iterations = *iterations
	c.Optimizer.Report = *report
	c.Optimizer.Accept = *accept
	c.Optimizer.Adaptive = *adaptive
	c.Optimizer.Skip = *skip
	c.Optimizer.MaxAdapt = *maxAdapt

	c.Output.Trajectory = *outF
	c.Output.Tree = *outTreeF
	c.Output.JSON = *jsonF
	c.Output.Plot = *plotF
	c.Output.Sites = *siteF
	c.Output.Checkpoint = *checkpointF
	c.Output.CheckpointSeconds = *checkpointT
	c.Output.Metrics = *metricsF

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// adaptiveSettings returns adaptive MCMC settings or nil. Negative
// skip and maxAdapt are derived from the number of iterations.
func adaptiveSettings(o *config.Optimizer) *optimize.AdaptiveSettings {
	if !o.Adaptive {
		return nil
	}
	as := optimize.NewAdaptiveSettings()
	if o.Skip < 0 {
		o.Skip = o.Iterations / 20
	}
	if o.MaxAdapt < 0 {
		o.MaxAdapt = o.Iterations / 5
	}
	log.Infof("Setting adaptive parameters, skip=%v, maxAdapt=%v", o.Skip, o.MaxAdapt)
	as.Skip = o.Skip
	as.MaxAdapt = o.MaxAdapt
	return as
}

// newOptimizer returns an optimizer. Annealing starts after the
// adaptation is over.
func newOptimizer(o *config.Optimizer) (optimize.Optimizer, error) {
	annealingSkip := 0
	if o.Adaptive {
		annealingSkip = o.MaxAdapt
	}
	switch o.Method {
	case "lbfgsb":
		return optimize.NewLBFGSB(), nil
	case "mh":
		chain := optimize.NewMH(false, 0)
		chain.AccPeriod = o.Accept
		return chain, nil
	case "annealing":
		chain := optimize.NewMH(true, annealingSkip)
		chain.AccPeriod = o.Accept
		return chain, nil
	case "none":
		return optimize.NewNone(), nil
	}
	return nil, fmt.Errorf("Unknown optimization method: %s", o.Method)
}

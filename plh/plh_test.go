package main

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/op/go-logging"

	"bitbucket.org/Davydov/plh/config"
	"bitbucket.org/Davydov/plh/optimize"
)

const (
	alignmentFn = "testdata/small.fst"
	treeFn      = "testdata/small.nwk"
	smallDiff   = 1e-6
)

func init() {
	for _, module := range logModules {
		logging.SetLevel(logging.ERROR, module)
	}
}

func testConfig(method string, iterations int) *config.Config {
	c := config.Default()
	c.Optimizer.Method = method
	c.Optimizer.Iterations = iterations
	c.Optimizer.Report = 1000
	return c
}

func TestRunNone(tst *testing.T) {
	c := testConfig("none", 0)
	s, err := run(c, alignmentFn, treeFn, "", false)
	if err != nil {
		tst.Fatal(err)
	}
	l := s.Optimizer.FinalLnL
	if math.IsInf(l, 0) || math.IsNaN(l) || l >= 0 {
		tst.Fatal("Incorrect likelihood:", l)
	}
	if s.Model.Patterns < 2 || s.Model.Patterns > 60 {
		tst.Error("Incorrect number of patterns:", s.Model.Patterns)
	}
	if s.Precision != "float64" {
		tst.Error("Incorrect precision:", s.Precision)
	}

	// same likelihood in single precision with workers
	c.Engine.Float32 = true
	c.Engine.Workers = 3
	c.Engine.Batches = true
	s32, err := run(c, alignmentFn, treeFn, "", false)
	if err != nil {
		tst.Fatal(err)
	}
	if math.Abs(s32.Optimizer.FinalLnL-l) > 1e-3 {
		tst.Error("Single precision differs:", s32.Optimizer.FinalLnL, l)
	}
}

func TestRunLBFGSB(tst *testing.T) {
	c0 := testConfig("none", 0)
	c0.Model.Categories = 4
	start, err := run(c0, alignmentFn, treeFn, "", false)
	if err != nil {
		tst.Fatal(err)
	}

	dir := tst.TempDir()
	c := testConfig("lbfgsb", 200)
	c.Model.Categories = 4
	c.Output.Tree = filepath.Join(dir, "out.nwk")
	c.Output.Sites = filepath.Join(dir, "sites.txt")
	c.Output.Trajectory = filepath.Join(dir, "traj.txt")
	s, err := run(c, alignmentFn, treeFn, "", false)
	if err != nil {
		tst.Fatal(err)
	}
	if s.Optimizer.MaxLnL < start.Optimizer.FinalLnL-smallDiff {
		tst.Error("Optimization decreased likelihood:", s.Optimizer.MaxLnL, start.Optimizer.FinalLnL)
	}
	if s.FinalTree == "" {
		tst.Error("No final tree")
	}

	b, err := os.ReadFile(c.Output.Sites)
	if err != nil {
		tst.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	if len(lines) != 61 {
		tst.Error("Expected 60 sites and a header, got", len(lines))
	}
	if _, err := os.Stat(c.Output.Tree); err != nil {
		tst.Error(err)
	}

	// continue from the trajectory
	c2 := testConfig("none", 0)
	c2.Model.Categories = 4
	s2, err := run(c2, alignmentFn, treeFn, c.Output.Trajectory, false)
	if err != nil {
		tst.Fatal(err)
	}
	if s2.Optimizer.FinalLnL < start.Optimizer.FinalLnL {
		tst.Error("Start position was not read:", s2.Optimizer.FinalLnL, start.Optimizer.FinalLnL)
	}
}

func TestRunMHCheckpoint(tst *testing.T) {
	dir := tst.TempDir()
	c := testConfig("mh", 50)
	c.Optimizer.Adaptive = true
	c.Output.Checkpoint = filepath.Join(dir, "checkpoint.db")
	c.Output.CheckpointSeconds = 0
	c.Output.Plot = filepath.Join(dir, "trace.png")

	s, err := run(c, alignmentFn, treeFn, "", false)
	if err != nil {
		tst.Fatal(err)
	}
	if s.Restored {
		tst.Error("Nothing to restore in a new database")
	}
	if _, err := os.Stat(c.Output.Plot); err != nil {
		tst.Error(err)
	}

	c.Optimizer.Skip, c.Optimizer.MaxAdapt = -1, -1
	s2, err := run(c, alignmentFn, treeFn, "", false)
	if err != nil {
		tst.Fatal(err)
	}
	if !s2.Restored {
		tst.Error("Checkpoint was not restored")
	}
	if s2.Optimizer.Iterations != 0 {
		tst.Error("Finished run was repeated:", s2.Optimizer.Iterations)
	}
	if math.Abs(s2.Optimizer.FinalLnL-s.Optimizer.FinalLnL) > smallDiff {
		tst.Error("Restored likelihood differs:", s2.Optimizer.FinalLnL, s.Optimizer.FinalLnL)
	}
}

func TestRunConfigFile(tst *testing.T) {
	c, err := config.Load("testdata/run.yaml")
	if err != nil {
		tst.Fatal(err)
	}
	s, err := run(c, alignmentFn, treeFn, "", false)
	if err != nil {
		tst.Fatal(err)
	}
	if len(s.Model.Rates) != 3 {
		tst.Error("Expected two gamma and one invariant category, got", s.Model.Rates)
	}
}

func TestRunErrors(tst *testing.T) {
	c := testConfig("none", 0)
	if _, err := run(c, "testdata/missing.fst", treeFn, "", false); err == nil {
		tst.Error("Missing alignment accepted")
	}
	if _, err := run(c, treeFn, alignmentFn, "", false); err == nil {
		tst.Error("Swapped inputs accepted")
	}
}

func TestRunMissingNucleotide(tst *testing.T) {
	c := testConfig("none", 0)
	if _, err := run(c, "testdata/not.fst", treeFn, "", false); err == nil {
		tst.Error("Zero empirical frequency accepted")
	}
	c.Model.Frequencies = "equal"
	s, err := run(c, "testdata/not.fst", treeFn, "", false)
	if err != nil {
		tst.Fatal(err)
	}
	if l := s.Optimizer.FinalLnL; math.IsInf(l, 0) || math.IsNaN(l) || l >= 0 {
		tst.Error("Incorrect likelihood:", l)
	}
}

func TestNewOptimizer(tst *testing.T) {
	o := config.Default().Optimizer
	for method, check := range map[string]func(optimize.Optimizer) bool{
		"lbfgsb":    func(opt optimize.Optimizer) bool { _, ok := opt.(*optimize.LBFGSB); return ok },
		"mh":        func(opt optimize.Optimizer) bool { _, ok := opt.(*optimize.MH); return ok },
		"annealing": func(opt optimize.Optimizer) bool { _, ok := opt.(*optimize.MH); return ok },
		"none":      func(opt optimize.Optimizer) bool { _, ok := opt.(*optimize.None); return ok },
	} {
		o.Method = method
		opt, err := newOptimizer(&o)
		if err != nil {
			tst.Fatal(err)
		}
		if !check(opt) {
			tst.Errorf("Wrong optimizer for %s: %T", method, opt)
		}
	}
	o.Method = "simplex"
	if _, err := newOptimizer(&o); err == nil {
		tst.Error("Unknown method accepted")
	}
}

func TestAdaptiveSettings(tst *testing.T) {
	o := config.Default().Optimizer
	if adaptiveSettings(&o) != nil {
		tst.Error("Adaptive settings without -adaptive")
	}
	o.Adaptive = true
	o.Iterations = 1000
	as := adaptiveSettings(&o)
	if as.Skip != 50 || as.MaxAdapt != 200 {
		tst.Error("Incorrect adaptive settings:", as.Skip, as.MaxAdapt)
	}
}

func TestRatesFileName(tst *testing.T) {
	if fn := ratesFileName("out/trace.png"); fn != "out/trace.rates.png" {
		tst.Error("Incorrect file name:", fn)
	}
}

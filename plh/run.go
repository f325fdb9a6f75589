package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"bitbucket.org/Davydov/plh/bio"
	"bitbucket.org/Davydov/plh/checkpoint"
	"bitbucket.org/Davydov/plh/config"
	"bitbucket.org/Davydov/plh/core"
	"bitbucket.org/Davydov/plh/metrics"
	"bitbucket.org/Davydov/plh/optimize"
	"bitbucket.org/Davydov/plh/sitemodel"
	"bitbucket.org/Davydov/plh/traceplot"
	"bitbucket.org/Davydov/plh/tree"
	"bitbucket.org/Davydov/plh/treelh"
)

// model is a tree likelihood of either precision.
type model interface {
	optimize.Optimizable
	SetAdaptive(*optimize.AdaptiveSettings)
	SetOptimizeBranchLengths()
	SetOptimizeSiteModel()
	SetOptimizeRates()
	SetMaxBranchLength(float64)
	SiteLogLikelihoods() ([]float64, error)
	Stats() core.Stats
	Summary() treelh.Summary
}

// input is the parsed data of a run.
type input struct {
	tree *tree.Tree
	pat  *bio.Patterns
	// raw file contents identify the run in the checkpoint database
	raw []string
}

func readInput(alignmentFn, treeFn string) (*input, error) {
	aliB, err := os.ReadFile(alignmentFn)
	if err != nil {
		return nil, err
	}
	ali, err := bio.ParseFasta(bytes.NewReader(aliB))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", alignmentFn, err)
	}
	length, err := ali.Length()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", alignmentFn, err)
	}
	if length == 0 {
		return nil, errors.New("Zero length alignment")
	}
	pat, err := bio.Compress(ali)
	if err != nil {
		return nil, err
	}
	log.Infof("Read alignment of %d sequences, %d sites, %d patterns, %d fixed positions",
		len(ali), length, pat.NPatterns(), pat.NFixed())

	treeB, err := os.ReadFile(treeFn)
	if err != nil {
		return nil, err
	}
	t, err := tree.ParseNewick(bytes.NewReader(treeB))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", treeFn, err)
	}
	log.Infof("intree=%s", t)
	log.Debug(t.FullString())

	return &input{tree: t, pat: pat, raw: []string{string(aliB), string(treeB)}}, nil
}

// frequencies returns the equilibrium state frequencies.
func frequencies(mode string, pat *bio.Patterns) []float64 {
	if mode == "equal" {
		f := make([]float64, bio.NStates)
		for i := range f {
			f[i] = 1 / float64(bio.NStates)
		}
		return f
	}
	return pat.Frequencies()
}

func newTreeLikelihood[T core.Float](in *input, site *sitemodel.SiteModel, freqs []float64, s treelh.Settings) (model, error) {
	return treelh.New[T](in.tree, in.pat, site, freqs, s)
}

// newModel creates and configures the model.
func newModel(cfg *config.Config, in *input, site *sitemodel.SiteModel) (model, error) {
	freqs := frequencies(cfg.Model.Frequencies, in.pat)
	log.Infof("Frequencies: %v", freqs)
	for i, f := range freqs {
		if f <= 0 {
			return nil, fmt.Errorf("%s frequency of %c is %v, use equal frequencies", cfg.Model.Frequencies, bio.Alphabet[i], f)
		}
	}

	s := treelh.Settings{
		Workers:           cfg.Engine.Workers,
		Batches:           cfg.Engine.Batches,
		BLAS:              cfg.Engine.BLAS,
		NoScaling:         cfg.Engine.NoScaling,
		ScalingCheck:      cfg.Engine.ScalingCheck,
		Validate:          cfg.Engine.Validate,
		TipPartials:       cfg.Engine.TipPartials,
		Exchangeabilities: cfg.Model.Exchangeabilities,
	}
	var m model
	var err error
	if cfg.Engine.Float32 {
		log.Info("Using single precision")
		m, err = newTreeLikelihood[float32](in, site, freqs, s)
	} else {
		m, err = newTreeLikelihood[float64](in, site, freqs, s)
	}
	if err != nil {
		return nil, err
	}

	// parameters are created by the setters, adaptive first
	if as := adaptiveSettings(&cfg.Optimizer); as != nil {
		m.SetAdaptive(as)
	}
	if !cfg.Model.NoBranchLengths {
		log.Info("Will optimize branch lengths")
		log.Infof("Maximum branch length: %f", cfg.Model.MaxBranchLength)
		m.SetMaxBranchLength(cfg.Model.MaxBranchLength)
		m.SetOptimizeBranchLengths()
	} else {
		log.Info("Will not optimize branch lengths")
	}
	if site.Gamma() || site.Invariant() {
		m.SetOptimizeSiteModel()
	}
	if cfg.Model.OptimizeRates {
		log.Info("Will optimize substitution rates")
		m.SetOptimizeRates()
	}
	log.Infof("Model has %d parameters.", len(m.GetFloatParameters()))
	return m, nil
}

// setStart reads the starting point from the last line of a trajectory
// or from a JSON file.
func setStart(par optimize.FloatParameters, fn string) error {
	l, err := lastLine(fn)
	if err == nil {
		err = par.ReadLine(l)
	}
	if err != nil {
		log.Debug("Reading start file as JSON")
		if err2 := par.ReadFromJSON(fn); err2 != nil {
			log.Error("Error reading start position from JSON:", err2)
			return fmt.Errorf("reading start position from trajectory file: %w", err)
		}
	}
	if !par.InRange() {
		return errors.New("Initial parameters are not in the range")
	}
	return nil
}

// serveMetrics starts the metrics endpoint. The returned function
// stops it.
func serveMetrics(addr string, stats func() core.Stats) func() {
	reg := prometheus.NewRegistry()
	metrics.NewEngine(reg, stats, nil)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server:", err)
		}
	}()
	log.Infof("Serving metrics on http://%s/metrics", addr)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error(err)
		}
	}
}

// writeSiteLikelihoods writes one line per alignment column.
func writeSiteLikelihoods(fn string, lnL []float64) error {
	var b strings.Builder
	b.WriteString("site\tlnL\n")
	for i, l := range lnL {
		fmt.Fprintf(&b, "%d\t%v\n", i+1, l)
	}
	return os.WriteFile(fn, []byte(b.String()), 0666)
}

// ratesFileName derives the rates plot name from the trace plot name.
func ratesFileName(fn string) string {
	ext := filepath.Ext(fn)
	return strings.TrimSuffix(fn, ext) + ".rates" + ext
}

func run(cfg *config.Config, alignmentFn, treeFn, startFn string, random bool) (*RunSummary, error) {
	summary := &RunSummary{
		Workers:   cfg.Engine.Workers,
		Precision: "float64",
	}
	if cfg.Engine.Float32 {
		summary.Precision = "float32"
	}

	in, err := readInput(alignmentFn, treeFn)
	if err != nil {
		return nil, err
	}
	summary.StartingTree = in.tree.String()

	site, err := sitemodel.New(cfg.Model.Categories, cfg.Model.Invariant, cfg.Model.Median)
	if err != nil {
		return nil, err
	}
	log.Infof("%d site gamma categories, invariant=%v", cfg.Model.Categories, cfg.Model.Invariant)

	m, err := newModel(cfg, in, site)
	if err != nil {
		return nil, err
	}
	par := m.GetFloatParameters()

	if startFn != "" {
		if err := setStart(par, startFn); err != nil {
			return nil, err
		}
	} else if random {
		log.Info("Using uniform (in the boundaries) random starting point")
		par.Randomize()
	}

	opt, err := newOptimizer(&cfg.Optimizer)
	if err != nil {
		return nil, err
	}

	if cfg.Output.Checkpoint != "" {
		db, err := checkpoint.Open(cfg.Output.Checkpoint)
		if err != nil {
			return nil, fmt.Errorf("opening checkpoint database: %w", err)
		}
		defer db.Close()
		key := checkpoint.RunKey(append(in.raw,
			fmt.Sprintf("%+v", cfg.Model), cfg.Optimizer.Method, summary.Precision)...)
		cio := checkpoint.NewCheckpointIO(db, key, cfg.Output.CheckpointSeconds)
		data, err := cio.GetParameters()
		if err != nil {
			return nil, fmt.Errorf("reading checkpoint: %w", err)
		}
		if data != nil {
			if err := par.SetMap(data.Parameters); err != nil {
				return nil, fmt.Errorf("restoring checkpoint: %w", err)
			}
			summary.Restored = true
			if data.Final {
				log.Notice("Optimization has finished, computing the likelihood only")
				opt = optimize.NewNone()
			}
		}
		opt.SetCheckpointIO(cio)
	}

	out := os.Stdout
	if cfg.Output.Trajectory != "" {
		out, err = os.Create(cfg.Output.Trajectory)
		if err != nil {
			return nil, fmt.Errorf("creating trajectory file: %w", err)
		}
		defer out.Close()
	}

	if cfg.Output.Metrics != "" {
		stop := serveMetrics(cfg.Output.Metrics, m.Stats)
		defer stop()
	}

	log.Infof("Using %s optimization.", cfg.Optimizer.Method)
	opt.SetOutput(out)
	opt.SetOptimizable(m)
	opt.SetReportPeriod(cfg.Optimizer.Report)
	opt.WatchSignals(os.Interrupt, syscall.SIGTERM)

	startTime := time.Now()
	opt.Run(cfg.Optimizer.Iterations)
	summary.Time = time.Since(startTime).Seconds()
	summary.Optimizer = opt.Summary()
	opt.PrintResults()

	summary.Model = m.Summary()
	st := summary.Model.Stats
	log.Infof("Engine: %d updates, %d operations, %d matrices, %d accepts, %d rejects, %d rescales",
		st.Updates, st.Operations, st.Matrices, st.Accepts, st.Rejects, st.Rescales)

	if !cfg.Model.NoBranchLengths {
		log.Infof("outtree=%s", in.tree)
		summary.FinalTree = in.tree.String()
	}

	if cfg.Output.Tree != "" {
		if err := os.WriteFile(cfg.Output.Tree, []byte(in.tree.String()+"\n"), 0666); err != nil {
			log.Error("Error creating tree output file:", err)
		}
	}

	if cfg.Output.Plot != "" {
		if err := traceplot.Trace(opt.Trace(), cfg.Optimizer.Method, cfg.Output.Plot); err != nil {
			log.Error("Error plotting trajectory:", err)
		}
		if site.NCategories() > 1 {
			fn := ratesFileName(cfg.Output.Plot)
			if err := traceplot.Rates(site.Rates(), site.Proportions(), fn); err != nil {
				log.Error("Error plotting rates:", err)
			}
		}
	}

	if cfg.Output.Sites != "" {
		lnL, err := m.SiteLogLikelihoods()
		if err != nil {
			log.Error("Error computing site likelihoods:", err)
		} else if err := writeSiteLikelihoods(cfg.Output.Sites, lnL); err != nil {
			log.Error("Error writing site likelihoods:", err)
		}
	}

	return summary, nil
}

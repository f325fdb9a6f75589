/*

Plh computes the likelihood of a nucleotide alignment on a fixed
tree topology. It optimizes branch lengths, site rate variation and
substitution rates by maximum likelihood or samples them with
Metropolis-Hastings.

The basic usage of plh looks like this:

	plh alignment.fst tree.nwk

, this will optimize branch lengths under the equal rates model with
the default optimizer (LBFGS-B).

Gamma rate variation, a sampler and several workers:

	plh -ncatsg 4 -method mh -nt 4 alignment.fst tree.nwk

To see all the options run:

	plh -h

*/
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/op/go-logging"
)

// These three variables are set during the compilation.
var githash = ""
var gitbranch = ""
var buildstamp = ""
var version = fmt.Sprintf("branch: %s, revision: %s, build time: %s", gitbranch, githash, buildstamp)

// Logger settings.
var log = logging.MustGetLogger("plh")
var formatter = logging.MustStringFormatter(`%{message}`)

// packages whose log level follows -loglevel
var logModules = []string{"plh", "optimize", "treelh", "core", "checkpoint", "config", "sitemodel", "eigen", "tree", "bio", "dist"}

// lastLine returns the last line of a file content.
func lastLine(fn string) (line string, err error) {
	f, err := os.Open(fn)
	if err != nil {
		return line, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line = scanner.Text()
	}
	err = scanner.Err()
	return line, err
}

// command-line options
var (
	// application
	app = kingpin.New("plh", "nucleotide tree likelihood optimizer and sampler").Version(version)

	// input tree and alignment
	alignmentFileName = app.Arg("alignment", "sequence alignment").Required().ExistingFile()
	treeFileName      = app.Arg("tree", "phylogenetic tree").Required().ExistingFile()

	// settings file, overrides the model, engine and optimizer flags
	configFileName = app.Flag("config", "read settings from a YAML file").ExistingFile()

	// model parameters
	ncatsg     = app.Flag("ncatsg", "number of categories for the site gamma rate variation (no variation by default)").Default("1").Int()
	invariant  = app.Flag("invariant", "add a proportion of invariable sites").Bool()
	median     = app.Flag("median", "use the median of a gamma category instead of the mean").Bool()
	freqs      = app.Flag("freq", "state frequencies (empirical or equal)").Default("empirical").Enum("empirical", "equal")
	optRates   = app.Flag("optrates", "optimize substitution rates").Bool()
	maxBrLen   = app.Flag("maxbrlen", "maximum branch length").Default("100").Float64()
	noOptBrLen = app.Flag("nobrlen", "don't optimize branch lengths").Bool()

	// engine parameters
	nThreads     = app.Flag("nt", "number of engine workers").Default("1").Int()
	batches      = app.Flag("batches", "compute independent nodes concurrently").Bool()
	useBLAS      = app.Flag("blas", "fold partials with matrix products").Bool()
	noScaling    = app.Flag("noscaling", "don't rescale partials").Bool()
	scalingCheck = app.Flag("scalingcheck", "switch unused rescaling off after N updates (0 keeps it)").Default("0").Int()
	float32Mode  = app.Flag("float32", "use single precision partials").Bool()
	validateOps  = app.Flag("validate", "check the order of operations").Bool()
	tipPartials  = app.Flag("tippartials", "store all tips as partials").Bool()

	// optimizer parameters
	randomize  = app.Flag("randomize", "use uniformly distributed random starting point").Bool()
	iterations = app.Flag("iter", "number of iterations").Default("10000").Int()
	report     = app.Flag("report", "report every N iterations").Default("10").Int()
	method     = app.Flag("method", "optimization method to use "+
		"(lbfgsb: limited-memory Broyden–Fletcher–Goldfarb–Shanno with bounding constraints, "+
		"annealing: simullated annealing, "+
		"mh: Metropolis-Hastings, "+
		"none: just compute likelihood, no optimization"+
		")").Default("lbfgsb").Enum("lbfgsb", "mh", "annealing", "none")

	// mcmc parameters
	accept = app.Flag("accept", "report acceptance rate every N iterations").Default("200").Int()

	// adaptive mcmc parameters
	adaptive = app.Flag("adaptive", "use adaptive MCMC").Bool()
	skip     = app.Flag("skip", "number of iterations to skip for adaptive mcmc (5% by default)").Default("-1").Int()
	maxAdapt = app.Flag("maxadapt", "stop adapting after iteration (20% by default)").Default("-1").Int()

	// technical
	seed       = app.Flag("seed", "random generator seed, default time based").Default("-1").Int64()
	cpuProfile = app.Flag("cpuprofile", "write cpu profile to file").String()
	metricsF   = app.Flag("metrics", "serve engine metrics on host:port").String()

	// input/output
	outLogF     = app.Flag("log", "write log to a file").String()
	outF        = app.Flag("out", "write optimization trajectory to a file").String()
	outTreeF    = app.Flag("tree", "write tree to a file").String()
	plotF       = app.Flag("plot", "plot the likelihood trajectory to a file (png, svg or pdf)").String()
	siteF       = app.Flag("sitelnl", "write site log-likelihoods to a file").String()
	startF      = app.Flag("start", "read start position from the trajectory or JSON file").ExistingFile()
	checkpointF = app.Flag("checkpoint", "checkpoint database").String()
	checkpointT = app.Flag("checkpoint-seconds", "minimal time between checkpoints").Default("60").Float64()
	logLevel    = app.Flag("loglevel", "set loglevel "+
		"('critical', 'error', 'warning', 'notice', 'info', 'debug')").
		Default("notice").
		Enum("critical", "error", "warning", "notice", "info", "debug")
	jsonF = app.Flag("json", "write json output to a file").String()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

	// logging
	logging.SetFormatter(formatter)

	var backend *logging.LogBackend
	if *outLogF != "" {
		f, err := os.OpenFile(*outLogF, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatal("Error creating log file:", err)
		}
		defer f.Close()
		backend = logging.NewLogBackend(f, "", 0)
	} else {
		backend = logging.NewLogBackend(os.Stderr, "", 0)
	}
	logging.SetBackend(backend)

	level, err := logging.LogLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	for _, module := range logModules {
		logging.SetLevel(level, module)
	}

	// print revision
	log.Info(version)

	// print commandline
	log.Info("Command line:", os.Args)

	if *seed == -1 {
		*seed = time.Now().UnixNano()
		log.Debug("Random seed from time")
	}
	log.Infof("Random seed=%v", *seed)
	rand.Seed(*seed)

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal(err)
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal(err)
		}
		defer pprof.StopCPUProfile()
	}

	cfg, err := newConfig()
	if err != nil {
		log.Fatal(err)
	}
	log.Infof("Using %d engine workers, GOMAXPROCS=%d", cfg.Engine.Workers, runtime.GOMAXPROCS(0))

	startTime := time.Now()
	summary, err := run(cfg, *alignmentFileName, *treeFileName, *startF, *randomize)
	if err != nil {
		log.Fatal(err)
	}
	summary.Version = version
	summary.CommandLine = os.Args
	summary.Seed = *seed
	summary.TotalTime = time.Since(startTime).Seconds()
	log.Noticef("Running time: %v", time.Since(startTime))

	// output summary in json format
	if cfg.Output.JSON != "" {
		j, err := json.Marshal(summary)
		if err != nil {
			log.Error(err)
		} else {
			log.Debug(string(j))
			f, err := os.Create(cfg.Output.JSON)
			if err != nil {
				log.Error("Error creating json output file:", err)
			} else {
				if _, err := f.Write(j); err != nil {
					log.Error(err)
				}
				f.Close()
			}
		}
	}
}

// Package config reads run settings from a YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/op/go-logging"
	"gopkg.in/yaml.v3"
)

var log = logging.MustGetLogger("config")

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Model are the substitution and site model settings.
type Model struct {
	// Categories is the number of discrete gamma categories, one
	// means no rate variation.
	Categories int  `yaml:"categories" validate:"gte=1,lte=64"`
	Invariant  bool `yaml:"invariant"`
	Median     bool `yaml:"median"`
	// Frequencies is either "empirical" or "equal".
	Frequencies string `yaml:"frequencies" validate:"oneof=empirical equal"`
	// Exchangeabilities are six symmetric rates, upper triangle
	// row by row.
	Exchangeabilities []float64 `yaml:"exchangeabilities,omitempty" validate:"omitempty,len=6,dive,gt=0"`
	OptimizeRates     bool      `yaml:"optimize_rates"`
	NoBranchLengths   bool      `yaml:"no_branch_lengths"`
	MaxBranchLength   float64   `yaml:"max_branch_length" validate:"gt=0"`
}

// Engine are the likelihood engine settings.
type Engine struct {
	Workers      int  `yaml:"workers" validate:"gte=1"`
	Batches      bool `yaml:"batches"`
	BLAS         bool `yaml:"blas"`
	NoScaling    bool `yaml:"no_scaling"`
	ScalingCheck int  `yaml:"scaling_check" validate:"gte=0"`
	Float32      bool `yaml:"float32"`
	Validate     bool `yaml:"validate"`
	TipPartials  bool `yaml:"tip_partials"`
}

// Optimizer are the optimizer settings.
type Optimizer struct {
	Method     string `yaml:"method" validate:"oneof=lbfgsb mh annealing none"`
	Iterations int    `yaml:"iterations" validate:"gte=0"`
	Report     int    `yaml:"report" validate:"gte=1"`
	Accept     int    `yaml:"accept" validate:"gte=1"`
	Adaptive   bool   `yaml:"adaptive"`
	// Skip and MaxAdapt below zero are derived from Iterations.
	Skip     int `yaml:"skip" validate:"gte=-1"`
	MaxAdapt int `yaml:"max_adapt" validate:"gte=-1"`
}

// Output are the output file names, empty to skip.
type Output struct {
	Trajectory string `yaml:"trajectory,omitempty"`
	Tree       string `yaml:"tree,omitempty"`
	JSON       string `yaml:"json,omitempty"`
	Plot       string `yaml:"plot,omitempty"`
	Sites      string `yaml:"sites,omitempty"`
	Checkpoint string `yaml:"checkpoint,omitempty"`
	// CheckpointSeconds is the minimal time between two checkpoints.
	CheckpointSeconds float64 `yaml:"checkpoint_seconds" validate:"gte=0"`
	Metrics           string  `yaml:"metrics,omitempty" validate:"omitempty,hostname_port"`
}

// Config is the complete run configuration.
type Config struct {
	Model     Model     `yaml:"model"`
	Engine    Engine    `yaml:"engine"`
	Optimizer Optimizer `yaml:"optimizer"`
	Output    Output    `yaml:"output"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Model: Model{
			Categories:      1,
			Frequencies:     "empirical",
			MaxBranchLength: 100,
		},
		Engine: Engine{
			Workers: 1,
		},
		Optimizer: Optimizer{
			Method:     "lbfgsb",
			Iterations: 10000,
			Report:     10,
			Accept:     200,
			Skip:       -1,
			MaxAdapt:   -1,
		},
		Output: Output{
			CheckpointSeconds: 60,
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verr validator.ValidationErrors
		if errors.As(err, &verr) {
			return fmt.Errorf("invalid configuration: %v", verr)
		}
		return err
	}
	return nil
}

// Parse reads YAML on top of the defaults. Unknown keys are errors.
func Parse(b []byte) (*Config, error) {
	c := Default()
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads and validates a configuration file.
func Load(fn string) (*Config, error) {
	b, err := os.ReadFile(fn)
	if err != nil {
		return nil, err
	}
	c, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn, err)
	}
	log.Infof("Read configuration from %s", fn)
	return c, nil
}

// Marshal returns the YAML representation.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

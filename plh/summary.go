package main

import (
	"bitbucket.org/Davydov/plh/optimize"
	"bitbucket.org/Davydov/plh/treelh"
)

// RunSummary is storing plh run summary information.
type RunSummary struct {
	// Version stores plh version.
	Version string `json:"version"`
	// CommandLine is an array storing binary name and all command-line parameters.
	CommandLine []string `json:"commandLine"`
	// Seed is the seed used for random number generation initialization.
	Seed int64 `json:"seed"`
	// Workers is the number of engine workers.
	Workers int `json:"workers"`
	// Precision is either float32 or float64.
	Precision string `json:"precision"`
	// StartingTree is the tree after resolving polytomies.
	StartingTree string `json:"startingTree"`
	// FinalTree is the tree after branch length optimization (if performend).
	FinalTree string `json:"finalTree,omitempty"`
	// Restored is set if the run continued from a checkpoint.
	Restored bool `json:"restored,omitempty"`
	// Time is the optimization time in seconds.
	Time float64 `json:"optimizationTime"`
	// TotalTime is the total time in seconds.
	TotalTime float64 `json:"time"`
	// Model is the final model state.
	Model treelh.Summary `json:"model"`
	// Optimizer is the optimizer summary.
	Optimizer optimize.Summary `json:"optimizer"`
}

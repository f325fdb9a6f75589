package optimize

import (
	"math/rand"
)

// Proposals are symmetric, MH does not apply a Hastings correction.
// Values leaving the parameter range are reflected back by the
// parameter.

// UniformProposal returns uniform proposal function in [x-width/2,
// x+width/2).
func UniformProposal(width float64) func(float64) float64 {
	if width <= 0 {
		panic("width should be positive")
	}
	return func(x float64) float64 {
		return x + (rand.Float64()-0.5)*width
	}
}

// NormalProposal returns normal proposal function.
func NormalProposal(sd float64) func(float64) float64 {
	if sd <= 0 {
		panic("sd should be positive")
	}
	return func(x float64) float64 {
		return x + rand.NormFloat64()*sd
	}
}

// Package dist implements discretization of the gamma distribution
// used for rate variation among sites.
package dist

/*
The discretization follows Yang (1994), Maximum likelihood
phylogenetic estimation from DNA sequences with variable rates over
sites: approximate methods. J Mol Evol 39:306-314.
*/

import (
	"math"

	"github.com/gonum/mathext"
	"gonum.org/v1/gonum/stat/distuv"
)

// QuantileGamma returns the quantile of the gamma distribution with
// shape alpha and rate beta.
func QuantileGamma(prob, alpha, beta float64) float64 {
	return distuv.Gamma{Alpha: alpha, Beta: beta}.Quantile(prob)
}

// IncompleteGamma returns the incomplete gamma ratio I(x,alpha) where x
// is the upper limit of the integration and alpha is the shape
// parameter.
func IncompleteGamma(x, alpha float64) float64 {
	return mathext.GammaInc(alpha, x)
}

// DiscreteGamma returns the rates of K equiprobable categories of
// G(alpha, beta). With UseMedian the median of every category is used
// and rescaled so the mean is alpha/beta, otherwise the category means.
// tmp and res are reused if not nil.
func DiscreteGamma(alpha, beta float64, K int, UseMedian bool, tmp, res []float64) []float64 {
	mean := alpha / beta
	if res == nil {
		res = make([]float64, K)
	}
	if K == 1 {
		res[0] = mean
		return res
	}
	if tmp == nil {
		tmp = make([]float64, K)
	}

	if UseMedian {
		t := 0.0
		for i := 0; i < K; i++ {
			res[i] = QuantileGamma((float64(i)*2+1)/(2*float64(K)), alpha, beta)
			t += res[i]
		}
		for i := 0; i < K; i++ {
			res[i] *= mean * float64(K) / t
		}
		return res
	}

	// cutting points
	for i := 0; i < K-1; i++ {
		tmp[i] = QuantileGamma((float64(i)+1)/float64(K), alpha, beta)
	}
	// mean of a category is the mass of G(alpha+1, beta) between the
	// cutting points
	for i := 0; i < K-1; i++ {
		tmp[i] = IncompleteGamma(tmp[i]*beta, alpha+1)
	}
	res[0] = tmp[0] * mean * float64(K)
	for i := 1; i < K-1; i++ {
		res[i] = (tmp[i] - tmp[i-1]) * mean * float64(K)
	}
	res[K-1] = (1 - tmp[K-2]) * mean * float64(K)

	for i, v := range res {
		if math.IsNaN(v) || v < 0 {
			log.Warningf("Discrete gamma category %d is %v (alpha=%v, K=%d)", i, v, alpha, K)
		}
	}
	return res
}

// Package specfunc is the thin external-collaborator shim named in
// SPEC_FULL.md §6: digamma, trigamma, the inverse chi-square quantile
// and the normal inverse CDF, bound to gonum rather than hand-rolled.
package specfunc

import (
	"math"

	"gonum.org/v1/gonum/mathext"
	"gonum.org/v1/gonum/stat/distuv"
)

// Digamma returns ψ(x), the logarithmic derivative of the gamma
// function.
func Digamma(x float64) float64 {
	return mathext.Digamma(x)
}

// Trigamma returns ψ'(x), the second logarithmic derivative of the
// gamma function. gonum's mathext does not expose trigamma directly,
// so it is obtained from the standard asymptotic series plus the
// recurrence ψ'(x) = ψ'(x+1) + 1/x^2, reflecting small arguments up
// into the region where the series converges quickly.
func Trigamma(x float64) float64 {
	var shift float64
	for x < 6 {
		shift += 1 / (x * x)
		x++
	}
	inv := 1 / x
	inv2 := inv * inv
	// Asymptotic series: psi'(x) ~ 1/x + 1/(2x^2) + sum B_{2k}/x^{2k+1}
	series := inv + inv2/2 + inv2*inv*(1.0/6-inv2*(1.0/30-inv2*(1.0/42-inv2/30)))
	return shift + series
}

// QChisq returns the p-quantile of a chi-square distribution with the
// given degrees of freedom. lowerTail and logP mirror the standard
// qchisq(p, df, lower_tail, log_p) signature: when logP is true, p is
// interpreted as log(p); when lowerTail is false, 1-p is used.
func QChisq(p float64, df float64, lowerTail, logP bool) float64 {
	if logP {
		p = math.Exp(p)
	}
	if !lowerTail {
		p = 1 - p
	}
	d := distuv.ChiSquared{K: df}
	return d.Quantile(p)
}

// NormInv returns Φ⁻¹(p; mu, sigma), the inverse CDF of a normal
// distribution with the given mean and standard deviation.
func NormInv(p, mu, sigma float64) float64 {
	d := distuv.Normal{Mu: mu, Sigma: sigma}
	return d.Quantile(p)
}

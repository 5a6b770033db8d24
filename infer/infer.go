// Package infer computes confidence intervals around a maximum
// likelihood fit: asymptotic (Wald) intervals from the inverse
// observed-information matrix, and profile-likelihood intervals by
// re-optimizing with one parameter frozen at a grid of trial values.
package infer

import (
	"math"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/rasigadelab/Rshadow/ad"
	"github.com/rasigadelab/Rshadow/linalg"
	"github.com/rasigadelab/Rshadow/solve"
	"github.com/rasigadelab/Rshadow/specfunc"
)

// ErrBadHessian is returned when the negated Hessian at the supplied
// point is not positive definite, so no covariance can be extracted.
var ErrBadHessian = errors.New("infer: Hessian is not negative definite at the solution")

// Interval is a point estimate together with a two-sided confidence
// interval at some confidence level.
type Interval struct {
	Estimate   float64
	Lower      float64
	Upper      float64
}

// Covariance returns the asymptotic covariance matrix of the
// parameters in params (trace input slots), from the inverse of the
// negated Hessian at tr's current point. tr must already be played at
// the maximum.
func Covariance(tr *ad.Trace, params []int) (*mat.SymDense, error) {
	n := len(params)
	h := mat.NewSymDense(n, nil)
	for i, pi := range params {
		for j := i; j != n; j++ {
			h.SetSym(i, j, -tr.Hessian.Read(pi, params[j]))
		}
	}
	fac, err := linalg.FactorizeCholesky(h)
	if err != nil {
		return nil, errors.Wrap(ErrBadHessian, err.Error())
	}
	cov, err := fac.Inverse()
	if err != nil {
		return nil, errors.Wrap(ErrBadHessian, err.Error())
	}
	return cov, nil
}

// Asymptotic returns Wald confidence intervals for the parameters in
// params at the given confidence level (e.g. 0.95), from the
// asymptotic normal approximation around tr's current point.
func Asymptotic(tr *ad.Trace, params []int, level float64) ([]Interval, error) {
	cov, err := Covariance(tr, params)
	if err != nil {
		return nil, err
	}
	z := specfunc.NormInv(1-(1-level)/2, 0, 1)
	out := make([]Interval, len(params))
	for i, pi := range params {
		se := math.Sqrt(cov.At(i, i))
		est := tr.Values[pi]
		out[i] = Interval{Estimate: est, Lower: est - z*se, Upper: est + z*se}
	}
	return out, nil
}

// Profile returns the profile-likelihood confidence interval for
// parameter p (a trace input slot) at the given confidence level: the
// set of values at which, after re-maximizing over every other free
// parameter, twice the drop in log-likelihood first reaches the
// chi-square(1) quantile for level. tr must already be played at the
// joint maximum; on return tr is restored to that point.
func Profile(tr *ad.Trace, p int, level float64, cfg solve.Config, log zerolog.Logger) (Interval, error) {
	n := tr.Tape.NInput
	mleLL := tr.Objective()
	mleParams := append([]float64(nil), tr.Values[:n]...)
	threshold := specfunc.QChisq(level, 1, true, false) / 2

	restore := func() {
		copy(tr.Values[:n], mleParams)
		tr.Play()
	}
	defer restore()

	fixed := map[int]bool{p: true}
	deviance := func(trial float64) (float64, error) {
		copy(tr.Values[:n], mleParams)
		tr.Values[p] = trial
		if _, err := solve.Maximize(tr, fixed, cfg, log); err != nil {
			return 0, err
		}
		return mleLL - tr.Objective(), nil
	}

	bound := func(dir float64) (float64, error) {
		est := mleParams[p]
		step := 0.1 * math.Max(math.Abs(est), 1)
		lo, hi := est, est
		for i := 0; i != 50; i++ {
			trial := est + dir*float64(i+1)*step
			d, err := deviance(trial)
			if err != nil {
				return 0, err
			}
			if d >= threshold {
				lo, hi = est+dir*float64(i)*step, trial
				break
			}
			hi = trial
		}
		for iter := 0; iter != 60; iter++ {
			mid := 0.5 * (lo + hi)
			d, err := deviance(mid)
			if err != nil {
				return 0, err
			}
			if d < threshold {
				lo = mid
			} else {
				hi = mid
			}
		}
		return 0.5 * (lo + hi), nil
	}

	upper, err := bound(1)
	if err != nil {
		return Interval{}, err
	}
	lower, err := bound(-1)
	if err != nil {
		return Interval{}, err
	}
	return Interval{Estimate: mleParams[p], Lower: lower, Upper: upper}, nil
}

// ProfileAll returns profile-likelihood intervals for every parameter
// in params, restoring tr to its joint maximum between calls.
func ProfileAll(tr *ad.Trace, params []int, level float64, cfg solve.Config, log zerolog.Logger) ([]Interval, error) {
	out := make([]Interval, len(params))
	for i, p := range params {
		iv, err := Profile(tr, p, level, cfg, log)
		if err != nil {
			return nil, err
		}
		out[i] = iv
	}
	return out, nil
}

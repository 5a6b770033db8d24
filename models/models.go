// Package models collects log-density building blocks and ready
// objective builders on top of the ad package's tagged operator set,
// mirroring the log-likelihood terms the teacher's hierarchical
// examples wrote as plain Go arithmetic, but expressed as
// differentiable Spy expressions so the solver can second-order
// optimize them directly.
package models

import (
	"math"

	"github.com/pkg/errors"

	"github.com/rasigadelab/Rshadow/ad"
)

var log2pi = math.Log(2 * math.Pi)

// LogNormal returns the elementwise normal log-density of y under
// mean mu and standard deviation sigma (Spy-valued, broadcasting
// under the usual scalar/vector rule). Callers reduce it to a scalar
// log-likelihood with Sum.
func LogNormal(y, mu, sigma *ad.Spy) (*ad.Spy, error) {
	d, err := y.Sub(mu)
	if err != nil {
		return nil, err
	}
	z, err := d.Div(sigma)
	if err != nil {
		return nil, err
	}
	z2, err := z.Pow(ad.ConstScalar(y.Tape, 2))
	if err != nil {
		return nil, err
	}
	half, err := z2.MulScalar(0.5)
	if err != nil {
		return nil, err
	}
	withLogSigma, err := half.Add(sigma.Log())
	if err != nil {
		return nil, err
	}
	return withLogSigma.Neg().AddScalar(-0.5 * log2pi)
}

// LogBeta returns the elementwise Beta(a,b) log-density of x in (0,1).
func LogBeta(x, a, b *ad.Spy) (*ad.Spy, error) {
	aMinus1, err := a.AddScalar(-1)
	if err != nil {
		return nil, err
	}
	bMinus1, err := b.AddScalar(-1)
	if err != nil {
		return nil, err
	}
	term1, err := aMinus1.Mul(x.Log())
	if err != nil {
		return nil, err
	}
	term2, err := bMinus1.Mul(x.Log1m())
	if err != nil {
		return nil, err
	}
	aPlusB, err := a.Add(b)
	if err != nil {
		return nil, err
	}
	lbeta, err := a.Lgamma().Add(b.Lgamma())
	if err != nil {
		return nil, err
	}
	lbeta, err = lbeta.Sub(aPlusB.Lgamma())
	if err != nil {
		return nil, err
	}
	sum, err := term1.Add(term2)
	if err != nil {
		return nil, err
	}
	return sum.Sub(lbeta)
}

// LogGamma returns the elementwise Gamma(shape,rate) log-density of x.
func LogGamma(x, shape, rate *ad.Spy) (*ad.Spy, error) {
	shapeMinus1, err := shape.AddScalar(-1)
	if err != nil {
		return nil, err
	}
	term1, err := shapeMinus1.Mul(x.Log())
	if err != nil {
		return nil, err
	}
	term2, err := rate.Mul(x)
	if err != nil {
		return nil, err
	}
	normConst, err := shape.Mul(rate.Log())
	if err != nil {
		return nil, err
	}
	normConst, err = normConst.Sub(shape.Lgamma())
	if err != nil {
		return nil, err
	}
	diff, err := term1.Sub(term2)
	if err != nil {
		return nil, err
	}
	return diff.Add(normConst)
}

// LogDirichlet returns the scalar Dirichlet(alpha) log-density of the
// simplex-valued vector x.
func LogDirichlet(x, alpha *ad.Spy) (*ad.Spy, error) {
	alphaMinus1, err := alpha.AddScalar(-1)
	if err != nil {
		return nil, err
	}
	weighted, err := alphaMinus1.Mul(x.Log())
	if err != nil {
		return nil, err
	}
	kernel := weighted.Sum()
	normConst := alpha.Sum().Lgamma()
	lgammaSum := alpha.Lgamma().Sum()
	normConst, err = normConst.Neg().Add(lgammaSum)
	if err != nil {
		return nil, err
	}
	return kernel.Sub(normConst)
}

// LogLogistic returns the elementwise standard-logistic log-density
// of x under location mu and scale s, built from the Logistic
// sigmoid primitive: log f = -z - log(s) + 2*log(sigmoid(z)), where
// z = (x-mu)/s.
func LogLogistic(x, mu, s *ad.Spy) (*ad.Spy, error) {
	d, err := x.Sub(mu)
	if err != nil {
		return nil, err
	}
	z, err := d.Div(s)
	if err != nil {
		return nil, err
	}
	sigLog := z.Logistic().Log()
	twiceSigLog, err := sigLog.MulScalar(2)
	if err != nil {
		return nil, err
	}
	withoutLogS, err := z.Neg().Add(twiceSigLog)
	if err != nil {
		return nil, err
	}
	return withoutLogS.Sub(s.Log())
}

var errDimension = errors.New("models: design matrix and response length mismatch")

// LinearRegression builds the Gaussian-error log-likelihood objective
// for y ~ Normal(X*beta, sigma): beta (p free inputs) and logSigma (1
// free input, exponentiated to keep sigma positive) are declared on
// tape, X and y are fixed data. It returns the scalar objective spy
// (the tape's final operator) and handles to beta and sigma for
// reading back the fit.
func LinearRegression(tape *ad.Tape, x [][]float64, y []float64, betaInit []float64, logSigmaInit float64) (objective, beta, sigma *ad.Spy, err error) {
	n := len(y)
	if len(x) != n {
		return nil, nil, nil, errDimension
	}
	p := len(betaInit)
	flat := make([]float64, n*p)
	for i := 0; i != n; i++ {
		for j := 0; j != p; j++ {
			flat[i+j*n] = x[i][j]
		}
	}
	xSpy := ad.Const(tape, flat, n, p)

	beta, err = ad.NewInput(tape, betaInit, p, 1)
	if err != nil {
		return nil, nil, nil, err
	}
	logSigma, err := ad.NewInput(tape, []float64{logSigmaInit})
	if err != nil {
		return nil, nil, nil, err
	}
	sigma = logSigma.Exp()

	eta, err := xSpy.MatMul(beta)
	if err != nil {
		return nil, nil, nil, err
	}
	etaVec, err := eta.Reshape(n)
	if err != nil {
		return nil, nil, nil, err
	}
	ySpy := ad.Const(tape, y)
	ll, err := LogNormal(ySpy, etaVec, sigma)
	if err != nil {
		return nil, nil, nil, err
	}
	objective = ll.Sum()
	return objective, beta, sigma, nil
}

// LogisticRegression builds the Bernoulli log-likelihood objective
// for y ~ Bernoulli(logistic(X*beta)): beta (p free inputs) is
// declared on tape, X and y are fixed data. It returns the scalar
// objective spy and a handle to beta.
func LogisticRegression(tape *ad.Tape, x [][]float64, y []float64, betaInit []float64) (objective, beta *ad.Spy, err error) {
	n := len(y)
	if len(x) != n {
		return nil, nil, errDimension
	}
	p := len(betaInit)
	flat := make([]float64, n*p)
	for i := 0; i != n; i++ {
		for j := 0; j != p; j++ {
			flat[i+j*n] = x[i][j]
		}
	}
	xSpy := ad.Const(tape, flat, n, p)

	beta, err = ad.NewInput(tape, betaInit, p, 1)
	if err != nil {
		return nil, nil, err
	}
	eta, err := xSpy.MatMul(beta)
	if err != nil {
		return nil, nil, err
	}
	etaVec, err := eta.Reshape(n)
	if err != nil {
		return nil, nil, err
	}
	prob := etaVec.Logistic()
	ySpy := ad.Const(tape, y)
	objective, err = prob.BernoulliLL(ySpy)
	if err != nil {
		return nil, nil, err
	}
	return objective, beta, nil
}

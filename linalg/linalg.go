// Package linalg bridges the sparse Hessian to gonum's dense matrix
// factorizations: Cholesky first (the working Hessian is expected
// negative-definite near a maximum, so the solver negates it before
// calling in), falling back to LU for the regularization schedule's
// probing phase, where an attempted factorization of an indefinite
// matrix is an expected, recoverable event rather than a bug.
package linalg

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNotPositiveDefinite is returned by FactorizeCholesky when the
// input is not symmetric positive definite.
var ErrNotPositiveDefinite = errors.New("linalg: matrix is not positive definite")

// ErrSingular is returned by Factorize when both Cholesky and LU fail
// to produce a usable factorization.
var ErrSingular = errors.New("linalg: matrix is numerically singular")

// Factorization holds whichever decomposition succeeded for a given
// dense symmetric matrix, preferring Cholesky.
type Factorization struct {
	n     int
	chol  *mat.Cholesky
	lu    *mat.LU
	useLU bool
}

// Factorize attempts a Cholesky factorization of h first; if h is not
// positive definite it falls back to LU, returning ErrSingular only if
// LU itself reports a numerically singular matrix.
func Factorize(h *mat.SymDense) (*Factorization, error) {
	n, _ := h.Dims()
	var chol mat.Cholesky
	if chol.Factorize(h) {
		return &Factorization{n: n, chol: &chol}, nil
	}
	var lu mat.LU
	lu.Factorize(h)
	if lu.Cond() > 1e14 {
		return nil, ErrSingular
	}
	return &Factorization{n: n, lu: &lu, useLU: true}, nil
}

// FactorizeCholesky factorizes h via Cholesky only, returning
// ErrNotPositiveDefinite if h is not SPD. Used where a non-SPD result
// signals a genuine error rather than a regularization retry (the
// asymptotic-covariance path).
func FactorizeCholesky(h *mat.SymDense) (*Factorization, error) {
	n, _ := h.Dims()
	var chol mat.Cholesky
	if !chol.Factorize(h) {
		return nil, ErrNotPositiveDefinite
	}
	return &Factorization{n: n, chol: &chol}, nil
}

// SolveVec solves f*x = rhs.
func (f *Factorization) SolveVec(rhs *mat.VecDense) (*mat.VecDense, error) {
	var x mat.VecDense
	if f.useLU {
		if err := f.lu.SolveVecTo(&x, false, rhs); err != nil {
			return nil, errors.Wrap(ErrSingular, err.Error())
		}
		return &x, nil
	}
	if err := f.chol.SolveVecTo(&x, rhs); err != nil {
		return nil, errors.Wrap(ErrSingular, err.Error())
	}
	return &x, nil
}

// Inverse materializes the full inverse of the factorized matrix, used
// by the asymptotic-covariance collaborator.
func (f *Factorization) Inverse() (*mat.SymDense, error) {
	inv := mat.NewSymDense(f.n, nil)
	if f.useLU {
		var dense mat.Dense
		if err := f.lu.InverseTo(&dense); err != nil {
			return nil, errors.Wrap(ErrSingular, err.Error())
		}
		for i := 0; i != f.n; i++ {
			for j := i; j != f.n; j++ {
				inv.SetSym(i, j, dense.At(i, j))
			}
		}
		return inv, nil
	}
	if err := f.chol.InverseTo(inv); err != nil {
		return nil, errors.Wrap(ErrSingular, err.Error())
	}
	return inv, nil
}

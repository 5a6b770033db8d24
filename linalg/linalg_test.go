package linalg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestFactorizeCholeskySucceedsOnPositiveDefinite(t *testing.T) {
	h := mat.NewSymDense(2, []float64{4, 1, 1, 3})
	f, err := FactorizeCholesky(h)
	require.NoError(t, err)

	rhs := mat.NewVecDense(2, []float64{1, 2})
	x, err := f.SolveVec(rhs)
	require.NoError(t, err)

	var check mat.VecDense
	check.MulVec(h, x)
	assert.InDelta(t, 1.0, check.AtVec(0), 1e-9)
	assert.InDelta(t, 2.0, check.AtVec(1), 1e-9)
}

func TestFactorizeCholeskyFailsOnIndefinite(t *testing.T) {
	h := mat.NewSymDense(2, []float64{0, 1, 1, 0})
	_, err := FactorizeCholesky(h)
	assert.ErrorIs(t, err, ErrNotPositiveDefinite)
}

func TestFactorizeFallsBackToLUOnIndefinite(t *testing.T) {
	h := mat.NewSymDense(2, []float64{0, 1, 1, 0})
	f, err := Factorize(h)
	require.NoError(t, err)
	assert.True(t, f.useLU)

	rhs := mat.NewVecDense(2, []float64{1, 1})
	x, err := f.SolveVec(rhs)
	require.NoError(t, err)

	var check mat.VecDense
	check.MulVec(h, x)
	assert.InDelta(t, 1.0, check.AtVec(0), 1e-9)
	assert.InDelta(t, 1.0, check.AtVec(1), 1e-9)
}

func TestInverseRoundTripsIdentity(t *testing.T) {
	h := mat.NewSymDense(2, []float64{4, 1, 1, 3})
	f, err := FactorizeCholesky(h)
	require.NoError(t, err)

	inv, err := f.Inverse()
	require.NoError(t, err)

	var product mat.Dense
	product.Mul(h, inv)
	assert.InDelta(t, 1.0, product.At(0, 0), 1e-9)
	assert.InDelta(t, 0.0, product.At(0, 1), 1e-9)
	assert.InDelta(t, 0.0, product.At(1, 0), 1e-9)
	assert.InDelta(t, 1.0, product.At(1, 1), 1e-9)
}

func TestFactorizeReportsSingularOnZeroMatrix(t *testing.T) {
	h := mat.NewSymDense(2, []float64{0, 0, 0, 0})
	_, err := Factorize(h)
	assert.ErrorIs(t, err, ErrSingular)
}

package infer

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rasigadelab/Rshadow/ad"
	"github.com/rasigadelab/Rshadow/models"
	"github.com/rasigadelab/Rshadow/solve"
)

func fitLinearRegression(t *testing.T) (*ad.Trace, []int) {
	t.Helper()
	x := [][]float64{{1, 1}, {1, 2}, {1, 3}, {1, 4}, {1, 5}, {1, 6}, {1, 7}, {1, 8}}
	noise := []float64{0.1, -0.05, 0.08, -0.1, 0.02, -0.03, 0.06, -0.07}
	y := make([]float64, len(x))
	for i, row := range x {
		y[i] = 1.0 + 2.0*row[1] + noise[i]
	}

	tape := ad.NewTape()
	_, beta, _, err := models.LinearRegression(tape, x, y, []float64{0, 0}, 0)
	require.NoError(t, err)

	tr := ad.NewTrace(tape)
	cfg := solve.DefaultConfig()
	_, err = solve.Maximize(tr, nil, cfg, zerolog.Nop())
	require.NoError(t, err)

	params := make([]int, beta.Len())
	for i := range params {
		params[i] = beta.Op.Begin + i
	}
	return tr, params
}

func TestAsymptoticIntervalsContainTruth(t *testing.T) {
	tr, params := fitLinearRegression(t)
	intervals, err := Asymptotic(tr, params, 0.95)
	require.NoError(t, err)
	require.Len(t, intervals, 2)

	assert.Less(t, intervals[0].Lower, 1.0)
	assert.Greater(t, intervals[0].Upper, 1.0)
	assert.Less(t, intervals[1].Lower, 2.0)
	assert.Greater(t, intervals[1].Upper, 2.0)
}

func TestCovarianceDiagonalMatchesAsymptoticVariance(t *testing.T) {
	tr, params := fitLinearRegression(t)
	cov, err := Covariance(tr, params)
	require.NoError(t, err)

	intervals, err := Asymptotic(tr, params, 0.95)
	require.NoError(t, err)

	for i, iv := range intervals {
		se := (iv.Upper - iv.Estimate) / 1.959963984540054
		assert.InDelta(t, se*se, cov.At(i, i), 1e-6)
	}
}

func TestProfileIntervalsBracketAsymptoticEstimate(t *testing.T) {
	tr, params := fitLinearRegression(t)
	cfg := solve.DefaultConfig()
	iv, err := Profile(tr, params[1], 0.95, cfg, zerolog.Nop())
	require.NoError(t, err)

	assert.Less(t, iv.Lower, iv.Estimate)
	assert.Greater(t, iv.Upper, iv.Estimate)
	assert.InDelta(t, 2.0, iv.Estimate, 0.3)
}

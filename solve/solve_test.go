package solve

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rasigadelab/Rshadow/ad"
)

// buildParaboloid records the concave objective
// -(x-3)^2 - (y+2)^2, whose unique maximizer is (3,-2).
func buildParaboloid(x0, y0 float64) (*ad.Tape, *ad.Trace) {
	tape := ad.NewTape()
	x, _ := ad.NewInput(tape, []float64{x0})
	y, _ := ad.NewInput(tape, []float64{y0})

	dx, _ := x.AddScalar(-3)
	dy, _ := y.AddScalar(2)
	sq, _ := dx.Pow(ad.ConstScalar(tape, 2))
	sq2, _ := dy.Pow(ad.ConstScalar(tape, 2))
	sum, _ := sq.Add(sq2)
	neg := sum.Neg()
	_ = neg.Sum()

	tr := ad.NewTrace(tape)
	return tape, tr
}

func TestMaximizeConvergesToKnownOptimum(t *testing.T) {
	_, tr := buildParaboloid(0, 0)
	cfg := DefaultConfig()
	result, err := Maximize(tr, nil, cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, result.Converged)
	assert.InDelta(t, 3.0, tr.Values[0], 1e-2)
	assert.InDelta(t, -2.0, tr.Values[1], 1e-2)
	assert.InDelta(t, 0.0, result.Objective, 1e-2)
}

func TestMaximizeMonotoneAscent(t *testing.T) {
	_, tr := buildParaboloid(10, 10)
	tr.Play()
	before := tr.Objective()

	cfg := DefaultConfig()
	cfg.MaxIterations = 1
	_, err := Maximize(tr, nil, cfg, zerolog.Nop())
	require.NoError(t, err)
	after := tr.Objective()

	assert.GreaterOrEqual(t, after, before)
}

func TestMaximizeRespectsFixedParameters(t *testing.T) {
	_, tr := buildParaboloid(0, 0)
	cfg := DefaultConfig()
	fixed := map[int]bool{0: true}
	result, err := Maximize(tr, fixed, cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, result.Converged)
	assert.Equal(t, 0.0, tr.Values[0], "a fixed parameter must not move")
	assert.InDelta(t, -2.0, tr.Values[1], 1e-2)
}

func TestMaximizeReportsInfiniteObjectiveAtStart(t *testing.T) {
	tape := ad.NewTape()
	x, _ := ad.NewInput(tape, []float64{-1})
	logX := x.Log()
	_ = logX.Sum()

	tr := ad.NewTrace(tape)
	cfg := DefaultConfig()
	_, err := Maximize(tr, nil, cfg, zerolog.Nop())
	assert.ErrorIs(t, err, ErrInfiniteObjective)
}

func TestNewtonStepRegularizesSingularHessian(t *testing.T) {
	// f(x,y) = x is linear in both inputs, so the true Hessian (and
	// hence the working Hessian) is the exact zero matrix: singular,
	// not just indefinite. newtonStep must still produce a direction
	// by walking the Tikhonov schedule toward the identity instead of
	// reporting ErrFactorizationFailed.
	tape := ad.NewTape()
	x, err := ad.NewInput(tape, []float64{2.0})
	require.NoError(t, err)
	_, err = ad.NewInput(tape, []float64{-3.0})
	require.NoError(t, err)
	obj := x.Sum()
	_ = obj

	tr := ad.NewTrace(tape)
	tr.Play()

	dx, err := newtonStep(tr, nil, 2, DefaultConfig())
	require.NoError(t, err)
	assert.Greater(t, dx[0], 0.0, "the regularized step must move toward increasing x")
	assert.Equal(t, 0.0, dx[1], "y has no effect on the objective and must not move")
}

func TestBrentMinimizeFindsKnownMinimum(t *testing.T) {
	f := func(t float64) float64 { return (t - 1.3) * (t - 1.3) }
	x, fx, err := brentMinimize(f, -5, 5, 1e-10)
	require.NoError(t, err)
	assert.InDelta(t, 1.3, x, 1e-4)
	assert.InDelta(t, 0.0, fx, 1e-6)
}

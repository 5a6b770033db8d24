package ad

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// finiteDiffGradient perturbs each free input of tr by h and returns
// the central-difference gradient of the objective.
func finiteDiffGradient(tr *Trace, h float64) []float64 {
	n := tr.Tape.NInput
	g := make([]float64, n)
	base := append([]float64(nil), tr.Values[:n]...)
	for i := 0; i != n; i++ {
		copy(tr.Values[:n], base)
		tr.Values[i] = base[i] + h
		tr.PlayForward()
		up := tr.Objective()

		copy(tr.Values[:n], base)
		tr.Values[i] = base[i] - h
		tr.PlayForward()
		down := tr.Objective()

		g[i] = (up - down) / (2 * h)
	}
	copy(tr.Values[:n], base)
	tr.PlayForward()
	return g
}

// finiteDiffHessian returns the central-difference Hessian of the
// objective restricted to the free inputs.
func finiteDiffHessian(tr *Trace, h float64) [][]float64 {
	n := tr.Tape.NInput
	base := append([]float64(nil), tr.Values[:n]...)
	hess := make([][]float64, n)
	for i := range hess {
		hess[i] = make([]float64, n)
	}

	eval := func(pert map[int]float64) float64 {
		copy(tr.Values[:n], base)
		for idx, delta := range pert {
			tr.Values[idx] += delta
		}
		tr.PlayForward()
		return tr.Objective()
	}

	for i := 0; i != n; i++ {
		for j := i; j != n; j++ {
			var v float64
			if i == j {
				up := eval(map[int]float64{i: h})
				mid := eval(nil)
				down := eval(map[int]float64{i: -h})
				v = (up - 2*mid + down) / (h * h)
			} else {
				pp := eval(map[int]float64{i: h, j: h})
				pm := eval(map[int]float64{i: h, j: -h})
				mp := eval(map[int]float64{i: -h, j: h})
				mm := eval(map[int]float64{i: -h, j: -h})
				v = (pp - pm - mp + mm) / (4 * h * h)
			}
			hess[i][j] = v
			hess[j][i] = v
		}
	}
	copy(tr.Values[:n], base)
	tr.PlayForward()
	return hess
}

func TestGradientAndHessianMatchFiniteDifference(t *testing.T) {
	tape := NewTape()
	x, err := NewInput(tape, []float64{1.3})
	require.NoError(t, err)
	y, err := NewInput(tape, []float64{-0.7})
	require.NoError(t, err)

	xy, err := x.Mul(y)
	require.NoError(t, err)
	withExp := xy.Exp()
	logTerm := x.Log1p()
	combined, err := withExp.Add(logTerm)
	require.NoError(t, err)
	obj := combined.Sum()
	_ = obj

	tr := NewTrace(tape)
	tr.Play()

	g := finiteDiffGradient(tr, 1e-5)
	h := finiteDiffHessian(tr, 1e-4)

	assert.InDelta(t, g[0], tr.Adjoints[0], 1e-3)
	assert.InDelta(t, g[1], tr.Adjoints[1], 1e-3)
	for i := 0; i != 2; i++ {
		for j := 0; j != 2; j++ {
			assert.InDelta(t, h[i][j], tr.Hessian.Read(i, j), 5e-2,
				"Hessian[%d][%d]", i, j)
		}
	}
}

func TestHessianIsSymmetricAfterPlay(t *testing.T) {
	tape := NewTape()
	a, err := NewInput(tape, []float64{0.4, -1.1, 2.0})
	require.NoError(t, err)
	sq := a.unarySquareForTest()
	obj := sq.Sum()
	_ = obj

	tr := NewTrace(tape)
	tr.Play()

	for i := 0; i != 3; i++ {
		for j := 0; j != 3; j++ {
			assert.Equal(t, tr.Hessian.Read(i, j), tr.Hessian.Read(j, i))
		}
	}
}

// unarySquareForTest exercises OpSquare directly without going through
// the Pow peephole, for a cheap intra-package Hessian-symmetry fixture.
func (s *Spy) unarySquareForTest() *Spy {
	return s.unary(OpSquare)
}

func TestPlaybackIsIdempotentWithoutParameterChanges(t *testing.T) {
	tape := NewTape()
	x, err := NewInput(tape, []float64{2.0})
	require.NoError(t, err)
	y, err := NewInput(tape, []float64{3.0})
	require.NoError(t, err)
	prod, err := x.Mul(y)
	require.NoError(t, err)
	obj := prod.Sum()
	_ = obj

	tr := NewTrace(tape)
	tr.Play()
	v1 := append([]float64(nil), tr.Values...)
	a1 := append([]float64(nil), tr.Adjoints...)

	tr.Play()
	v2 := tr.Values
	a2 := tr.Adjoints

	assert.Equal(t, v1, v2)
	assert.Equal(t, a1, a2)
}

func TestTraceShapeInvariant(t *testing.T) {
	tape := NewTape()
	x, err := NewInput(tape, []float64{1, 2, 3})
	require.NoError(t, err)
	s := x.Sum()
	_ = s

	tr := NewTrace(tape)
	assert.Equal(t, tape.NTrace, len(tr.Values))
	assert.Equal(t, tape.NTrace, len(tr.Adjoints))
	last := tape.Ops[len(tape.Ops)-1]
	assert.Equal(t, tape.NTrace, last.OutBegin+last.OutLen)
}

func TestPeepholeCollapsesSelfForms(t *testing.T) {
	tape := NewTape()
	x, err := NewInput(tape, []float64{1.7})
	require.NoError(t, err)

	// y = x - x + 3x - x - x collapses, by plain coefficient counting
	// (1 - 1 + 3 - 1 - 1 = 1), to the identity function x. The self-form
	// peephole rewrites (x-x -> trivial0, and so on) must still leave
	// the value and gradient exactly consistent with that identity.
	xMinusX, err := x.Sub(x)
	require.NoError(t, err)
	threeX, err := x.MulScalar(3)
	require.NoError(t, err)
	sum1, err := xMinusX.Add(threeX)
	require.NoError(t, err)
	sum2, err := sum1.Sub(x)
	require.NoError(t, err)
	y, err := sum2.Sub(x)
	require.NoError(t, err)
	obj := y.Sum()

	tr := NewTrace(tape)
	tr.Play()
	assert.InDelta(t, 1.7, obj.Read(tr).Val[0], 1e-12)
	assert.InDelta(t, 1.0, tr.Adjoints[0], 1e-12)
}

func TestDeterminismUnderInputDeclarationReorder(t *testing.T) {
	build := func(first string) float64 {
		tape := NewTape()
		var x, y *Spy
		var err error
		if first == "x" {
			x, err = NewInput(tape, []float64{1.5})
			require.NoError(t, err)
			y, err = NewInput(tape, []float64{-2.0})
			require.NoError(t, err)
		} else {
			y, err = NewInput(tape, []float64{-2.0})
			require.NoError(t, err)
			x, err = NewInput(tape, []float64{1.5})
			require.NoError(t, err)
		}
		prod, err := x.Mul(y)
		require.NoError(t, err)
		obj := prod.Sum()
		tr := NewTrace(tape)
		tr.Play()
		return obj.Read(tr).Val[0]
	}

	assert.Equal(t, build("x"), build("y"))
}

func TestDeclarationAfterRecordingFails(t *testing.T) {
	tape := NewTape()
	x, err := NewInput(tape, []float64{1})
	require.NoError(t, err)
	_ = x.Neg()

	_, err = NewInput(tape, []float64{2})
	assert.ErrorIs(t, err, ErrDeclarationAfterRecording)
}

func TestLogOfNonPositiveIsNegativeInfinityNotNaN(t *testing.T) {
	tape := NewTape()
	x, err := NewInput(tape, []float64{-1})
	require.NoError(t, err)
	logX := x.Log()
	obj := logX.Sum()

	tr := NewTrace(tape)
	tr.Play()
	v := obj.Read(tr).Val[0]
	assert.True(t, math.IsInf(v, -1))
	assert.False(t, math.IsNaN(v))
}

func TestDotProductGradientMatchesFiniteDifference(t *testing.T) {
	tape := NewTape()
	a, err := NewInput(tape, []float64{1.0, 2.0, -1.5})
	require.NoError(t, err)
	b := Const(tape, []float64{0.5, -1.0, 2.0})
	dot, err := a.Dot(b)
	require.NoError(t, err)
	obj := dot.Sum()
	_ = obj

	tr := NewTrace(tape)
	tr.Play()
	g := finiteDiffGradient(tr, 1e-5)
	for i := 0; i != 3; i++ {
		assert.InDelta(t, g[i], tr.Adjoints[i], 1e-3)
	}
}

func TestMatMulGradientMatchesFiniteDifference(t *testing.T) {
	tape := NewTape()
	// 2x2 free matrix A, fixed 2x2 B, objective = sum(A*B)
	a, err := NewInput(tape, []float64{1, 2, 3, 4}, 2, 2)
	require.NoError(t, err)
	b := Const(tape, []float64{5, 6, 7, 8}, 2, 2)
	prod, err := a.MatMul(b)
	require.NoError(t, err)
	obj := prod.Sum()
	_ = obj

	tr := NewTrace(tape)
	tr.Play()
	g := finiteDiffGradient(tr, 1e-5)
	for i := 0; i != 4; i++ {
		assert.InDelta(t, g[i], tr.Adjoints[i], 1e-3)
	}
}

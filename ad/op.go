package ad

import (
	"math"

	"github.com/rasigadelab/Rshadow/specfunc"
)

// OpKind tags the closed set of primitive operations the tape can
// record. Each tag owns evaluation and local differentiation, reached
// through the switches in this file and in trace.go -- the Go
// equivalent of the source's compile-time operator specializations
// (see SPEC_FULL.md §9).
type OpKind int

const (
	// Binary arithmetic, elementwise under scalar<->vector broadcast.
	OpAdd OpKind = iota
	OpSub
	OpMul
	OpDiv
	OpPow

	// Unary, elementwise.
	OpIdentity   // x
	OpTrivialZero // constant 0, used by peephole rewrites (x-x, x*0)
	OpTrivialOne  // constant 1, used by peephole rewrites (x/x, x^0)
	OpNeg         // -x
	OpMulBy2      // 2x, peephole target of a+a
	OpInvert      // 1/x
	OpSquare      // x^2
	OpCube        // x^3
	OpLog
	OpLog1p
	OpLog1m
	OpExp
	OpSelfPow // x^x
	OpLgamma
	OpLogit
	OpLogistic
	OpSin
	OpCos

	// Iverson indicators, elementwise, always-zero partials/Hessian.
	OpIndGT0
	OpIndGE0
	OpLogIndGT0
	OpLogIndGE0

	// Aggregations, scalar output.
	OpSum
	OpSumSq
	OpDot
	OpBernoulliLL

	// Matrix product, 2-D tensors.
	OpMatMul
)

// Tag is a sparsity bitfield attached to an OpKind, letting the
// reverse sweep skip provably-zero contributions.
type Tag uint8

const (
	TagPartialAlwaysZero Tag = 1 << iota
	TagHessianDiagAlwaysZero
	TagHessianOffDiagAlwaysZero
	TagHessianAlwaysZero
	TagElementWise
	TagCommutable
)

// Has reports whether t includes all bits of other.
func (t Tag) Has(other Tag) bool { return t&other == other }

// tags returns the sparsity bitfield for kind.
func tags(kind OpKind) Tag {
	switch kind {
	case OpAdd, OpSub:
		return TagElementWise | TagHessianAlwaysZero
	case OpMul:
		return TagElementWise | TagCommutable
	case OpDiv:
		return TagElementWise
	case OpPow:
		return TagElementWise
	case OpIdentity:
		return TagElementWise | TagHessianAlwaysZero
	case OpTrivialZero, OpTrivialOne:
		return TagElementWise | TagPartialAlwaysZero | TagHessianAlwaysZero
	case OpNeg, OpMulBy2:
		return TagElementWise | TagHessianAlwaysZero
	case OpInvert, OpSquare, OpCube, OpLog, OpLog1p, OpLog1m, OpExp,
		OpSelfPow, OpLgamma, OpLogit, OpLogistic, OpSin, OpCos:
		return TagElementWise
	case OpIndGT0, OpIndGE0, OpLogIndGT0, OpLogIndGE0:
		return TagElementWise | TagPartialAlwaysZero | TagHessianAlwaysZero
	case OpSum:
		return TagHessianAlwaysZero
	case OpSumSq:
		return TagHessianOffDiagAlwaysZero
	case OpDot:
		return TagHessianDiagAlwaysZero | TagCommutable
	case OpBernoulliLL:
		return TagHessianOffDiagAlwaysZero
	case OpMatMul:
		return 0
	default:
		return 0
	}
}

// Operand is one input to an operator: either a contiguous trace
// range (Free == true) or a constant scalar/vector (Free == false).
// A length-1 operand broadcasts against a longer sibling operand,
// regardless of whether it is free or fixed.
type Operand struct {
	Free       bool
	Begin, Len int
	Const      []float64
}

// effLen returns the broadcast-relevant length of the operand.
func (o Operand) effLen() int {
	if o.Free {
		return o.Len
	}
	return len(o.Const)
}

func (o Operand) at(values []float64, k int) float64 {
	if o.effLen() == 1 {
		k = 0
	}
	if o.Free {
		return values[o.Begin+k]
	}
	return o.Const[k]
}

// Op is a single recorded operator instance: a tagged variant with
// its input operands, output range, and (for the matrix-product
// family) tensor shape metadata.
type Op struct {
	Kind OpKind
	A, B Operand

	OutBegin, OutLen int

	// DimA, DimB hold (rows, cols) for OpMatMul; unused otherwise.
	DimA, DimB [2]int
}

// outLen returns the declared output width of the operator, computed
// from its operands per the per-family rule of SPEC_FULL.md §4.D.
func outLen(kind OpKind, a, b Operand) int {
	switch kind {
	case OpSum, OpSumSq, OpDot, OpBernoulliLL:
		return 1
	case OpMatMul:
		panic("ad: matmul output length computed by caller from tensor shape")
	default:
		n := a.effLen()
		if b.effLen() > n {
			n = b.effLen()
		}
		return n
	}
}

// Evaluate writes the operator's output slots from its input slots
// and constants.
func (op *Op) Evaluate(values []float64) {
	switch op.Kind {
	case OpSum:
		s := 0.0
		for k := 0; k != op.A.effLen(); k++ {
			s += op.A.at(values, k)
		}
		values[op.OutBegin] = s
	case OpSumSq:
		s := 0.0
		for k := 0; k != op.A.effLen(); k++ {
			v := op.A.at(values, k)
			s += v * v
		}
		values[op.OutBegin] = s
	case OpDot:
		n := op.A.effLen()
		s := 0.0
		for k := 0; k != n; k++ {
			s += op.A.at(values, k) * op.B.at(values, k)
		}
		values[op.OutBegin] = s
	case OpBernoulliLL:
		n := op.A.effLen()
		s := 0.0
		for k := 0; k != n; k++ {
			s += bernLL(op.A.at(values, k), op.B.at(values, k))
		}
		values[op.OutBegin] = s
	case OpMatMul:
		op.evaluateMatMul(values)
	default:
		for k := 0; k != op.OutLen; k++ {
			a := op.A.at(values, k)
			var b float64
			if op.Kind != OpIdentity && op.Kind != OpTrivialZero &&
				op.Kind != OpTrivialOne && !isUnary(op.Kind) {
				b = op.B.at(values, k)
			}
			values[op.OutBegin+k] = evalElementwise(op.Kind, a, b)
		}
	}
}

// isUnary reports whether kind takes a single operand.
func isUnary(kind OpKind) bool {
	switch kind {
	case OpIdentity, OpTrivialZero, OpTrivialOne,
		OpNeg, OpMulBy2, OpInvert, OpSquare, OpCube, OpLog, OpLog1p, OpLog1m,
		OpExp, OpSelfPow, OpLgamma, OpLogit, OpLogistic, OpSin, OpCos,
		OpIndGT0, OpIndGE0, OpLogIndGT0, OpLogIndGE0:
		return true
	default:
		return false
	}
}

// evalElementwise computes the value of a scalar-position elementwise
// operator. For unary kinds b is ignored.
func evalElementwise(kind OpKind, a, b float64) float64 {
	switch kind {
	case OpAdd:
		return a + b
	case OpSub:
		return a - b
	case OpMul:
		return a * b
	case OpDiv:
		return a / b
	case OpPow:
		return math.Pow(a, b)
	case OpIdentity:
		return a
	case OpTrivialZero:
		return 0
	case OpTrivialOne:
		return 1
	case OpNeg:
		return -a
	case OpMulBy2:
		return 2 * a
	case OpInvert:
		return 1 / a
	case OpSquare:
		return a * a
	case OpCube:
		return a * a * a
	case OpLog:
		if a <= 0 {
			return math.Inf(-1)
		}
		return math.Log(a)
	case OpLog1p:
		if a <= -1 {
			return math.Inf(-1)
		}
		return math.Log1p(a)
	case OpLog1m:
		if a >= 1 {
			return math.Inf(-1)
		}
		return math.Log1p(-a)
	case OpExp:
		return math.Exp(a)
	case OpSelfPow:
		return math.Pow(a, a)
	case OpLgamma:
		v, _ := math.Lgamma(a)
		return v
	case OpLogit:
		return math.Log(a / (1 - a))
	case OpLogistic:
		return 1 / (1 + math.Exp(-a))
	case OpSin:
		return math.Sin(a)
	case OpCos:
		return math.Cos(a)
	case OpIndGT0:
		if a > 0 {
			return 1
		}
		return 0
	case OpIndGE0:
		if a >= 0 {
			return 1
		}
		return 0
	case OpLogIndGT0:
		if a > 0 {
			return 0
		}
		return math.Inf(-1)
	case OpLogIndGE0:
		if a >= 0 {
			return 0
		}
		return math.Inf(-1)
	default:
		panic("ad: evalElementwise: unhandled kind")
	}
}

// localElementwise returns the first and second partials of a
// scalar-position elementwise operator with respect to its (up to
// two) operands, evaluated at input values a, b and output value v.
// For unary kinds, only da and daa are meaningful.
func localElementwise(kind OpKind, a, b, v float64) (da, db, daa, dab, dbb float64) {
	switch kind {
	case OpAdd:
		da, db = 1, 1
	case OpSub:
		da, db = 1, -1
	case OpMul:
		da, db = b, a
		dab = 1
	case OpDiv:
		da = 1 / b
		db = -v / b
		dab = -1 / (b * b)
		dbb = 2 * v / (b * b)
	case OpPow:
		if a > 0 {
			da = b * v / a
			db = v * math.Log(a)
			daa = b * (b - 1) * math.Pow(a, b-2)
			dab = v*math.Log(a)*b/a + v/a
			dbb = v * math.Log(a) * math.Log(a)
		}
	case OpIdentity:
		da = 1
	case OpTrivialZero, OpTrivialOne, OpIndGT0, OpIndGE0, OpLogIndGT0, OpLogIndGE0:
		// always-zero partials per sparsity tag
	case OpNeg:
		da = -1
	case OpMulBy2:
		da = 2
	case OpInvert:
		da = -v * v
		daa = 2 * v * v * v
	case OpSquare:
		da = 2 * a
		daa = 2
	case OpCube:
		da = 3 * a * a
		daa = 6 * a
	case OpLog:
		if a > 0 {
			da = 1 / a
			daa = -1 / (a * a)
		}
	case OpLog1p:
		if a > -1 {
			da = 1 / (1 + a)
			daa = -1 / ((1 + a) * (1 + a))
		}
	case OpLog1m:
		if a < 1 {
			da = -1 / (1 - a)
			daa = -1 / ((1 - a) * (1 - a))
		}
	case OpExp:
		da = v
		daa = v
	case OpSelfPow:
		if a > 0 {
			l := math.Log(a)
			da = v * (l + 1)
			daa = v*(l+1)*(l+1) + v/a
		}
	case OpLgamma:
		da = specfunc.Digamma(a)
		daa = specfunc.Trigamma(a)
	case OpLogit:
		da = 1 / (a * (1 - a))
		daa = (2*a - 1) / (a * a * (1 - a) * (1 - a))
	case OpLogistic:
		da = v * (1 - v)
		daa = v * (1 - v) * (1 - 2*v)
	case OpSin:
		da = math.Cos(a)
		daa = -v
	case OpCos:
		da = -math.Sin(a)
		daa = -v
	default:
		panic("ad: localElementwise: unhandled kind")
	}
	return
}

// bernLL returns the Bernoulli log-likelihood of observing y (0 or 1)
// under success probability p, returning -Inf for the indeterminate
// p==0,y==1 or p==1,y==0 cases rather than NaN.
func bernLL(p, y float64) float64 {
	switch {
	case y == 1:
		if p <= 0 {
			return math.Inf(-1)
		}
		return math.Log(p)
	default:
		if p >= 1 {
			return math.Inf(-1)
		}
		return math.Log1p(-p)
	}
}

// bernLLDeriv returns d/dp and d2/dp2 of bernLL(p,y).
func bernLLDeriv(p, y float64) (d, dd float64) {
	if y == 1 {
		if p <= 0 {
			return 0, 0
		}
		return 1 / p, -1 / (p * p)
	}
	if p >= 1 {
		return 0, 0
	}
	return -1 / (1 - p), -1 / ((1 - p) * (1 - p))
}

func (op *Op) evaluateMatMul(values []float64) {
	m, k := op.DimA[0], op.DimA[1]
	k2, n := op.DimB[0], op.DimB[1]
	if k != k2 {
		panic("ad: matmul inner dimension mismatch")
	}
	for col := 0; col != n; col++ {
		for row := 0; row != m; row++ {
			s := 0.0
			for t := 0; t != k; t++ {
				s += op.A.at(values, row+t*m) * op.B.at(values, t+col*k)
			}
			values[op.OutBegin+row+col*m] = s
		}
	}
}

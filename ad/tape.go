package ad

// Implementation of the tape: an ordered sequence of operator
// instances plus trace-layout metadata and the input-value store.

// Tape is an ordered, immutable-once-recorded sequence of operator
// instances. Input declarations must precede any recorded operation;
// NTrace always equals the highest output end index.
type Tape struct {
	Ops           []Op
	NInput        int
	NTrace        int
	InitialValues []float64

	named map[string][2]int
}

// NewTape returns an empty tape, ready to accept input declarations.
func NewTape() *Tape {
	return &Tape{}
}

// declareInput reserves n contiguous trace slots for a new free input
// and extends InitialValues. It fails with
// ErrDeclarationAfterRecording if any operator has already been
// recorded.
func (t *Tape) declareInput(init []float64) (begin int, err error) {
	if len(t.Ops) > 0 {
		return 0, ErrDeclarationAfterRecording
	}
	begin = t.NInput
	t.NInput += len(init)
	t.NTrace = t.NInput
	t.InitialValues = append(t.InitialValues, init...)
	return begin, nil
}

// SetName associates a name with a trace range, for the optional
// named-tensor map (SPEC_FULL.md §9 Open Questions #2).
func (t *Tape) SetName(name string, begin, end int) {
	if t.named == nil {
		t.named = make(map[string][2]int)
	}
	t.named[name] = [2]int{begin, end}
}

// Named returns the trace range registered under name, if any.
func (t *Tape) Named(name string) (begin, end int, ok bool) {
	r, ok := t.named[name]
	if !ok {
		return 0, 0, false
	}
	return r[0], r[1], true
}

// Record appends an elementwise/aggregation operator to the tape
// after applying the mandatory peephole rewrites, and returns the
// index of its first output slot.
func (t *Tape) Record(kind OpKind, a, b Operand) int {
	kind, a, b = peephole(kind, a, b)
	n := outLen(kind, a, b)
	op := Op{Kind: kind, A: a, B: b, OutBegin: t.NTrace, OutLen: n}
	t.Ops = append(t.Ops, op)
	t.NTrace += n
	return op.OutBegin
}

// RecordMatMul appends a matrix-product operator with explicit
// (rows,cols) tensor shapes for both operands and returns the index
// of its first output slot.
func (t *Tape) RecordMatMul(a, b Operand, dimA, dimB [2]int) int {
	if dimA[1] != dimB[0] {
		panic("ad: matmul inner dimension mismatch")
	}
	n := dimA[0] * dimB[1]
	op := Op{Kind: OpMatMul, A: a, B: b, OutBegin: t.NTrace, OutLen: n,
		DimA: dimA, DimB: dimB}
	t.Ops = append(t.Ops, op)
	t.NTrace += n
	return op.OutBegin
}

// isConstVal reports whether operand o is a fixed scalar equal to v.
func isConstVal(o Operand, v float64) bool {
	return !o.Free && len(o.Const) == 1 && o.Const[0] == v
}

// sameRange reports whether a and b are free operands referencing
// the identical trace range -- the duplicate-edge case the peephole
// rewrites must route to a self-form rather than surface as an error
// (SPEC_FULL.md §9 Open Questions #3).
func sameRange(a, b Operand) bool {
	return a.Free && b.Free && a.Begin == b.Begin && a.Len == b.Len
}

// peephole applies the mandatory rewrites of SPEC_FULL.md §4.D:
// self-forms (a+a, a-a, a*a, a/a) collapse to unary specializations,
// as do exponentiation by the literal 0/1/2/3, multiplication by the
// literal 0/1 and addition or subtraction of the literal 0, and 1/a
// collapses to invert.
func peephole(kind OpKind, a, b Operand) (OpKind, Operand, Operand) {
	zero := Operand{}
	switch kind {
	case OpAdd:
		switch {
		case isConstVal(a, 0):
			return OpIdentity, b, zero
		case isConstVal(b, 0):
			return OpIdentity, a, zero
		case sameRange(a, b):
			return OpMulBy2, a, zero
		}
	case OpSub:
		switch {
		case isConstVal(b, 0):
			return OpIdentity, a, zero
		case sameRange(a, b):
			return OpTrivialZero, a, zero
		}
	case OpMul:
		switch {
		case isConstVal(a, 0):
			return OpTrivialZero, b, zero
		case isConstVal(b, 0):
			return OpTrivialZero, a, zero
		case isConstVal(a, 1):
			return OpIdentity, b, zero
		case isConstVal(b, 1):
			return OpIdentity, a, zero
		case sameRange(a, b):
			return OpSquare, a, zero
		}
	case OpDiv:
		switch {
		case sameRange(a, b):
			return OpTrivialOne, a, zero
		case isConstVal(a, 1):
			return OpInvert, b, zero
		}
	case OpPow:
		switch {
		case isConstVal(b, 0):
			return OpTrivialOne, a, zero
		case isConstVal(b, 1):
			return OpIdentity, a, zero
		case isConstVal(b, 2):
			return OpSquare, a, zero
		case isConstVal(b, 3):
			return OpCube, a, zero
		}
	}
	return kind, a, b
}

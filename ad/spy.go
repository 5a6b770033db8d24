package ad

import (
	"github.com/pkg/errors"

	"github.com/rasigadelab/Rshadow/tensor"
)

// Spy is a handle to a tensor-shaped node in a tape's expression
// graph: either a free input range or a fixed constant, carrying
// enough shape metadata to support element access and further
// operator chaining without touching any trace's numerical buffers.
type Spy struct {
	Tape *Tape
	Dim  []int
	Op   Operand
}

func wrap(tape *Tape, op Operand, dim []int) *Spy {
	return &Spy{Tape: tape, Dim: dim, Op: op}
}

// NewInput declares a new free input of the given shape on tape,
// initialized from init, and returns a handle to it. It fails with
// ErrDeclarationAfterRecording if any operator has already been
// recorded on the tape.
func NewInput(tape *Tape, init []float64, dim ...int) (*Spy, error) {
	if len(dim) == 0 {
		dim = []int{len(init)}
	}
	begin, err := tape.declareInput(init)
	if err != nil {
		return nil, err
	}
	return wrap(tape, Operand{Free: true, Begin: begin, Len: len(init)}, dim), nil
}

// Const wraps vals as a fixed (non-trace) operand of the given shape.
func Const(tape *Tape, vals []float64, dim ...int) *Spy {
	if len(dim) == 0 {
		dim = []int{len(vals)}
	}
	cp := append([]float64(nil), vals...)
	return wrap(tape, Operand{Const: cp}, dim)
}

// ConstScalar wraps v as a fixed scalar operand.
func ConstScalar(tape *Tape, v float64) *Spy {
	return Const(tape, []float64{v})
}

// Name registers s's trace range under name on its tape, for later
// lookup via Tape.Named. Panics if s is not a free operand.
func (s *Spy) Name(name string) *Spy {
	if !s.Op.Free {
		panic("ad: Name: spy is not a free (trace-backed) operand")
	}
	s.Tape.SetName(name, s.Op.Begin, s.Op.Begin+s.Op.Len)
	return s
}

// Len returns the element count of s.
func (s *Spy) Len() int { return s.Op.effLen() }

// Reshape returns a handle to the same underlying values under a new
// shape, a pure relabeling that records no new operator. The product
// of dim must equal s.Len().
func (s *Spy) Reshape(dim ...int) (*Spy, error) {
	n := 1
	for _, d := range dim {
		n *= d
	}
	if n != s.Len() {
		return nil, errors.Wrapf(ErrShapeMismatch, "reshape: %d elements into shape %v", s.Len(), dim)
	}
	return wrap(s.Tape, s.Op, dim), nil
}

func (s *Spy) binary(kind OpKind, other *Spy) (*Spy, error) {
	dim, err := tensor.Broadcast(s.Dim, other.Dim)
	if err != nil {
		return nil, errors.Wrap(ErrShapeMismatch, err.Error())
	}
	begin := s.Tape.Record(kind, s.Op, other.Op)
	n := outLen(kind, s.Op, other.Op)
	return wrap(s.Tape, Operand{Free: true, Begin: begin, Len: n}, dim), nil
}

func (s *Spy) unary(kind OpKind) *Spy {
	begin := s.Tape.Record(kind, s.Op, Operand{})
	n := outLen(kind, s.Op, Operand{})
	return wrap(s.Tape, Operand{Free: true, Begin: begin, Len: n}, append([]int(nil), s.Dim...))
}

// Add returns s + other, elementwise under scalar/vector broadcast.
func (s *Spy) Add(other *Spy) (*Spy, error) { return s.binary(OpAdd, other) }

// Sub returns s - other.
func (s *Spy) Sub(other *Spy) (*Spy, error) { return s.binary(OpSub, other) }

// Mul returns s * other, elementwise.
func (s *Spy) Mul(other *Spy) (*Spy, error) { return s.binary(OpMul, other) }

// Div returns s / other, elementwise.
func (s *Spy) Div(other *Spy) (*Spy, error) { return s.binary(OpDiv, other) }

// Pow returns s ^ other, elementwise.
func (s *Spy) Pow(other *Spy) (*Spy, error) { return s.binary(OpPow, other) }

// AddScalar returns s + c.
func (s *Spy) AddScalar(c float64) (*Spy, error) { return s.Add(ConstScalar(s.Tape, c)) }

// MulScalar returns s * c.
func (s *Spy) MulScalar(c float64) (*Spy, error) { return s.Mul(ConstScalar(s.Tape, c)) }

// Neg returns -s.
func (s *Spy) Neg() *Spy { return s.unary(OpNeg) }

// Log returns elementwise log(s), with -Inf rather than NaN where s <= 0.
func (s *Spy) Log() *Spy { return s.unary(OpLog) }

// Log1p returns elementwise log(1+s).
func (s *Spy) Log1p() *Spy { return s.unary(OpLog1p) }

// Log1m returns elementwise log(1-s).
func (s *Spy) Log1m() *Spy { return s.unary(OpLog1m) }

// Exp returns elementwise exp(s).
func (s *Spy) Exp() *Spy { return s.unary(OpExp) }

// Lgamma returns elementwise log(Gamma(s)).
func (s *Spy) Lgamma() *Spy { return s.unary(OpLgamma) }

// Logit returns elementwise log(s/(1-s)).
func (s *Spy) Logit() *Spy { return s.unary(OpLogit) }

// Logistic returns elementwise 1/(1+exp(-s)).
func (s *Spy) Logistic() *Spy { return s.unary(OpLogistic) }

// Sin returns elementwise sin(s).
func (s *Spy) Sin() *Spy { return s.unary(OpSin) }

// Cos returns elementwise cos(s).
func (s *Spy) Cos() *Spy { return s.unary(OpCos) }

// IndGT0 returns the elementwise Iverson indicator 1[s > 0].
func (s *Spy) IndGT0() *Spy { return s.unary(OpIndGT0) }

// IndGE0 returns the elementwise Iverson indicator 1[s >= 0].
func (s *Spy) IndGE0() *Spy { return s.unary(OpIndGE0) }

// LogIndGT0 returns the elementwise log Iverson indicator: 0 where
// s > 0, -Inf otherwise.
func (s *Spy) LogIndGT0() *Spy { return s.unary(OpLogIndGT0) }

// LogIndGE0 returns the elementwise log Iverson indicator: 0 where
// s >= 0, -Inf otherwise.
func (s *Spy) LogIndGE0() *Spy { return s.unary(OpLogIndGE0) }

func (s *Spy) aggregate(kind OpKind, other Operand) *Spy {
	begin := s.Tape.Record(kind, s.Op, other)
	return wrap(s.Tape, Operand{Free: true, Begin: begin, Len: 1}, []int{1})
}

// Sum returns the scalar sum of s's elements.
func (s *Spy) Sum() *Spy { return s.aggregate(OpSum, Operand{}) }

// SumSq returns the scalar sum of s's squared elements.
func (s *Spy) SumSq() *Spy { return s.aggregate(OpSumSq, Operand{}) }

// Dot returns the scalar dot product of s and other, which must have
// equal length.
func (s *Spy) Dot(other *Spy) (*Spy, error) {
	if s.Len() != other.Len() {
		return nil, errors.Wrapf(ErrShapeMismatch, "dot: %d vs %d", s.Len(), other.Len())
	}
	return s.aggregate(OpDot, other.Op), nil
}

// BernoulliLL returns the scalar total Bernoulli log-likelihood of
// observing y (0/1 labels, typically fixed) under success
// probabilities s, which must have equal length.
func (s *Spy) BernoulliLL(y *Spy) (*Spy, error) {
	if s.Len() != y.Len() {
		return nil, errors.Wrapf(ErrShapeMismatch, "bernoulli_ll: %d vs %d", s.Len(), y.Len())
	}
	return s.aggregate(OpBernoulliLL, y.Op), nil
}

// MatMul returns the matrix product s*other. Both s and other must
// carry 2-D shapes with matching inner dimension.
func (s *Spy) MatMul(other *Spy) (*Spy, error) {
	if len(s.Dim) != 2 || len(other.Dim) != 2 {
		return nil, errors.Wrap(ErrShapeMismatch, "matmul: operands must be 2-D")
	}
	dimA := [2]int{s.Dim[0], s.Dim[1]}
	dimB := [2]int{other.Dim[0], other.Dim[1]}
	if dimA[1] != dimB[0] {
		return nil, errors.Wrapf(ErrShapeMismatch, "matmul: inner dims %d vs %d", dimA[1], dimB[0])
	}
	begin := s.Tape.RecordMatMul(s.Op, other.Op, dimA, dimB)
	return wrap(s.Tape, Operand{Free: true, Begin: begin, Len: dimA[0] * dimB[1]},
		[]int{dimA[0], dimB[1]}), nil
}

// Index returns a single-element view of the k-th slot of s, a pure
// relabeling that records no new operator. It fails with
// ErrOutOfRange if k is outside s's declared length.
func (s *Spy) Index(k int) (*Spy, error) {
	if k < 0 || k >= s.Len() {
		return nil, errors.Wrapf(ErrOutOfRange, "index %d, length %d", k, s.Len())
	}
	if !s.Op.Free {
		return wrap(s.Tape, Operand{Const: []float64{s.Op.Const[k%len(s.Op.Const)]}}, []int{1}), nil
	}
	return wrap(s.Tape, Operand{Free: true, Begin: s.Op.Begin + k, Len: 1}, []int{1}), nil
}

// Read materializes s's current values from tr into a fresh tensor
// shaped per s.Dim. tr must be bound to s's tape and already played.
func (s *Spy) Read(tr *Trace) *tensor.Tensor {
	val := make([]float64, s.Len())
	for k := range val {
		val[k] = s.Op.at(tr.Values, k)
	}
	return tensor.FromSlice(val, s.Dim...)
}

// Gradient returns d(objective)/d(s_k) for each element of s, from an
// already-played trace.
func (s *Spy) Gradient(tr *Trace) *tensor.Tensor {
	val := make([]float64, s.Len())
	if s.Op.Free {
		for k := range val {
			val[k] = tr.Adjoints[s.Op.Begin+k]
		}
	}
	return tensor.FromSlice(val, s.Dim...)
}

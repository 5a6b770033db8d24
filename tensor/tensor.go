// Package tensor implements a column-major multi-dimensional array of
// doubles with shape metadata and linearized indexing. It is the
// leaf-level data structure shared by the tape, the trace and the
// expression builder.
package tensor

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrInvalidShape identifies a shape that contains a non-positive
// dimension or is empty. No function in this package returns it: New
// and FromSlice do not validate dim.
var ErrInvalidShape = errors.New("tensor: invalid shape")

// ErrShapeMismatch is returned when two tensors cannot be combined
// under the scalar/vector broadcasting rule.
var ErrShapeMismatch = errors.New("tensor: shape mismatch")

// ErrOutOfRange identifies coordinates outside a tensor's declared
// shape. At and Set return no error and do not check coordinates
// against Dim.
var ErrOutOfRange = errors.New("tensor: index out of range")

// Tensor is a contiguous, column-major array of doubles together with
// its shape. A scalar has Dim == []int{1}; a vector is any tensor with
// at most one dimension greater than one.
type Tensor struct {
	Dim []int
	Val []float64
}

// New allocates a zeroed tensor of the given shape. dim must be
// non-empty and contain no zero or negative entries.
func New(dim ...int) *Tensor {
	n := size(dim)
	return &Tensor{Dim: append([]int(nil), dim...), Val: make([]float64, n)}
}

// Scalar returns a 1-element tensor holding v.
func Scalar(v float64) *Tensor {
	return &Tensor{Dim: []int{1}, Val: []float64{v}}
}

// Vector wraps an existing slice as a tensor of shape [len(val)]. The
// slice is referenced, not copied.
func Vector(val []float64) *Tensor {
	return &Tensor{Dim: []int{len(val)}, Val: val}
}

// FromSlice wraps val as a tensor of the given shape. val is
// referenced, not copied; len(val) must equal the product of dim.
func FromSlice(val []float64, dim ...int) *Tensor {
	if size(dim) != len(val) {
		panic(fmt.Sprintf("tensor: shape %v does not match %d values", dim, len(val)))
	}
	return &Tensor{Dim: append([]int(nil), dim...), Val: val}
}

func size(dim []int) int {
	n := 1
	for _, d := range dim {
		n *= d
	}
	return n
}

// Len returns the total number of elements, i.e. product(Dim).
func (t *Tensor) Len() int { return len(t.Val) }

// IsScalar reports whether t holds exactly one element.
func (t *Tensor) IsScalar() bool { return t.Len() == 1 }

// IsVector reports whether t has at most one dimension greater than
// one, i.e. it can be addressed with a single flat index.
func (t *Tensor) IsVector() bool {
	big := 0
	for _, d := range t.Dim {
		if d > 1 {
			big++
		}
	}
	return big <= 1
}

// Rows returns the row count of a 2-D tensor (Dim[0]).
func (t *Tensor) Rows() int {
	if len(t.Dim) == 0 {
		return 1
	}
	return t.Dim[0]
}

// Cols returns the column count of a 2-D tensor (Dim[1], or 1 for a
// vector/scalar).
func (t *Tensor) Cols() int {
	if len(t.Dim) < 2 {
		return 1
	}
	return t.Dim[1]
}

// VecIndex computes the column-major linear index of coordinates idx
// within a tensor of shape dim:
//
//	vec_index(i1,...,ik) = sum_j idx[j] * prod_{m<j} dim[m]
func VecIndex(dim []int, idx ...int) int {
	vi, stride := 0, 1
	for j, d := range dim {
		if j < len(idx) {
			vi += idx[j] * stride
		}
		stride *= d
	}
	return vi
}

// MatIndex computes the column-major linear index of (row, col) in a
// matrix with nrow rows: row + col*nrow.
func MatIndex(row, col, nrow int) int {
	return row + col*nrow
}

// At returns the element at coordinates idx.
func (t *Tensor) At(idx ...int) float64 {
	return t.Val[VecIndex(t.Dim, idx...)]
}

// Set assigns v to the element at coordinates idx.
func (t *Tensor) Set(v float64, idx ...int) {
	t.Val[VecIndex(t.Dim, idx...)] = v
}

// Broadcast determines the output shape of an element-wise binary
// operation between tensors of shape a and b: equal shapes yield that
// shape unchanged, a scalar (len==1) operand broadcasts to the other's
// shape, and any other combination is a shape mismatch. No
// arbitrary-rank broadcasting beyond scalar<->vector<->matrix is
// supported.
func Broadcast(a, b []int) ([]int, error) {
	na, nb := size(a), size(b)
	switch {
	case eqDim(a, b):
		return append([]int(nil), a...), nil
	case na == 1:
		return append([]int(nil), b...), nil
	case nb == 1:
		return append([]int(nil), a...), nil
	default:
		return nil, errors.Wrapf(ErrShapeMismatch, "%v vs %v", a, b)
	}
}

func eqDim(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

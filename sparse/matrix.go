// Package sparse implements a dynamic row-of-map sparse symmetric
// matrix with two-way consistent updates, as used by the reverse-mode
// edge-pushing sweep to hold the live Hessian.
package sparse

import "gonum.org/v1/gonum/mat"

// SymmetricMatrix is a mapping from row index to a mapping from
// column index to value. For every stored (i,j) with i != j, (j,i) is
// also stored and holds the same value; this invariant is maintained
// by Element and Erase and must never be broken by direct map access.
type SymmetricMatrix struct {
	rows map[int]map[int]float64
}

// NewSymmetricMatrix returns an empty sparse symmetric matrix.
func NewSymmetricMatrix() *SymmetricMatrix {
	return &SymmetricMatrix{rows: make(map[int]map[int]float64)}
}

// Read returns the value at (i,j), or 0.0 if absent.
func (m *SymmetricMatrix) Read(i, j int) float64 {
	if row, ok := m.rows[i]; ok {
		return row[j]
	}
	return 0.0
}

// Element is a reference to the (i,j) entry of a SymmetricMatrix,
// supporting mutation while preserving the symmetric-pair invariant.
type Element struct {
	m    *SymmetricMatrix
	i, j int
}

// At returns a reference to the (i,j) entry. Obtaining the reference
// does not itself create the entry; Add/Set do.
func (m *SymmetricMatrix) At(i, j int) Element {
	return Element{m: m, i: i, j: j}
}

// Add increments the (i,j) and, if i != j, the (j,i) entry by v. A
// resulting value of exactly zero removes the entry (and the row, if
// it becomes empty).
func (e Element) Add(v float64) {
	e.m.write(e.i, e.j, e.m.Read(e.i, e.j)+v)
}

// Set assigns v to the (i,j) and, if i != j, the (j,i) entry. Writing
// zero removes the entry (and the row, if it becomes empty).
func (e Element) Set(v float64) {
	e.m.write(e.i, e.j, v)
}

// Value returns the current value of the referenced entry.
func (e Element) Value() float64 {
	return e.m.Read(e.i, e.j)
}

func (m *SymmetricMatrix) write(i, j int, v float64) {
	m.store(i, j, v)
	if i != j {
		m.store(j, i, v)
	}
}

func (m *SymmetricMatrix) store(i, j int, v float64) {
	if v == 0.0 {
		m.remove(i, j)
		return
	}
	row, ok := m.rows[i]
	if !ok {
		row = make(map[int]float64)
		m.rows[i] = row
	}
	row[j] = v
}

func (m *SymmetricMatrix) remove(i, j int) {
	row, ok := m.rows[i]
	if !ok {
		return
	}
	delete(row, j)
	if len(row) == 0 {
		delete(m.rows, i)
	}
}

// Erase removes row i, column i and the diagonal entry in one pass.
func (m *SymmetricMatrix) Erase(i int) {
	row, ok := m.rows[i]
	if !ok {
		return
	}
	for j := range row {
		if j == i {
			continue
		}
		m.remove(j, i)
	}
	delete(m.rows, i)
}

// RowPtr returns the row map for i and true, or nil and false if row i
// has no stored entries. The returned map must not be mutated by the
// caller; use At/Erase instead.
func (m *SymmetricMatrix) RowPtr(i int) (map[int]float64, bool) {
	row, ok := m.rows[i]
	return row, ok
}

// Rows returns the indices of all non-empty rows, in no particular
// order.
func (m *SymmetricMatrix) Rows() []int {
	idx := make([]int, 0, len(m.rows))
	for i := range m.rows {
		idx = append(idx, i)
	}
	return idx
}

// NNZ returns the total number of stored (i,j) entries, counting both
// (i,j) and (j,i) for i != j.
func (m *SymmetricMatrix) NNZ() int {
	n := 0
	for _, row := range m.rows {
		n += len(row)
	}
	return n
}

// Dense materializes the sub-block of m restricted to the rows/columns
// listed in free into a dense symmetric matrix, for consumption by the
// linalg collaborator. It returns the matrix together with the map
// from a global index to its position in the dense block.
func (m *SymmetricMatrix) Dense(free []int) (*mat.SymDense, map[int]int) {
	pos := make(map[int]int, len(free))
	for k, idx := range free {
		pos[idx] = k
	}
	n := len(free)
	d := mat.NewSymDense(n, nil)
	for gi, i := range free {
		row, ok := m.rows[i]
		if !ok {
			continue
		}
		for j, v := range row {
			if gj, ok := pos[j]; ok && gj >= gi {
				d.SetSym(gi, gj, v)
			}
		}
	}
	return d, pos
}

package ad

import "github.com/rasigadelab/Rshadow/sparse"

// Trace is the mutable numerical state bound to an (immutable) tape:
// values, adjoints, and a sparse Hessian. A trace owns its buffers
// exclusively; the tape may be shared read-only by many traces.
type Trace struct {
	Tape     *Tape
	Values   []float64
	Adjoints []float64
	Hessian  *sparse.SymmetricMatrix
}

// NewTrace allocates a trace bound to tape, with values initialized
// from the tape's InitialValues.
func NewTrace(tape *Tape) *Trace {
	values := make([]float64, tape.NTrace)
	copy(values, tape.InitialValues)
	return &Trace{
		Tape:     tape,
		Values:   values,
		Adjoints: make([]float64, tape.NTrace),
		Hessian:  sparse.NewSymmetricMatrix(),
	}
}

// ObjectiveIndex returns the trace slot holding the final scalar
// objective.
func (tr *Trace) ObjectiveIndex() int { return tr.Tape.NTrace - 1 }

// Objective returns the current objective value. Valid after
// PlayForward or Play.
func (tr *Trace) Objective() float64 { return tr.Values[tr.ObjectiveIndex()] }

// PlayForward visits operators in record order and writes their
// outputs in place in Values.
func (tr *Trace) PlayForward() {
	ops := tr.Tape.Ops
	for i := range ops {
		ops[i].Evaluate(tr.Values)
	}
}

// PlayReverse runs the edge-pushing second-order adjoint sweep:
// visiting operators in reverse record order, it updates Adjoints and
// the sparse Hessian so that, on return, Adjoints[j] holds
// d(objective)/d(trace slot j) for every slot, and the Hessian holds
// the second derivatives restricted to input slots (every other row
// has been erased by housekeeping).
func (tr *Trace) PlayReverse() {
	for i := range tr.Adjoints {
		tr.Adjoints[i] = 0
	}
	tr.Hessian = sparse.NewSymmetricMatrix()
	tr.Adjoints[tr.ObjectiveIndex()] = 1.0

	ops := tr.Tape.Ops
	for oi := len(ops) - 1; oi >= 0; oi-- {
		tr.pushOp(&ops[oi])
	}
}

// Play refreshes value/gradient/Hessian after any parameter change;
// it is PlayForward followed by PlayReverse.
func (tr *Trace) Play() {
	tr.PlayForward()
	tr.PlayReverse()
}

// pushOp dispatches a single operator to its edge-pushing update.
func (tr *Trace) pushOp(op *Op) {
	switch op.Kind {
	case OpSum:
		tr.pushSum(op)
	case OpSumSq:
		tr.pushSumSq(op)
	case OpDot:
		tr.pushDot(op)
	case OpBernoulliLL:
		tr.pushBernoulliLL(op)
	case OpMatMul:
		tr.pushMatMul(op)
	default:
		tr.pushElementwise(op)
	}
}

// pushPair adds v to the (j,k) Hessian entry, a no-op for v == 0.
func (tr *Trace) pushPair(j, k int, v float64) {
	if v == 0 {
		return
	}
	tr.Hessian.At(j, k).Add(v)
}

// pushElementwise handles the arithmetic, unary and indicator
// families: an O(n) loop over output positions, each an independent
// scalar edge-pushing step restricted to the matching input
// position(s) -- the specialization the generic O(n^2) path would
// otherwise require (SPEC_FULL.md §4.E).
func (tr *Trace) pushElementwise(op *Op) {
	t := tags(op.Kind)
	for ii := 0; ii != op.OutLen; ii++ {
		i := op.OutBegin + ii
		w := tr.Adjoints[i]

		jA, hasA := tr.elemSlot(op.A, ii)
		jB, hasB := tr.elemSlot(op.B, ii)

		if t.Has(TagPartialAlwaysZero) {
			tr.Hessian.Erase(i)
			continue
		}

		a := op.A.at(tr.Values, ii)
		var b float64
		if !isUnary(op.Kind) {
			b = op.B.at(tr.Values, ii)
		}
		v := tr.Values[i]
		da, db, daa, dab, dbb := localElementwise(op.Kind, a, b, v)

		// 1. Adjoint update.
		if hasA {
			tr.Adjoints[jA] += da * w
		}
		if hasB {
			tr.Adjoints[jB] += db * w
		}

		// 2. Pushing part 1. When l is itself this operator's input
		// slot, the entry lands on the diagonal and is pushed twice,
		// once for each symmetric half (i,l) and (l,i).
		if row, ok := tr.Hessian.RowPtr(i); ok {
			for l, val := range row {
				if l == i {
					continue
				}
				if hasA {
					tr.pushPair(jA, l, da*val)
					if l == jA {
						tr.pushPair(jA, l, da*val)
					}
				}
				if hasB {
					tr.pushPair(jB, l, db*val)
					if l == jB {
						tr.pushPair(jB, l, db*val)
					}
				}
			}
		}

		// 3. Pushing part 2.
		if hii := tr.Hessian.Read(i, i); hii != 0 {
			if hasA {
				tr.pushPair(jA, jA, da*da*hii)
			}
			if hasA && hasB {
				tr.pushPair(jA, jB, da*db*hii)
			}
			if hasB {
				tr.pushPair(jB, jB, db*db*hii)
			}
		}

		// 4. Creating part.
		if w != 0 && !t.Has(TagHessianAlwaysZero) {
			if hasA {
				tr.pushPair(jA, jA, daa*w)
			}
			if hasA && hasB {
				tr.pushPair(jA, jB, dab*w)
			}
			if hasB {
				tr.pushPair(jB, jB, dbb*w)
			}
		}

		// 5. Housekeeping.
		tr.Hessian.Erase(i)
	}
}

// elemSlot returns the trace index feeding output position ii from
// operand o, honoring scalar broadcast, and whether the operand is
// free (trace-backed) at all.
func (tr *Trace) elemSlot(o Operand, ii int) (int, bool) {
	if !o.Free {
		return 0, false
	}
	if o.effLen() == 1 {
		return o.Begin, true
	}
	return o.Begin + ii, true
}

// pushSum handles sum(A): linear in A, zero local Hessian, so only
// steps 1-3 and 5 can contribute.
func (tr *Trace) pushSum(op *Op) {
	i := op.OutBegin
	w := tr.Adjoints[i]
	n := op.A.effLen()

	if op.A.Free {
		for k := 0; k != n; k++ {
			tr.Adjoints[op.A.Begin+k] += w
		}
	}
	if row, ok := tr.Hessian.RowPtr(i); ok {
		for l, val := range row {
			if l == i {
				continue
			}
			if op.A.Free {
				for k := 0; k != n; k++ {
					tr.pushPair(op.A.Begin+k, l, val)
					if op.A.Begin+k == l {
						tr.pushPair(l, l, val)
					}
				}
			}
		}
	}
	if hii := tr.Hessian.Read(i, i); hii != 0 && op.A.Free {
		for j := 0; j != n; j++ {
			for k := j; k != n; k++ {
				tr.pushPair(op.A.Begin+j, op.A.Begin+k, hii)
			}
		}
	}
	tr.Hessian.Erase(i)
}

// pushSumSq handles sumsq(A): d/dA_k = 2 A_k, diagonal-only local
// Hessian d2/dA_k2 = 2.
func (tr *Trace) pushSumSq(op *Op) {
	i := op.OutBegin
	w := tr.Adjoints[i]
	n := op.A.effLen()

	if op.A.Free {
		for k := 0; k != n; k++ {
			tr.Adjoints[op.A.Begin+k] += 2 * tr.Values[op.A.Begin+k] * w
		}
	}
	if row, ok := tr.Hessian.RowPtr(i); ok {
		for l, val := range row {
			if l == i {
				continue
			}
			if op.A.Free {
				for k := 0; k != n; k++ {
					tr.pushPair(op.A.Begin+k, l, 2*tr.Values[op.A.Begin+k]*val)
					if op.A.Begin+k == l {
						tr.pushPair(l, l, 2*tr.Values[l]*val)
					}
				}
			}
		}
	}
	if hii := tr.Hessian.Read(i, i); hii != 0 && op.A.Free {
		for j := 0; j != n; j++ {
			aj := tr.Values[op.A.Begin+j]
			for k := j; k != n; k++ {
				ak := tr.Values[op.A.Begin+k]
				tr.pushPair(op.A.Begin+j, op.A.Begin+k, 4*aj*ak*hii)
			}
		}
	}
	if w != 0 && op.A.Free {
		for k := 0; k != n; k++ {
			tr.pushPair(op.A.Begin+k, op.A.Begin+k, 2*w)
		}
	}
	tr.Hessian.Erase(i)
}

// pushDot handles dot(A,B): d/dA_k = B_k, d/dB_k = A_k, with a local
// Hessian nonzero only at the matched (A_k,B_k) pair.
func (tr *Trace) pushDot(op *Op) {
	i := op.OutBegin
	w := tr.Adjoints[i]
	n := op.A.effLen()

	deriv := func(k int) (da, db float64) {
		return op.B.at(tr.Values, k), op.A.at(tr.Values, k)
	}
	slot := func(o Operand, k int) (int, bool) {
		if !o.Free {
			return 0, false
		}
		return o.Begin + k, true
	}

	if op.A.Free {
		for k := 0; k != n; k++ {
			da, _ := deriv(k)
			tr.Adjoints[op.A.Begin+k] += da * w
		}
	}
	if op.B.Free {
		for k := 0; k != n; k++ {
			_, db := deriv(k)
			tr.Adjoints[op.B.Begin+k] += db * w
		}
	}
	if row, ok := tr.Hessian.RowPtr(i); ok {
		for l, val := range row {
			if l == i {
				continue
			}
			for k := 0; k != n; k++ {
				da, db := deriv(k)
				if op.A.Free {
					tr.pushPair(op.A.Begin+k, l, da*val)
					if op.A.Begin+k == l {
						tr.pushPair(l, l, da*val)
					}
				}
				if op.B.Free {
					tr.pushPair(op.B.Begin+k, l, db*val)
					if op.B.Begin+k == l {
						tr.pushPair(l, l, db*val)
					}
				}
			}
		}
	}
	if hii := tr.Hessian.Read(i, i); hii != 0 {
		type term struct {
			idx int
			d   float64
		}
		terms := make([]term, 0, 2*n)
		for k := 0; k != n; k++ {
			da, db := deriv(k)
			if aj, ok := slot(op.A, k); ok {
				terms = append(terms, term{aj, da})
			}
			if bj, ok := slot(op.B, k); ok {
				terms = append(terms, term{bj, db})
			}
		}
		for p := 0; p != len(terms); p++ {
			for q := p; q != len(terms); q++ {
				tr.pushPair(terms[p].idx, terms[q].idx, terms[p].d*terms[q].d*hii)
			}
		}
	}
	if w != 0 && op.A.Free && op.B.Free {
		for k := 0; k != n; k++ {
			tr.pushPair(op.A.Begin+k, op.B.Begin+k, w)
		}
	}
	tr.Hessian.Erase(i)
}

// pushBernoulliLL handles the fixed-label Bernoulli log-likelihood
// aggregation: diagonal-only local Hessian in the free probability
// vector.
func (tr *Trace) pushBernoulliLL(op *Op) {
	i := op.OutBegin
	w := tr.Adjoints[i]
	n := op.A.effLen()

	d1 := make([]float64, n)
	d2 := make([]float64, n)
	for k := 0; k != n; k++ {
		p := op.A.at(tr.Values, k)
		y := op.B.at(tr.Values, k)
		d1[k], d2[k] = bernLLDeriv(p, y)
	}

	if op.A.Free {
		for k := 0; k != n; k++ {
			tr.Adjoints[op.A.Begin+k] += d1[k] * w
		}
	}
	if row, ok := tr.Hessian.RowPtr(i); ok {
		for l, val := range row {
			if l == i {
				continue
			}
			if op.A.Free {
				for k := 0; k != n; k++ {
					tr.pushPair(op.A.Begin+k, l, d1[k]*val)
					if op.A.Begin+k == l {
						tr.pushPair(l, l, d1[k]*val)
					}
				}
			}
		}
	}
	if hii := tr.Hessian.Read(i, i); hii != 0 && op.A.Free {
		for j := 0; j != n; j++ {
			for k := j; k != n; k++ {
				tr.pushPair(op.A.Begin+j, op.A.Begin+k, d1[j]*d1[k]*hii)
			}
		}
	}
	if w != 0 && op.A.Free {
		for k := 0; k != n; k++ {
			tr.pushPair(op.A.Begin+k, op.A.Begin+k, d2[k]*w)
		}
	}
	tr.Hessian.Erase(i)
}

// pushMatMul handles the matrix-product family: for output (r,c),
// the local Hessian is 1 exactly at (A[r,t], B[t,c]) for each inner
// index t, the familiar bilinear dot-product pattern.
func (tr *Trace) pushMatMul(op *Op) {
	m, k := op.DimA[0], op.DimA[1]
	n := op.DimB[1]

	aSlot := func(r, t int) (int, bool) {
		if !op.A.Free {
			return 0, false
		}
		return op.A.Begin + r + t*m, true
	}
	bSlot := func(t, c int) (int, bool) {
		if !op.B.Free {
			return 0, false
		}
		return op.B.Begin + t + c*k, true
	}
	aVal := func(r, t int) float64 { return op.A.at(tr.Values, r+t*m) }
	bVal := func(t, c int) float64 { return op.B.at(tr.Values, t+c*k) }

	for c := 0; c != n; c++ {
		for r := 0; r != m; r++ {
			i := op.OutBegin + r + c*m
			w := tr.Adjoints[i]

			// 1. Adjoint update.
			for t := 0; t != k; t++ {
				if aj, ok := aSlot(r, t); ok {
					tr.Adjoints[aj] += bVal(t, c) * w
				}
				if bj, ok := bSlot(t, c); ok {
					tr.Adjoints[bj] += aVal(r, t) * w
				}
			}

			// 2. Pushing part 1.
			if row, ok := tr.Hessian.RowPtr(i); ok {
				for l, val := range row {
					if l == i {
						continue
					}
					for t := 0; t != k; t++ {
						if aj, ok := aSlot(r, t); ok {
							tr.pushPair(aj, l, bVal(t, c)*val)
							if aj == l {
								tr.pushPair(l, l, bVal(t, c)*val)
							}
						}
						if bj, ok := bSlot(t, c); ok {
							tr.pushPair(bj, l, aVal(r, t)*val)
							if bj == l {
								tr.pushPair(l, l, aVal(r, t)*val)
							}
						}
					}
				}
			}

			// 3. Pushing part 2, over all free input slots of this
			// output position.
			if hii := tr.Hessian.Read(i, i); hii != 0 {
				type term struct {
					idx int
					d   float64
				}
				terms := make([]term, 0, 2*k)
				for t := 0; t != k; t++ {
					if aj, ok := aSlot(r, t); ok {
						terms = append(terms, term{aj, bVal(t, c)})
					}
					if bj, ok := bSlot(t, c); ok {
						terms = append(terms, term{bj, aVal(r, t)})
					}
				}
				for p := 0; p != len(terms); p++ {
					for q := p; q != len(terms); q++ {
						tr.pushPair(terms[p].idx, terms[q].idx, terms[p].d*terms[q].d*hii)
					}
				}
			}

			// 4. Creating part: local Hessian is 1 at matched
			// (A[r,t], B[t,c]) pairs.
			if w != 0 {
				for t := 0; t != k; t++ {
					aj, okA := aSlot(r, t)
					bj, okB := bSlot(t, c)
					if okA && okB {
						tr.pushPair(aj, bj, w)
					}
				}
			}

			// 5. Housekeeping.
			tr.Hessian.Erase(i)
		}
	}
}

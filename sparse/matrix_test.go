package sparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddCreatesSymmetricEntry(t *testing.T) {
	m := NewSymmetricMatrix()
	m.At(1, 2).Add(3.5)
	assert.Equal(t, 3.5, m.Read(1, 2))
	assert.Equal(t, 3.5, m.Read(2, 1))
}

func TestAddAccumulatesAndZeroRemoves(t *testing.T) {
	m := NewSymmetricMatrix()
	m.At(0, 1).Add(2)
	m.At(0, 1).Add(-2)
	assert.Equal(t, 0.0, m.Read(0, 1))

	_, ok := m.RowPtr(0)
	assert.False(t, ok, "a fully-zeroed row should be dropped")
}

func TestDiagonalStoredOnce(t *testing.T) {
	m := NewSymmetricMatrix()
	m.At(4, 4).Set(9)
	assert.Equal(t, 9.0, m.Read(4, 4))
	row, ok := m.RowPtr(4)
	assert.True(t, ok)
	assert.Len(t, row, 1)
}

func TestEraseRemovesRowColumnAndDiagonal(t *testing.T) {
	m := NewSymmetricMatrix()
	m.At(1, 1).Set(1)
	m.At(1, 2).Set(2)
	m.At(1, 3).Set(3)
	m.At(2, 3).Set(4)

	m.Erase(1)

	_, ok := m.RowPtr(1)
	assert.False(t, ok)
	assert.Equal(t, 0.0, m.Read(2, 1))
	assert.Equal(t, 0.0, m.Read(3, 1))
	// entries not touching row 1 survive.
	assert.Equal(t, 4.0, m.Read(2, 3))
}

func TestNNZCountsBothHalvesOfOffDiagonal(t *testing.T) {
	m := NewSymmetricMatrix()
	m.At(0, 1).Set(1)
	assert.Equal(t, 2, m.NNZ())
	m.At(0, 0).Set(1)
	assert.Equal(t, 3, m.NNZ())
}

func TestDenseMaterializesFreeSubBlock(t *testing.T) {
	m := NewSymmetricMatrix()
	m.At(0, 0).Set(1)
	m.At(0, 1).Set(2)
	m.At(1, 1).Set(3)
	m.At(2, 2).Set(100) // not in the free set

	dense, pos := m.Dense([]int{0, 1})
	assert.Equal(t, 1.0, dense.At(pos[0], pos[0]))
	assert.Equal(t, 2.0, dense.At(pos[0], pos[1]))
	assert.Equal(t, 3.0, dense.At(pos[1], pos[1]))
}

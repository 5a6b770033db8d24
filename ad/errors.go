package ad

import "github.com/pkg/errors"

// Sentinel errors surfaced to the host, per the error-kinds taxonomy:
// declaration-after-recording, shape-mismatch and out-of-range element
// access are programmer errors that abort the current operation.
var (
	// ErrDeclarationAfterRecording is returned by NewInput when the
	// tape already holds a recorded operator.
	ErrDeclarationAfterRecording = errors.New("ad: free input declared after recording began")

	// ErrShapeMismatch is returned by the builder when operand shapes
	// cannot be combined under the scalar/vector broadcast rule.
	ErrShapeMismatch = errors.New("ad: operand shape mismatch")

	// ErrOutOfRange is returned by element access outside a spy's
	// declared trace range.
	ErrOutOfRange = errors.New("ad: element index out of range")
)

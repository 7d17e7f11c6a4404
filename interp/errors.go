package interp

import (
	"errors"
	"fmt"
)

// Evaluation errors. These are the recoverable failures of the value layer:
// a constant that decodes to something the requested view cannot represent.
// Width mismatches are not errors but panics, because they indicate a bug in
// the caller's type computation rather than a property of the constant.
var (
	// ErrReadPointerAsBytes reports an attempt to view a relocatable
	// pointer as a raw bit pattern.
	ErrReadPointerAsBytes = errors.New("interp: cannot read a pointer as raw bytes")

	// ErrReadBytesAsPointer reports an attempt to view a nonzero raw bit
	// pattern as a relocatable pointer.
	ErrReadBytesAsPointer = errors.New("interp: cannot read raw bytes as a pointer")

	// ErrNullPointerUsage reports an attempt to use an all-zero bit
	// pattern as a pointer.
	ErrNullPointerUsage = errors.New("interp: invalid use of a null pointer")

	// ErrInvalidBool reports a one-byte pattern that is neither 0 nor 1.
	ErrInvalidBool = errors.New("interp: scalar is not a valid boolean")

	// ErrInvalidChar reports a four-byte pattern that is not a Unicode
	// scalar value. Returned errors carry the offending bits as an
	// InvalidCharError.
	ErrInvalidChar = errors.New("interp: scalar is not a valid character")

	// ErrPointerArithmeticOverflow reports address arithmetic that left
	// the target address space.
	ErrPointerArithmeticOverflow = errors.New("interp: pointer arithmetic overflow")

	// ErrOutOfBounds reports an allocation access outside its bytes.
	ErrOutOfBounds = errors.New("interp: access outside allocation bounds")
)

// InvalidCharError carries the bit pattern of a failed character decode.
// It matches ErrInvalidChar under errors.Is.
type InvalidCharError struct {
	Bits uint32
}

func (e *InvalidCharError) Error() string {
	return fmt.Sprintf("interp: invalid character bits %#x", e.Bits)
}

// Is lets errors.Is(err, ErrInvalidChar) succeed on InvalidCharError values.
func (e *InvalidCharError) Is(target error) bool {
	return target == ErrInvalidChar
}

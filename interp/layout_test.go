package interp

import (
	"errors"
	"testing"
)

var (
	layout64 = DataLayout{PointerSize: 8, Endian: LittleEndian}
	layout32 = DataLayout{PointerSize: 4, Endian: LittleEndian}
	layout16 = DataLayout{PointerSize: 2, Endian: BigEndian}
)

// ---------------------------------------------------------------------------
// Address space tests
// ---------------------------------------------------------------------------

func TestMaxAddress(t *testing.T) {
	if got := layout64.MaxAddress(); got != ^uint64(0) {
		t.Errorf("64-bit MaxAddress = %#x", got)
	}
	if got := layout32.MaxAddress(); got != 0xFFFFFFFF {
		t.Errorf("32-bit MaxAddress = %#x", got)
	}
	if got := layout16.MaxAddress(); got != 0xFFFF {
		t.Errorf("16-bit MaxAddress = %#x", got)
	}
}

func TestTruncateToPointer(t *testing.T) {
	if got := layout16.TruncateToPointer(0x12345); got != 0x2345 {
		t.Errorf("TruncateToPointer(0x12345) = %#x, want 0x2345", got)
	}
	if got := layout64.TruncateToPointer(0xDEADBEEFCAFEBABE); got != 0xDEADBEEFCAFEBABE {
		t.Errorf("64-bit TruncateToPointer should be identity, got %#x", got)
	}
}

func TestHasDataLayoutSelf(t *testing.T) {
	// A bare layout satisfies the capability interface.
	var cx HasDataLayout = layout32
	if cx.DataLayout() != layout32 {
		t.Error("DataLayout() should return the layout itself")
	}
}

// ---------------------------------------------------------------------------
// Unsigned offset tests
// ---------------------------------------------------------------------------

func TestOverflowingOffset(t *testing.T) {
	tests := []struct {
		layout   DataLayout
		val, add uint64
		want     uint64
		over     bool
	}{
		{layout64, 0, 0, 0, false},
		{layout64, 100, 23, 123, false},
		{layout64, ^uint64(0), 0, ^uint64(0), false},
		{layout64, ^uint64(0), 1, 0, true},
		{layout64, 1 << 63, 1 << 63, 0, true},
		{layout32, 0xFFFFFFFF, 0, 0xFFFFFFFF, false},
		{layout32, 0xFFFFFFFF, 1, 0, true},
		{layout32, 0xFFFFFFF0, 0x20, 0x10, true},
		{layout16, 0xFFFF, 2, 1, true},
		{layout16, 0x1234, 0x100, 0x1334, false},
	}

	for _, tc := range tests {
		got, over := tc.layout.OverflowingOffset(tc.val, tc.add)
		if got != tc.want || over != tc.over {
			t.Errorf("OverflowingOffset(%#x, %#x) at %d bytes = (%#x, %v), want (%#x, %v)",
				tc.val, tc.add, tc.layout.PointerSize, got, over, tc.want, tc.over)
		}
	}
}

func TestOffsetChecked(t *testing.T) {
	if _, err := layout64.Offset(^uint64(0), 1); !errors.Is(err, ErrPointerArithmeticOverflow) {
		t.Errorf("Offset overflow error = %v, want ErrPointerArithmeticOverflow", err)
	}
	got, err := layout64.Offset(40, 2)
	if err != nil || got != 42 {
		t.Errorf("Offset(40, 2) = (%d, %v), want (42, nil)", got, err)
	}
}

func TestWrappingOffset(t *testing.T) {
	if got := layout16.WrappingOffset(0xFFFF, 3); got != 2 {
		t.Errorf("16-bit WrappingOffset(0xFFFF, 3) = %#x, want 2", got)
	}
	if got := layout64.WrappingOffset(^uint64(0), 3); got != 2 {
		t.Errorf("64-bit WrappingOffset(max, 3) = %#x, want 2", got)
	}
}

// ---------------------------------------------------------------------------
// Signed offset tests
// ---------------------------------------------------------------------------

func TestOverflowingSignedOffset(t *testing.T) {
	tests := []struct {
		layout DataLayout
		val    uint64
		i      int64
		want   uint64
		over   bool
	}{
		{layout64, 100, 23, 123, false},
		{layout64, 100, -23, 77, false},
		{layout64, 100, -100, 0, false},
		{layout64, 100, -101, ^uint64(0), true},
		{layout64, 0, -9223372036854775808, 1 << 63, true},
		{layout32, 0x10, -0x20, 0xFFFFFFF0, true},
		{layout16, 0, -1, 0xFFFF, true},
		{layout16, 0x8000, 0x7FFF, 0xFFFF, false},
		{layout16, 0x8000, -0x8000, 0, false},
	}

	for _, tc := range tests {
		got, over := tc.layout.OverflowingSignedOffset(tc.val, tc.i)
		if got != tc.want || over != tc.over {
			t.Errorf("OverflowingSignedOffset(%#x, %d) at %d bytes = (%#x, %v), want (%#x, %v)",
				tc.val, tc.i, tc.layout.PointerSize, got, over, tc.want, tc.over)
		}
	}
}

func TestSignedOffsetChecked(t *testing.T) {
	got, err := layout64.SignedOffset(100, -58)
	if err != nil || got != 42 {
		t.Errorf("SignedOffset(100, -58) = (%d, %v), want (42, nil)", got, err)
	}
	if _, err := layout64.SignedOffset(0, -1); !errors.Is(err, ErrPointerArithmeticOverflow) {
		t.Errorf("SignedOffset(0, -1) error = %v, want ErrPointerArithmeticOverflow", err)
	}
}

func TestWrappingSignedOffsetStaysInAddressSpace(t *testing.T) {
	// Negative wrap-arounds reduce into the target address space on
	// sub-64-bit targets too.
	for _, tc := range []struct {
		layout DataLayout
		val    uint64
		i      int64
		want   uint64
	}{
		{layout16, 0, -1, 0xFFFF},
		{layout16, 5, -10, 0xFFFB},
		{layout32, 0, -1, 0xFFFFFFFF},
		{layout64, 0, -1, ^uint64(0)},
	} {
		got := tc.layout.WrappingSignedOffset(tc.val, tc.i)
		if got != tc.want {
			t.Errorf("WrappingSignedOffset(%#x, %d) at %d bytes = %#x, want %#x",
				tc.val, tc.i, tc.layout.PointerSize, got, tc.want)
		}
		if got > tc.layout.MaxAddress() {
			t.Errorf("result %#x escaped the %d-byte address space", got, tc.layout.PointerSize)
		}
	}
}

func TestEndianString(t *testing.T) {
	if LittleEndian.String() != "little" || BigEndian.String() != "big" {
		t.Error("Endian names drifted")
	}
}

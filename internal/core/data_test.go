package core

import (
	"strings"
	"testing"
)

func TestDataBlockRoundTrip(t *testing.T) {
	text := strings.Repeat("00", 60) + "deadbeef"
	d, err := ParseDataBlock(text)
	if err != nil {
		t.Fatalf("ParseDataBlock: %v", err)
	}
	if d.Size() != WordSize {
		t.Fatalf("size = %d, want %d", d.Size(), WordSize)
	}
	if d.Byte(60) != 0xde || d.Byte(63) != 0xef {
		t.Errorf("bytes = %x %x, want de ef", d.Byte(60), d.Byte(63))
	}
	if d.String() != text {
		t.Errorf("String = %q, want %q", d.String(), text)
	}
}

func TestDataBlockBounds(t *testing.T) {
	d := NewDataBlock(4)
	if d.Byte(10) != 0 {
		t.Error("out-of-range read should be 0")
	}
	d.SetByte(10, 0xFF) // ignored
	d.SetByte(2, 0xAB)
	if d.Byte(2) != 0xAB {
		t.Error("in-range write lost")
	}
}

func TestDataBlockCloneIsIndependent(t *testing.T) {
	d := NewDataBlock(8)
	d.SetByte(0, 1)
	c := d.Clone()
	c.SetByte(0, 2)
	if d.Byte(0) != 1 {
		t.Error("clone aliases original storage")
	}
	if d.Equal(c) {
		t.Error("Equal true for differing blocks")
	}
}

func TestParseDataBlockRejectsBadHex(t *testing.T) {
	if _, err := ParseDataBlock("zz"); err == nil {
		t.Error("bad hex accepted")
	}
}

func TestRequestFlags(t *testing.T) {
	r := NewRequest(OpWrite, 0x1000)
	r.SetFlag(FlagIsWrite | FlagLastRequest)
	if !r.HasFlag(FlagIsWrite) || !r.HasFlag(FlagLastRequest) {
		t.Error("flags not set")
	}
	r.ClearFlag(FlagLastRequest)
	if r.HasFlag(FlagLastRequest) {
		t.Error("flag not cleared")
	}
	if r.HasFlag(FlagIsWrite | FlagLastRequest) {
		t.Error("HasFlag should require every bit")
	}
}

func TestOpTypePredicates(t *testing.T) {
	if !OpReadPrecharge.IsReadOp() || !OpReadPrecharge.IsColumnOp() {
		t.Error("READ_PRECHARGE misclassified")
	}
	if OpActivate.IsColumnOp() {
		t.Error("ACTIVATE is not a column op")
	}
	if !OpWritePrecharge.IsWriteOp() {
		t.Error("WRITE_PRECHARGE misclassified")
	}
	if got := OpPowerdownPDPF.String(); got != "POWERDOWN_PDPF" {
		t.Errorf("String = %q", got)
	}
}

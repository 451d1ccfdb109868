package core

import (
	"testing"
)

func newTestTranslator(t *testing.T, scheme string) *AddressTranslator {
	t.Helper()

	method := &TranslationMethod{}
	method.SetBitWidths(14, 10, 3, 1, 1, 0)
	method.SetCount(1<<14, 1<<10, 1<<3, 2, 2, 1)
	if err := method.SetAddressMappingScheme(scheme); err != nil {
		t.Fatalf("SetAddressMappingScheme(%q): %v", scheme, err)
	}

	at := NewAddressTranslator()
	at.SetTranslationMethod(method)
	at.SetBusWidth(64)
	at.SetBurstLength(8)
	return at
}

func TestTranslateKnownAddress(t *testing.T) {
	at := newTestTranslator(t, "R:RK:BK:CH:C:SA")

	// 0x12345678 >> 6 = 0x48D159; decoding low-to-high through
	// SA, C, CH, BK, RK, R under the divider algorithm.
	row, col, bank, rank, channel, subarray := at.Translate(0x12345678)

	if row != 0x91 {
		t.Errorf("row = 0x%x, want 0x91", row)
	}
	if col != 0x159 {
		t.Errorf("col = 0x%x, want 0x159", col)
	}
	if bank != 2 {
		t.Errorf("bank = %d, want 2", bank)
	}
	if rank != 1 {
		t.Errorf("rank = %d, want 1", rank)
	}
	if channel != 0 {
		t.Errorf("channel = %d, want 0", channel)
	}
	if subarray != 0 {
		t.Errorf("subarray = %d, want 0", subarray)
	}

	// The burst-offset bits are not a scheduling dimension, so the
	// reverse mapping lands on the word-aligned base address.
	back := at.ReverseTranslate(row, col, bank, rank, channel, subarray)
	if back != 0x12345640 {
		t.Errorf("ReverseTranslate = 0x%x, want 0x12345640", back)
	}
}

func TestTranslateRoundTrip(t *testing.T) {
	schemes := []string{"R:RK:BK:CH:C:SA", "R:C:BK:RK:CH:SA", "SA:CH:RK:BK:C:R"}

	for _, scheme := range schemes {
		at := newTestTranslator(t, scheme)

		for _, addr := range []uint64{0, 0x40, 0x1000, 0x12345640, 0x7FFFFFC0, 0xDEADBE00} {
			row, col, bank, rank, channel, subarray := at.Translate(addr)
			back := at.ReverseTranslate(row, col, bank, rank, channel, subarray)
			if back != addr {
				t.Errorf("%s: round trip of 0x%x = 0x%x", scheme, addr, back)
			}
		}
	}
}

func TestPartialMappingScheme(t *testing.T) {
	method := NewTranslationMethod()
	// Only two fields named: they take the most significant slots, the
	// rest fill downward SA, CH, RK, BK, R, C.
	if err := method.SetAddressMappingScheme("R:C"); err != nil {
		t.Fatalf("SetAddressMappingScheme: %v", err)
	}

	if method.order[MemRow] != 5 {
		t.Errorf("row order = %d, want 5", method.order[MemRow])
	}
	if method.order[MemCol] != 4 {
		t.Errorf("col order = %d, want 4", method.order[MemCol])
	}
	if method.order[MemSubArray] != 3 {
		t.Errorf("subarray order = %d, want 3", method.order[MemSubArray])
	}
	if method.order[MemChannel] != 2 {
		t.Errorf("channel order = %d, want 2", method.order[MemChannel])
	}
	if method.order[MemRank] != 1 {
		t.Errorf("rank order = %d, want 1", method.order[MemRank])
	}
	if method.order[MemBank] != 0 {
		t.Errorf("bank order = %d, want 0", method.order[MemBank])
	}
}

func TestBadMappingScheme(t *testing.T) {
	method := NewTranslationMethod()
	if err := method.SetAddressMappingScheme("R:XX"); err == nil {
		t.Error("unknown token accepted")
	}
	if err := method.SetAddressMappingScheme("R:R"); err == nil {
		t.Error("duplicate token accepted")
	}
}

func TestDefaultFieldValue(t *testing.T) {
	at := newTestTranslator(t, "R:RK:BK:CH:C:SA")
	at.SetDefaultField(ChannelField)

	req := NewRequest(OpRead, 0x12345678)
	if got := at.DefaultFieldValue(req); got != 0 {
		t.Errorf("channel default field = %d, want 0", got)
	}

	// A pre-translated address is answered without re-decoding.
	req.Address.SetTranslated(1, 2, 3, 0, 1, 0)
	if got := at.DefaultFieldValue(req); got != 1 {
		t.Errorf("translated channel = %d, want 1", got)
	}

	at.SetDefaultField(BankField)
	if got := at.DefaultFieldValue(req); got != 3 {
		t.Errorf("translated bank = %d, want 3", got)
	}

	at.SetDefaultField(NoField)
	if got := at.DefaultFieldValue(req); got != 0 {
		t.Errorf("NoField value = %d, want 0", got)
	}
}

func TestTranslateRequest(t *testing.T) {
	at := newTestTranslator(t, "R:RK:BK:CH:C:SA")

	req := NewRequest(OpWrite, 0x12345678)
	if req.Address.Translated {
		t.Fatal("new request already translated")
	}
	at.TranslateRequest(req)
	if !req.Address.Translated {
		t.Fatal("TranslateRequest did not mark the address")
	}
	if req.Address.Row != 0x91 || req.Address.Col != 0x159 {
		t.Errorf("translated (row, col) = (0x%x, 0x%x), want (0x91, 0x159)",
			req.Address.Row, req.Address.Col)
	}
}

func TestNonPowerOfTwoCounts(t *testing.T) {
	method := &TranslationMethod{}
	method.SetBitWidths(4, 4, 2, 1, 1, 0)
	method.SetCount(12, 10, 3, 2, 2, 1)
	if err := method.SetAddressMappingScheme("R:RK:BK:CH:C:SA"); err != nil {
		t.Fatalf("SetAddressMappingScheme: %v", err)
	}

	at := NewAddressTranslator()
	at.SetTranslationMethod(method)
	at.SetBusWidth(64)
	at.SetBurstLength(8)

	// Divide/modulo handles non-power-of-two counts; the round trip
	// holds for any in-bounds index vector.
	addr := at.ReverseTranslate(11, 9, 2, 1, 1, 0)
	row, col, bank, rank, channel, subarray := at.Translate(addr)
	if row != 11 || col != 9 || bank != 2 || rank != 1 || channel != 1 || subarray != 0 {
		t.Errorf("decoded (%d,%d,%d,%d,%d,%d), want (11,9,2,1,1,0)",
			row, col, bank, rank, channel, subarray)
	}
}

package core

import (
	"fmt"
	"strings"
)

// MemoryPartition indexes the six decoded address fields.
type MemoryPartition int

const (
	MemRow MemoryPartition = iota
	MemCol
	MemBank
	MemRank
	MemChannel
	MemSubArray

	partitionCount
)

// TranslationField selects which decoded field a translator answers with
// when queried for routing.
type TranslationField int

const (
	NoField TranslationField = iota
	RowField
	ColField
	BankField
	RankField
	ChannelField
	SubArrayField
)

// Log2 returns floor(log2(n)), with Log2(0) == 0. Geometry counts are
// normally powers of two.
func Log2(n uint64) uint {
	var bits uint
	for n > 1 {
		n >>= 1
		bits++
	}
	return bits
}

// TranslationMethod captures the per-field bit widths, counts and ordering
// of an address mapping. Order values are 0-based, 0 being the least
// significant field.
type TranslationMethod struct {
	bitWidths [partitionCount]uint
	order     [partitionCount]int
	count     [partitionCount]uint64
}

// NewTranslationMethod returns the default mapping for a small memory:
// channel - rank - row - bank - subarray - col from MSB to LSB.
func NewTranslationMethod() *TranslationMethod {
	m := &TranslationMethod{}
	m.SetBitWidths(10, 8, 3, 1, 1, 6)
	m.SetOrder(4, 1, 3, 5, 6, 2)
	m.SetCount(1<<10, 1<<8, 1<<3, 2, 2, 1<<6)
	return m
}

// SetBitWidths sets the per-field widths in bits.
func (m *TranslationMethod) SetBitWidths(row, col, bank, rank, channel, subarray uint) {
	m.bitWidths[MemRow] = row
	m.bitWidths[MemCol] = col
	m.bitWidths[MemBank] = bank
	m.bitWidths[MemRank] = rank
	m.bitWidths[MemChannel] = channel
	m.bitWidths[MemSubArray] = subarray
}

// SetOrder sets the 1-based ordering rank of each field, 1 being least
// significant. Orders must be unique.
func (m *TranslationMethod) SetOrder(row, col, bank, rank, channel, subarray int) error {
	seen := map[int]bool{}
	for _, o := range []int{row, col, bank, rank, channel, subarray} {
		if seen[o] {
			return fmt.Errorf("translation orders are not unique")
		}
		seen[o] = true
	}

	m.order[MemRow] = row - 1
	m.order[MemCol] = col - 1
	m.order[MemBank] = bank - 1
	m.order[MemRank] = rank - 1
	m.order[MemChannel] = channel - 1
	m.order[MemSubArray] = subarray - 1
	return nil
}

// SetCount sets the per-field element counts used for modulo and divide.
// Counts need not be powers of two.
func (m *TranslationMethod) SetCount(rows, cols, banks, ranks, channels, subarrays uint64) {
	m.count[MemRow] = rows
	m.count[MemCol] = cols
	m.count[MemBank] = banks
	m.count[MemRank] = ranks
	m.count[MemChannel] = channels
	m.count[MemSubArray] = subarrays
}

// Count returns the element count for one field.
func (m *TranslationMethod) Count(p MemoryPartition) uint64 {
	c := m.count[p]
	if c == 0 {
		return 1
	}
	return c
}

// BitWidth returns the configured width of one field.
func (m *TranslationMethod) BitWidth(p MemoryPartition) uint {
	return m.bitWidths[p]
}

var mappingTokens = map[string]MemoryPartition{
	"R":  MemRow,
	"C":  MemCol,
	"BK": MemBank,
	"RK": MemRank,
	"CH": MemChannel,
	"SA": MemSubArray,
}

// SetAddressMappingScheme parses a colon-separated ordering such as
// "R:RK:BK:CH:C:SA", listed most significant first. Fields absent from
// the scheme fill the remaining high-order slots.
func (m *TranslationMethod) SetAddressMappingScheme(scheme string) error {
	var orders [partitionCount]int
	currentOrder := int(partitionCount)

	for _, token := range strings.Split(scheme, ":") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		part, ok := mappingTokens[token]
		if !ok {
			return fmt.Errorf("unrecognized address mapping token %q in %q", token, scheme)
		}
		if orders[part] != 0 {
			return fmt.Errorf("duplicate address mapping token %q in %q", token, scheme)
		}
		if currentOrder < 1 {
			return fmt.Errorf("invalid address mapping scheme %q", scheme)
		}
		orders[part] = currentOrder
		currentOrder--
	}

	// Unspecified fields take the next unused high-order slot.
	for _, part := range []MemoryPartition{MemSubArray, MemChannel, MemRank, MemBank, MemRow, MemCol} {
		if orders[part] == 0 {
			orders[part] = currentOrder
			currentOrder--
		}
	}

	return m.SetOrder(orders[MemRow], orders[MemCol], orders[MemBank],
		orders[MemRank], orders[MemChannel], orders[MemSubArray])
}

// findOrder returns the field holding the given 0-based order slot.
func (m *TranslationMethod) findOrder(order int) (MemoryPartition, bool) {
	for p := MemoryPartition(0); p < partitionCount; p++ {
		if m.order[p] == order {
			return p, true
		}
	}
	return 0, false
}

// AddressTranslator decodes a scalar physical address into the six
// scheduling indices and back. The low bus-offset and burst column bits
// are not scheduling dimensions and are stripped before field extraction.
type AddressTranslator struct {
	method       *TranslationMethod
	defaultField TranslationField
	busWidth     uint
	burstLength  uint
}

// NewAddressTranslator returns a translator with JEDEC-DDR defaults: a
// 64-bit bus and 8-beat bursts.
func NewAddressTranslator() *AddressTranslator {
	return &AddressTranslator{
		method:       NewTranslationMethod(),
		defaultField: NoField,
		busWidth:     64,
		burstLength:  8,
	}
}

// SetTranslationMethod replaces the mapping.
func (a *AddressTranslator) SetTranslationMethod(m *TranslationMethod) {
	a.method = m
}

// TranslationMethod returns the active mapping.
func (a *AddressTranslator) TranslationMethod() *TranslationMethod {
	return a.method
}

// SetBusWidth overrides the data bus width in bits.
func (a *AddressTranslator) SetBusWidth(bits uint) {
	a.busWidth = bits
}

// SetBurstLength overrides the burst length in beats.
func (a *AddressTranslator) SetBurstLength(beats uint) {
	a.burstLength = beats
}

// SetDefaultField selects the field answered by DefaultFieldValue.
func (a *AddressTranslator) SetDefaultField(f TranslationField) {
	a.defaultField = f
}

// DefaultField returns the configured routing field.
func (a *AddressTranslator) DefaultField() TranslationField {
	return a.defaultField
}

func (a *AddressTranslator) lowBits() (busOffsetBits, lowColBits uint) {
	busOffsetBits = Log2(uint64(a.busWidth / 8))
	burstBits := Log2(uint64(a.busWidth) * uint64(a.burstLength) / 8)
	return busOffsetBits, burstBits - busOffsetBits
}

// Translate decodes a physical address.
func (a *AddressTranslator) Translate(address uint64) (row, col, bank, rank, channel, subarray uint64) {
	busOffsetBits, lowColBits := a.lowBits()

	ref := address >> busOffsetBits
	ref >>= lowColBits

	var fields [partitionCount]uint64
	for order := 0; order < int(partitionCount); order++ {
		part, ok := a.method.findOrder(order)
		if !ok {
			continue
		}
		count := a.method.Count(part)
		fields[part] = ref % count
		ref /= count
	}

	return fields[MemRow], fields[MemCol], fields[MemBank],
		fields[MemRank], fields[MemChannel], fields[MemSubArray]
}

// TranslateRequest decodes the request's physical address in place.
func (a *AddressTranslator) TranslateRequest(req *Request) {
	row, col, bank, rank, channel, subarray := a.Translate(req.Address.Physical)
	req.Address.SetTranslated(row, col, bank, rank, channel, subarray)
}

// ReverseTranslate reassembles a physical address from decoded indices.
func (a *AddressTranslator) ReverseTranslate(row, col, bank, rank, channel, subarray uint64) uint64 {
	busOffsetBits, lowColBits := a.lowBits()

	fields := [partitionCount]uint64{
		MemRow: row, MemCol: col, MemBank: bank,
		MemRank: rank, MemChannel: channel, MemSubArray: subarray,
	}

	unit := uint64(1)
	var address uint64
	for order := 0; order < int(partitionCount); order++ {
		part, ok := a.method.findOrder(order)
		if !ok {
			continue
		}
		address += fields[part] * unit
		unit *= a.method.Count(part)
	}

	return address << (busOffsetBits + lowColBits)
}

// DefaultFieldValue answers the configured routing field for a request,
// translating first if needed.
func (a *AddressTranslator) DefaultFieldValue(req *Request) uint64 {
	addr := req.Address
	if !addr.Translated {
		row, col, bank, rank, channel, subarray := a.Translate(addr.Physical)
		addr.SetTranslated(row, col, bank, rank, channel, subarray)
	}

	switch a.defaultField {
	case RowField:
		return addr.Row
	case ColField:
		return addr.Col
	case BankField:
		return addr.Bank
	case RankField:
		return addr.Rank
	case ChannelField:
		return addr.Channel
	case SubArrayField:
		return addr.SubArray
	}
	return 0
}

package core

// OpType enumerates every command a request can carry, from the bus-level
// transactions down to the explicit DRAM-style commands the controller
// synthesizes.
type OpType int

const (
	OpNop OpType = iota
	OpActivate
	OpRead
	OpWrite
	OpReadPrecharge
	OpWritePrecharge
	OpPrecharge
	OpPrechargeAll
	OpPowerdownPDA
	OpPowerdownPDPF
	OpPowerdownPDPS
	OpPowerup
	OpRefresh
	OpBusRead
	OpBusWrite
	OpCachedRead
	OpCachedWrite
)

var opNames = map[OpType]string{
	OpNop:            "NOP",
	OpActivate:       "ACTIVATE",
	OpRead:           "READ",
	OpWrite:          "WRITE",
	OpReadPrecharge:  "READ_PRECHARGE",
	OpWritePrecharge: "WRITE_PRECHARGE",
	OpPrecharge:      "PRECHARGE",
	OpPrechargeAll:   "PRECHARGE_ALL",
	OpPowerdownPDA:   "POWERDOWN_PDA",
	OpPowerdownPDPF:  "POWERDOWN_PDPF",
	OpPowerdownPDPS:  "POWERDOWN_PDPS",
	OpPowerup:        "POWERUP",
	OpRefresh:        "REFRESH",
	OpBusRead:        "BUS_READ",
	OpBusWrite:       "BUS_WRITE",
	OpCachedRead:     "CACHED_READ",
	OpCachedWrite:    "CACHED_WRITE",
}

func (t OpType) String() string {
	if s, ok := opNames[t]; ok {
		return s
	}
	return "UNKNOWN"
}

// IsColumnOp reports whether the command moves data through the column
// path (reads and writes, with or without implicit precharge).
func (t OpType) IsColumnOp() bool {
	switch t {
	case OpRead, OpWrite, OpReadPrecharge, OpWritePrecharge,
		OpCachedRead, OpCachedWrite:
		return true
	}
	return false
}

// IsReadOp reports whether the command returns data.
func (t OpType) IsReadOp() bool {
	switch t {
	case OpRead, OpReadPrecharge, OpBusRead, OpCachedRead:
		return true
	}
	return false
}

// IsWriteOp reports whether the command stores data.
func (t OpType) IsWriteOp() bool {
	switch t {
	case OpWrite, OpWritePrecharge, OpBusWrite, OpCachedWrite:
		return true
	}
	return false
}

// Status tracks a request through its lifetime.
type Status int

const (
	StatusIncomplete Status = iota
	StatusComplete
	StatusRetry
)

// Flag is a bitset of request annotations.
type Flag uint32

const (
	FlagLastRequest Flag = 1 << iota
	FlagIsRead
	FlagIsWrite
	FlagCancelled
	FlagPaused
	FlagForced
	FlagPriority
	FlagIssued
)

// Address is a physical address plus its decoded indices. Translated is
// false until a translator has filled in the six fields.
type Address struct {
	Physical uint64

	Row      uint64
	Col      uint64
	Bank     uint64
	Rank     uint64
	Channel  uint64
	SubArray uint64

	Translated bool
}

// SetTranslated fills the decoded indices and marks the address usable for
// routing.
func (a *Address) SetTranslated(row, col, bank, rank, channel, subarray uint64) {
	a.Row = row
	a.Col = col
	a.Bank = bank
	a.Rank = rank
	a.Channel = channel
	a.SubArray = subarray
	a.Translated = true
}

// Request is the fundamental unit of work flowing through the module tree.
// Ownership transfers down the chain via IssueCommand and completions flow
// back via RequestComplete; the module whose Owner field matches itself is
// responsible for retiring the request.
type Request struct {
	Address Address
	Type    OpType

	Data    DataBlock
	OldData DataBlock

	Status Status
	Flags  Flag

	// Provenance
	ThreadID       int
	ProgramCounter uint64
	IsPrefetch     bool
	PrefetchAddr   uint64

	// Timestamps, in memory cycles
	ArrivalCycle    uint64
	QueueCycle      uint64
	IssueCycle      uint64
	CompletionCycle uint64

	Owner Module
}

// NewRequest creates a request of the given type for a physical address.
func NewRequest(t OpType, physical uint64) *Request {
	return &Request{
		Type:    t,
		Address: Address{Physical: physical},
		Status:  StatusIncomplete,
	}
}

// HasFlag reports whether every bit of f is set.
func (r *Request) HasFlag(f Flag) bool {
	return r.Flags&f == f
}

// SetFlag sets the given bits.
func (r *Request) SetFlag(f Flag) {
	r.Flags |= f
}

// ClearFlag clears the given bits.
func (r *Request) ClearFlag(f Flag) {
	r.Flags &^= f
}

package dimm

import (
	"github.com/memforge/go-memsim/internal/core"
)

// Bank groups the subarrays sharing one set of bank resources. It routes
// per-subarray commands by the translated subarray field and itself
// handles PRECHARGE_ALL and the refresh window.
type Bank struct {
	core.BaseModule

	p    *core.Params
	rank uint64
	id   uint64

	subarrays []*SubArray

	refreshing bool
	refreshEnd uint64

	refreshes     uint64
	prechargeAlls uint64
}

// NewBank creates a bank for the given (rank, bank) coordinates.
func NewBank(p *core.Params, rank, id uint64, name string) *Bank {
	b := &Bank{p: p, rank: rank, id: id}
	b.Init(b, name)
	return b
}

// AddSubArray attaches a subarray; order defines the subarray index.
func (b *Bank) AddSubArray(sa *SubArray) {
	b.subarrays = append(b.subarrays, sa)
	b.AddChild(sa)
}

// SubArrays returns the attached subarrays.
func (b *Bank) SubArrays() []*SubArray {
	return b.subarrays
}

func (b *Bank) subarray(req *core.Request) *SubArray {
	idx := int(req.Address.SubArray)
	if idx < 0 || idx >= len(b.subarrays) {
		idx = 0
	}
	return b.subarrays[idx]
}

// busyRefreshing reports whether the refresh window is still open,
// clearing the flag once it has elapsed.
func (b *Bank) busyRefreshing() bool {
	if b.refreshing && b.CurrentCycle() >= b.refreshEnd {
		b.refreshing = false
	}
	return b.refreshing
}

// Idle reports whether no subarray holds an open row and no refresh is in
// flight.
func (b *Bank) Idle() bool {
	if b.busyRefreshing() {
		return false
	}
	for _, sa := range b.subarrays {
		if _, open := sa.Open(); open {
			return false
		}
		if sa.IsWriting() {
			return false
		}
	}
	return true
}

// CanRefresh reports whether the bank can begin a refresh now: precharged
// everywhere and past any pending row-cycle deadlines.
func (b *Bank) CanRefresh() bool {
	if b.busyRefreshing() {
		return false
	}
	now := b.CurrentCycle()
	for _, sa := range b.subarrays {
		if _, open := sa.Open(); open {
			return false
		}
		if sa.IsWriting() {
			return false
		}
		if now < sa.nextActivate {
			return false
		}
	}
	return true
}

// NextRefreshable returns the earliest cycle CanRefresh could hold.
func (b *Bank) NextRefreshable() uint64 {
	at := b.CurrentCycle()
	if b.refreshing {
		at = maxCycle(at, b.refreshEnd)
	}
	for _, sa := range b.subarrays {
		if sa.IsWriting() {
			at = maxCycle(at, sa.writeEnd)
		}
		at = maxCycle(at, sa.nextActivate)
	}
	return at
}

// StartRefresh opens the refresh window and blocks activates until tRFC
// elapses.
func (b *Bank) StartRefresh() {
	now := b.CurrentCycle()
	b.refreshing = true
	b.refreshEnd = now + b.p.TRFC
	b.refreshes++
	for _, sa := range b.subarrays {
		sa.nextActivate = maxCycle(sa.nextActivate, b.refreshEnd)
	}
}

// IsIssuable checks the bank-level state before consulting the target
// subarray.
func (b *Bank) IsIssuable(req *core.Request, reason *core.FailReason) bool {
	if b.busyRefreshing() {
		if reason != nil {
			reason.Reason = "bank is refreshing"
		}
		return false
	}

	if req.Type == core.OpPrechargeAll {
		for _, sa := range b.subarrays {
			if !sa.IsIssuable(req, reason) {
				return false
			}
		}
		return true
	}

	return b.subarray(req).IsIssuable(req, reason)
}

// NextIssuable returns the earliest cycle the request could issue.
func (b *Bank) NextIssuable(req *core.Request) uint64 {
	at := b.CurrentCycle()
	if b.refreshing {
		at = maxCycle(at, b.refreshEnd)
	}

	if req.Type == core.OpPrechargeAll {
		for _, sa := range b.subarrays {
			at = maxCycle(at, sa.NextIssuable(req))
		}
		return at
	}

	return maxCycle(at, b.subarray(req).NextIssuable(req))
}

// IssueCommand applies PRECHARGE_ALL across subarrays and routes
// everything else to the target subarray.
func (b *Bank) IssueCommand(req *core.Request) bool {
	if req.Type == core.OpPrechargeAll {
		now := b.CurrentCycle()
		readyAt := now + b.p.TRP
		for _, sa := range b.subarrays {
			sa.ForceClose(readyAt)
		}
		b.prechargeAlls++
		b.EventQueue().InsertEvent(core.EventResponse, b, readyAt, req, core.PriorityDefault)
		return true
	}

	return b.subarray(req).IssueCommand(req)
}

// RegisterStats publishes the bank counters and descends to subarrays.
func (b *Bank) RegisterStats() {
	if reg := b.Stats(); reg != nil {
		prefix := b.Name() + "."
		reg.AddStat(prefix+"refreshes", &b.refreshes, "")
		reg.AddStat(prefix+"prechargeAlls", &b.prechargeAlls, "")
	}
	for _, sa := range b.subarrays {
		sa.RegisterStats()
	}
}

var _ core.Module = (*Bank)(nil)

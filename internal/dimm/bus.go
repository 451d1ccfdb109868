package dimm

import (
	"github.com/memforge/go-memsim/internal/core"
)

// Bus is the on-chip interconnect between a channel's controller and its
// ranks. It routes by the translated rank field and serializes the shared
// data bus: back-to-back column bursts to one rank are spaced by tBURST,
// switching ranks costs an extra tRTRS bubble.
type Bus struct {
	core.BaseModule

	p *core.Params

	ranks []*Rank

	haveLast   bool
	lastRank   uint64
	nextSame   uint64
	nextSwitch uint64

	busReads  uint64
	busWrites uint64
}

// NewBus creates the interconnect.
func NewBus(p *core.Params, name string) *Bus {
	b := &Bus{p: p}
	b.Init(b, name)
	return b
}

// AddRank attaches a rank; order defines the rank index.
func (b *Bus) AddRank(r *Rank) {
	b.ranks = append(b.ranks, r)
	b.AddChild(r)
}

// Ranks returns the attached ranks.
func (b *Bus) Ranks() []*Rank {
	return b.ranks
}

func (b *Bus) rank(req *core.Request) *Rank {
	idx := int(req.Address.Rank)
	if idx < 0 || idx >= len(b.ranks) {
		idx = 0
	}
	return b.ranks[idx]
}

// busReadyAt returns when the data bus admits a column burst for the
// request's rank.
func (b *Bus) busReadyAt(req *core.Request) uint64 {
	if !b.haveLast {
		return 0
	}
	if req.Address.Rank == b.lastRank {
		return b.nextSame
	}
	return b.nextSwitch
}

// IsIssuable layers the data-bus constraint over the rank check.
func (b *Bus) IsIssuable(req *core.Request, reason *core.FailReason) bool {
	if req.Type.IsColumnOp() && b.CurrentCycle() < b.busReadyAt(req) {
		if reason != nil {
			reason.Reason = "data bus busy"
		}
		return false
	}
	return b.rank(req).IsIssuable(req, reason)
}

// NextIssuable layers the data-bus constraint over the rank answer.
func (b *Bus) NextIssuable(req *core.Request) uint64 {
	at := b.rank(req).NextIssuable(req)
	if req.Type.IsColumnOp() {
		at = maxCycle(at, b.busReadyAt(req))
	}
	return at
}

// IssueCommand forwards to the owning rank and claims the data bus for
// column ops.
func (b *Bus) IssueCommand(req *core.Request) bool {
	ok := b.rank(req).IssueCommand(req)
	if !ok {
		return false
	}

	if req.Type.IsColumnOp() {
		now := b.CurrentCycle()
		b.haveLast = true
		b.lastRank = req.Address.Rank
		b.nextSame = now + b.p.TBurst
		b.nextSwitch = now + b.p.TBurst + b.p.TRTRS
		if req.Type.IsReadOp() {
			b.busReads++
		} else {
			b.busWrites++
		}
	}
	return true
}

// RegisterStats publishes the bus counters and descends to ranks.
func (b *Bus) RegisterStats() {
	if reg := b.Stats(); reg != nil {
		prefix := b.Name() + "."
		reg.AddStat(prefix+"busReads", &b.busReads, "")
		reg.AddStat(prefix+"busWrites", &b.busWrites, "")
	}
	for _, r := range b.ranks {
		r.RegisterStats()
	}
}

var _ core.Module = (*Bus)(nil)

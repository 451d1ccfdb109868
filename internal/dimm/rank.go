package dimm

import (
	"github.com/memforge/go-memsim/internal/core"
)

// PowerState tracks the orthogonal per-rank low-power machine.
type PowerState int

const (
	PowerUp PowerState = iota
	PowerDownActive
	PowerDownFast
	PowerDownSlow
)

func (s PowerState) String() string {
	switch s {
	case PowerUp:
		return "up"
	case PowerDownActive:
		return "pda"
	case PowerDownFast:
		return "pdpf"
	case PowerDownSlow:
		return "pdps"
	}
	return "unknown"
}

// Rank groups the banks behind one chip-select. It routes bank commands
// by the translated bank field and itself handles refresh groups and the
// power state machine.
type Rank struct {
	core.BaseModule

	p  *core.Params
	id uint64

	banks []*Bank

	powerState  PowerState
	nextCommand uint64

	refreshes  uint64
	powerdowns uint64
	powerups   uint64
}

// NewRank creates a rank.
func NewRank(p *core.Params, id uint64, name string) *Rank {
	r := &Rank{p: p, id: id}
	r.Init(r, name)
	if p.InitPD {
		r.powerState = PowerDownFast
	}
	return r
}

// AddBank attaches a bank; order defines the bank index.
func (r *Rank) AddBank(b *Bank) {
	r.banks = append(r.banks, b)
	r.AddChild(b)
}

// Banks returns the attached banks.
func (r *Rank) Banks() []*Bank {
	return r.banks
}

// RankID returns the rank index.
func (r *Rank) RankID() uint64 {
	return r.id
}

// Power returns the current low-power state.
func (r *Rank) Power() PowerState {
	return r.powerState
}

func (r *Rank) bank(req *core.Request) *Bank {
	idx := int(req.Address.Bank)
	if idx < 0 || idx >= len(r.banks) {
		idx = 0
	}
	return r.banks[idx]
}

// refreshGroup returns the banks refreshed together with the given bank
// head, wrapping to allow an odd group size.
func (r *Rank) refreshGroup(bank uint64) []*Bank {
	per := r.p.BanksPerRefresh
	if per == 0 || per > uint64(len(r.banks)) {
		per = uint64(len(r.banks))
	}
	head := (bank / per) * per
	group := make([]*Bank, 0, per)
	for i := uint64(0); i < per; i++ {
		group = append(group, r.banks[(head+i)%uint64(len(r.banks))])
	}
	return group
}

// Idle reports whether every bank is precharged and quiescent.
func (r *Rank) Idle() bool {
	for _, b := range r.banks {
		if !b.Idle() {
			return false
		}
	}
	return true
}

// IsIssuable gates on the power state, then the per-command rules.
func (r *Rank) IsIssuable(req *core.Request, reason *core.FailReason) bool {
	now := r.CurrentCycle()
	fail := func(why string) bool {
		if reason != nil {
			reason.Reason = why
		}
		return false
	}

	if r.powerState != PowerUp {
		if req.Type == core.OpPowerup {
			return true
		}
		return fail("rank is powered down")
	}
	if now < r.nextCommand {
		return fail("powerup exit latency not satisfied")
	}

	switch req.Type {
	case core.OpPowerdownPDA:
		return true
	case core.OpPowerdownPDPF, core.OpPowerdownPDPS:
		if !r.Idle() {
			return fail("precharge powerdown requires an idle rank")
		}
		return true
	case core.OpPowerup:
		return fail("rank is already powered up")
	case core.OpRefresh:
		for _, b := range r.refreshGroup(req.Address.Bank) {
			if !b.CanRefresh() {
				return fail("refresh group not precharged")
			}
		}
		return true
	}

	return r.bank(req).IsIssuable(req, reason)
}

// NextIssuable returns the earliest cycle the request could issue.
func (r *Rank) NextIssuable(req *core.Request) uint64 {
	at := maxCycle(r.CurrentCycle(), r.nextCommand)

	switch req.Type {
	case core.OpPowerdownPDA, core.OpPowerdownPDPF, core.OpPowerdownPDPS, core.OpPowerup:
		return at
	case core.OpRefresh:
		for _, b := range r.refreshGroup(req.Address.Bank) {
			at = maxCycle(at, b.NextRefreshable())
		}
		return at
	}

	return maxCycle(at, r.bank(req).NextIssuable(req))
}

// IssueCommand handles rank-scope commands and forwards the rest.
func (r *Rank) IssueCommand(req *core.Request) bool {
	now := r.CurrentCycle()
	q := r.EventQueue()

	switch req.Type {
	case core.OpRefresh:
		for _, b := range r.refreshGroup(req.Address.Bank) {
			b.StartRefresh()
		}
		r.refreshes++
		q.InsertEvent(core.EventResponse, r, now+r.p.TRFC, req, core.PriorityDefault)
		return true

	case core.OpPowerdownPDA:
		r.powerState = PowerDownActive
		r.powerdowns++
		q.InsertEvent(core.EventResponse, r, now+1, req, core.PriorityDefault)
		return true

	case core.OpPowerdownPDPF:
		r.powerState = PowerDownFast
		r.powerdowns++
		q.InsertEvent(core.EventResponse, r, now+1, req, core.PriorityDefault)
		return true

	case core.OpPowerdownPDPS:
		r.powerState = PowerDownSlow
		r.powerdowns++
		q.InsertEvent(core.EventResponse, r, now+1, req, core.PriorityDefault)
		return true

	case core.OpPowerup:
		exit := r.p.TXP
		if r.powerState == PowerDownSlow {
			exit *= 2 // slow exit costs extra wakeup latency
		}
		r.powerState = PowerUp
		r.nextCommand = now + exit
		r.powerups++
		q.InsertEvent(core.EventResponse, r, now+1, req, core.PriorityDefault)
		return true
	}

	return r.bank(req).IssueCommand(req)
}

// RegisterStats publishes the rank counters and descends to banks.
func (r *Rank) RegisterStats() {
	if reg := r.Stats(); reg != nil {
		prefix := r.Name() + "."
		reg.AddStat(prefix+"refreshes", &r.refreshes, "")
		reg.AddStat(prefix+"powerdowns", &r.powerdowns, "")
		reg.AddStat(prefix+"powerups", &r.powerups, "")
	}
	for _, b := range r.banks {
		b.RegisterStats()
	}
}

var _ core.Module = (*Rank)(nil)

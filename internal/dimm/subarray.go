// Package dimm models the memory device hierarchy below the controller:
// the channel bus, ranks, banks and subarrays. These modules hold the
// authoritative timing state; every command is checked against JEDEC-style
// deadline counters before it may issue.
package dimm

import (
	"fmt"

	"github.com/memforge/go-memsim/internal/core"
	"github.com/memforge/go-memsim/internal/encoder"
	"github.com/memforge/go-memsim/internal/endurance"
)

// SubArray is the leaf of the device tree: one row buffer's worth of
// cells. At most one row is active at a time; an iterative NVM write
// occupies the subarray for MLCLevels write pulses and may be paused at
// pulse boundaries.
type SubArray struct {
	core.BaseModule

	p    *core.Params
	rank uint64
	bank uint64
	id   uint64

	open    bool
	openRow uint64

	nextActivate  uint64
	nextRead      uint64
	nextWrite     uint64
	nextPrecharge uint64

	writing    bool
	writeStart uint64
	writeEnd   uint64
	writeReq   *core.Request
	writeEvent *core.Event

	pausedReq       *core.Request
	pausedRemaining uint64

	enc encoder.Encoder
	end endurance.Model

	activates       uint64
	reads           uint64
	writes          uint64
	precharges      uint64
	pausedWrites    uint64
	resumedWrites   uint64
	cancelledWrites uint64
	deadWrites      uint64
}

// NewSubArray creates a subarray for the given (rank, bank, subarray)
// coordinates.
func NewSubArray(p *core.Params, rank, bank, id uint64, name string) *SubArray {
	sa := &SubArray{p: p, rank: rank, bank: bank, id: id}
	sa.Init(sa, name)
	return sa
}

// SetEncoder attaches a data encoder applied on every write and undone on
// every read.
func (sa *SubArray) SetEncoder(enc encoder.Encoder) {
	sa.enc = enc
}

// SetEnduranceModel attaches a wear model consulted on every write.
func (sa *SubArray) SetEnduranceModel(m endurance.Model) {
	sa.end = m
}

// Serves reports whether this subarray is the destination of a request,
// making it discoverable from the controller for write pausing.
func (sa *SubArray) Serves(req *core.Request) bool {
	a := req.Address
	return a.Translated && a.Rank == sa.rank && a.Bank == sa.bank && a.SubArray == sa.id
}

// IsWriting reports whether an iterative write currently occupies the
// cells.
func (sa *SubArray) IsWriting() bool {
	return sa.writing
}

// BetweenWriteIterations reports whether the in-progress write sits at a
// pulse boundary where it can be paused or cancelled.
func (sa *SubArray) BetweenWriteIterations() bool {
	if !sa.writing {
		return false
	}
	now := sa.CurrentCycle()
	if now <= sa.writeStart || now >= sa.writeEnd {
		return false
	}
	return (now-sa.writeStart)%sa.p.TWP == 0
}

// Open reports the active row, if any.
func (sa *SubArray) Open() (row uint64, ok bool) {
	return sa.openRow, sa.open
}

// iterativeWrites reports whether writes occupy the cell array long
// enough to track (the NVM model); single-level parts use the plain
// DRAM write timing.
func (sa *SubArray) iterativeWrites() bool {
	return sa.p.MLCLevels > 1
}

func (sa *SubArray) rowOf(req *core.Request) uint64 {
	return req.Address.Row
}

// IsIssuable checks the request against the subarray state and deadline
// counters.
func (sa *SubArray) IsIssuable(req *core.Request, reason *core.FailReason) bool {
	now := sa.CurrentCycle()
	fail := func(why string) bool {
		if reason != nil {
			reason.Reason = why
		}
		return false
	}

	switch req.Type {
	case core.OpActivate:
		if sa.writing {
			// A priority command may pause the write; whether the pause
			// must wait for an iteration boundary is the scheduler's
			// decision via BetweenWriteIterations.
			if sa.p.WritePausing && req.HasFlag(core.FlagPriority) {
				return true
			}
			return fail("subarray is mid-write")
		}
		if sa.open {
			return fail("row already active")
		}
		if now < sa.nextActivate {
			return fail(fmt.Sprintf("tRC/tRP not satisfied until %d", sa.nextActivate))
		}
		return true

	case core.OpRead, core.OpReadPrecharge:
		if sa.writing {
			if sa.p.WritePausing && req.HasFlag(core.FlagPriority) {
				if sa.open && sa.openRow == sa.rowOf(req) {
					return true
				}
				return fail("row buffer miss")
			}
			return fail("subarray is mid-write")
		}
		if !sa.open || sa.openRow != sa.rowOf(req) {
			return fail("row buffer miss")
		}
		if now < sa.nextRead {
			return fail(fmt.Sprintf("tRCD/tBURST not satisfied until %d", sa.nextRead))
		}
		return true

	case core.OpWrite, core.OpWritePrecharge:
		if sa.writing {
			return fail("subarray is mid-write")
		}
		if !sa.open || sa.openRow != sa.rowOf(req) {
			return fail("row buffer miss")
		}
		if now < sa.nextWrite {
			return fail(fmt.Sprintf("tRCD/tCWD not satisfied until %d", sa.nextWrite))
		}
		return true

	case core.OpPrecharge, core.OpPrechargeAll:
		if sa.writing {
			return fail("subarray is mid-write")
		}
		if !sa.open {
			return true // nothing to close
		}
		if now < sa.nextPrecharge {
			return fail(fmt.Sprintf("tRTP/tWR not satisfied until %d", sa.nextPrecharge))
		}
		return true

	case core.OpCachedRead, core.OpCachedWrite:
		// No cache below this point; an upstream cache hook answers
		// these before they ever reach the cells.
		return fail("no cached access path")

	case core.OpNop:
		return true
	}

	return fail("command not handled by subarray")
}

// NextIssuable returns the earliest cycle the request could pass
// IsIssuable, assuming prerequisite commands in the queue run first.
func (sa *SubArray) NextIssuable(req *core.Request) uint64 {
	now := sa.CurrentCycle()
	clamp := func(c uint64) uint64 {
		if c < now {
			return now
		}
		return c
	}

	switch req.Type {
	case core.OpActivate:
		if sa.writing {
			if sa.p.WritePausing && req.HasFlag(core.FlagPriority) {
				return clamp(sa.nextIterationBoundary())
			}
			return clamp(sa.writeEnd)
		}
		return clamp(sa.nextActivate)
	case core.OpRead, core.OpReadPrecharge:
		if sa.writing {
			if sa.p.WritePausing && req.HasFlag(core.FlagPriority) {
				return clamp(sa.nextIterationBoundary())
			}
			return clamp(sa.writeEnd)
		}
		return clamp(sa.nextRead)
	case core.OpWrite, core.OpWritePrecharge:
		if sa.writing {
			return clamp(sa.writeEnd)
		}
		return clamp(sa.nextWrite)
	case core.OpPrecharge, core.OpPrechargeAll:
		if sa.writing {
			return clamp(sa.writeEnd)
		}
		return clamp(sa.nextPrecharge)
	}
	return now
}

func (sa *SubArray) nextIterationBoundary() uint64 {
	now := sa.CurrentCycle()
	if !sa.writing || now >= sa.writeEnd {
		return now
	}
	elapsed := now - sa.writeStart
	rem := elapsed % sa.p.TWP
	if rem == 0 && now > sa.writeStart {
		return now
	}
	return now + (sa.p.TWP - rem)
}

// IssueCommand applies the command to the subarray state and schedules
// its completion response.
func (sa *SubArray) IssueCommand(req *core.Request) bool {
	now := sa.CurrentCycle()
	q := sa.EventQueue()
	p := sa.p

	switch req.Type {
	case core.OpActivate:
		if sa.writing {
			sa.suspendWrite(req)
		}
		sa.open = true
		sa.openRow = sa.rowOf(req)
		sa.nextRead = now + p.TRCD
		sa.nextWrite = now + p.TRCD
		sa.nextPrecharge = now + p.TRCD
		sa.nextActivate = now + p.TRC
		sa.activates++
		q.InsertEvent(core.EventResponse, sa, now+p.TRCD, req, core.PriorityDefault)

	case core.OpRead, core.OpReadPrecharge:
		if sa.writing {
			sa.suspendWrite(req)
		}
		sa.reads++
		done := now + p.TCAS + p.TBurst
		sa.nextRead = now + p.TBurst
		sa.nextWrite = now + p.TBurst
		sa.nextPrecharge = maxCycle(sa.nextPrecharge, now+p.TRTP)
		if sa.enc != nil {
			sa.enc.Read(req)
		}
		if sa.end != nil {
			sa.end.Read(req)
		}
		if req.Type == core.OpReadPrecharge {
			done = now + p.TCAS + p.TBurst + p.TRP
			sa.close(done)
		}
		q.InsertEvent(core.EventResponse, sa, done, req, core.PriorityDefault)

	case core.OpWrite, core.OpWritePrecharge:
		sa.writes++
		var extra uint64
		if sa.enc != nil {
			if cost := sa.enc.Write(req); cost > 0 {
				extra = uint64(cost)
			}
		}
		if sa.end != nil {
			if sa.end.Write(req) < 0 {
				sa.deadWrites++
				sa.Logger().Error("write to worn-out granule",
					"row", req.Address.Row, "col", req.Address.Col)
			}
		}

		var done uint64
		if sa.iterativeWrites() {
			done = now + p.WriteCycles() + extra
			sa.writing = true
			sa.writeStart = now
			sa.writeEnd = done
			sa.writeReq = req
			sa.nextPrecharge = maxCycle(sa.nextPrecharge, done+p.TWR)
			sa.nextRead = done
			sa.nextWrite = done
		} else {
			done = now + p.TCWD + p.TBurst + extra
			sa.nextPrecharge = maxCycle(sa.nextPrecharge, done+p.TWR)
			sa.nextRead = now + p.TBurst
			sa.nextWrite = now + p.TBurst
		}
		if req.Type == core.OpWritePrecharge {
			done += p.TWR + p.TRP
			sa.close(done)
		}
		sa.writeEvent = q.InsertEvent(core.EventResponse, sa, done, req, core.PriorityDefault)

	case core.OpPrecharge, core.OpPrechargeAll:
		sa.precharges++
		done := now + p.TRP
		sa.close(done)
		q.InsertEvent(core.EventResponse, sa, done, req, core.PriorityDefault)

	case core.OpNop:
		q.InsertEvent(core.EventResponse, sa, now+1, req, core.PriorityDefault)

	default:
		return false
	}

	return true
}

// close precharges the row; the subarray can activate again once the
// precharge finishes.
func (sa *SubArray) close(readyAt uint64) {
	sa.open = false
	sa.nextActivate = maxCycle(sa.nextActivate, readyAt)
}

// ForceClose is the bank-level PRECHARGE_ALL path: close without a
// per-subarray request.
func (sa *SubArray) ForceClose(readyAt uint64) {
	if sa.open {
		sa.precharges++
		sa.close(readyAt)
	}
}

// suspendWrite pauses or cancels the in-flight iterative write so a
// priority read can use the cells. Pausing keeps the completed pulses; a
// cancelled write restarts from scratch when it resumes.
func (sa *SubArray) suspendWrite(interloper *core.Request) {
	if !sa.writing || sa.writeReq == nil {
		return
	}
	now := sa.CurrentCycle()

	if sa.writeEvent != nil {
		sa.EventQueue().RemoveEvent(sa.writeEvent)
		sa.writeEvent = nil
	}

	req := sa.writeReq
	if sa.p.PauseMode == "cancel" {
		req.SetFlag(core.FlagCancelled)
		sa.pausedRemaining = sa.writeEnd - sa.writeStart
		sa.cancelledWrites++
	} else {
		req.SetFlag(core.FlagPaused)
		// A pause mid-pulse discards the interrupted pulse.
		resumePoint := sa.writeStart + ((now-sa.writeStart)/sa.p.TWP)*sa.p.TWP
		sa.pausedRemaining = sa.writeEnd - resumePoint
		sa.pausedWrites++
	}
	sa.pausedReq = req
	sa.writing = false
	sa.writeReq = nil
}

// maybeResumeWrite restarts a suspended write at the next completion in
// this subarray, unless another row holds the sense amps; a closed row is
// reopened first.
func (sa *SubArray) maybeResumeWrite() {
	if sa.pausedReq == nil || sa.writing {
		return
	}
	if sa.open && sa.openRow != sa.pausedReq.Address.Row {
		// Another row holds the sense amps; retry when it closes.
		return
	}
	now := sa.CurrentCycle()
	req := sa.pausedReq
	sa.pausedReq = nil

	req.ClearFlag(core.FlagPaused | core.FlagCancelled)
	sa.resumedWrites++

	delay := uint64(0)
	if !sa.open {
		// The pause closed the row; reopen it for the remaining pulses.
		sa.open = true
		sa.openRow = req.Address.Row
		sa.activates++
		delay = sa.p.TRCD
	}

	done := now + delay + sa.pausedRemaining
	sa.writing = true
	sa.writeStart = now
	sa.writeEnd = done
	sa.writeReq = req
	sa.nextPrecharge = maxCycle(sa.nextPrecharge, done+sa.p.TWR)
	sa.nextRead = done
	sa.nextWrite = done
	sa.writeEvent = sa.EventQueue().InsertEvent(core.EventResponse, sa, done, req, core.PriorityDefault)
}

// AtomicAccess runs the functional path: encoder and endurance effects
// apply, timing state does not advance.
func (sa *SubArray) AtomicAccess(req *core.Request) {
	switch {
	case req.Type.IsWriteOp():
		sa.writes++
		if sa.enc != nil {
			sa.enc.Write(req)
		}
		if sa.end != nil {
			if sa.end.Write(req) < 0 {
				sa.deadWrites++
			}
		}
	case req.Type.IsReadOp():
		sa.reads++
		if sa.enc != nil {
			sa.enc.Read(req)
		}
		if sa.end != nil {
			sa.end.Read(req)
		}
	}
}

// RequestComplete retires the write-tracking state for finished writes
// before forwarding toward the owner.
func (sa *SubArray) RequestComplete(req *core.Request) bool {
	if req == sa.writeReq {
		sa.writing = false
		sa.writeReq = nil
		sa.writeEvent = nil
	}
	sa.maybeResumeWrite()
	return sa.BaseModule.RequestComplete(req)
}

// CalculateStats finalizes the encoder's derived statistics.
func (sa *SubArray) CalculateStats() {
	if sa.enc != nil {
		sa.enc.CalculateStats()
	}
}

// RegisterStats publishes the subarray counters.
func (sa *SubArray) RegisterStats() {
	reg := sa.Stats()
	if reg == nil {
		return
	}
	prefix := sa.Name() + "."
	reg.AddStat(prefix+"activates", &sa.activates, "")
	reg.AddStat(prefix+"reads", &sa.reads, "")
	reg.AddStat(prefix+"writes", &sa.writes, "")
	reg.AddStat(prefix+"precharges", &sa.precharges, "")
	reg.AddStat(prefix+"pausedWrites", &sa.pausedWrites, "")
	reg.AddStat(prefix+"resumedWrites", &sa.resumedWrites, "")
	reg.AddStat(prefix+"cancelledWrites", &sa.cancelledWrites, "")
	reg.AddStat(prefix+"deadWrites", &sa.deadWrites, "")
}

func maxCycle(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

// Compile-time interface checks
var (
	_ core.Module        = (*SubArray)(nil)
	_ core.WriteObserver = (*SubArray)(nil)
)

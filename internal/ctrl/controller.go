// Package ctrl implements the channel memory controller: a two-level
// queue architecture where incoming read/write transactions are
// decomposed under an FR-FCFS discipline with starvation protection into
// explicit device commands drained through per-rank, per-bank or
// per-subarray command queues.
package ctrl

import (
	"github.com/memforge/go-memsim/internal/core"
)

// QueueModel selects the command queue discipline.
type QueueModel int

const (
	PerRankQueues QueueModel = iota
	PerBankQueues
	PerSubArrayQueues
)

// Controller is one channel's memory controller.
type Controller struct {
	core.BaseModule

	p  *core.Params
	id uint64

	queueModel        QueueModel
	commandQueueCount uint64
	subArrayNum       uint64

	transactionQueue []*core.Request
	commandQueues    [][]*core.Request

	// Scheduling mirror of the device state, kept consistent with the
	// authoritative timing state in the rank/bank modules by updating
	// both on every command.
	activateQueued    [][]bool
	refreshQueued     [][]bool
	bankNeedRefresh   [][]bool
	activeSubArray    [][][]bool
	effectiveRow      [][][]uint64
	effectiveMuxedRow [][][]uint64
	starvationCounter [][][]uint64

	rankPowerDown []bool

	delayedRefreshCounter [][]uint64
	refreshBankNum        uint64

	curQueue        uint64
	nextRefreshRank uint64
	nextRefreshBank uint64

	lastCommandWake uint64
	lastIssueCycle  uint64
	handledRefresh  uint64

	// Stats
	memReads              uint64
	memWrites             uint64
	rbHits                uint64
	rbMiss                uint64
	starvationPrecharges  uint64
	cachedHits            uint64
	writePauses           uint64
	averageLatency        float64
	averageQueueLatency   float64
	measuredLatencies     uint64
	measuredQueueLat      uint64
	simulationCycles      uint64
	wakeupCount           uint64
	refreshCommands       uint64
	powerdownCommands     uint64
	powerupCommands       uint64
	transactionsScheduled uint64
}

// invalidRow is the sentinel for "no effective row".
func (c *Controller) invalidRow() uint64 {
	return c.p.Rows
}

// NewController creates the controller for one channel.
func NewController(p *core.Params, id uint64, name string) *Controller {
	c := &Controller{
		p:              p,
		id:             id,
		lastIssueCycle: core.MaxCycle,
		handledRefresh: core.MaxCycle,
	}
	c.Init(c, name)

	c.subArrayNum = p.SubArrays()

	switch p.QueueModel {
	case "PerRank":
		c.queueModel = PerRankQueues
		c.commandQueueCount = p.Ranks
	case "PerSubArray":
		c.queueModel = PerSubArrayQueues
		c.commandQueueCount = p.Ranks * p.Banks * c.subArrayNum
	default:
		c.queueModel = PerBankQueues
		c.commandQueueCount = p.Ranks * p.Banks
	}

	c.commandQueues = make([][]*core.Request, c.commandQueueCount)

	c.activateQueued = make([][]bool, p.Ranks)
	c.refreshQueued = make([][]bool, p.Ranks)
	c.bankNeedRefresh = make([][]bool, p.Ranks)
	c.activeSubArray = make([][][]bool, p.Ranks)
	c.effectiveRow = make([][][]uint64, p.Ranks)
	c.effectiveMuxedRow = make([][][]uint64, p.Ranks)
	c.starvationCounter = make([][][]uint64, p.Ranks)
	c.rankPowerDown = make([]bool, p.Ranks)

	for i := uint64(0); i < p.Ranks; i++ {
		c.activateQueued[i] = make([]bool, p.Banks)
		c.refreshQueued[i] = make([]bool, p.Banks)
		c.bankNeedRefresh[i] = make([]bool, p.Banks)
		c.activeSubArray[i] = make([][]bool, p.Banks)
		c.effectiveRow[i] = make([][]uint64, p.Banks)
		c.effectiveMuxedRow[i] = make([][]uint64, p.Banks)
		c.starvationCounter[i] = make([][]uint64, p.Banks)

		if p.UseLowPower {
			c.rankPowerDown[i] = p.InitPD
		}

		for j := uint64(0); j < p.Banks; j++ {
			c.activeSubArray[i][j] = make([]bool, c.subArrayNum)
			c.effectiveRow[i][j] = make([]uint64, c.subArrayNum)
			c.effectiveMuxedRow[i][j] = make([]uint64, c.subArrayNum)
			c.starvationCounter[i][j] = make([]uint64, c.subArrayNum)

			for m := uint64(0); m < c.subArrayNum; m++ {
				c.effectiveRow[i][j][m] = c.invalidRow()
				c.effectiveMuxedRow[i][j][m] = c.invalidRow()
			}
		}
	}

	return c
}

// ChannelID returns the channel index this controller serves.
func (c *Controller) ChannelID() uint64 {
	return c.id
}

// StartSchedulers seeds the periodic refresh pulses. Call once after the
// controller is wired to its event queue.
func (c *Controller) StartSchedulers() {
	if !c.p.UseRefresh {
		return
	}

	per := c.p.BanksPerRefresh
	if per == 0 || per > c.p.Banks {
		per = c.p.Banks
	}
	c.refreshBankNum = c.p.Banks / per

	tREFI := c.p.TREFI
	refreshSlice := tREFI / (c.p.Ranks * c.refreshBankNum)

	q := c.EventQueue()
	c.delayedRefreshCounter = make([][]uint64, c.p.Ranks)
	for i := uint64(0); i < c.p.Ranks; i++ {
		c.delayedRefreshCounter[i] = make([]uint64, c.refreshBankNum)
		for j := uint64(0); j < c.refreshBankNum; j++ {
			head := j * per

			// The event queue acts as the refresh countdown timer:
			// each group gets a staggered pulse that re-arms itself.
			pulse := c.makeRefreshRequest(0, 0, head, i, 0)
			offset := (i*c.refreshBankNum + j) * refreshSlice
			q.InsertCallback(c, "refresh", c.refreshCallback,
				q.CurrentCycle()+tREFI+offset, pulse, core.PriorityRefresh)
		}
	}
}

// banksPerRefresh returns the clamped group size.
func (c *Controller) banksPerRefresh() uint64 {
	per := c.p.BanksPerRefresh
	if per == 0 || per > c.p.Banks {
		per = c.p.Banks
	}
	return per
}

// IsIssuable reports whether the transaction queue can accept another
// request.
func (c *Controller) IsIssuable(req *core.Request, reason *core.FailReason) bool {
	if uint64(len(c.transactionQueue)) >= c.p.MaxQueue {
		if reason != nil {
			reason.Reason = "transaction queue full"
		}
		return false
	}
	return true
}

// IssueCommand accepts a read/write transaction. The incoming channel
// routing is authoritative; deeper fields are recomputed against this
// channel's decoder. Returns false when the queue is full (backpressure).
func (c *Controller) IssueCommand(req *core.Request) bool {
	if uint64(len(c.transactionQueue)) >= c.p.MaxQueue {
		return false
	}

	now := c.CurrentCycle()
	req.ArrivalCycle = now
	req.QueueCycle = now

	// Retranslate for this channel, preserving the channel field.
	channel := c.id
	if req.Address.Translated {
		channel = req.Address.Channel
	}
	row, col, bank, rank, _, subarray := c.Decoder().Translate(req.Address.Physical)
	req.Address.SetTranslated(row, col, bank, rank, channel, subarray)

	switch {
	case req.Type.IsReadOp():
		req.SetFlag(core.FlagIsRead)
		c.memReads++
	case req.Type.IsWriteOp():
		req.SetFlag(core.FlagIsWrite)
		c.memWrites++
	}

	c.transactionQueue = append(c.transactionQueue, req)

	// An empty target command queue means a transaction can be scheduled
	// right away.
	q := c.EventQueue()
	if c.effectivelyEmpty(c.commandQueueID(req.Address)) {
		if q.FindEvent(core.EventCycle, c, nil, now) == nil {
			q.InsertEvent(core.EventCycle, c, now, nil, core.PriorityTransactionQueue)
		}
	}

	return true
}

// IssueAtomic executes a transaction functionally: encoders and endurance
// still run, but no timing state advances and the request completes in
// place.
func (c *Controller) IssueAtomic(req *core.Request) bool {
	channel := c.id
	if req.Address.Translated {
		channel = req.Address.Channel
	}
	row, col, bank, rank, _, subarray := c.Decoder().Translate(req.Address.Physical)
	req.Address.SetTranslated(row, col, bank, rank, channel, subarray)

	switch {
	case req.Type.IsReadOp():
		c.memReads++
	case req.Type.IsWriteOp():
		c.memWrites++
	}

	if sa := c.findWriteObserver(req); sa != nil {
		if atomic, ok := sa.(interface {
			AtomicAccess(req *core.Request)
		}); ok {
			atomic.AtomicAccess(req)
		}
	}

	req.Status = core.StatusComplete
	req.CompletionCycle = c.CurrentCycle()
	return true
}

// RequestComplete records latency for finished transactions, retires
// controller-owned helper commands and forwards everything else up.
func (c *Controller) RequestComplete(req *core.Request) bool {
	switch req.Type {
	case core.OpRead, core.OpReadPrecharge, core.OpWrite, core.OpWritePrecharge:
		req.Status = core.StatusComplete
		req.CompletionCycle = c.CurrentCycle()

		c.averageLatency = (c.averageLatency*float64(c.measuredLatencies) +
			float64(req.CompletionCycle) - float64(req.IssueCycle)) /
			float64(c.measuredLatencies+1)
		c.measuredLatencies++

		c.averageQueueLatency = (c.averageQueueLatency*float64(c.measuredQueueLat) +
			float64(req.IssueCycle) - float64(req.ArrivalCycle)) /
			float64(c.measuredQueueLat+1)
		c.measuredQueueLat++
	}

	// Helper commands (activate, precharge, refresh, power transitions)
	// belong to the controller and end here.
	if req.Owner == c.Self() {
		req.Status = core.StatusComplete
		return true
	}
	return c.Parent().RequestComplete(req)
}

// Cycle is the transaction-queue wake: select one transaction under the
// FR-FCFS discipline, decompose it, drain command queues and re-arm.
func (c *Controller) Cycle(steps uint64) {
	var next *core.Request
	stalled := false

	if req, ok := c.findCachedAddress(); ok {
		next = req
		c.cachedHits++
	} else if req, handled := c.findWriteStalledRead(); handled {
		if req == nil {
			// A pausable write has not reached a pause point yet: leave
			// the scheduler alone until the current iteration finishes.
			stalled = true
		} else {
			next = req
			c.writePauses++
		}
	} else if req, ok := c.findStarvedRequest(); ok {
		next = req
		c.rbMiss++
		c.starvationPrecharges++
	} else if req, ok := c.findRowBufferHit(); ok {
		next = req
		c.rbHits++
	} else if req, ok := c.findOldestReadyRequest(); ok {
		next = req
		c.rbMiss++
	} else if req, ok := c.findClosedBankRequest(); ok {
		next = req
		c.rbMiss++
	}

	if next != nil {
		c.transactionsScheduled++
		c.issueMemoryCommands(next)
	}

	if !stalled {
		c.cycleCommandQueues()
	}

	c.scheduleNextTransactionWake()
}

// scheduleNextTransactionWake re-checks the transaction queues: two
// transactions may be schedulable in one cycle, but the first wake can't
// guarantee the second isn't blocked by it.
func (c *Controller) scheduleNextTransactionWake() {
	q := c.EventQueue()
	nextWakeup := q.CurrentCycle() + 1

	if q.FindEvent(core.EventCycle, c, nil, nextWakeup) != nil {
		return
	}

	for queueIdx := uint64(0); queueIdx < c.commandQueueCount; queueIdx++ {
		if c.effectivelyEmpty(queueIdx) && c.transactionAvailable(queueIdx) {
			q.InsertEvent(core.EventCycle, c, nextWakeup, nil, core.PriorityTransactionQueue)
			break
		}
	}
}

// findWriteObserver locates the subarray a request maps to, when the
// device tree exposes write progress.
func (c *Controller) findWriteObserver(req *core.Request) core.WriteObserver {
	found := core.FindDescendant(c.Child(nil), func(m core.Module) bool {
		wo, ok := m.(core.WriteObserver)
		return ok && wo.Serves(req)
	})
	if found == nil {
		return nil
	}
	return found.(core.WriteObserver)
}

// RegisterStats publishes the controller counters and descends.
func (c *Controller) RegisterStats() {
	reg := c.Stats()
	if reg == nil {
		return
	}
	prefix := c.Name() + "."
	reg.AddStat(prefix+"mem_reads", &c.memReads, "")
	reg.AddStat(prefix+"mem_writes", &c.memWrites, "")
	reg.AddStat(prefix+"rb_hits", &c.rbHits, "")
	reg.AddStat(prefix+"rb_miss", &c.rbMiss, "")
	reg.AddStat(prefix+"starvation_precharges", &c.starvationPrecharges, "")
	reg.AddStat(prefix+"cached_hits", &c.cachedHits, "")
	reg.AddStat(prefix+"write_pauses", &c.writePauses, "")
	reg.AddStat(prefix+"averageLatency", &c.averageLatency, "cycles")
	reg.AddStat(prefix+"averageQueueLatency", &c.averageQueueLatency, "cycles")
	reg.AddStat(prefix+"measuredLatencies", &c.measuredLatencies, "")
	reg.AddStat(prefix+"measuredQueueLatencies", &c.measuredQueueLat, "")
	reg.AddStat(prefix+"simulation_cycles", &c.simulationCycles, "")
	reg.AddStat(prefix+"wakeupCount", &c.wakeupCount, "")
	reg.AddStat(prefix+"refreshCommands", &c.refreshCommands, "")
	reg.AddStat(prefix+"powerdownCommands", &c.powerdownCommands, "")
	reg.AddStat(prefix+"powerupCommands", &c.powerupCommands, "")

	for _, child := range c.Children() {
		child.RegisterStats()
	}
}

// CalculateStats syncs children to the present before the registry dump.
func (c *Controller) CalculateStats() {
	now := c.CurrentCycle()
	if now > c.lastCommandWake {
		if child := c.Child(nil); child != nil {
			child.Cycle(now - c.lastCommandWake)
		}
	}
	c.simulationCycles = now
	for _, child := range c.Children() {
		child.CalculateStats()
	}
}

var _ core.Module = (*Controller)(nil)

package ctrl

import (
	"github.com/memforge/go-memsim/internal/core"
)

// The FR-FCFS selection chain. Each finder scans the transaction queue in
// arrival order and removes the first match; the caller tries them in
// priority order: cached access, write-paused read, starved request,
// row-buffer hit, oldest ready, closed bank.

func (c *Controller) removeTransaction(idx int) *core.Request {
	req := c.transactionQueue[idx]
	c.transactionQueue = append(c.transactionQueue[:idx], c.transactionQueue[idx+1:]...)
	return req
}

func (c *Controller) muxLevel(col uint64) uint64 {
	return col / c.p.MuxSize()
}

// isLastRequest decides whether a read/write should close its row under
// the configured close-page policy.
func (c *Controller) isLastRequest(req *core.Request) bool {
	switch c.p.ClosePage {
	case 0:
		return false
	case 1:
		// Relaxed: close only when no other transaction targets the
		// same open row.
		a := req.Address
		for _, other := range c.transactionQueue {
			o := other.Address
			if o.Rank == a.Rank && o.Bank == a.Bank && o.Row == a.Row && o.SubArray == a.SubArray {
				return false
			}
		}
		return true
	default:
		// Restricted: every column op closes the row.
		return true
	}
}

func (c *Controller) markLastRequest(req *core.Request) {
	if c.isLastRequest(req) {
		req.SetFlag(core.FlagLastRequest)
	}
}

// findCachedAddress selects a request servable without an activation
// cycle, e.g. when an upstream cache hook claims the line.
func (c *Controller) findCachedAddress() (*core.Request, bool) {
	now := c.CurrentCycle()
	child := c.Child(nil)
	if child == nil {
		return nil, false
	}

	for idx, req := range c.transactionQueue {
		queueID := c.commandQueueID(req.Address)
		if len(c.commandQueues[queueID]) != 0 {
			continue
		}
		if req.ArrivalCycle == now {
			continue
		}

		cached := c.makeCachedRequest(req)
		if child.IsIssuable(cached, nil) {
			return c.removeTransaction(idx), true
		}
	}
	return nil, false
}

// findWriteStalledRead selects a read blocked behind an in-progress NVM
// write. The second return is true when the scheduler should not look
// further this wake: either the read was selected, or the write has not
// reached a pausable point and selection must stall.
func (c *Controller) findWriteStalledRead() (*core.Request, bool) {
	if !c.p.WritePausing {
		return nil, false
	}

	now := c.CurrentCycle()
	child := c.Child(nil)

	for idx, req := range c.transactionQueue {
		if req.Type != core.OpRead {
			continue
		}

		queueID := c.commandQueueID(req.Address)
		if len(c.commandQueues[queueID]) != 0 {
			continue
		}

		a := req.Address
		writingArray := c.findWriteObserver(req)
		if writingArray == nil {
			// No subarray exposure below: nothing to pause.
			return nil, false
		}

		testActivate := c.makeActivateRequestFor(req)
		testActivate.SetFlag(core.FlagPriority)
		req.SetFlag(core.FlagPriority)
		rbHitPause := child.IsIssuable(req, nil)
		actPause := child.IsIssuable(testActivate, nil)
		req.ClearFlag(core.FlagPriority)

		if c.bankNeedRefresh[a.Rank][a.Bank] || c.refreshQueued[a.Rank][a.Bank] {
			continue
		}
		if !writingArray.IsWriting() {
			continue
		}
		if req.ArrivalCycle == now {
			continue
		}
		if !rbHitPause && !actPause {
			continue
		}

		if !writingArray.BetweenWriteIterations() && c.p.PauseMode == "normal" {
			// Stall the scheduler until the current iteration ends.
			return nil, true
		}

		selected := c.removeTransaction(idx)
		selected.SetFlag(core.FlagPriority)
		c.markLastRequest(selected)
		return selected, true
	}

	return nil, false
}

// findStarvedRequest selects a request whose subarray was bypassed at
// least starvationThreshold times.
func (c *Controller) findStarvedRequest() (*core.Request, bool) {
	now := c.CurrentCycle()

	for idx, req := range c.transactionQueue {
		queueID := c.commandQueueID(req.Address)
		if len(c.commandQueues[queueID]) != 0 {
			continue
		}

		a := req.Address
		mux := c.muxLevel(a.Col)

		if c.activateQueued[a.Rank][a.Bank] &&
			(!c.activeSubArray[a.Rank][a.Bank][a.SubArray] ||
				c.effectiveRow[a.Rank][a.Bank][a.SubArray] != a.Row ||
				c.effectiveMuxedRow[a.Rank][a.Bank][a.SubArray] != mux) &&
			!c.bankNeedRefresh[a.Rank][a.Bank] &&
			!c.refreshQueued[a.Rank][a.Bank] &&
			c.starvationCounter[a.Rank][a.Bank][a.SubArray] >= c.p.StarvationThreshold &&
			req.ArrivalCycle != now {
			selected := c.removeTransaction(idx)
			c.markLastRequest(selected)
			return selected, true
		}
	}
	return nil, false
}

// findRowBufferHit selects a request whose row (and mux group) is at the
// sense amplifiers.
func (c *Controller) findRowBufferHit() (*core.Request, bool) {
	now := c.CurrentCycle()

	for idx, req := range c.transactionQueue {
		queueID := c.commandQueueID(req.Address)
		if len(c.commandQueues[queueID]) != 0 {
			continue
		}

		a := req.Address
		mux := c.muxLevel(a.Col)

		if c.activateQueued[a.Rank][a.Bank] &&
			c.activeSubArray[a.Rank][a.Bank][a.SubArray] &&
			c.effectiveRow[a.Rank][a.Bank][a.SubArray] == a.Row &&
			c.effectiveMuxedRow[a.Rank][a.Bank][a.SubArray] == mux &&
			!c.bankNeedRefresh[a.Rank][a.Bank] &&
			!c.refreshQueued[a.Rank][a.Bank] &&
			req.ArrivalCycle != now {
			selected := c.removeTransaction(idx)
			c.markLastRequest(selected)
			return selected, true
		}
	}
	return nil, false
}

// findOldestReadyRequest selects the oldest request to an already-active
// bank.
func (c *Controller) findOldestReadyRequest() (*core.Request, bool) {
	now := c.CurrentCycle()

	for idx, req := range c.transactionQueue {
		queueID := c.commandQueueID(req.Address)
		if len(c.commandQueues[queueID]) != 0 {
			continue
		}

		a := req.Address
		if c.activateQueued[a.Rank][a.Bank] &&
			!c.bankNeedRefresh[a.Rank][a.Bank] &&
			!c.refreshQueued[a.Rank][a.Bank] &&
			req.ArrivalCycle != now {
			selected := c.removeTransaction(idx)
			c.markLastRequest(selected)
			return selected, true
		}
	}
	return nil, false
}

// findClosedBankRequest selects a request to a precharged bank.
func (c *Controller) findClosedBankRequest() (*core.Request, bool) {
	now := c.CurrentCycle()

	for idx, req := range c.transactionQueue {
		queueID := c.commandQueueID(req.Address)
		if len(c.commandQueues[queueID]) != 0 {
			continue
		}

		a := req.Address
		if !c.activateQueued[a.Rank][a.Bank] &&
			!c.bankNeedRefresh[a.Rank][a.Bank] &&
			!c.refreshQueued[a.Rank][a.Bank] &&
			req.ArrivalCycle != now {
			selected := c.removeTransaction(idx)
			c.markLastRequest(selected)
			return selected, true
		}
	}
	return nil, false
}

// issueMemoryCommands decomposes one selected transaction into zero or
// more precharges, an optional activate and the column op itself, pushed
// onto the owning command queue. The scheduling mirror and the device
// timing state are updated together.
func (c *Controller) issueMemoryCommands(req *core.Request) bool {
	now := c.CurrentCycle()
	a := req.Address
	rank, bank, row, subarray := a.Rank, a.Bank, a.Row, a.SubArray
	mux := c.muxLevel(a.Col)
	queueID := c.commandQueueID(a)
	child := c.Child(nil)

	var writingArray core.WriteObserver
	if c.p.WritePausing {
		writingArray = c.findWriteObserver(req)
	}

	// A request the device can answer without touching bank state (an
	// upstream cache, for instance) bypasses decomposition when the
	// bank is not already positioned for it.
	cached := c.makeCachedRequest(req)
	if child != nil && child.IsIssuable(cached, nil) {
		if !c.activateQueued[rank][bank] ||
			!c.activeSubArray[rank][bank][subarray] ||
			c.effectiveRow[rank][bank][subarray] != row ||
			c.effectiveMuxedRow[rank][bank][subarray] != mux {
			req.IssueCycle = now
			c.commandQueues[queueID] = append(c.commandQueues[queueID], req)
			c.scheduleCommandWake()
			return true
		}
	}

	issued := false

	switch {
	case !c.activateQueued[rank][bank] && len(c.commandQueues[queueID]) == 0:
		// Closed bank: activate then access.
		c.activateQueued[rank][bank] = true
		c.activeSubArray[rank][bank][subarray] = true
		c.effectiveRow[rank][bank][subarray] = row
		c.effectiveMuxedRow[rank][bank][subarray] = mux
		c.starvationCounter[rank][bank][subarray] = 0

		req.IssueCycle = now

		act := c.makeActivateRequestFor(req)
		if writingArray != nil && writingArray.IsWriting() {
			act.SetFlag(core.FlagPriority)
		}
		c.commandQueues[queueID] = append(c.commandQueues[queueID], act)

		if req.HasFlag(core.FlagLastRequest) && c.p.UsePrecharge {
			c.commandQueues[queueID] = append(c.commandQueues[queueID], c.makeImplicitPrecharge(req))
			c.activeSubArray[rank][bank][subarray] = false
			c.effectiveRow[rank][bank][subarray] = c.invalidRow()
			c.effectiveMuxedRow[rank][bank][subarray] = c.invalidRow()
			c.activateQueued[rank][bank] = false
		} else {
			c.commandQueues[queueID] = append(c.commandQueues[queueID], req)
		}
		issued = true

	case c.activateQueued[rank][bank] &&
		(!c.activeSubArray[rank][bank][subarray] ||
			c.effectiveRow[rank][bank][subarray] != row ||
			c.effectiveMuxedRow[rank][bank][subarray] != mux) &&
		len(c.commandQueues[queueID]) == 0:
		// Wrong row somewhere in the bank: precharge the stale
		// subarray if needed, then activate.
		c.starvationCounter[rank][bank][subarray] = 0
		c.activateQueued[rank][bank] = true

		req.IssueCycle = now

		if c.activeSubArray[rank][bank][subarray] && c.p.UsePrecharge {
			c.commandQueues[queueID] = append(c.commandQueues[queueID],
				c.makePrechargeRequest(c.effectiveRow[rank][bank][subarray], 0, bank, rank, subarray))
		}

		act := c.makeActivateRequestFor(req)
		if writingArray != nil && writingArray.IsWriting() {
			act.SetFlag(core.FlagPriority)
		}
		c.commandQueues[queueID] = append(c.commandQueues[queueID], act)
		c.commandQueues[queueID] = append(c.commandQueues[queueID], req)

		c.activeSubArray[rank][bank][subarray] = true
		c.effectiveRow[rank][bank][subarray] = row
		c.effectiveMuxedRow[rank][bank][subarray] = mux
		issued = true

	case c.activateQueued[rank][bank] &&
		c.activeSubArray[rank][bank][subarray] &&
		c.effectiveRow[rank][bank][subarray] == row &&
		c.effectiveMuxedRow[rank][bank][subarray] == mux:
		// Row buffer hit: competing subarrays lose a scheduling round.
		c.starvationCounter[rank][bank][subarray]++

		req.IssueCycle = now

		if req.HasFlag(core.FlagLastRequest) && c.p.UsePrecharge {
			c.commandQueues[queueID] = append(c.commandQueues[queueID], c.makeImplicitPrecharge(req))
			c.activeSubArray[rank][bank][subarray] = false
			c.effectiveRow[rank][bank][subarray] = c.invalidRow()
			c.effectiveMuxedRow[rank][bank][subarray] = c.invalidRow()

			idle := true
			for sa := uint64(0); sa < c.subArrayNum; sa++ {
				if c.activeSubArray[rank][bank][sa] {
					idle = false
					break
				}
			}
			if idle {
				c.activateQueued[rank][bank] = false
			}
		} else {
			c.commandQueues[queueID] = append(c.commandQueues[queueID], req)
		}
		issued = true
	}

	if issued {
		c.scheduleCommandWake()
	}
	return issued
}

package ctrl

import (
	"fmt"
	"os"

	"github.com/davecgh/go-spew/spew"

	"github.com/memforge/go-memsim/internal/core"
)

// commandQueueID decodes the command queue a translated address drains
// through, in priority order for the round-robin pointer.
func (c *Controller) commandQueueID(addr core.Address) uint64 {
	switch c.queueModel {
	case PerRankQueues:
		return addr.Rank
	case PerSubArrayQueues:
		return addr.Rank*c.p.Banks*c.subArrayNum + addr.Bank*c.subArrayNum + addr.SubArray
	default:
		if c.p.ScheduleScheme == 1 {
			// Rank-first round-robin
			return addr.Bank*c.p.Ranks + addr.Rank
		}
		// Bank-first round-robin, also the fixed-scheduling layout
		return addr.Rank*c.p.Banks + addr.Bank
	}
}

func (c *Controller) bankQueueID(bank, rank uint64) uint64 {
	return c.commandQueueID(core.Address{Bank: bank, Rank: rank, Translated: true})
}

// effectivelyEmpty reports whether the queue is empty now or will be next
// cycle (its only entry already issued and awaiting cleanup).
func (c *Controller) effectivelyEmpty(queueID uint64) bool {
	queue := c.commandQueues[queueID]
	if len(queue) == 0 {
		return true
	}
	return len(queue) == 1 && queue[0].HasFlag(core.FlagIssued)
}

// queueHead returns the first entry still awaiting issue (entries flagged
// issued linger until the cleanup callback purges them) and the count of
// such pending entries.
func (c *Controller) queueHead(queueID uint64) (*core.Request, int) {
	var head *core.Request
	pending := 0
	for _, req := range c.commandQueues[queueID] {
		if req.HasFlag(core.FlagIssued) {
			continue
		}
		if head == nil {
			head = req
		}
		pending++
	}
	return head, pending
}

// transactionAvailable reports whether any queued transaction drains
// through the given command queue.
func (c *Controller) transactionAvailable(queueID uint64) bool {
	for _, req := range c.transactionQueue {
		if c.commandQueueID(req.Address) == queueID {
			return true
		}
	}
	return false
}

// rankQueueEmpty reports whether every command queue of a rank is empty.
func (c *Controller) rankQueueEmpty(rank uint64) bool {
	for bank := uint64(0); bank < c.p.Banks; bank++ {
		for sa := uint64(0); sa < c.subArrayNum; sa++ {
			queueID := c.commandQueueID(core.Address{Bank: bank, Rank: rank, SubArray: sa, Translated: true})
			if len(c.commandQueues[queueID]) != 0 {
				return false
			}
		}
	}
	return true
}

// scheduleCommandWake arms the command-queue callback for the next cycle
// a queue head could issue, avoiding duplicates.
func (c *Controller) scheduleCommandWake() {
	q := c.EventQueue()
	nextWakeup := c.NextIssuable(nil)

	if nextWakeup == core.MaxCycle {
		return
	}
	if q.FindCallback(c, "commandQueue", nextWakeup, nil) == nil {
		q.InsertCallback(c, "commandQueue", c.commandQueueCallback,
			nextWakeup, nil, core.PriorityCommandQueue)
	}
}

// commandQueueCallback is the command-queue wake: re-arm, run low power,
// drain one command and catch the device tree up to the present.
func (c *Controller) commandQueueCallback(any) {
	q := c.EventQueue()
	now := q.CurrentCycle()
	realSteps := now - c.lastCommandWake
	c.lastCommandWake = now
	c.wakeupCount++

	nextWakeup := c.NextIssuable(nil)
	if nextWakeup != core.MaxCycle && q.FindCallback(c, "commandQueue", nextWakeup, nil) == nil {
		q.InsertCallback(c, "commandQueue", c.commandQueueCallback,
			nextWakeup, nil, core.PriorityCommandQueue)
	}

	if c.p.UseLowPower {
		c.handleLowPower()
	}

	c.cycleCommandQueues()

	// Once the queues drain there may be no further command wake, so the
	// powerdown decision gets its own event.
	if c.p.UseLowPower && c.allQueuesEmpty() {
		at := now + 2 // past the cleanup that purges issued entries
		if q.FindCallback(c, "lowPower", at, nil) == nil {
			q.InsertCallback(c, "lowPower", c.lowPowerCallback, at, nil, core.PriorityLowPower)
		}
	}

	if child := c.Child(nil); child != nil && realSteps > 0 {
		child.Cycle(realSteps)
	}
}

func (c *Controller) lowPowerCallback(any) {
	c.handleLowPower()
}

func (c *Controller) allQueuesEmpty() bool {
	for queueID := uint64(0); queueID < c.commandQueueCount; queueID++ {
		if !c.effectivelyEmpty(queueID) {
			return false
		}
	}
	return true
}

// cleanupCallback purges issued entries one cycle after issue, so other
// events in the issue cycle can observe the in-flight head.
func (c *Controller) cleanupCallback(any) {
	for queueID := range c.commandQueues {
		queue := c.commandQueues[queueID]
		kept := queue[:0]
		for _, req := range queue {
			if !req.HasFlag(core.FlagIssued) {
				kept = append(kept, req)
			}
		}
		c.commandQueues[queueID] = kept
	}
}

// issueToChild sends one command down the tree, walking the hook chains.
func (c *Controller) issueToChild(req *core.Request) bool {
	child := c.Child(nil)
	for _, h := range c.Hooks(core.PreIssue) {
		h.IssueCommand(req)
	}
	ok := child.IssueCommand(req)
	for _, h := range c.Hooks(core.PostIssue) {
		h.IssueCommand(req)
	}
	return ok
}

// cycleCommandQueues issues at most one issuable queue head, starting
// from the round-robin pointer. A refresh handled this cycle takes the
// slot instead.
func (c *Controller) cycleCommandQueues() {
	now := c.CurrentCycle()

	if c.handledRefresh == now {
		return
	}

	child := c.Child(nil)
	if child == nil {
		return
	}

	for queueIdx := uint64(0); queueIdx < c.commandQueueCount; queueIdx++ {
		queueID := (c.curQueue + queueIdx) % c.commandQueueCount
		head, pending := c.queueHead(queueID)
		if head == nil {
			continue
		}

		var reason core.FailReason

		if c.lastIssueCycle != now && child.IsIssuable(head, &reason) {
			c.Logger().Debug("issuing command",
				"cycle", now, "type", head.Type.String(),
				"address", fmt.Sprintf("0x%x", head.Address.Physical),
				"queue", queueID)

			c.issueToChild(head)
			head.SetFlag(core.FlagIssued)

			if head.Type == core.OpRefresh {
				c.resetRefreshQueued(head.Address.Bank, head.Address.Rank)
			}

			c.lastIssueCycle = now

			// Two-phase issue: the entry is purged next cycle.
			q := c.EventQueue()
			cleanupCycle := now + 1
			if q.FindCallback(c, "cleanup", cleanupCycle, nil) == nil {
				q.InsertCallback(c, "cleanup", c.cleanupCallback,
					cleanupCycle, nil, core.PriorityCleanup)
			}

			// The queue drains next cycle: wake the transaction
			// scheduler if it has more work for it.
			if pending == 1 && c.transactionAvailable(queueID) {
				q.InsertEvent(core.EventCycle, c, now+1, nil, core.PriorityTransactionQueue)
			}

			c.moveCurrentQueue()
			return
		}

		// Deadlock watchdog: a head that cannot issue for this long
		// points at a timing-parameter bug or a scheduling deadlock.
		if now-head.IssueCycle > c.p.DeadlockTimer {
			c.Logger().Error("command stuck at queue head",
				"cycle", now, "queued", head.ArrivalCycle, "issued", head.IssueCycle,
				"type", head.Type.String(), "reason", reason.Reason,
				"address", fmt.Sprintf("0x%x", head.Address.Physical))
			fmt.Fprintln(os.Stderr, spew.Sdump(head))
			if reg := c.Stats(); reg != nil {
				reg.PrintAll(os.Stderr)
			}
			panic(fmt.Sprintf("memsim: scheduling deadlock on queue %d at cycle %d", queueID, now))
		}
	}
}

// moveCurrentQueue advances the round-robin pointer under rotating
// scheduling schemes; fixed scheduling always restarts from queue 0.
func (c *Controller) moveCurrentQueue() {
	if c.p.ScheduleScheme == 0 {
		return
	}
	c.curQueue++
	if c.curQueue >= c.commandQueueCount {
		c.curQueue = 0
	}
}

// NextIssuable walks all command queues and returns the earliest cycle
// any head becomes issuable, giving pending refreshes priority.
func (c *Controller) NextIssuable(*core.Request) uint64 {
	nextWakeup := core.MaxCycle
	now := c.CurrentCycle()
	child := c.Child(nil)

	for rank := uint64(0); rank < c.p.Ranks; rank++ {
		for bank := uint64(0); bank < c.p.Banks; bank++ {
			if c.needRefresh(bank, rank) && c.isRefreshBankQueueEmpty(bank, rank) {
				if c.lastIssueCycle != now {
					c.handleRefresh()
				} else {
					nextWakeup = now + 1
				}
			}

			sas := uint64(1)
			if c.queueModel == PerSubArrayQueues {
				sas = c.subArrayNum
			}
			for sa := uint64(0); sa < sas; sa++ {
				queueID := c.commandQueueID(core.Address{Bank: bank, Rank: rank, SubArray: sa, Translated: true})
				head, _ := c.queueHead(queueID)
				if head == nil || child == nil {
					continue
				}
				if at := child.NextIssuable(head); at < nextWakeup {
					nextWakeup = at
				}
			}
		}
	}

	if nextWakeup != core.MaxCycle && nextWakeup <= now {
		nextWakeup = now + 1
	}

	return nextWakeup
}

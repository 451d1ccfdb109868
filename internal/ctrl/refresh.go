package ctrl

import (
	"github.com/memforge/go-memsim/internal/core"
)

// Delayed refresh: a periodic pulse per (rank, bank group) increments a
// counter; once the counter reaches the threshold the group is flagged
// and the next command-queue wake issues the REFRESH, preceded by a
// PRECHARGE_ALL when banks are open. The pulse event re-arms itself, so
// the event queue doubles as the refresh countdown timer.

// needRefresh reports whether the bank's group owes at least
// DelayedRefreshThreshold refreshes.
func (c *Controller) needRefresh(bank, rank uint64) bool {
	if !c.p.UseRefresh || c.delayedRefreshCounter == nil {
		return false
	}
	return c.delayedRefreshCounter[rank][bank/c.banksPerRefresh()] >= c.p.DelayedRefreshThreshold
}

// setRefresh flags every bank in the group as awaiting refresh.
func (c *Controller) setRefresh(bank, rank uint64) {
	per := c.banksPerRefresh()
	head := (bank / per) * per
	for i := uint64(0); i < per; i++ {
		c.bankNeedRefresh[rank][(head+i)%c.p.Banks] = true
	}
}

// resetRefresh clears the group's awaiting-refresh flags.
func (c *Controller) resetRefresh(bank, rank uint64) {
	per := c.banksPerRefresh()
	head := (bank / per) * per
	for i := uint64(0); i < per; i++ {
		c.bankNeedRefresh[rank][(head+i)%c.p.Banks] = false
	}
}

// resetRefreshQueued clears the group's queued-refresh guards once the
// REFRESH command issues.
func (c *Controller) resetRefreshQueued(bank, rank uint64) {
	per := c.banksPerRefresh()
	head := (bank / per) * per
	for i := uint64(0); i < per; i++ {
		c.refreshQueued[rank][(head+i)%c.p.Banks] = false
	}
}

// isRefreshBankQueueEmpty reports whether the group's command queues are
// all effectively empty.
func (c *Controller) isRefreshBankQueueEmpty(bank, rank uint64) bool {
	per := c.banksPerRefresh()
	head := (bank / per) * per
	for i := uint64(0); i < per; i++ {
		for sa := uint64(0); sa < c.subArrayNum; sa++ {
			queueID := c.commandQueueID(core.Address{Bank: (head + i) % c.p.Banks,
				Rank: rank, SubArray: sa, Translated: true})
			if !c.effectivelyEmpty(queueID) {
				return false
			}
		}
	}
	return true
}

// handleRefresh scans groups round-robin and enqueues one refresh (with
// its precharges) when a group owes one. Returns whether a refresh was
// handled; at most one group is refreshed per call.
func (c *Controller) handleRefresh() bool {
	if !c.p.UseRefresh || c.delayedRefreshCounter == nil {
		return false
	}
	per := c.banksPerRefresh()

	for rankIdx := uint64(0); rankIdx < c.p.Ranks; rankIdx++ {
		rank := (c.nextRefreshRank + rankIdx) % c.p.Ranks

		for bankIdx := uint64(0); bankIdx < c.refreshBankNum; bankIdx++ {
			bank := (c.nextRefreshBank + bankIdx*per) % c.p.Banks

			if !c.needRefresh(bank, rank) {
				continue
			}

			cmdRefresh := c.makeRefreshRequest(0, 0, bank, rank, 0)

			// Close open rows first so the refresh can issue.
			if c.p.UsePrecharge {
				for tmp := uint64(0); tmp < per; tmp++ {
					refBank := (tmp + bank) % c.p.Banks
					queueID := c.bankQueueID(refBank, rank)

					if c.activateQueued[rank][refBank] {
						cmdRefPre := c.makePrechargeAllRequest(0, 0, refBank, rank, 0)
						c.commandQueues[queueID] = append(c.commandQueues[queueID], cmdRefPre)

						for sa := uint64(0); sa < c.subArrayNum; sa++ {
							c.activeSubArray[rank][refBank][sa] = false
							c.effectiveRow[rank][refBank][sa] = c.invalidRow()
							c.effectiveMuxedRow[rank][refBank][sa] = c.invalidRow()
						}
						c.activateQueued[rank][refBank] = false
					}
				}
			}

			queueID := c.bankQueueID(bank, rank)
			cmdRefresh.IssueCycle = c.CurrentCycle()
			c.commandQueues[queueID] = append(c.commandQueues[queueID], cmdRefresh)
			c.refreshCommands++

			// Block new activates against the whole group until the
			// refresh issues from the bank-head queue.
			for tmp := uint64(0); tmp < per; tmp++ {
				c.refreshQueued[rank][(tmp+bank)%c.p.Banks] = true
			}

			c.delayedRefreshCounter[rank][bank/per]--
			if !c.needRefresh(bank, rank) {
				c.resetRefresh(bank, rank)
			}

			// Round-robin across groups, then ranks.
			c.nextRefreshBank += per
			if c.nextRefreshBank >= c.p.Banks {
				c.nextRefreshBank = 0
				c.nextRefreshRank++
				if c.nextRefreshRank == c.p.Ranks {
					c.nextRefreshRank = 0
				}
			}

			c.handledRefresh = c.CurrentCycle()
			c.scheduleCommandWake()
			return true
		}
	}
	return false
}

// processRefreshPulse increments the group's delayed counter and re-arms
// the pulse one tREFI out.
func (c *Controller) processRefreshPulse(refresh *core.Request) {
	bank, rank := refresh.Address.Bank, refresh.Address.Rank

	c.delayedRefreshCounter[rank][bank/c.banksPerRefresh()]++

	if c.needRefresh(bank, rank) {
		c.setRefresh(bank, rank)
	}

	q := c.EventQueue()
	q.InsertCallback(c, "refresh", c.refreshCallback,
		q.CurrentCycle()+c.p.TREFI, refresh, core.PriorityRefresh)
}

// refreshCallback is the periodic refresh wake for one group.
func (c *Controller) refreshCallback(data any) {
	refresh, ok := data.(*core.Request)
	if !ok {
		return
	}

	now := c.CurrentCycle()
	realSteps := now - c.lastCommandWake
	c.lastCommandWake = now
	c.wakeupCount++

	c.processRefreshPulse(refresh)
	c.handleRefresh()

	if child := c.Child(nil); child != nil && realSteps > 0 {
		child.Cycle(realSteps)
	}
}

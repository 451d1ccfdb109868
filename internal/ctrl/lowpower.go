package ctrl

import (
	"github.com/memforge/go-memsim/internal/core"
)

// rankState is the slice of the device tree the low-power machinery needs
// from a rank module.
type rankState interface {
	RankID() uint64
	Idle() bool
}

// findRank locates the rank module with the given index.
func (c *Controller) findRank(rank uint64) rankState {
	found := core.FindDescendant(c.Child(nil), func(m core.Module) bool {
		rs, ok := m.(rankState)
		return ok && rs.RankID() == rank
	})
	if found == nil {
		return nil
	}
	return found.(rankState)
}

// powerDown requests the configured powerdown mode for a rank, falling
// back to active powerdown when banks are open.
func (c *Controller) powerDown(rank uint64) {
	pdOp := core.OpPowerdownPDPF
	switch c.p.PowerDownMode {
	case "SLOWEXIT":
		pdOp = core.OpPowerdownPDPS
	case "FASTEXIT":
		pdOp = core.OpPowerdownPDPF
	default:
		c.Logger().Error("undefined low power mode", "mode", c.p.PowerDownMode)
	}

	if rs := c.findRank(rank); rs != nil && !rs.Idle() {
		pdOp = core.OpPowerdownPDA
	}

	pd := c.makePowerdownRequest(pdOp, rank)
	child := c.Child(nil)

	if c.rankQueueEmpty(rank) && child != nil && child.IsIssuable(pd, nil) {
		child.IssueCommand(pd)
		c.rankPowerDown[rank] = true
		c.powerdownCommands++
	}
}

// powerUp wakes a powered-down rank that has work pending.
func (c *Controller) powerUp(rank uint64) {
	pu := c.makePowerupRequest(rank)
	child := c.Child(nil)

	if !c.rankQueueEmpty(rank) && child != nil && child.IsIssuable(pu, nil) {
		child.IssueCommand(pu)
		c.rankPowerDown[rank] = false
		c.powerupCommands++
	}
}

// handleLowPower runs the per-rank power policy: power up ahead of a
// pending refresh, otherwise power idle ranks down and busy ranks up.
func (c *Controller) handleLowPower() {
	for rank := uint64(0); rank < c.p.Ranks; rank++ {
		needRefresh := false
		if c.p.UseRefresh {
			for group := uint64(0); group < c.refreshBankNum; group++ {
				if c.needRefresh(group*c.banksPerRefresh(), rank) {
					needRefresh = true
					break
				}
			}
		}

		if needRefresh {
			if c.rankPowerDown[rank] {
				pu := c.makePowerupRequest(rank)
				if child := c.Child(nil); child != nil && child.IsIssuable(pu, nil) {
					child.IssueCommand(pu)
					c.rankPowerDown[rank] = false
					c.powerupCommands++
				}
			}
			continue
		}

		if c.rankPowerDown[rank] {
			c.powerUp(rank)
		} else {
			c.powerDown(rank)
		}
	}
}

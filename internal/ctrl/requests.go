package ctrl

import (
	"github.com/memforge/go-memsim/internal/core"
)

// Helper-command constructors. Every request synthesized here is owned by
// the controller and retired by it on completion; the triggering user
// request is never owned by the controller.

func (c *Controller) makeCachedRequest(trigger *core.Request) *core.Request {
	cached := core.NewRequest(core.OpCachedRead, trigger.Address.Physical)
	if trigger.Type.IsWriteOp() {
		cached.Type = core.OpCachedWrite
	}
	cached.Address = trigger.Address
	cached.Data = trigger.Data
	cached.OldData = trigger.OldData
	cached.ThreadID = trigger.ThreadID
	cached.Owner = c.Self()
	return cached
}

func (c *Controller) makeActivateRequestFor(trigger *core.Request) *core.Request {
	act := core.NewRequest(core.OpActivate, trigger.Address.Physical)
	act.Address = trigger.Address
	act.IssueCycle = c.CurrentCycle()
	act.Owner = c.Self()
	return act
}

func (c *Controller) makeAddressedRequest(t core.OpType, row, col, bank, rank, subarray uint64) *core.Request {
	phys := c.Decoder().ReverseTranslate(row, col, bank, rank, c.id, subarray)
	req := core.NewRequest(t, phys)
	req.Address.SetTranslated(row, col, bank, rank, c.id, subarray)
	req.IssueCycle = c.CurrentCycle()
	req.Owner = c.Self()
	return req
}

func (c *Controller) makePrechargeRequest(row, col, bank, rank, subarray uint64) *core.Request {
	return c.makeAddressedRequest(core.OpPrecharge, row, col, bank, rank, subarray)
}

func (c *Controller) makePrechargeAllRequest(row, col, bank, rank, subarray uint64) *core.Request {
	return c.makeAddressedRequest(core.OpPrechargeAll, row, col, bank, rank, subarray)
}

func (c *Controller) makeRefreshRequest(row, col, bank, rank, subarray uint64) *core.Request {
	return c.makeAddressedRequest(core.OpRefresh, row, col, bank, rank, subarray)
}

func (c *Controller) makePowerdownRequest(t core.OpType, rank uint64) *core.Request {
	return c.makeAddressedRequest(t, 0, 0, 0, rank, 0)
}

func (c *Controller) makePowerupRequest(rank uint64) *core.Request {
	return c.makeAddressedRequest(core.OpPowerup, 0, 0, 0, rank, 0)
}

// makeImplicitPrecharge converts the trigger into its auto-precharging
// form in place.
func (c *Controller) makeImplicitPrecharge(trigger *core.Request) *core.Request {
	switch trigger.Type {
	case core.OpRead:
		trigger.Type = core.OpReadPrecharge
	case core.OpWrite:
		trigger.Type = core.OpWritePrecharge
	}
	trigger.IssueCycle = c.CurrentCycle()
	return trigger
}

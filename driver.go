package memsim

import (
	"io"

	"github.com/memforge/go-memsim/internal/core"
	"github.com/memforge/go-memsim/internal/trace"
)

// Driver is the root of the module tree: it owns the requests it injects
// and receives their terminal completions. The trace CLI and host
// adapters sit here.
type Driver struct {
	core.BaseModule

	system      *System
	outstanding uint64
	completed   uint64
}

// NewDriver roots a system under a fresh driver.
func NewDriver(system *System) *Driver {
	d := &Driver{system: system}
	d.Init(d, "traceMain")
	d.AddChild(system)
	d.SetEventQueue(system.LocalEventQueue())
	d.SetStats(system.Registry())
	return d
}

// System returns the memory system under the driver.
func (d *Driver) System() *System {
	return d.system
}

// Outstanding returns the number of injected requests not yet complete.
func (d *Driver) Outstanding() uint64 {
	return d.outstanding
}

// Completed returns the number of terminal completions received.
func (d *Driver) Completed() uint64 {
	return d.completed
}

// CanIssue reports whether the memory system will accept the request.
func (d *Driver) CanIssue(req *core.Request) bool {
	return d.system.IsIssuable(req, nil)
}

// Issue injects one transaction, taking ownership of its completion.
func (d *Driver) Issue(req *core.Request) bool {
	req.Owner = d
	if !d.system.IssueCommand(req) {
		return false
	}
	d.outstanding++
	return true
}

// RequestComplete receives terminal completions. The driver is the top of
// the tree, so an unowned completion here is a structural error.
func (d *Driver) RequestComplete(req *core.Request) bool {
	if req.Owner != core.Module(d) {
		return d.BaseModule.RequestComplete(req)
	}
	req.Status = core.StatusComplete
	d.outstanding--
	d.completed++
	return true
}

// Drain runs the simulation until every outstanding request completes or
// the cycle budget is exhausted. The budget and the return value count
// reference cycles of the global queue.
func (d *Driver) Drain(maxCycles uint64) uint64 {
	g := d.system.GlobalQueue()
	start := g.CurrentCycle()
	for d.outstanding > 0 && g.CurrentCycle()-start < maxCycles {
		g.Cycle(1)
	}
	return g.CurrentCycle() - start
}

// EnablePeriodicStats dumps and resets the registry every interval memory
// cycles; each dump advances the i<n>. prefix.
func (d *Driver) EnablePeriodicStats(interval uint64, w io.Writer) {
	if interval == 0 {
		return
	}
	q := d.system.LocalEventQueue()
	var rearm core.CallbackFunc
	rearm = func(any) {
		d.system.PrintStats(w)
		d.system.Registry().ResetAll()
		q.InsertCallback(d, "periodicStats", rearm,
			q.CurrentCycle()+interval, nil, core.PriorityCleanup)
	}
	q.InsertCallback(d, "periodicStats", rearm,
		q.CurrentCycle()+interval, nil, core.PriorityCleanup)
}

// RunTrace replays a trace through the system: requests are injected at
// their recorded cycles (subject to backpressure) and the simulation is
// drained at end of trace. simulateCycles bounds the run in memory
// cycles; 0 means run to completion.
func (d *Driver) RunTrace(r *trace.Reader, simulateCycles uint64) error {
	g := d.system.GlobalQueue()
	p := d.system.Params()

	for {
		line, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return WrapError("RunTrace", ErrCodeTraceFormat, err)
		}

		if p.IgnoreTraceCycle {
			line.Cycle = 0
		}

		req := line.ToRequest()
		if p.IgnoreData {
			req.Data = core.NewDataBlock(int(p.WordBytes()))
			req.OldData = core.NewDataBlock(int(p.WordBytes()))
		}

		// Stop once the next access falls past the cycle budget.
		if simulateCycles != 0 && line.Cycle > simulateCycles {
			if g.CurrentCycle() < simulateCycles {
				g.Cycle(simulateCycles - g.CurrentCycle())
			}
			return nil
		}

		// Catch the clock up to the access's recorded cycle.
		if line.Cycle > g.CurrentCycle() {
			g.Cycle(line.Cycle - g.CurrentCycle())
			if simulateCycles != 0 && g.CurrentCycle() >= simulateCycles {
				return nil
			}
		}

		// Backpressure: stall the trace until the controller accepts.
		for !d.CanIssue(req) {
			if simulateCycles != 0 && g.CurrentCycle() >= simulateCycles {
				return nil
			}
			g.Cycle(1)
		}

		d.Issue(req)

		if simulateCycles != 0 && g.CurrentCycle() >= simulateCycles {
			return nil
		}
	}

	// End of trace: let in-flight requests finish.
	budget := uint64(0)
	if simulateCycles != 0 {
		if g.CurrentCycle() >= simulateCycles {
			return nil
		}
		budget = simulateCycles - g.CurrentCycle()
	} else {
		budget = core.MaxCycle
	}
	d.Drain(budget)
	return nil
}

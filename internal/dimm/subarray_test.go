package dimm

import (
	"testing"

	"github.com/memforge/go-memsim/internal/core"
)

// harness owns requests and records completions at the top of a small
// device tree.
type harness struct {
	core.BaseModule
	completed []*core.Request
}

func newHarness(q *core.EventQueue) *harness {
	h := &harness{}
	h.Init(h, "harness")
	h.SetEventQueue(q)
	return h
}

func (h *harness) RequestComplete(req *core.Request) bool {
	h.completed = append(h.completed, req)
	req.Status = core.StatusComplete
	req.CompletionCycle = h.CurrentCycle()
	return true
}

func (h *harness) owned(t core.OpType, row, col uint64) *core.Request {
	req := core.NewRequest(t, 0)
	req.Address.SetTranslated(row, col, 0, 0, 0, 0)
	req.Owner = h
	return req
}

func testParams() *core.Params {
	p := core.NewParams()
	p.Ranks = 1
	p.Banks = 1
	return p
}

func newTestSubArray(p *core.Params) (*SubArray, *harness, *core.EventQueue) {
	q := core.NewEventQueue()
	h := newHarness(q)
	sa := NewSubArray(p, 0, 0, 0, "sa0")
	sa.SetEventQueue(q)
	h.AddChild(sa)
	return sa, h, q
}

func TestSubArrayActivateReadTiming(t *testing.T) {
	p := testParams()
	sa, h, q := newTestSubArray(p)

	act := h.owned(core.OpActivate, 5, 0)
	read := h.owned(core.OpRead, 5, 0)

	if !sa.IsIssuable(act, nil) {
		t.Fatal("activate should be issuable on a closed subarray")
	}
	if sa.IsIssuable(read, nil) {
		t.Fatal("read should not be issuable before activate")
	}

	sa.IssueCommand(act)

	// tRCD gates the first column access.
	var reason core.FailReason
	if sa.IsIssuable(read, &reason) {
		t.Fatal("read issuable immediately after activate")
	}
	if at := sa.NextIssuable(read); at != p.TRCD {
		t.Errorf("NextIssuable(read) = %d, want %d", at, p.TRCD)
	}

	q.Cycle(p.TRCD)
	if !sa.IsIssuable(read, nil) {
		t.Fatalf("read not issuable at tRCD: %s", reason.Reason)
	}

	sa.IssueCommand(read)
	q.Cycle(p.TCAS + p.TBurst)

	if len(h.completed) != 2 {
		t.Fatalf("completed %d requests, want 2 (activate, read)", len(h.completed))
	}
	if got := read.CompletionCycle; got != p.TRCD+p.TCAS+p.TBurst {
		t.Errorf("read completion cycle = %d, want %d", got, p.TRCD+p.TCAS+p.TBurst)
	}
}

func TestSubArrayRowMiss(t *testing.T) {
	p := testParams()
	sa, h, q := newTestSubArray(p)

	sa.IssueCommand(h.owned(core.OpActivate, 5, 0))
	q.Cycle(p.TRCD)

	wrongRow := h.owned(core.OpRead, 6, 0)
	var reason core.FailReason
	if sa.IsIssuable(wrongRow, &reason) {
		t.Fatal("read to a different row should miss")
	}
	if reason.Reason == "" {
		t.Error("row miss should carry a reason")
	}
}

func TestSubArrayOneRowActive(t *testing.T) {
	p := testParams()
	sa, h, q := newTestSubArray(p)

	sa.IssueCommand(h.owned(core.OpActivate, 5, 0))
	if sa.IsIssuable(h.owned(core.OpActivate, 6, 0), nil) {
		t.Fatal("second activate issuable while a row is active")
	}

	q.Cycle(p.TRCD)
	pre := h.owned(core.OpPrecharge, 5, 0)
	if !sa.IsIssuable(pre, nil) {
		t.Fatal("precharge should be issuable on the open row")
	}
	sa.IssueCommand(pre)

	if _, open := sa.Open(); open {
		t.Error("row still open after precharge")
	}

	// Activate must wait for tRC from the original activate.
	act2 := h.owned(core.OpActivate, 6, 0)
	if at := sa.NextIssuable(act2); at != p.TRC {
		t.Errorf("NextIssuable(activate after precharge) = %d, want %d (tRC)", at, p.TRC)
	}
}

func TestSubArrayReadPrechargeClosesRow(t *testing.T) {
	p := testParams()
	sa, h, q := newTestSubArray(p)

	sa.IssueCommand(h.owned(core.OpActivate, 1, 0))
	q.Cycle(p.TRCD)

	rp := h.owned(core.OpReadPrecharge, 1, 0)
	if !sa.IsIssuable(rp, nil) {
		t.Fatal("READ_PRECHARGE should be issuable")
	}
	sa.IssueCommand(rp)

	if _, open := sa.Open(); open {
		t.Error("row still open after implicit precharge")
	}

	q.Cycle(p.TCAS + p.TBurst + p.TRP)
	if rp.Status != core.StatusComplete {
		t.Error("READ_PRECHARGE not complete after tCAS+tBURST+tRP")
	}
	want := p.TRCD + p.TCAS + p.TBurst + p.TRP
	if rp.CompletionCycle != want {
		t.Errorf("completion cycle = %d, want %d", rp.CompletionCycle, want)
	}
}

func TestSubArrayIterativeWritePausing(t *testing.T) {
	p := testParams()
	p.MLCLevels = 2
	p.TWP = 12
	p.WritePausing = true
	sa, h, q := newTestSubArray(p)

	sa.IssueCommand(h.owned(core.OpActivate, 3, 0))
	q.Cycle(p.TRCD) // cycle 10

	write := h.owned(core.OpWrite, 3, 0)
	sa.IssueCommand(write)

	if !sa.IsWriting() {
		t.Fatal("iterative write did not mark the subarray writing")
	}
	if sa.BetweenWriteIterations() {
		t.Error("no pause point at write start")
	}

	// Mid-pulse: no pause point.
	q.Cycle(6)
	if sa.BetweenWriteIterations() {
		t.Error("pause point inside a write pulse")
	}

	// Pulse boundary.
	q.Cycle(6)
	if !sa.BetweenWriteIterations() {
		t.Fatal("no pause point at the pulse boundary")
	}

	read := h.owned(core.OpRead, 3, 0)
	if sa.IsIssuable(read, nil) {
		t.Fatal("non-priority read issuable during a write")
	}
	read.SetFlag(core.FlagPriority)
	if !sa.IsIssuable(read, nil) {
		t.Fatal("priority read not issuable against a pausable write")
	}
	wrongRow := h.owned(core.OpRead, 4, 0)
	wrongRow.SetFlag(core.FlagPriority)
	if sa.IsIssuable(wrongRow, nil) {
		t.Fatal("priority read to the wrong row issuable during a write")
	}

	sa.IssueCommand(read)
	if sa.IsWriting() {
		t.Error("write not suspended by the priority read")
	}
	if !write.HasFlag(core.FlagPaused) {
		t.Error("suspended write not flagged PAUSED")
	}

	// Read completes, then the write resumes for its remaining pulse.
	q.Cycle(p.TCAS + p.TBurst) // cycle 36
	if read.Status != core.StatusComplete {
		t.Fatal("priority read did not complete")
	}
	if !sa.IsWriting() {
		t.Fatal("paused write did not resume after the read completed")
	}
	if write.HasFlag(core.FlagPaused) {
		t.Error("resumed write still flagged PAUSED")
	}

	q.Cycle(12) // remaining pulse
	if write.Status != core.StatusComplete {
		t.Error("resumed write did not complete")
	}
	if sa.pausedWrites != 1 || sa.resumedWrites != 1 {
		t.Errorf("pause counters = (%d, %d), want (1, 1)", sa.pausedWrites, sa.resumedWrites)
	}
}

func TestSubArrayCancelMode(t *testing.T) {
	p := testParams()
	p.MLCLevels = 2
	p.TWP = 10
	p.WritePausing = true
	p.PauseMode = "cancel"
	sa, h, q := newTestSubArray(p)

	sa.IssueCommand(h.owned(core.OpActivate, 3, 0))
	q.Cycle(p.TRCD)

	write := h.owned(core.OpWrite, 3, 0)
	sa.IssueCommand(write)
	q.Cycle(10) // first pulse done

	read := h.owned(core.OpRead, 3, 0)
	read.SetFlag(core.FlagPriority)
	sa.IssueCommand(read)

	if !write.HasFlag(core.FlagCancelled) {
		t.Error("cancelled write not flagged CANCELLED")
	}
	if sa.cancelledWrites != 1 {
		t.Errorf("cancelledWrites = %d, want 1", sa.cancelledWrites)
	}

	// A cancelled write restarts from scratch: full duration again.
	q.Cycle(p.TCAS + p.TBurst)
	if !sa.IsWriting() {
		t.Fatal("cancelled write did not restart")
	}
	q.Cycle(2 * p.TWP)
	if write.Status != core.StatusComplete {
		t.Error("restarted write did not complete")
	}
}

func TestSubArrayServes(t *testing.T) {
	p := testParams()
	sa := NewSubArray(p, 1, 2, 3, "sa")

	req := core.NewRequest(core.OpRead, 0)
	req.Address.SetTranslated(0, 0, 2, 1, 0, 3)
	if !sa.Serves(req) {
		t.Error("Serves false for matching coordinates")
	}
	req.Address.SetTranslated(0, 0, 2, 1, 0, 2)
	if sa.Serves(req) {
		t.Error("Serves true for wrong subarray")
	}
}

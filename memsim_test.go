package memsim

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/memforge/go-memsim/internal/core"
	"github.com/memforge/go-memsim/internal/trace"
)

const testConfig = `
; small single-channel part for tests
CHANNELS 1
RANKS 1
BANKS 2
ROWS 1024
COLS 256
CPUFreq 1000
CLK 1000
MEM_CTL FRFCFS
INTERCONNECT OnChipBus
QueueModel PerBank
`

func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mem.config")
	require.NoError(t, os.WriteFile(path, []byte(testConfig+extra), 0o644))
	return path
}

func zeroWord() string {
	return strings.Repeat("00", int(core.WordSize))
}

func onesWord() string {
	return strings.Repeat("ff", int(core.WordSize))
}

func TestLoadSystemRejectsBadConfig(t *testing.T) {
	if _, err := LoadSystem(filepath.Join(t.TempDir(), "missing.config"), "", nil); err == nil {
		t.Fatal("missing config accepted")
	}

	path := writeTestConfig(t, "MEM_CTL NoSuchController\n")
	if _, err := LoadSystem(path, "", nil); err == nil {
		t.Fatal("unknown controller accepted")
	}

	path = writeTestConfig(t, "AddressMappingScheme R:XX\n")
	if _, err := LoadSystem(path, "", nil); err == nil {
		t.Fatal("bad mapping scheme accepted")
	}
}

func TestLoadSystemOverrides(t *testing.T) {
	path := writeTestConfig(t, "")
	sys, err := LoadSystem(path, "", []string{"RANKS=1", "BANKS=4"})
	require.NoError(t, err)
	if sys.Params().Banks != 4 {
		t.Errorf("BANKS override = %d, want 4", sys.Params().Banks)
	}
}

func TestRunTraceCompletesAllRequests(t *testing.T) {
	path := writeTestConfig(t, "")
	sys, err := LoadSystem(path, "", nil)
	require.NoError(t, err)

	input := "NVMV1\n" +
		"0 R 0x1000 " + zeroWord() + " " + zeroWord() + " 0\n" +
		"5 W 0x1040 " + onesWord() + " " + zeroWord() + " 0\n" +
		"9 R 0x2000 " + zeroWord() + " " + zeroWord() + " 1\n"

	driver := NewDriver(sys)
	require.NoError(t, driver.RunTrace(trace.NewReader(strings.NewReader(input)), 0))

	if driver.Completed() != 3 {
		t.Errorf("completed = %d, want 3", driver.Completed())
	}
	if driver.Outstanding() != 0 {
		t.Errorf("outstanding = %d, want 0", driver.Outstanding())
	}

	var buf bytes.Buffer
	sys.PrintStats(&buf)
	out := buf.String()
	if !strings.Contains(out, "i0.defaultMemory.totalReadRequests 2") {
		t.Errorf("stats missing read count:\n%s", out)
	}
	if !strings.Contains(out, "i0.defaultMemory.totalWriteRequests 1") {
		t.Errorf("stats missing write count:\n%s", out)
	}
}

func TestMultiChannelRouting(t *testing.T) {
	path := writeTestConfig(t, "CHANNELS 2\n")
	sys, err := LoadSystem(path, "", nil)
	require.NoError(t, err)

	driver := NewDriver(sys)

	// With the default mapping the channel bit sits above the column
	// and subarray fields.
	reqA := core.NewRequest(core.OpRead, 0x0000)
	reqB := core.NewRequest(core.OpRead, 0x4000)
	require.True(t, driver.Issue(reqA))
	require.True(t, driver.Issue(reqB))

	if reqA.Address.Channel == reqB.Address.Channel {
		t.Fatalf("both requests landed on channel %d", reqA.Address.Channel)
	}

	driver.Drain(10000)
	if driver.Outstanding() != 0 {
		t.Errorf("outstanding = %d, want 0", driver.Outstanding())
	}
}

func TestBackpressureRetry(t *testing.T) {
	path := writeTestConfig(t, "MaxQueue 1\nBANKS 1\n")
	sys, err := LoadSystem(path, "", nil)
	require.NoError(t, err)

	driver := NewDriver(sys)

	first := core.NewRequest(core.OpRead, 0x1000)
	require.True(t, driver.Issue(first))

	second := core.NewRequest(core.OpRead, 0x2000)
	if driver.CanIssue(second) {
		t.Error("CanIssue true at capacity")
	}
	if driver.Issue(second) {
		t.Fatal("issue succeeded past capacity")
	}

	driver.Drain(10000)
	if !driver.CanIssue(second) {
		t.Error("CanIssue false after drain")
	}
	require.True(t, driver.Issue(second))
	driver.Drain(10000)
	if driver.Completed() != 2 {
		t.Errorf("completed = %d, want 2", driver.Completed())
	}
}

func TestAtomicIssue(t *testing.T) {
	path := writeTestConfig(t, "")
	sys, err := LoadSystem(path, "", nil)
	require.NoError(t, err)

	req := core.NewRequest(core.OpRead, 0x1000)
	if !sys.IssueAtomic(req) {
		t.Fatal("IssueAtomic failed")
	}
	if req.Status != core.StatusComplete {
		t.Error("atomic request not complete in place")
	}
	if sys.CurrentCycle() != 0 {
		t.Error("atomic path advanced the clock")
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	extra := "BANKS 1\nDataEncoder FlipNWrite\nEnduranceModel RowModel\nEnduranceLife 2\n"
	pathA := writeTestConfig(t, extra)

	sysA, err := LoadSystem(pathA, "", nil)
	require.NoError(t, err)

	// An all-ones write over all-zero cells: FlipNWrite stores the
	// inverted image and records the partition in its inversion set.
	write := core.NewRequest(core.OpWrite, 0x1000)
	write.Data, _ = core.ParseDataBlock(onesWord())
	write.OldData = core.NewDataBlock(int(core.WordSize))
	require.True(t, sysA.IssueAtomic(write))
	stored := write.Data.Clone()

	dir := filepath.Join(t.TempDir(), "ckpt")
	require.NoError(t, sysA.CreateCheckpoint(dir))

	sysB, err := LoadSystem(pathA, "", nil)
	require.NoError(t, err)
	require.NoError(t, sysB.RestoreCheckpoint(dir))

	// A read through the restored encoder observes the original value.
	read := core.NewRequest(core.OpRead, 0x1000)
	read.Data = stored
	require.True(t, sysB.IssueAtomic(read))
	if read.Data.String() != onesWord() {
		t.Errorf("restored read = %s, want all ones", read.Data.String())
	}

	// The endurance map carried over: two more writes run past the
	// two-write budget.
	for i := 0; i < 2; i++ {
		w := core.NewRequest(core.OpWrite, 0x1000)
		w.Data = core.NewDataBlock(int(core.WordSize))
		w.OldData = core.NewDataBlock(int(core.WordSize))
		sysB.IssueAtomic(w)
	}
	deadWrites := uint64(0)
	for _, s := range sysB.Registry().Stats() {
		if strings.HasSuffix(s.Name, ".deadWrites") {
			if v, ok := s.Value().(uint64); ok {
				deadWrites += v
			}
		}
	}
	if deadWrites == 0 {
		t.Error("restored endurance map lost the wear state")
	}
}

func TestCheckpointRestoresClock(t *testing.T) {
	path := writeTestConfig(t, "")

	sysA, err := LoadSystem(path, "", nil)
	require.NoError(t, err)

	// Advance the clock with real timed traffic before checkpointing.
	driverA := NewDriver(sysA)
	require.True(t, driverA.Issue(core.NewRequest(core.OpRead, 0x1000)))
	driverA.Drain(10000)
	require.NotZero(t, sysA.CurrentCycle())

	dir := filepath.Join(t.TempDir(), "ckpt")
	require.NoError(t, sysA.CreateCheckpoint(dir))

	sysB, err := LoadSystem(path, "", nil)
	require.NoError(t, err)
	require.NoError(t, sysB.RestoreCheckpoint(dir))

	if sysB.CurrentCycle() != sysA.CurrentCycle() {
		t.Errorf("restored cycle = %d, want %d", sysB.CurrentCycle(), sysA.CurrentCycle())
	}
	if sysB.GlobalQueue().CurrentCycle() != sysA.GlobalQueue().CurrentCycle() {
		t.Errorf("restored global cycle = %d, want %d",
			sysB.GlobalQueue().CurrentCycle(), sysA.GlobalQueue().CurrentCycle())
	}

	// The restored system keeps simulating from where it resumed.
	driverB := NewDriver(sysB)
	resumeAt := sysB.CurrentCycle()
	require.True(t, driverB.Issue(core.NewRequest(core.OpRead, 0x2000)))
	driverB.Drain(10000)
	if driverB.Completed() != 1 {
		t.Fatalf("completed = %d, want 1 after restore", driverB.Completed())
	}
	if sysB.CurrentCycle() <= resumeAt {
		t.Error("clock did not advance past the restored cycle")
	}
}

func TestPreTraceRoundTrip(t *testing.T) {
	pretracePath := filepath.Join(t.TempDir(), "out.pretrace")
	extra := "PrintPreTrace true\nPreTraceFile " + pretracePath + "\n"
	path := writeTestConfig(t, extra)

	sysA, err := LoadSystem(path, "", nil)
	require.NoError(t, err)

	input := "NVMV1\n" +
		"0 R 0x1000 " + zeroWord() + " " + zeroWord() + " 0\n" +
		"3 W 0x1040 " + onesWord() + " " + zeroWord() + " 0\n"

	driverA := NewDriver(sysA)
	require.NoError(t, driverA.RunTrace(trace.NewReader(strings.NewReader(input)), 0))
	require.NoError(t, sysA.Close())

	// Replaying the emitted trace reproduces the aggregate counts.
	emitted, err := os.ReadFile(pretracePath)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(string(emitted), "NVMV1\n"))

	sysB, err := LoadSystem(writeTestConfig(t, ""), "", nil)
	require.NoError(t, err)
	driverB := NewDriver(sysB)
	require.NoError(t, driverB.RunTrace(trace.NewReader(bytes.NewReader(emitted)), 0))

	if driverB.Completed() != driverA.Completed() {
		t.Errorf("replay completed %d, original %d", driverB.Completed(), driverA.Completed())
	}
}

func TestPeriodicStats(t *testing.T) {
	path := writeTestConfig(t, "")
	sys, err := LoadSystem(path, "", nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	driver := NewDriver(sys)
	driver.EnablePeriodicStats(100, &buf)

	sys.GlobalQueue().Cycle(350)

	out := buf.String()
	if !strings.Contains(out, "i0.") || !strings.Contains(out, "i2.") {
		t.Errorf("periodic dumps missing interval prefixes:\n%s", out)
	}
}

func TestMockModule(t *testing.T) {
	q := core.NewEventQueue()
	mock := NewMockModule("mock")
	mock.SetEventQueue(q)
	mock.AutoComplete(5)

	owner := NewMockModule("owner")
	owner.SetEventQueue(q)
	owner.AddChild(mock)

	req := core.NewRequest(core.OpRead, 0x40)
	req.Owner = mock
	if !mock.IssueCommand(req) {
		t.Fatal("mock refused issue")
	}
	q.Cycle(5)

	counts := mock.CallCounts()
	if counts["issue"] != 1 || counts["complete"] != 1 {
		t.Errorf("call counts = %v", counts)
	}
	if req.Status != core.StatusComplete {
		t.Error("auto-complete did not finish the request")
	}

	mock.SetIssuable(false)
	var reason core.FailReason
	if mock.IsIssuable(req, &reason) || reason.Reason == "" {
		t.Error("SetIssuable(false) not honored")
	}

	mock.Reset()
	if c := mock.CallCounts(); c["issue"] != 0 {
		t.Errorf("Reset left counts %v", c)
	}
}

package endurance

import (
	"testing"

	"github.com/memforge/go-memsim/internal/core"
	"github.com/memforge/go-memsim/internal/stats"
)

func reqAt(row, col uint64) *core.Request {
	req := core.NewRequest(core.OpWrite, 0)
	req.Address.SetTranslated(row, col, 0, 0, 0, 0)
	return req
}

func TestRowModelExhaustion(t *testing.T) {
	p := core.NewParams()
	m := NewRowModel(p, 3)

	for i := 0; i < 3; i++ {
		if got := m.Write(reqAt(7, 0)); got < 0 {
			t.Fatalf("write %d failed early: %d", i, got)
		}
	}

	// The budget is spent: further writes report the dead granule.
	if got := m.Write(reqAt(7, 0)); got >= 0 {
		t.Errorf("write to dead row returned %d, want negative", got)
	}
	if got := m.Read(reqAt(7, 5)); got >= 0 {
		t.Errorf("read of dead row returned %d, want negative", got)
	}

	// Other rows keep their own budget.
	if got := m.Write(reqAt(8, 0)); got < 0 {
		t.Errorf("unrelated row failed: %d", got)
	}
}

func TestRowColModelGranularity(t *testing.T) {
	p := core.NewParams()
	m := NewRowColModel(p, 1)

	if m.Write(reqAt(1, 1)) < 0 {
		t.Fatal("first write failed")
	}
	if m.Write(reqAt(1, 1)) >= 0 {
		t.Error("second write to a single-life word should fail")
	}
	// The neighboring column wears independently.
	if m.Write(reqAt(1, 2)) < 0 {
		t.Error("neighboring column shares wear state")
	}
}

func TestEnduranceStats(t *testing.T) {
	p := core.NewParams()
	m := NewRowModel(p, 2)
	reg := stats.NewRegistry()
	m.RegisterStats(reg, "sa0.")

	m.Write(reqAt(1, 0))
	m.Write(reqAt(1, 0))
	m.Write(reqAt(1, 0)) // dead

	if s := reg.GetStat("sa0.enduranceWrites"); s == nil || s.Value().(uint64) != 2 {
		t.Errorf("enduranceWrites = %v, want 2", s)
	}
	if s := reg.GetStat("sa0.deadWrites"); s == nil || s.Value().(uint64) != 1 {
		t.Errorf("deadWrites = %v, want 1", s)
	}
	if s := reg.GetStat("sa0.worstCaseWear"); s == nil || s.Value().(uint64) != 2 {
		t.Errorf("worstCaseWear = %v, want 2", s)
	}
}

func TestRowModelCheckpoint(t *testing.T) {
	p := core.NewParams()
	m := NewRowModel(p, 2)
	m.Write(reqAt(4, 0))
	m.Write(reqAt(4, 0))

	dir := t.TempDir()
	if err := m.SaveCheckpoint(dir); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	restored := NewRowModel(p, 2)
	if err := restored.RestoreCheckpoint(dir); err != nil {
		t.Fatalf("RestoreCheckpoint: %v", err)
	}
	if restored.Write(reqAt(4, 0)) >= 0 {
		t.Error("restored model lost the wear state")
	}
	if restored.Write(reqAt(5, 0)) < 0 {
		t.Error("restored model corrupted fresh rows")
	}
}

func TestEnduranceFactory(t *testing.T) {
	p := core.NewParams()

	if m, err := New("None", p, 0); err != nil || m != nil {
		t.Errorf("New(None) = (%v, %v)", m, err)
	}
	if m, err := New("RowModel", p, 0); err != nil || m == nil {
		t.Errorf("New(RowModel) = (%v, %v)", m, err)
	}
	if m, err := New("RowColModel", p, 10); err != nil || m == nil {
		t.Errorf("New(RowColModel) = (%v, %v)", m, err)
	}
	if _, err := New("Bogus", p, 0); err == nil {
		t.Error("unknown model accepted")
	}
}

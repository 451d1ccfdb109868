package endurance

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/memforge/go-memsim/internal/core"
	"github.com/memforge/go-memsim/internal/stats"
)

// lifeMap is the shared life bookkeeping: a lazily-populated map from
// granule key to remaining writes.
type lifeMap struct {
	initialLife uint64
	life        map[uint64]uint64

	writeCount uint64
	deadWrites uint64
	deadReads  uint64
	worstLife  uint64
}

func newLifeMap(initialLife uint64) lifeMap {
	return lifeMap{
		initialLife: initialLife,
		life:        make(map[uint64]uint64),
	}
}

// decrementLife consumes one write from the granule. Returns false when
// the granule was already dead.
func (m *lifeMap) decrementLife(key uint64) bool {
	remaining, seen := m.life[key]
	if !seen {
		remaining = m.initialLife
	}
	if remaining == 0 {
		m.deadWrites++
		return false
	}
	remaining--
	m.life[key] = remaining
	m.writeCount++
	if worn := m.initialLife - remaining; worn > m.worstLife {
		m.worstLife = worn
	}
	return true
}

// isDead reports whether the granule has exhausted its budget.
func (m *lifeMap) isDead(key uint64) bool {
	remaining, seen := m.life[key]
	return seen && remaining == 0
}

func (m *lifeMap) registerStats(reg *stats.Registry, prefix string) {
	reg.AddStat(prefix+"enduranceWrites", &m.writeCount, "")
	reg.AddStat(prefix+"deadWrites", &m.deadWrites, "")
	reg.AddStat(prefix+"deadReads", &m.deadReads, "")
	reg.AddStat(prefix+"worstCaseWear", &m.worstLife, "")
}

type lifeMapState struct {
	InitialLife uint64            `yaml:"initialLife"`
	Life        map[uint64]uint64 `yaml:"life"`
}

func (m *lifeMap) save(dir, file string) error {
	out, err := yaml.Marshal(&lifeMapState{InitialLife: m.initialLife, Life: m.life})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, file), out, 0o644)
}

func (m *lifeMap) restore(dir, file string) error {
	raw, err := os.ReadFile(filepath.Join(dir, file))
	if err != nil {
		return err
	}
	var state lifeMapState
	if err := yaml.Unmarshal(raw, &state); err != nil {
		return err
	}
	if state.InitialLife != 0 {
		m.initialLife = state.InitialLife
	}
	m.life = state.Life
	if m.life == nil {
		m.life = make(map[uint64]uint64)
	}
	return nil
}

// RowModel wears a whole row per write: the coarsest granularity.
type RowModel struct {
	lifeMap
	p *core.Params
}

// NewRowModel creates a row-granularity wear model.
func NewRowModel(p *core.Params, initialLife uint64) *RowModel {
	return &RowModel{lifeMap: newLifeMap(initialLife), p: p}
}

func (r *RowModel) key(req *core.Request) uint64 {
	return req.Address.Row
}

// Read reports dead-granule reads through a negative return.
func (r *RowModel) Read(req *core.Request) int64 {
	if r.isDead(r.key(req)) {
		r.deadReads++
		return -1
	}
	return 0
}

// Write consumes one write of the row's life.
func (r *RowModel) Write(req *core.Request) int64 {
	if !r.decrementLife(r.key(req)) {
		return -1
	}
	return 0
}

// RegisterStats publishes the wear counters.
func (r *RowModel) RegisterStats(reg *stats.Registry, prefix string) {
	r.registerStats(reg, prefix)
}

// SaveCheckpoint persists the life map.
func (r *RowModel) SaveCheckpoint(dir string) error {
	return r.save(dir, "endurance-row.yaml")
}

// RestoreCheckpoint reloads the life map.
func (r *RowModel) RestoreCheckpoint(dir string) error {
	return r.restore(dir, "endurance-row.yaml")
}

// RowColModel wears one memory word per write.
type RowColModel struct {
	lifeMap
	p *core.Params
}

// NewRowColModel creates a word-granularity wear model.
func NewRowColModel(p *core.Params, initialLife uint64) *RowColModel {
	return &RowColModel{lifeMap: newLifeMap(initialLife), p: p}
}

func (r *RowColModel) key(req *core.Request) uint64 {
	return req.Address.Row*r.p.Cols + req.Address.Col
}

func (r *RowColModel) Read(req *core.Request) int64 {
	if r.isDead(r.key(req)) {
		r.deadReads++
		return -1
	}
	return 0
}

func (r *RowColModel) Write(req *core.Request) int64 {
	if !r.decrementLife(r.key(req)) {
		return -1
	}
	return 0
}

func (r *RowColModel) RegisterStats(reg *stats.Registry, prefix string) {
	r.registerStats(reg, prefix)
}

// SaveCheckpoint persists the life map.
func (r *RowColModel) SaveCheckpoint(dir string) error {
	return r.save(dir, "endurance-rowcol.yaml")
}

// RestoreCheckpoint reloads the life map.
func (r *RowColModel) RestoreCheckpoint(dir string) error {
	return r.restore(dir, "endurance-rowcol.yaml")
}

var (
	_ Model = (*RowModel)(nil)
	_ Model = (*RowColModel)(nil)
)

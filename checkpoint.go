package memsim

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Checkpoints capture the persistent cell-level state of a simulation:
// endurance maps and encoder inversion sets, so reads observe the correct
// values after restore, plus the clock and request counters.

type systemCheckpoint struct {
	Cycle              uint64 `yaml:"cycle"`
	GlobalCycle        uint64 `yaml:"globalCycle"`
	TotalReadRequests  uint64 `yaml:"totalReadRequests"`
	TotalWriteRequests uint64 `yaml:"totalWriteRequests"`
}

const systemCheckpointFile = "system.yaml"

// CreateCheckpoint writes the simulation's persistent state into dir,
// creating it if needed. Each stateful component saves under a
// subdirectory named after its module path.
func (s *System) CreateCheckpoint(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return WrapError("CreateCheckpoint", ErrCodeCheckpoint, err)
	}

	sys := systemCheckpoint{
		Cycle:              s.eventQueue.CurrentCycle(),
		GlobalCycle:        s.globalQueue.CurrentCycle(),
		TotalReadRequests:  s.totalReadRequests,
		TotalWriteRequests: s.totalWriteRequests,
	}
	out, err := yaml.Marshal(&sys)
	if err != nil {
		return WrapError("CreateCheckpoint", ErrCodeCheckpoint, err)
	}
	if err := os.WriteFile(filepath.Join(dir, systemCheckpointFile), out, 0o644); err != nil {
		return WrapError("CreateCheckpoint", ErrCodeCheckpoint, err)
	}

	for _, nc := range s.checkpoints {
		sub := filepath.Join(dir, nc.name)
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return WrapError("CreateCheckpoint", ErrCodeCheckpoint, err)
		}
		if err := nc.cp.SaveCheckpoint(sub); err != nil {
			return WrapError("CreateCheckpoint", ErrCodeCheckpoint,
				fmt.Errorf("%s: %w", nc.name, err))
		}
	}
	return nil
}

// RestoreCheckpoint reloads persistent state saved by CreateCheckpoint.
// Components without a saved file keep their fresh state, so checkpoints
// taken under a smaller configuration restore cleanly.
func (s *System) RestoreCheckpoint(dir string) error {
	raw, err := os.ReadFile(filepath.Join(dir, systemCheckpointFile))
	if err != nil {
		return WrapError("RestoreCheckpoint", ErrCodeCheckpoint, err)
	}
	var sys systemCheckpoint
	if err := yaml.Unmarshal(raw, &sys); err != nil {
		return WrapError("RestoreCheckpoint", ErrCodeCheckpoint, err)
	}
	s.totalReadRequests = sys.TotalReadRequests
	s.totalWriteRequests = sys.TotalWriteRequests

	// Resume the clocks where the checkpoint left them. The reference
	// clock fast-forwards every registered subsystem to its scaled
	// share; the memory clock is then pinned exactly so no frequency
	// rounding leaks into it.
	s.globalQueue.SetCurrentCycle(sys.GlobalCycle)
	s.eventQueue.SetCurrentCycle(sys.Cycle)

	for _, nc := range s.checkpoints {
		sub := filepath.Join(dir, nc.name)
		err := nc.cp.RestoreCheckpoint(sub)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return WrapError("RestoreCheckpoint", ErrCodeCheckpoint,
				fmt.Errorf("%s: %w", nc.name, err))
		}
	}
	return nil
}

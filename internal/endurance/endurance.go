// Package endurance tracks remaining write-life per storage granule.
package endurance

import (
	"fmt"

	"github.com/memforge/go-memsim/internal/core"
	"github.com/memforge/go-memsim/internal/stats"
)

// Model maps requests onto wear granules. Write decrements the granule's
// remaining life and returns a negative cycle count once the granule is
// dead; Read reports a negative value when reading a dead granule.
type Model interface {
	Read(req *core.Request) int64
	Write(req *core.Request) int64
	RegisterStats(reg *stats.Registry, prefix string)
}

// DefaultLife is the uniform initial write budget when no endurance
// distribution plug-in supplies one.
const DefaultLife = 100000000

// New constructs the model selected by configuration. "None" (or empty)
// disables wear tracking.
func New(name string, p *core.Params, life uint64) (Model, error) {
	if life == 0 {
		life = DefaultLife
	}
	switch name {
	case "", "None":
		return nil, nil
	case "RowModel":
		return NewRowModel(p, life), nil
	case "RowColModel":
		return NewRowColModel(p, life), nil
	}
	return nil, fmt.Errorf("unknown endurance model %q", name)
}

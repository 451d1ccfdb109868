// Package encoder provides per-write data transformations applied at the
// cell level, and their inverses applied on read.
package encoder

import (
	"fmt"

	"github.com/memforge/go-memsim/internal/core"
	"github.com/memforge/go-memsim/internal/stats"
)

// Encoder transforms request data in place. Write may rewrite req.Data
// into the stored representation using req.OldData and returns any extra
// cycle cost; Read undoes the transformation so callers always observe
// the original values.
type Encoder interface {
	Read(req *core.Request) int64
	Write(req *core.Request) int64
	RegisterStats(reg *stats.Registry, prefix string)
	CalculateStats()
}

// New constructs the encoder selected by configuration. The name "None"
// (or empty) disables encoding.
func New(name string, p *core.Params) (Encoder, error) {
	switch name {
	case "", "None", "default":
		return nil, nil
	case "FlipNWrite":
		return NewFlipNWrite(p), nil
	}
	return nil, fmt.Errorf("unknown data encoder %q", name)
}

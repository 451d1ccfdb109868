package trace

import (
	"fmt"
	"io"

	"github.com/memforge/go-memsim/internal/core"
)

// Tracer is a post-issue hook that records every command its host module
// sends down the tree, with the decoded address, for offline analysis.
type Tracer struct {
	core.BaseHook

	w        io.Writer
	commands uint64
}

// NewTracer creates the hook writing to the given stream.
func NewTracer(name string, w io.Writer) *Tracer {
	t := &Tracer{w: w}
	t.InitHook(t, name, core.PostIssue)
	return t
}

// IssueCommand observes one issued command. The request is not consumed.
func (t *Tracer) IssueCommand(req *core.Request) bool {
	t.commands++
	a := req.Address
	fmt.Fprintf(t.w, "%d %s 0x%x ch%d rk%d bk%d sa%d row 0x%x col 0x%x\n",
		t.CurrentCycle(), req.Type.String(), a.Physical,
		a.Channel, a.Rank, a.Bank, a.SubArray, a.Row, a.Col)
	return true
}

// Commands returns how many commands the hook observed.
func (t *Tracer) Commands() uint64 {
	return t.commands
}

var _ core.Hook = (*Tracer)(nil)

// Package core holds the simulation substrate shared by every component:
// the request and address model, the module tree, the event queues, the
// address translator and the configuration surface.
package core

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"

	"github.com/memforge/go-memsim/internal/logging"
	"github.com/memforge/go-memsim/internal/stats"
)

// FailReason carries the explanation for a negative IsIssuable answer.
type FailReason struct {
	Reason string
}

// HookPhase selects when a hook observes requests relative to the child
// issue.
type HookPhase int

const (
	PreIssue HookPhase = iota
	PostIssue

	hookPhaseCount
)

// Hook is a module that observes every command issued through its host.
// Hooks may read or annotate a request but must not retire it unless they
// originated it.
type Hook interface {
	Module
	Phase() HookPhase
}

// Module is the capability set every node in the tree implements.
type Module interface {
	// Request flow
	IssueCommand(req *Request) bool
	IssueAtomic(req *Request) bool
	IsIssuable(req *Request, reason *FailReason) bool
	RequestComplete(req *Request) bool
	NextIssuable(req *Request) uint64
	Cycle(steps uint64)

	// Tree plumbing
	Name() string
	SetName(name string)
	Parent() Module
	SetParent(parent Module)
	Children() []Module
	AddChild(child Module)
	AddHook(h Hook)
	Hooks(phase HookPhase) []Hook

	// Shared handles
	Decoder() *AddressTranslator
	SetDecoder(at *AddressTranslator)
	EventQueue() *EventQueue
	SetEventQueue(q *EventQueue)
	Stats() *stats.Registry
	SetStats(reg *stats.Registry)

	RegisterStats()
	CalculateStats()
}

// BaseModule supplies the default behaviors: routing by the decoder's
// default field, completion forwarding toward the owner, and hook
// dispatch. Concrete modules embed it and call Init with themselves so
// defaults can compare and route against the outer value.
type BaseModule struct {
	self     Module
	name     string
	parent   Module
	children []Module
	hooks    [hookPhaseCount][]Hook

	decoder    *AddressTranslator
	eventQueue *EventQueue
	statsReg   *stats.Registry
	log        *logging.Logger
}

// Init binds the embedding module and its stat name. Must be called before
// the module joins a tree.
func (b *BaseModule) Init(self Module, name string) {
	b.self = self
	b.name = name
}

// Self returns the embedding module.
func (b *BaseModule) Self() Module {
	if b.self != nil {
		return b.self
	}
	return b
}

func (b *BaseModule) Name() string        { return b.name }
func (b *BaseModule) SetName(name string) { b.name = name }

func (b *BaseModule) Parent() Module          { return b.parent }
func (b *BaseModule) SetParent(parent Module) { b.parent = parent }

func (b *BaseModule) Children() []Module { return b.children }

// AddChild appends a child and points it back at this module.
func (b *BaseModule) AddChild(child Module) {
	b.children = append(b.children, child)
	child.SetParent(b.Self())
}

func (b *BaseModule) AddHook(h Hook) {
	b.hooks[h.Phase()] = append(b.hooks[h.Phase()], h)
}

func (b *BaseModule) Hooks(phase HookPhase) []Hook {
	return b.hooks[phase]
}

func (b *BaseModule) Decoder() *AddressTranslator      { return b.decoder }
func (b *BaseModule) SetDecoder(at *AddressTranslator) { b.decoder = at }

func (b *BaseModule) EventQueue() *EventQueue      { return b.eventQueue }
func (b *BaseModule) SetEventQueue(q *EventQueue)  { b.eventQueue = q }
func (b *BaseModule) Stats() *stats.Registry       { return b.statsReg }
func (b *BaseModule) SetStats(reg *stats.Registry) { b.statsReg = reg }

// Logger returns a logger annotated with the module's stat name.
func (b *BaseModule) Logger() *logging.Logger {
	if b.log == nil {
		b.log = logging.Default().WithModule(b.name)
	}
	return b.log
}

// CurrentCycle is shorthand for the shared clock, 0 before wiring.
func (b *BaseModule) CurrentCycle() uint64 {
	if b.eventQueue == nil {
		return 0
	}
	return b.eventQueue.CurrentCycle()
}

// Child selects the child a request routes to: the decoder's default
// field indexes the child list, single-child modules always route to
// their only child.
func (b *BaseModule) Child(req *Request) Module {
	if len(b.children) == 0 {
		return nil
	}
	if len(b.children) == 1 {
		return b.children[0]
	}
	idx := 0
	if b.decoder != nil && req != nil {
		idx = int(b.decoder.DefaultFieldValue(req))
	}
	if idx < 0 || idx >= len(b.children) {
		idx = 0
	}
	return b.children[idx]
}

// IssueCommand routes to the selected child, walking the hook chains
// before and after.
func (b *BaseModule) IssueCommand(req *Request) bool {
	child := b.Child(req)
	if child == nil {
		return false
	}
	for _, h := range b.hooks[PreIssue] {
		h.IssueCommand(req)
	}
	ok := child.IssueCommand(req)
	for _, h := range b.hooks[PostIssue] {
		h.IssueCommand(req)
	}
	return ok
}

// IssueAtomic routes the functional path to the selected child.
func (b *BaseModule) IssueAtomic(req *Request) bool {
	child := b.Child(req)
	if child == nil {
		return false
	}
	return child.IssueAtomic(req)
}

// IsIssuable asks the selected child.
func (b *BaseModule) IsIssuable(req *Request, reason *FailReason) bool {
	child := b.Child(req)
	if child == nil {
		return true
	}
	return child.IsIssuable(req, reason)
}

// RequestComplete retires requests this module owns and forwards the rest
// toward the owner. A completion that reaches a module with no parent and
// no ownership is a structural error in the configured tree.
func (b *BaseModule) RequestComplete(req *Request) bool {
	if req.Owner == b.Self() {
		req.Status = StatusComplete
		if b.eventQueue != nil && req.CompletionCycle == 0 {
			req.CompletionCycle = b.eventQueue.CurrentCycle()
		}
		return true
	}
	if b.parent == nil {
		b.Logger().Error("request completed with no owner in ancestor chain",
			"type", req.Type.String(), "address", fmt.Sprintf("0x%x", req.Address.Physical))
		panic("memsim: abandoned request:\n" + spew.Sdump(req.Address))
	}
	return b.parent.RequestComplete(req)
}

// NextIssuable asks the selected child for the earliest issue cycle.
func (b *BaseModule) NextIssuable(req *Request) uint64 {
	child := b.Child(req)
	if child == nil {
		return b.CurrentCycle()
	}
	return child.NextIssuable(req)
}

// Cycle forwards the tick to every child.
func (b *BaseModule) Cycle(steps uint64) {
	for _, c := range b.children {
		c.Cycle(steps)
	}
}

// RegisterStats is a no-op by default.
func (b *BaseModule) RegisterStats() {}

// CalculateStats forwards to every child.
func (b *BaseModule) CalculateStats() {
	for _, c := range b.children {
		c.CalculateStats()
	}
}

// BaseHook is the embeddable default for hook modules.
type BaseHook struct {
	BaseModule
	phase HookPhase
}

// InitHook binds the embedding hook, its name and its phase.
func (h *BaseHook) InitHook(self Module, name string, phase HookPhase) {
	h.Init(self, name)
	h.phase = phase
}

func (h *BaseHook) Phase() HookPhase { return h.phase }

// FindDescendant walks the subtree rooted at m depth-first and returns the
// first module matching the predicate, or nil.
func FindDescendant(m Module, pred func(Module) bool) Module {
	if m == nil {
		return nil
	}
	if pred(m) {
		return m
	}
	for _, c := range m.Children() {
		if found := FindDescendant(c, pred); found != nil {
			return found
		}
	}
	return nil
}

// WriteObserver is implemented by leaf modules that can report iterative
// write progress, enabling write pausing in the controller.
type WriteObserver interface {
	IsWriting() bool
	BetweenWriteIterations() bool
	Serves(req *Request) bool
}

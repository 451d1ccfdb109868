package core

import (
	"container/heap"
)

// EventType discriminates queue entries.
type EventType int

const (
	EventUnknown EventType = iota
	EventCycle
	EventCallback
	EventResponse
)

// Scheduling priorities. Events at the same cycle fire highest value
// first; ties fire in insertion order. Cleanup always runs last so every
// other event in a cycle can observe in-flight state.
const (
	PriorityCommandQueue     = 40
	PriorityTransactionQueue = 30
	PriorityRefresh          = 20
	PriorityLowPower         = 10
	PriorityDefault          = 0
	PriorityCleanup          = -10
)

// MaxCycle is the sentinel "never" cycle.
const MaxCycle = ^uint64(0)

// CallbackFunc is the payload of an EventCallback entry.
type CallbackFunc func(data any)

// Event is a single scheduled occurrence. CallbackID identifies the
// method being scheduled so duplicate-prevention lookups can match
// without comparing function values.
type Event struct {
	Type       EventType
	Recipient  Module
	Data       any
	Cycle      uint64
	Priority   int
	CallbackID string
	Callback   CallbackFunc

	seq   uint64
	index int
}

type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].Cycle != h[j].Cycle {
		return h[i].Cycle < h[j].Cycle
	}
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x any) {
	ev := x.(*Event)
	ev.index = len(*h)
	*h = append(*h, ev)
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.index = -1
	*h = old[:n-1]
	return ev
}

// EventQueue is the per-subtree timeline: a priority structure of pending
// events plus the subtree's virtual clock.
type EventQueue struct {
	events       eventHeap
	currentCycle uint64
	nextSeq      uint64
}

// NewEventQueue creates an empty queue at cycle 0.
func NewEventQueue() *EventQueue {
	return &EventQueue{}
}

// CurrentCycle returns the queue's virtual clock.
func (q *EventQueue) CurrentCycle() uint64 {
	return q.currentCycle
}

func (q *EventQueue) push(ev *Event) *Event {
	if ev.Cycle < q.currentCycle {
		ev.Cycle = q.currentCycle
	}
	ev.seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.events, ev)
	return ev
}

// InsertEvent schedules an event of the given type. For EventResponse the
// data payload is the request delivered via RequestComplete.
func (q *EventQueue) InsertEvent(t EventType, recipient Module, cycle uint64, data any, priority int) *Event {
	return q.push(&Event{
		Type:      t,
		Recipient: recipient,
		Data:      data,
		Cycle:     cycle,
		Priority:  priority,
	})
}

// InsertCallback schedules a method invocation. The id names the method so
// FindCallback can detect duplicates.
func (q *EventQueue) InsertCallback(recipient Module, id string, fn CallbackFunc, cycle uint64, data any, priority int) *Event {
	return q.push(&Event{
		Type:       EventCallback,
		Recipient:  recipient,
		Data:       data,
		Cycle:      cycle,
		Priority:   priority,
		CallbackID: id,
		Callback:   fn,
	})
}

// RemoveEvent cancels a pending event. Returns false if the event already
// fired or was never queued; a removed event will not fire.
func (q *EventQueue) RemoveEvent(ev *Event) bool {
	if ev == nil || ev.index < 0 || ev.index >= len(q.events) || q.events[ev.index] != ev {
		return false
	}
	heap.Remove(&q.events, ev.index)
	return true
}

// FindEvent returns a pending event matching type, recipient, payload and
// cycle, or nil. Used by schedulers to avoid duplicate wakeups.
func (q *EventQueue) FindEvent(t EventType, recipient Module, data any, cycle uint64) *Event {
	for _, ev := range q.events {
		if ev.Type == t && ev.Recipient == recipient && ev.Data == data && ev.Cycle == cycle {
			return ev
		}
	}
	return nil
}

// FindCallback returns a pending callback matching recipient, method id,
// payload and cycle, or nil.
func (q *EventQueue) FindCallback(recipient Module, id string, cycle uint64, data any) *Event {
	for _, ev := range q.events {
		if ev.Type == EventCallback && ev.Recipient == recipient &&
			ev.CallbackID == id && ev.Data == data && ev.Cycle == cycle {
			return ev
		}
	}
	return nil
}

// SetCurrentCycle fast-forwards the clock without firing anything, used
// when resuming from a checkpoint. Pending events scheduled before the
// new cycle are pulled up to it so they still fire on the next Cycle.
func (q *EventQueue) SetCurrentCycle(cycle uint64) {
	if cycle <= q.currentCycle {
		return
	}
	q.currentCycle = cycle

	moved := false
	for _, ev := range q.events {
		if ev.Cycle < cycle {
			ev.Cycle = cycle
			moved = true
		}
	}
	if moved {
		heap.Init(&q.events)
	}
}

// NextEventCycle returns the earliest scheduled cycle, or MaxCycle when
// the queue is empty.
func (q *EventQueue) NextEventCycle() uint64 {
	if len(q.events) == 0 {
		return MaxCycle
	}
	return q.events[0].Cycle
}

func (q *EventQueue) fire(ev *Event) {
	switch ev.Type {
	case EventCycle:
		if ev.Recipient != nil {
			ev.Recipient.Cycle(1)
		}
	case EventCallback:
		if ev.Callback != nil {
			ev.Callback(ev.Data)
		}
	case EventResponse:
		if req, ok := ev.Data.(*Request); ok && ev.Recipient != nil {
			ev.Recipient.RequestComplete(req)
		}
	}
}

// Cycle advances the clock by steps, firing every event whose cycle falls
// inside the window in (cycle, priority, insertion) order. Events
// scheduled during processing for cycles inside the window fire too.
func (q *EventQueue) Cycle(steps uint64) {
	target := q.currentCycle + steps

	for len(q.events) > 0 {
		next := q.events[0]
		if next.Cycle > target {
			break
		}
		if next.Cycle > q.currentCycle {
			q.currentCycle = next.Cycle
		}
		heap.Pop(&q.events)
		q.fire(next)
	}

	q.currentCycle = target
}

// system is one registered subtree of the global queue.
type system struct {
	module    Module
	queue     *EventQueue
	frequency float64
	syncValue float64
}

// GlobalEventQueue coordinates multiple per-subtree event queues running
// at different clock frequencies relative to a reference CPU frequency.
// The per-system accumulator preserves non-integer ratios without drift.
type GlobalEventQueue struct {
	systems      []*system
	cpuFrequency float64
	currentCycle uint64
}

// NewGlobalEventQueue creates an empty global queue.
func NewGlobalEventQueue() *GlobalEventQueue {
	return &GlobalEventQueue{}
}

// SetFrequency sets the reference frequency in Hz.
func (g *GlobalEventQueue) SetFrequency(hz float64) {
	g.cpuFrequency = hz
}

// Frequency returns the reference frequency in Hz.
func (g *GlobalEventQueue) Frequency() float64 {
	return g.cpuFrequency
}

// AddSystem registers a module subtree with its own event queue and clock
// frequency in Hz.
func (g *GlobalEventQueue) AddSystem(m Module, q *EventQueue, hz float64) {
	g.systems = append(g.systems, &system{module: m, queue: q, frequency: hz})
}

// CurrentCycle returns the number of reference cycles elapsed.
func (g *GlobalEventQueue) CurrentCycle() uint64 {
	return g.currentCycle
}

// SetCurrentCycle fast-forwards the reference clock and every registered
// subsystem to its scaled share without firing events, used when
// resuming from a checkpoint. Accumulator fractions are discarded.
func (g *GlobalEventQueue) SetCurrentCycle(cycle uint64) {
	if cycle <= g.currentCycle {
		return
	}
	g.currentCycle = cycle

	for _, sys := range g.systems {
		sys.syncValue = 0
		sys.queue.SetCurrentCycle(uint64(float64(cycle) * sys.frequency / g.cpuFrequency))
	}
}

// Cycle advances the global clock by steps reference cycles, ticking each
// registered subsystem by its scaled share.
func (g *GlobalEventQueue) Cycle(steps uint64) {
	g.currentCycle += steps

	for _, sys := range g.systems {
		sys.syncValue += float64(steps) * sys.frequency / g.cpuFrequency
		ticks := uint64(sys.syncValue)
		if ticks == 0 {
			continue
		}
		sys.syncValue -= float64(ticks)
		sys.queue.Cycle(ticks)
	}
}

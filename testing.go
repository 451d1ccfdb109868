package memsim

import (
	"sync"

	"github.com/memforge/go-memsim/internal/core"
)

// MockModule provides a mock implementation of the module capability set
// for testing. It records every call, answers issuability from a settable
// flag and can complete issued requests after a fixed latency.
type MockModule struct {
	core.BaseModule

	mu sync.RWMutex

	issuable     bool
	autoComplete bool
	latency      uint64

	issueCalls    int
	atomicCalls   int
	completeCalls int

	issued    []*core.Request
	completed []*core.Request
}

// NewMockModule creates a mock that accepts everything.
func NewMockModule(name string) *MockModule {
	m := &MockModule{issuable: true}
	m.Init(m, name)
	return m
}

// SetIssuable controls the IsIssuable answer.
func (m *MockModule) SetIssuable(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issuable = ok
}

// AutoComplete makes the mock schedule a completion response the given
// number of cycles after each issue.
func (m *MockModule) AutoComplete(latency uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoComplete = true
	m.latency = latency
}

// IssueCommand records the request and optionally schedules completion.
func (m *MockModule) IssueCommand(req *core.Request) bool {
	m.mu.Lock()
	m.issueCalls++
	m.issued = append(m.issued, req)
	auto, latency := m.autoComplete, m.latency
	m.mu.Unlock()

	if auto && m.EventQueue() != nil {
		m.EventQueue().InsertEvent(core.EventResponse, m,
			m.EventQueue().CurrentCycle()+latency, req, core.PriorityDefault)
	}
	return true
}

// IssueAtomic records and completes the request immediately.
func (m *MockModule) IssueAtomic(req *core.Request) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.atomicCalls++
	req.Status = core.StatusComplete
	return true
}

// IsIssuable answers the configured flag.
func (m *MockModule) IsIssuable(req *core.Request, reason *core.FailReason) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.issuable && reason != nil {
		reason.Reason = "mock refuses"
	}
	return m.issuable
}

// RequestComplete records the completion and forwards unowned requests.
func (m *MockModule) RequestComplete(req *core.Request) bool {
	m.mu.Lock()
	m.completeCalls++
	m.completed = append(m.completed, req)
	m.mu.Unlock()

	return m.BaseModule.RequestComplete(req)
}

// Issued returns the requests seen by IssueCommand.
func (m *MockModule) Issued() []*core.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*core.Request, len(m.issued))
	copy(out, m.issued)
	return out
}

// Completed returns the requests seen by RequestComplete.
func (m *MockModule) Completed() []*core.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*core.Request, len(m.completed))
	copy(out, m.completed)
	return out
}

// CallCounts returns the number of times each method has been called.
func (m *MockModule) CallCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int{
		"issue":    m.issueCalls,
		"atomic":   m.atomicCalls,
		"complete": m.completeCalls,
	}
}

// Reset clears the recorded calls.
func (m *MockModule) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issueCalls = 0
	m.atomicCalls = 0
	m.completeCalls = 0
	m.issued = nil
	m.completed = nil
}

// Compile-time interface checks
var _ core.Module = (*MockModule)(nil)

// Package stats implements the named counter registry shared by all
// simulator modules. Counters are registered once at configuration time and
// point at live variables owned by their module; the registry only reads
// them at print time.
package stats

import (
	"fmt"
	"io"
)

// Stat is a single registered counter. The value is a pointer into the
// owning module so PrintAll always observes the live value.
type Stat struct {
	Name  string
	Units string

	value any // *uint64, *int64, *float64 or *string
	reset any // snapshot of the value at registration time
}

// Value returns the current value of the counter.
func (s *Stat) Value() any {
	switch v := s.value.(type) {
	case *uint64:
		return *v
	case *int64:
		return *v
	case *float64:
		return *v
	case *string:
		return *v
	}
	return nil
}

// Reset restores the counter to its registration-time snapshot.
func (s *Stat) Reset() {
	switch v := s.value.(type) {
	case *uint64:
		*v = s.reset.(uint64)
	case *int64:
		*v = s.reset.(int64)
	case *float64:
		*v = s.reset.(float64)
	case *string:
		*v = s.reset.(string)
	}
}

func (s *Stat) print(w io.Writer, interval uint64) {
	if s.Units != "" {
		fmt.Fprintf(w, "i%d.%s %v %s\n", interval, s.Name, s.Value(), s.Units)
	} else {
		fmt.Fprintf(w, "i%d.%s %v\n", interval, s.Name, s.Value())
	}
}

// Registry holds every counter in the simulation, keyed by the
// module-path-prefixed name.
type Registry struct {
	stats      []*Stat
	psInterval uint64
}

// NewRegistry creates an empty stats registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func snapshot(value any) any {
	switch v := value.(type) {
	case *uint64:
		return *v
	case *int64:
		return *v
	case *float64:
		return *v
	case *string:
		return *v
	}
	return nil
}

// AddStat registers a counter. The value must be a pointer to uint64,
// int64, float64 or string; anything else is silently ignored, matching
// the permissive registration of the rest of the module tree.
func (r *Registry) AddStat(name string, value any, units string) {
	switch value.(type) {
	case *uint64, *int64, *float64, *string:
	default:
		return
	}
	r.stats = append(r.stats, &Stat{
		Name:  name,
		Units: units,
		value: value,
		reset: snapshot(value),
	})
}

// RemoveStat drops the counter registered against the given pointer.
func (r *Registry) RemoveStat(value any) {
	for i, s := range r.stats {
		if s.value == value {
			r.stats = append(r.stats[:i], r.stats[i+1:]...)
			return
		}
	}
}

// GetStat returns the counter with the given name, or nil.
func (r *Registry) GetStat(name string) *Stat {
	for _, s := range r.stats {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// Stats returns all registered counters in registration order.
func (r *Registry) Stats() []*Stat {
	return r.stats
}

// PrintAll writes every counter as "i<interval>.<name> <value> [units]"
// and advances the interval counter.
func (r *Registry) PrintAll(w io.Writer) {
	for _, s := range r.stats {
		s.print(w, r.psInterval)
	}
	r.psInterval++
}

// ResetAll restores every counter to its registration-time snapshot.
func (r *Registry) ResetAll() {
	for _, s := range r.stats {
		s.Reset()
	}
}

// Interval returns the number of completed PrintAll dumps.
func (r *Registry) Interval() uint64 {
	return r.psInterval
}

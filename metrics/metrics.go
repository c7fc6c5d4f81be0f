// Copyright 2018 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package metrics provides named, process-wide Gauges and Meters that
// actors update in place. An external collector is expected to scrape
// them through a Registry; this package does not expose one itself.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Gauge holds an instantaneous int64 value, e.g. a channel's queue depth.
type Gauge interface {
	Update(v int64)
	Value() int64
}

type gauge struct{ v int64 }

func NewGauge() Gauge { return &gauge{} }

func (g *gauge) Update(v int64)  { atomic.StoreInt64(&g.v, v) }
func (g *gauge) Value() int64    { return atomic.LoadInt64(&g.v) }

// Meter tracks a running count of occurrences, e.g. mutations persisted.
type Meter interface {
	Mark(n int64)
	Count() int64
}

type meter struct{ count int64 }

func NewMeter() Meter { return &meter{} }

func (m *meter) Mark(n int64) { atomic.AddInt64(&m.count, n) }
func (m *meter) Count() int64 { return atomic.LoadInt64(&m.count) }

// Registry is a named collection of metrics, analogous to
// go-ethereum/metrics.Registry.
type Registry struct {
	mu sync.Mutex
	m  map[string]interface{}
}

// DefaultRegistry is the process-wide registry PSM actors register into.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry { return &Registry{m: make(map[string]interface{})} }

func (r *Registry) GetOrRegisterGauge(name string) Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.m[name]; ok {
		return v.(Gauge)
	}
	g := NewGauge()
	r.m[name] = g
	return g
}

func (r *Registry) GetOrRegisterMeter(name string) Meter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.m[name]; ok {
		return v.(Meter)
	}
	m := NewMeter()
	r.m[name] = m
	return m
}

// Dump returns the current value of every registered metric, keyed by
// name. The map is unordered; Names gives the sorted names.
func (r *Registry) Dump() map[string]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int64, len(r.m))
	for name, v := range r.m {
		switch m := v.(type) {
		case Gauge:
			out[name] = m.Value()
		case Meter:
			out[name] = m.Count()
		}
	}
	return out
}

// Names returns the sorted metric names currently registered.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.m))
	for name := range r.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

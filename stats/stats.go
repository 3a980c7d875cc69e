// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package stats provides collections of counters kept by each worker
// while it transfers data: rounds issued, filesystem calls, bytes
// moved and the like. Each counter belongs to a snapshottable
// collection, and snapshots from different workers can be merged.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Values is a snapshot of the values in a collection.
type Values map[string]int64

// Copy returns a copy of the values v.
func (v Values) Copy() Values {
	w := make(Values)
	for k, v := range v {
		w[k] = v
	}
	return w
}

// Merge adds the values in w to v. Keys whose name begins with
// "max" are combined by taking the larger value instead.
func (v Values) Merge(w Values) {
	for k, x := range w {
		if strings.HasPrefix(k, "max") {
			if x > v[k] {
				v[k] = x
			}
			continue
		}
		v[k] += x
	}
}

// String returns an abbreviated string with the values in this
// snapshot sorted by key.
func (v Values) String() string {
	var keys []string
	for key := range v {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for i, key := range keys {
		keys[i] = fmt.Sprintf("%s:%d", key, v[key])
	}
	return strings.Join(keys, " ")
}

// A Map is a set of counters keyed by name.
type Map struct {
	mu     sync.Mutex
	values map[string]*Int
}

// NewMap returns a fresh Map.
func NewMap() *Map {
	return &Map{
		values: make(map[string]*Int),
	}
}

// Int returns the counter with the provided name. The counter is
// created if it does not already exist. Int returns nil on a nil map.
func (m *Map) Int(name string) *Int {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	v := m.values[name]
	if v == nil {
		v = new(Int)
		m.values[name] = v
	}
	m.mu.Unlock()
	return v
}

// AddAll adds all counters in the map to the provided snapshot.
func (m *Map) AddAll(vals Values) {
	m.mu.Lock()
	for k, v := range m.values {
		vals[k] += v.Get()
	}
	m.mu.Unlock()
}

// Snapshot returns the current values of all counters in the map.
func (m *Map) Snapshot() Values {
	vals := make(Values)
	m.AddAll(vals)
	return vals
}

// An Int is a integer counter. Ints can be atomically
// incremented and set. Methods on a nil Int are no-ops, so that
// callers without a collection need not check.
type Int struct {
	val int64
}

// Add increments v by delta.
func (v *Int) Add(delta int64) {
	if v == nil {
		return
	}
	atomic.AddInt64(&v.val, delta)
}

// Set sets the counter's value to val.
func (v *Int) Set(val int64) {
	if v == nil {
		return
	}
	atomic.StoreInt64(&v.val, val)
}

// Max sets the counter's value to val if val is larger than the
// current value.
func (v *Int) Max(val int64) {
	if v == nil {
		return
	}
	for {
		cur := atomic.LoadInt64(&v.val)
		if val <= cur || atomic.CompareAndSwapInt64(&v.val, cur, val) {
			return
		}
	}
}

// Get returns the current value of a counter.
func (v *Int) Get() int64 {
	if v == nil {
		return 0
	}
	return atomic.LoadInt64(&v.val)
}

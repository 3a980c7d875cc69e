// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package stats

import (
	"sync"
	"testing"
)

func TestStats(t *testing.T) {
	coll := NewMap()
	var (
		x = coll.Int("bytes")
		_ = coll.Int("rounds")
	)
	if got, want := x.Get(), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	x.Add(123)
	x.Add(123)
	if got, want := x.Get(), int64(123*2); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	all := make(Values)
	coll.AddAll(all)
	coll.AddAll(all)
	if got, want := len(all), 2; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := all["bytes"], int64(123*4); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := all["rounds"], int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMax(t *testing.T) {
	coll := NewMap()
	max := coll.Int("maxcall")
	var wg sync.WaitGroup
	for i := int64(0); i < 100; i++ {
		wg.Add(1)
		go func(i int64) {
			defer wg.Done()
			max.Max(i)
		}(i)
	}
	wg.Wait()
	if got, want := max.Get(), int64(99); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	max.Max(3)
	if got, want := max.Get(), int64(99); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	var nilInt *Int
	nilInt.Max(5)
	if got, want := nilInt.Get(), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMerge(t *testing.T) {
	v := Values{"bytes": 10, "maxcall": 4}
	v.Merge(Values{"bytes": 5, "maxcall": 7, "calls": 2})
	v.Merge(Values{"maxcall": 1})
	if got, want := v.String(), "bytes:15 calls:2 maxcall:7"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestNilMap(t *testing.T) {
	var m *Map
	c := m.Int("calls")
	c.Add(1)
	c.Max(10)
	if got, want := c.Get(), int64(0); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

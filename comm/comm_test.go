// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/grailbio/base/errors"
)

var fatal = errors.E(errors.Fatal)

// runGroup runs fn on every member of an in-process group of size n
// and returns the per-rank errors.
func runGroup(n int, fn func(ctx context.Context, c Comm) error) []error {
	var (
		comms = Local(n)
		errs  = make([]error, n)
		wg    sync.WaitGroup
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	wg.Add(n)
	for i := range comms {
		go func(i int) {
			defer wg.Done()
			errs[i] = fn(ctx, comms[i])
		}(i)
	}
	wg.Wait()
	return errs
}

func TestLocalRanks(t *testing.T) {
	comms := Local(5)
	for i, c := range comms {
		if got, want := c.Rank(), i; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
		if got, want := c.Size(), 5; got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestScan(t *testing.T) {
	sizes := []int64{0, 500, 1024, 3000}
	prefixes := make([]int64, len(sizes))
	totals := make([]int64, len(sizes))
	errs := runGroup(len(sizes), func(ctx context.Context, c Comm) (err error) {
		prefixes[c.Rank()], totals[c.Rank()], err = Scan(ctx, c, sizes[c.Rank()])
		return
	})
	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if got, want := prefixes, []int64{0, 500, 1524, 4524}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	for _, total := range totals {
		if got, want := total, int64(4524); got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

func TestAllreduce(t *testing.T) {
	const N = 7
	var (
		maxes = make([]int64, N)
		sums  = make([]int64, N)
	)
	errs := runGroup(N, func(ctx context.Context, c Comm) (err error) {
		v := int64((c.Rank() * 5) % N)
		if maxes[c.Rank()], err = AllreduceMax(ctx, c, v); err != nil {
			return err
		}
		if err := Barrier(ctx, c); err != nil {
			return err
		}
		sums[c.Rank()], err = AllreduceSum(ctx, c, v)
		return err
	})
	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	for r := 0; r < N; r++ {
		if got, want := maxes[r], int64(N-1); got != want {
			t.Errorf("rank %d: got %v, want %v", r, got, want)
		}
		if got, want := sums[r], int64(N*(N-1)/2); got != want {
			t.Errorf("rank %d: got %v, want %v", r, got, want)
		}
	}
}

func TestManyRounds(t *testing.T) {
	const (
		N      = 4
		rounds = 1000
	)
	errs := runGroup(N, func(ctx context.Context, c Comm) error {
		for i := 0; i < rounds; i++ {
			max, err := AllreduceMax(ctx, c, int64(i+c.Rank()))
			if err != nil {
				return err
			}
			if want := int64(i + N - 1); max != want {
				return fmt.Errorf("round %d: got %v, want %v", i, max, want)
			}
		}
		return nil
	})
	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
}

func TestMismatch(t *testing.T) {
	errs := runGroup(2, func(ctx context.Context, c Comm) error {
		if c.Rank() == 0 {
			return Barrier(ctx, c)
		}
		_, err := AllreduceMax(ctx, c, 1)
		return err
	})
	for r, err := range errs {
		if err == nil {
			t.Fatalf("rank %d: expected error", r)
		}
		if !errors.Is(errors.Invalid, err) {
			t.Errorf("rank %d: unexpected error %v", r, err)
		}
	}
}

func TestAgree(t *testing.T) {
	failure := errors.New("open failed")
	errs := runGroup(4, func(ctx context.Context, c Comm) error {
		var err error
		if c.Rank() == 2 {
			err = failure
		}
		return Agree(ctx, c, "open", err)
	})
	for r, err := range errs {
		if err == nil {
			t.Fatalf("rank %d: expected error", r)
		}
		if !errors.Match(fatal, err) {
			t.Errorf("rank %d: expected fatal error, got %v", r, err)
		}
	}
	if got, want := errs[2].Error(), "open failed"; !strings.Contains(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
	if got, want := errs[0].Error(), "open failed on rank(s) [2]"; !strings.Contains(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
	errs = runGroup(3, func(ctx context.Context, c Comm) error {
		return Agree(ctx, c, "close", nil)
	})
	for _, err := range errs {
		if err != nil {
			t.Error(err)
		}
	}
}

func TestArrivalOrder(t *testing.T) {
	r := newRendezvous(3)
	ctx := context.Background()
	var (
		wg        sync.WaitGroup
		exchanges = make([]Exchange, 3)
	)
	arrive := func(rank int, value int64, k int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			x, err := r.exchange(ctx, rank, "shared", value)
			if err != nil {
				t.Error(err)
			}
			exchanges[rank] = x
		}()
		// Wait until the k-th contribution has landed. The round is
		// removed once the last one does.
		for {
			r.mu.Lock()
			rd := r.rounds[0]
			n := 0
			if rd != nil {
				n = len(rd.arrival)
			}
			r.mu.Unlock()
			if n >= k || k == 3 && rd == nil {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}
	arrive(2, 10, 1)
	arrive(0, 20, 2)
	arrive(1, 30, 3)
	wg.Wait()
	for rank, x := range exchanges {
		if got, want := x.Arrival, []int{2, 0, 1}; !reflect.DeepEqual(got, want) {
			t.Errorf("rank %d: got %v, want %v", rank, got, want)
		}
		if got, want := x.Values, []int64{20, 30, 10}; !reflect.DeepEqual(got, want) {
			t.Errorf("rank %d: got %v, want %v", rank, got, want)
		}
	}
	x := exchanges[0]
	for rank, want := range []int64{10, 30, 0} {
		if got := x.Before(rank); got != want {
			t.Errorf("rank %d: got %v, want %v", rank, got, want)
		}
	}
	if got, want := x.Sum(), int64(60); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRunCancel(t *testing.T) {
	failure := errors.New("worker failed")
	err := Run(context.Background(), 4, func(ctx context.Context, c Comm) error {
		if c.Rank() == 3 {
			return failure
		}
		// The remaining workers would wait forever without cancelation.
		return Barrier(ctx, c)
	})
	if got, want := err, failure; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestRankRange(t *testing.T) {
	r := newRendezvous(2)
	_, err := r.exchange(context.Background(), 2, "barrier", 0)
	if err == nil || !errors.Is(errors.Invalid, err) {
		t.Errorf("unexpected error %v", err)
	}
}

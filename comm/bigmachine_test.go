// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigmachine/testsystem"
	"golang.org/x/sync/errgroup"
)

func startCoordinator(t *testing.T) (*bigmachine.B, *bigmachine.Machine) {
	t.Helper()
	b := bigmachine.Start(testsystem.New())
	ctx := context.Background()
	machines, err := b.Start(ctx, 1, bigmachine.Services{ServiceName: &Coordinator{}})
	if err != nil {
		b.Shutdown()
		t.Fatal(err)
	}
	m := machines[0]
	<-m.Wait(bigmachine.Running)
	if err := m.Err(); err != nil {
		b.Shutdown()
		t.Fatal(err)
	}
	return b, m
}

func TestMachineComm(t *testing.T) {
	b, m := startCoordinator(t)
	defer b.Shutdown()

	const N = 3
	sizes := []int64{10, 0, 7}
	prefixes := make([]int64, N)
	maxes := make([]int64, N)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	for rank := 0; rank < N; rank++ {
		rank := rank
		g.Go(func() error {
			c, err := Dial(ctx, b, m.Addr, "test-group", rank, N)
			if err != nil {
				return err
			}
			if err := Barrier(ctx, c); err != nil {
				return err
			}
			if prefixes[rank], _, err = Scan(ctx, c, sizes[rank]); err != nil {
				return err
			}
			maxes[rank], err = AllreduceMax(ctx, c, sizes[rank])
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if got, want := prefixes, []int64{10, 10, 17}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := maxes, []int64{10, 10, 10}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if err := Release(context.Background(), m, "test-group"); err != nil {
		t.Fatal(err)
	}
}

func TestMachineCommSizeMismatch(t *testing.T) {
	b, m := startCoordinator(t)
	defer b.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// The first caller establishes a group of two; a caller that
	// believes the group has three members is rejected.
	c0, err := Dial(ctx, b, m.Addr, "mismatch", 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan error, 1)
	go func() {
		_, err := c0.Exchange(ctx, "barrier", 0)
		done <- err
	}()
	time.Sleep(100 * time.Millisecond)
	c1, err := Dial(ctx, b, m.Addr, "mismatch", 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c1.Exchange(ctx, "barrier", 0); err == nil {
		t.Error("expected error")
	}
	cancel()
	<-done
}

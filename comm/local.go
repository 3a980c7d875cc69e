// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// LocalComm is a group member whose peers run in the same process.
type localComm struct {
	rank int
	r    *rendezvous
}

// Local returns the n members of a new in-process group, indexed by
// rank. The members share nothing but the rendezvous; each is meant to
// be driven by its own goroutine.
func Local(n int) []Comm {
	if n <= 0 {
		panic("comm.Local: n <= 0")
	}
	r := newRendezvous(n)
	comms := make([]Comm, n)
	for i := range comms {
		comms[i] = &localComm{rank: i, r: r}
	}
	return comms
}

func (c *localComm) Rank() int { return c.rank }
func (c *localComm) Size() int { return c.r.size }

func (c *localComm) Exchange(ctx context.Context, op string, value int64) (Exchange, error) {
	return c.r.exchange(ctx, c.rank, op, value)
}

// Run forms an in-process group of n workers and invokes fn once per
// worker, each in its own goroutine. If any worker returns an error,
// the context passed to the others is canceled so that workers blocked
// in collectives return; Run returns the first error.
func Run(ctx context.Context, n int, fn func(ctx context.Context, c Comm) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range Local(n) {
		c := c
		g.Go(func() error { return fn(ctx, c) })
	}
	return g.Wait()
}

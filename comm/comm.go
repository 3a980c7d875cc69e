// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package comm implements the fixed worker group over which collective
// transfers are coordinated. A group has a static size; each member
// holds a Comm that identifies its rank and through which it takes
// part in collective operations.
//
// Every collective is built from a single primitive, Exchange: each
// worker contributes one int64 and receives all contributions, in rank
// order, together with the order in which they arrived. Collectives are
// matched by call count: the k-th collective call of every worker
// belongs to the same operation, and a worker that names a different
// operation than its peers fails the whole group. All calls block
// until the full group has arrived; there are no timeouts, so a stalled
// worker stalls the group until the caller's context is done.
package comm

import (
	"context"
	"fmt"

	"github.com/grailbio/base/errors"
)

// Comm is one worker's membership in a group.
type Comm interface {
	// Rank returns the worker's 0-based position in the group.
	Rank() int
	// Size returns the number of workers in the group.
	Size() int
	// Exchange contributes value to the worker's next collective
	// operation, named op, and returns once every worker in the
	// group has made its matching call.
	Exchange(ctx context.Context, op string, value int64) (Exchange, error)
}

// Exchange is the outcome of one collective exchange.
type Exchange struct {
	// Values holds each worker's contribution, indexed by rank.
	Values []int64
	// Arrival lists ranks in the order in which their contributions
	// reached the rendezvous.
	Arrival []int
}

// Before returns the sum of the contributions of the workers that
// arrived before rank.
func (e Exchange) Before(rank int) int64 {
	var n int64
	for _, r := range e.Arrival {
		if r == rank {
			break
		}
		n += e.Values[r]
	}
	return n
}

// Sum returns the sum of all contributions.
func (e Exchange) Sum() int64 {
	var n int64
	for _, v := range e.Values {
		n += v
	}
	return n
}

// Barrier blocks until every worker in the group has called Barrier.
func Barrier(ctx context.Context, c Comm) error {
	_, err := c.Exchange(ctx, "barrier", 0)
	return collectiveErr("barrier", err)
}

// AllreduceMax returns the maximum of value across the group. Every
// worker receives the same result.
func AllreduceMax(ctx context.Context, c Comm, value int64) (int64, error) {
	x, err := c.Exchange(ctx, "allreduce.max", value)
	if err != nil {
		return 0, collectiveErr("allreduce max", err)
	}
	max := x.Values[0]
	for _, v := range x.Values[1:] {
		if v > max {
			max = v
		}
	}
	return max, nil
}

// AllreduceSum returns the sum of value across the group. Every
// worker receives the same result.
func AllreduceSum(ctx context.Context, c Comm, value int64) (int64, error) {
	x, err := c.Exchange(ctx, "allreduce.sum", value)
	if err != nil {
		return 0, collectiveErr("allreduce sum", err)
	}
	return x.Sum(), nil
}

// Scan computes an inclusive prefix sum of value over the group in
// rank order: the worker with rank r receives the sum of the values
// contributed by ranks 0 through r. Scan also returns the group total.
func Scan(ctx context.Context, c Comm, value int64) (prefix, total int64, err error) {
	x, err := c.Exchange(ctx, "scan", value)
	if err != nil {
		return 0, 0, collectiveErr("scan", err)
	}
	for r, v := range x.Values {
		if r <= c.Rank() {
			prefix += v
		}
		total += v
	}
	return prefix, total, nil
}

// Agree is a collective error agreement for the operation op. Each
// worker contributes whether its local step failed. If any worker
// failed, every worker returns a fatal error: the failing workers
// return their own error, the others an error naming the failed
// ranks. Agree returns nil only if the step succeeded everywhere.
func Agree(ctx context.Context, c Comm, op string, err error) error {
	var failed int64
	if err != nil {
		failed = 1
	}
	x, xerr := c.Exchange(ctx, "agree "+op, failed)
	if xerr != nil {
		if err != nil {
			return errors.E(errors.Fatal, op, err)
		}
		return collectiveErr(op, xerr)
	}
	var ranks []int
	for r, v := range x.Values {
		if v != 0 {
			ranks = append(ranks, r)
		}
	}
	switch {
	case err != nil:
		return errors.E(errors.Fatal, op, err)
	case len(ranks) > 0:
		return errors.E(errors.Fatal, fmt.Sprintf("%s failed on rank(s) %v", op, ranks))
	}
	return nil
}

func collectiveErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.E(errors.Fatal, fmt.Sprintf("collective %s", op), err)
}

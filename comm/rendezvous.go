// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"context"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/bigio/ctxsync"
)

// A rendezvous matches the collective calls of a group of a fixed
// size. Calls are matched by per-rank sequence number.
type rendezvous struct {
	size int

	mu   sync.Mutex
	cond *ctxsync.Cond
	// seq is the sequence number of each rank's next call.
	seq []uint64
	// rounds holds the exchanges that have not yet been joined by
	// every rank.
	rounds map[uint64]*round
}

type round struct {
	op      string
	values  []int64
	arrival []int
	err     error
}

func newRendezvous(size int) *rendezvous {
	r := &rendezvous{
		size:   size,
		seq:    make([]uint64, size),
		rounds: make(map[uint64]*round),
	}
	r.cond = ctxsync.NewCond(&r.mu)
	return r
}

// Exchange contributes value on behalf of rank to its next collective
// call and waits until the whole group has joined the same call.
func (r *rendezvous) exchange(ctx context.Context, rank int, op string, value int64) (Exchange, error) {
	if rank < 0 || rank >= r.size {
		return Exchange{}, errors.E(errors.Invalid, errors.Fatal,
			fmt.Sprintf("rank %d out of range for group of size %d", rank, r.size))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	seq := r.seq[rank]
	r.seq[rank]++
	rd := r.rounds[seq]
	if rd == nil {
		rd = &round{
			op:      op,
			values:  make([]int64, r.size),
			arrival: make([]int, 0, r.size),
		}
		r.rounds[seq] = rd
	}
	if rd.op != op && rd.err == nil {
		rd.err = errors.E(errors.Invalid, errors.Fatal,
			fmt.Sprintf("collective mismatch at call %d: rank %d called %q, group called %q", seq, rank, op, rd.op))
		r.cond.Broadcast()
	}
	rd.values[rank] = value
	rd.arrival = append(rd.arrival, rank)
	if len(rd.arrival) == r.size {
		delete(r.rounds, seq)
		r.cond.Broadcast()
	}
	err := r.cond.WaitFor(ctx, func() bool {
		return rd.err != nil || len(rd.arrival) == r.size
	})
	if err != nil {
		return Exchange{}, err
	}
	if rd.err != nil {
		return Exchange{}, rd.err
	}
	x := Exchange{
		Values:  make([]int64, r.size),
		Arrival: make([]int, r.size),
	}
	copy(x.Values, rd.values)
	copy(x.Arrival, rd.arrival)
	return x, nil
}

// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package comm

import (
	"context"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmachine"
)

// ServiceName is the name under which the Coordinator service must be
// registered with bigmachine.
const ServiceName = "Comm"

func init() {
	gob.Register(&Coordinator{})
}

// Coordinator is a bigmachine service that hosts the rendezvous of
// groups whose members run on separate machines. One machine of a
// group hosts the coordinator; every member, including the host
// itself, reaches it through Dial. A coordinator may host any number
// of groups, each identified by a name chosen by the caller.
type Coordinator struct {
	// Exported just satisfies gob's persnickety nature: we need at least
	// one exported field.
	Exported struct{}

	mu     sync.Mutex
	groups map[string]*rendezvous
}

// Init implements bigmachine's service initialization.
func (c *Coordinator) Init(b *bigmachine.B) error {
	c.groups = make(map[string]*rendezvous)
	return nil
}

// ExchangeRequest is the argument to Coordinator.Exchange.
type ExchangeRequest struct {
	Group string
	Size  int
	Rank  int
	Op    string
	Value int64
}

func (c *Coordinator) group(name string, size int) (*rendezvous, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.groups == nil {
		c.groups = make(map[string]*rendezvous)
	}
	r := c.groups[name]
	if r == nil {
		if size <= 0 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("group %s: invalid size %d", name, size))
		}
		r = newRendezvous(size)
		c.groups[name] = r
		log.Debug.Printf("comm: group %s of size %d formed", name, size)
	}
	if r.size != size {
		return nil, errors.E(errors.Invalid, errors.Fatal,
			fmt.Sprintf("group %s: size %d does not match established size %d", name, size, r.size))
	}
	return r, nil
}

// Exchange joins the caller to its next collective exchange in the
// requested group.
func (c *Coordinator) Exchange(ctx context.Context, req ExchangeRequest, reply *Exchange) error {
	r, err := c.group(req.Group, req.Size)
	if err != nil {
		return err
	}
	*reply, err = r.exchange(ctx, req.Rank, req.Op, req.Value)
	return err
}

// Release discards the state of a group. Members must not use the
// group afterwards.
func (c *Coordinator) Release(ctx context.Context, group string, _ *struct{}) error {
	c.mu.Lock()
	delete(c.groups, group)
	c.mu.Unlock()
	return nil
}

// MachineComm is a group member that reaches its group's coordinator
// over bigmachine RPC.
type machineComm struct {
	group      string
	rank, size int
	machine    *bigmachine.Machine
}

// Dial returns the Comm of the worker with the provided rank in a
// group of the given size, whose coordinator is hosted on the machine
// at addr.
func Dial(ctx context.Context, b *bigmachine.B, addr, group string, rank, size int) (Comm, error) {
	if rank < 0 || rank >= size {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("rank %d out of range for group of size %d", rank, size))
	}
	m, err := b.Dial(ctx, addr)
	if err != nil {
		return nil, errors.E(errors.Fatal, fmt.Sprintf("dial coordinator %s", addr), err)
	}
	return &machineComm{group: group, rank: rank, size: size, machine: m}, nil
}

func (c *machineComm) Rank() int { return c.rank }
func (c *machineComm) Size() int { return c.size }

// Exchange is never retried: a collective call that was delivered
// cannot be safely reissued.
func (c *machineComm) Exchange(ctx context.Context, op string, value int64) (Exchange, error) {
	req := ExchangeRequest{
		Group: c.group,
		Size:  c.size,
		Rank:  c.rank,
		Op:    op,
		Value: value,
	}
	var reply Exchange
	if err := c.machine.Call(ctx, ServiceName+".Exchange", req, &reply); err != nil {
		return Exchange{}, err
	}
	return reply, nil
}

// Release discards the named group on the coordinator machine m.
func Release(ctx context.Context, m *bigmachine.Machine, group string) error {
	return m.Call(ctx, ServiceName+".Release", group, nil)
}

// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cluster

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"sync"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bigio/bench"
	"github.com/grailbio/bigio/comm"
	"github.com/grailbio/bigio/stats"
	"github.com/grailbio/bigmachine"
)

// benchServiceName is the name under which the benchmark service is
// registered on each machine.
const benchServiceName = "Bench"

func init() {
	gob.Register(&Bench{})
}

// Bench is the bigmachine service that runs the benchmark harness on
// a machine. Every machine in a session hosts one.
type Bench struct {
	// Exported just satisfies gob's persnickety nature: we need at least
	// one exported field.
	Exported struct{}

	b *bigmachine.B
}

// Init implements bigmachine's service initialization.
func (s *Bench) Init(b *bigmachine.B) error {
	s.b = b
	return nil
}

// RunRequest is the argument to Bench.Run.
type RunRequest struct {
	// Group names the group; it is unique to the run.
	Group string
	// Coordinator is the address of the machine hosting the group's
	// coordinator.
	Coordinator string
	// Rank and Size give the machine's position in the group.
	Rank, Size int
	Config     bench.Config
}

// RunReply is the reply of Bench.Run.
type RunReply struct {
	Reports []bench.Report
	// Output holds the output lines of the harness. It is only
	// populated on rank 0.
	Output string
	Stats  stats.Values
}

// Run joins the requested group and runs the benchmark harness as one
// of its members.
func (s *Bench) Run(ctx context.Context, req RunRequest, reply *RunReply) error {
	c, err := comm.Dial(ctx, s.b, req.Coordinator, req.Group, req.Rank, req.Size)
	if err != nil {
		return err
	}
	var (
		out bytes.Buffer
		h   = &bench.Harness{Comm: c, Config: req.Config, Output: &out, Stats: stats.NewMap()}
	)
	reply.Reports, err = h.Run(ctx)
	reply.Output = out.String()
	reply.Stats = h.Stats.Snapshot()
	return err
}

// startMachines starts n machines on b, each hosting the benchmark
// service and a group coordinator, and waits for all of them to be
// running. It fails if any machine fails to start.
func startMachines(ctx context.Context, b *bigmachine.B, st *status.Status, n int, params ...bigmachine.Param) ([]*bigmachine.Machine, error) {
	params = append([]bigmachine.Param{bigmachine.Services{
		benchServiceName: &Bench{},
		comm.ServiceName: &comm.Coordinator{},
	}}, params...)
	machines, err := b.Start(ctx, n, params...)
	if err != nil {
		return nil, errors.E("starting machines", err)
	}
	var group *status.Group
	if st != nil {
		group = st.Group("bigmachine")
	}
	var wg sync.WaitGroup
	errs := make([]error, len(machines))
	for i := range machines {
		i, m := i, machines[i]
		var task *status.Task
		if group != nil {
			task = group.Start()
			task.Print("waiting for machine to boot")
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-m.Wait(bigmachine.Running)
			errs[i] = m.Err()
			if task != nil {
				if errs[i] != nil {
					task.Printf("failed to start: %v", errs[i])
				} else {
					task.Title(m.Addr)
					task.Print("running")
				}
				task.Done()
			}
			if errs[i] != nil {
				log.Error.Printf("machine %s failed to start: %v", m.Addr, errs[i])
				return
			}
			log.Printf("machine %v is ready", m.Addr)
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			return nil, errors.E(fmt.Sprintf("machine %d (%s) failed to start", i, machines[i].Addr), err)
		}
	}
	if len(machines) != n {
		return nil, errors.E(fmt.Sprintf("started %d machines, need %d", len(machines), n))
	}
	return machines, nil
}

// runMachines runs the benchmark on the session's machines. Machine
// 0's coordinator hosts the group. If the call to any machine fails,
// the calls to the others are canceled.
func (s *Session) runMachines(ctx context.Context, id string, config bench.Config, group *status.Group) ([]bench.Report, []stats.Values, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var (
		coordinator = s.machines[0]
		replies     = make([]RunReply, len(s.machines))
	)
	err := traverse.Each(len(s.machines), func(i int) error {
		m := s.machines[i]
		if group != nil {
			task := group.Startf("rank %d: %s", i, m.Addr)
			defer task.Done()
		}
		req := RunRequest{
			Group:       id,
			Coordinator: coordinator.Addr,
			Rank:        i,
			Size:        len(s.machines),
			Config:      config,
		}
		if err := m.Call(ctx, benchServiceName+".Run", req, &replies[i]); err != nil {
			log.Error.Printf("cluster: run %s: rank %d (%s): %v", id, i, m.Addr, err)
			cancel()
			return err
		}
		return nil
	})
	if rerr := comm.Release(context.Background(), coordinator, id); rerr != nil {
		log.Error.Printf("cluster: run %s: release group: %v", id, rerr)
	}
	if s.output != nil && replies[0].Output != "" {
		io.WriteString(s.output, replies[0].Output)
	}
	snaps := make([]stats.Values, len(replies))
	for i := range replies {
		snaps[i] = replies[i].Stats
	}
	if err != nil {
		return nil, snaps, err
	}
	return replies[0].Reports, snaps, nil
}

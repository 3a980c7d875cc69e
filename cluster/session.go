// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package cluster forms the worker groups on which benchmarks run. A
// Session owns a fixed set of workers: goroutines in the current
// process, or bigmachine machines. Each call to Run forms a fresh
// group over the session's workers and runs the benchmark harness on
// every member.
package cluster

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigio/bench"
	"github.com/grailbio/bigio/stats"
	"github.com/grailbio/bigmachine"
)

// Session is a set of workers on which benchmarks are run.
//
// A session is started by Start. When the session is configured with a
// bigmachine system, Start launches additional copies of the binary;
// in these worker processes Start does not return.
//
//	func main() {
//		sess, err := cluster.Start(cluster.Local(8))
//		if err != nil {
//			log.Fatal(err)
//		}
//		defer sess.Shutdown()
//		reports, err := sess.Run(ctx, config)
//		...
//	}
type Session struct {
	workers int
	system  bigmachine.System
	params  []bigmachine.Param
	status  *status.Status
	output  io.Writer

	b        *bigmachine.B
	machines []*bigmachine.Machine

	mu    sync.Mutex
	stats stats.Values
}

func newSession() *Session {
	return &Session{output: os.Stdout}
}

// An Option represents a session configuration parameter value.
type Option func(s *Session)

// Local configures a session with n workers, each running in its own
// goroutine in the current process.
func Local(n int) Option {
	if n <= 0 {
		panic("cluster.Local: n <= 0")
	}
	return func(s *Session) {
		s.workers = n
		s.system = nil
	}
}

// Bigmachine configures a session with n workers, each a machine
// started on the provided bigmachine system. If any params are
// provided, they are applied to each machine.
func Bigmachine(system bigmachine.System, n int, params ...bigmachine.Param) Option {
	if n <= 0 {
		panic("cluster.Bigmachine: n <= 0")
	}
	return func(s *Session) {
		s.workers = n
		s.system = system
		s.params = params
	}
}

// Status configures the session with a status object to which
// run statuses are reported.
func Status(status *status.Status) Option {
	return func(s *Session) {
		s.status = status
	}
}

// Output configures the writer to which the benchmark's output lines
// are written. The default is standard output; a nil writer discards
// output.
func Output(w io.Writer) Option {
	return func(s *Session) {
		s.output = w
	}
}

// Start creates and starts a new session, configuring it according to
// the provided options. If no workers are configured, the session
// runs a single local worker. Start returns an error if the session's
// machines could not be started.
func Start(options ...Option) (*Session, error) {
	s := newSession()
	for _, opt := range options {
		opt(s)
	}
	if s.workers == 0 {
		s.workers = 1
	}
	if err := s.start(context.Background()); err != nil {
		s.Shutdown()
		return nil, err
	}
	return s, nil
}

func (s *Session) start(ctx context.Context) error {
	if s.system == nil {
		log.Printf("cluster: %d local workers", s.workers)
		return nil
	}
	s.b = bigmachine.Start(s.system)
	var err error
	s.machines, err = startMachines(ctx, s.b, s.status, s.workers, s.params...)
	return err
}

// Workers returns the number of workers in the session.
func (s *Session) Workers() int {
	return s.workers
}

// Run runs the benchmark described by config on a new group formed
// from all of the session's workers. It returns the reports of the
// worker with rank 0, and fails if the benchmark failed on any
// worker. Calls to Run must not be concurrent.
func (s *Session) Run(ctx context.Context, config bench.Config) ([]bench.Report, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	id := uuid.New().String()
	var group *status.Group
	if s.status != nil {
		group = s.status.Groupf("bigio run %s", id)
	}
	log.Debug.Printf("cluster: run %s: %s", id, config)
	var (
		reports []bench.Report
		snaps   []stats.Values
		err     error
	)
	if s.b == nil {
		reports, snaps, err = s.runLocal(ctx, config, group)
	} else {
		reports, snaps, err = s.runMachines(ctx, id, config, group)
	}
	merged := make(stats.Values)
	for _, snap := range snaps {
		merged.Merge(snap)
	}
	s.mu.Lock()
	s.stats = merged
	s.mu.Unlock()
	log.Printf("cluster: run %s: %s", id, merged)
	if err != nil {
		return nil, err
	}
	return reports, nil
}

// Stats returns the transfer counters of the most recent run, summed
// over all workers.
func (s *Session) Stats() stats.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.Copy()
}

// Shutdown tears down resources associated with this session.
// It should be called when the session is discarded.
func (s *Session) Shutdown() {
	if s.b != nil {
		s.b.Shutdown()
	}
}

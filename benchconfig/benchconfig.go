// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package benchconfig provides a mechanism to create a benchmark
// session from a shared configuration. Benchconfig uses the
// configuration mechanism in package
// github.com/grailbio/base/config, and reads a default profile from
// $HOME/.bigio/config.
package benchconfig

import (
	"flag"
	"os"

	"github.com/grailbio/base/config"
	"github.com/grailbio/base/must"

	// Used to provide ec2system.System bigmachines.
	_ "github.com/grailbio/bigmachine/ec2system"
	"github.com/grailbio/bigio/cluster"
)

// Path determines the location of the benchmark profile read
// by Parse.
var Path = os.ExpandEnv("$HOME/.bigio/config")

// Parse registers configuration flags and calls flag.Parse. It reads
// the benchmark configuration from Path defined in this package.
// Parse returns the session as configured by the configuration and
// any flags provided, together with a function that shuts it down.
// Parse panics if session creation fails.
func Parse() (sess *cluster.Session, shutdown func()) {
	config.RegisterFlags("", Path)
	flag.Parse()
	must.Nil(config.ProcessFlags())
	config.Must("bigio", &sess)
	return sess, sess.Shutdown
}

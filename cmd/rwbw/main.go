// Copyright 2019 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Command rwbw measures the bandwidth a group of workers achieves when
// collectively writing or reading one large shared file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws/session"
	units "github.com/docker/go-units"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/file/s3file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/must"
	"github.com/grailbio/bigio/bench"
	"github.com/grailbio/bigio/benchconfig"
)

func init() {
	file.RegisterImplementation("s3", func() file.Implementation {
		return s3file.NewImplementation(
			s3file.NewDefaultProvider(session.Options{}), s3file.Options{})
	})
}

// sizeFlag is a byte count that accepts human-readable sizes such as
// "64G" or "512MiB".
type sizeFlag int64

func (s *sizeFlag) Set(v string) error {
	n, err := units.RAMInBytes(v)
	if err != nil {
		return errors.E(errors.Invalid, fmt.Sprintf("invalid size %q", v), err)
	}
	if n <= 0 {
		return errors.E(errors.Invalid, fmt.Sprintf("size %q must be positive", v))
	}
	*s = sizeFlag(n)
	return nil
}

func (s *sizeFlag) String() string {
	return units.BytesSize(float64(*s))
}

func main() {
	log.AddFlags()
	must.Func = log.Fatal
	config := bench.DefaultConfig
	var (
		size = sizeFlag(config.DatasetSize)
		unit = sizeFlag(config.UnitSize)
	)
	flag.Var(&size, "size", "total number of bytes transferred by the group in each trial")
	flag.StringVar(&config.PathPrefix, "prefix", config.PathPrefix, "prefix prepended to the benchmark's file names")
	flag.IntVar(&config.Repeat, "repeat", config.Repeat, "number of trials")
	flag.Var(&config.Op, "op", "operation to measure: read, write or writeread")
	flag.Var(&config.Discipline, "discipline", "file access discipline: shared, explicit or independent")
	flag.Var(&config.Hints, "hints", "comma-separated key=value filesystem hints, merged into the defaults")
	flag.Var(&unit, "unit", "maximum number of bytes moved by a worker in one transfer round")
	flag.BoolVar(&config.Verify, "verify", false, "verify the data read against the data written")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `usage: rwbw [flags]

Command rwbw runs a collective shared-file bandwidth benchmark. The
dataset is divided evenly across the workers of the group configured
by the bigio profile; each trial transfers the whole dataset between
the workers' memory and a shared file, and the achieved bandwidth is
reported in MB/s.

Flags:
`)
		flag.PrintDefaults()
		os.Exit(2)
	}
	sess, shutdown := benchconfig.Parse()
	if flag.NArg() != 0 {
		flag.Usage()
	}
	config.DatasetSize = int64(size)
	config.UnitSize = int64(unit)
	_, err := sess.Run(context.Background(), config)
	shutdown()
	must.Nil(err)
}

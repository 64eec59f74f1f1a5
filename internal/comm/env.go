// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package comm

import (
	"os"
	"strconv"
)

// Environment set by the utrun launcher for every rank it spawns.
const (
	EnvRank    = "UT_RANK"
	EnvSize    = "UT_WORLD_SIZE"
	EnvSession = "UT_SESSION"
	EnvAddr    = "UT_COORD_ADDR"
)

// Process-count variables advertised by launchers we recognize but were not
// started by. Only consulted for size discovery, never for joining.
var foreignSizeEnvs = []string{
	"OMPI_COMM_WORLD_SIZE", // OpenMPI
	"PMI_SIZE",             // Intel MPI, MPICH
	"SLURM_NTASKS",         // SLURM
}

// FromEnv reads the utrun launcher environment. ok is false when this
// process was not started by utrun, in which case the caller should fall
// back to an ordinary single-process run. A present but malformed
// environment is an EnvironmentError.
func FromEnv() (opts Options, ok bool, err error) {
	session := os.Getenv(EnvSession)
	if session == "" {
		return Options{}, false, nil
	}
	rank, err := strconv.Atoi(os.Getenv(EnvRank))
	if err != nil {
		return Options{}, false, envErrorf(err, "bad %s", EnvRank)
	}
	size, err := strconv.Atoi(os.Getenv(EnvSize))
	if err != nil {
		return Options{}, false, envErrorf(err, "bad %s", EnvSize)
	}
	opts = Options{
		Rank:    rank,
		Size:    size,
		Addr:    os.Getenv(EnvAddr),
		Session: session,
	}
	if err := opts.validate(); err != nil {
		return Options{}, false, err
	}
	return opts, true, nil
}

// DetectLaunchSize returns the process count advertised by the environment,
// or 0 when no recognized launcher is present. It is usable before group
// formation, which is what makes it suitable for deciding whether to take
// the distributed path at all.
func DetectLaunchSize() int {
	if s := os.Getenv(EnvSize); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	for _, key := range foreignSizeEnvs {
		if s := os.Getenv(key); s != "" {
			if n, err := strconv.Atoi(s); err == nil && n > 0 {
				return n
			}
		}
	}
	return 0
}

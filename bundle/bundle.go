// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package bundle implements the runtime of group-test executables.
//
// A test executable's main function registers tests via grouptest.AddTest
// (typically through package init functions) and then hands control to Main.
// When the executable was started by the utrun launcher, Main joins the
// process group described by the environment; otherwise it runs the catalog
// as a single-process group.
package bundle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/jkammerland/ut/errors"
	"github.com/jkammerland/ut/grouptest"
	"github.com/jkammerland/ut/internal/comm"
	"github.com/jkammerland/ut/internal/command"
	"github.com/jkammerland/ut/internal/control"
)

const (
	statusSuccess     = 0 // all executed tests passed on the whole group
	statusError       = 1 // unclassified runtime error was encountered
	statusBadArgs     = 2 // bad command-line flags or other args were supplied
	statusBadTests    = 3 // errors in test registration (bad names, missing test functions, etc.)
	statusBadPatterns = 4 // one or more bad test patterns were passed to the bundle
	statusNoTests     = 5 // no tests were matched by the supplied patterns
	statusTestFailed  = 6 // at least one test's summed failure count was nonzero
	statusEnvError    = 7 // the process group could not be formed or operated
)

// Main runs the registered group tests per the supplied command line and
// returns the status code the executable should exit with. Every rank of
// the group computes the same status.
func Main(clArgs []string, stdout, stderr io.Writer) int {
	return run(context.Background(), clArgs, stdout, stderr, &Args{})
}

// run performs the requested action. Split from Main so tests can drive it
// with canned args and environments.
func run(ctx context.Context, clArgs []string, stdout, stderr io.Writer, args *Args) int {
	if err := readArgs(clArgs, stderr, args); err != nil {
		return command.WriteError(stderr, err)
	}

	if errs := grouptest.RegistrationErrors(); len(errs) > 0 {
		es := make([]string, len(errs))
		for i, err := range errs {
			es[i] = err.Error()
		}
		err := command.NewStatusErrorf(statusBadTests, "error(s) in registered tests: %v", strings.Join(es, ", "))
		return command.WriteError(stderr, err)
	}

	tests, err := grouptest.GlobalRegistry().TestsForPatterns(args.Patterns)
	if err != nil {
		return command.WriteError(stderr, command.NewStatusErrorf(statusBadPatterns, "failed getting tests: %v", err))
	}

	if args.ListTests {
		if err := grouptest.WriteTestsAsJSON(stdout, tests); err != nil {
			return command.WriteError(stderr, err)
		}
		return statusSuccess
	}

	if len(tests) == 0 {
		return command.WriteError(stderr, command.NewStatusErrorf(statusNoTests, "no tests matched by pattern(s)"))
	}

	// Every rank reaches this point with the identical test list, so the
	// skip decisions and the final status come out the same everywhere.
	opts, launched, err := comm.FromEnv()
	if err != nil {
		return command.WriteError(stderr, command.NewStatusErrorf(statusEnvError, "bad launcher environment: %v", err))
	}
	if !launched {
		opts = comm.Options{Rank: 0, Size: 1}
	}
	group, err := comm.Join(ctx, opts)
	if err != nil {
		return command.WriteError(stderr, command.NewStatusErrorf(statusEnvError, "failed to join process group: %v", err))
	}
	defer group.Close()

	return runTests(ctx, stdout, args, group, tests)
}

// runTests runs tests in catalog order and reports events to the
// coordinator's sink.
func runTests(ctx context.Context, stdout io.Writer, args *Args, group *comm.Group, tests []*grouptest.Test) int {
	var snk sink = nopSink{}
	if group.Rank() == 0 {
		switch args.Report {
		case controlReport:
			mw := control.NewMessageWriter(stdout)
			hbw := control.NewHeartbeatWriter(mw, args.HeartbeatInterval, clock.NewClock())
			defer hbw.Stop()
			snk = newControlSink(mw)
		default:
			snk = newConsoleSink(stdout)
		}
	}

	names := make([]string, len(tests))
	for i, t := range tests {
		names[i] = t.Name
	}
	snk.RunStart(names, group.Size())

	failed := 0
	for i, t := range tests {
		total, err := runTest(ctx, group, t, i, snk, args.TestTimeout)
		if err != nil {
			// The group is wedged; report and bail out. The launcher's
			// watchdog reaps the other ranks.
			e := grouptest.NewError(err, fmt.Sprintf("group failure in %s: %v", t.Name, err), err.Error(), 0)
			snk.RunError(e, statusEnvError)
			return statusEnvError
		}
		if total > 0 {
			failed++
		}
	}

	snk.RunEnd()
	if failed > 0 {
		return statusTestFailed
	}
	return statusSuccess
}

// recorder accumulates this rank's failure records for one test. The body
// goroutine (via the output copier) and the wrapper both append to it.
type recorder struct {
	mu   sync.Mutex
	errs []*grouptest.Error
}

func (r *recorder) add(e *grouptest.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, e)
}

func (r *recorder) snapshot() []*grouptest.Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*grouptest.Error(nil), r.errs...)
}

// runTest runs one test on this rank and performs the post-body collective
// phase: the sum reduction of per-rank failure counts and, when the group
// total is nonzero, the ascending-rank gather of failure details. round is
// the test's catalog index, which keys the gather so that traffic from one
// test can never satisfy another's.
//
// The returned total is the group verdict (identical on every rank). A
// non-nil error means the group itself failed and the run cannot continue.
func runTest(ctx context.Context, group *comm.Group, t *grouptest.Test, round int, snk sink, defTimeout time.Duration) (total int, err error) {
	// The skip decision is a pure function of values identical on every
	// rank, so no communication is needed to agree on it.
	if group.Size() < t.MinProcs {
		snk.TestStart(t)
		snk.TestEnd(t, fmt.Sprintf("test requires %d processes, group has %d", t.MinProcs, group.Size()), 0, 0)
		return 0, nil
	}

	snk.TestStart(t)
	start := time.Now()

	rec := &recorder{}
	ch := make(chan grouptest.Output)
	copierDone := make(chan struct{})
	go func() {
		defer close(copierDone)
		for o := range ch {
			if o.Err != nil {
				rec.add(o.Err)
				// Coordinator errors reach the report as they occur, which
				// puts rank 0's records ahead of the gathered ones.
				snk.TestError(o.T, t.Name, group.Rank(), o.Err)
			} else {
				snk.TestLog(o.T, o.Msg)
			}
		}
	}()

	if ok := t.Run(ctx, group, ch, defTimeout); ok {
		<-copierDone
	} else {
		// The body ignored its deadline and is still running. Record the
		// failure and carry on into the collective phase regardless: the
		// other ranks are already blocked there.
		e := grouptest.NewError(nil, fmt.Sprintf("%s ignored timeout and is still running", t.Name), "ignored timeout", 0)
		rec.add(e)
		snk.TestError(time.Now(), t.Name, group.Rank(), e)
	}

	local := rec.snapshot()
	total, err = group.AllReduceSum(ctx, len(local))
	if err != nil {
		return 0, err
	}

	if total > 0 {
		if err := collectDetails(ctx, group, t.Name, round, local, snk); err != nil {
			return 0, err
		}
	}

	snk.TestEnd(t, "", total, time.Since(start))
	return total, nil
}

// collectDetails moves every rank's failure records to the coordinator.
// Ranks with nothing to report contribute a zero-length payload, which is
// what lets the coordinator wait on each rank in ascending order without
// knowing in advance which ranks failed. The coordinator's own records are
// not resent; they were already reported as they occurred.
func collectDetails(ctx context.Context, group *comm.Group, name string, round int, local []*grouptest.Error, snk sink) error {
	var payload []byte
	if group.Rank() != 0 && len(local) > 0 {
		var err error
		if payload, err = json.Marshal(local); err != nil {
			return err
		}
	}

	gathered, err := group.Gather(ctx, round, payload)
	if err != nil {
		return err
	}
	if group.Rank() != 0 {
		return nil
	}

	for r := 1; r < group.Size(); r++ {
		if len(gathered[r]) == 0 {
			continue
		}
		var errs []*grouptest.Error
		if err := json.Unmarshal(gathered[r], &errs); err != nil {
			return errors.Wrapf(err, "malformed failure records from rank %d", r)
		}
		for _, e := range errs {
			snk.TestError(time.Now(), name, r, e)
		}
	}
	return nil
}

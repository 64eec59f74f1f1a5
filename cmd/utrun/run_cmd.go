// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/subcommands"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jkammerland/ut/internal/command"
	"github.com/jkammerland/ut/internal/comm"
	"github.com/jkammerland/ut/internal/control"
	"github.com/jkammerland/ut/internal/logging"
	"github.com/jkammerland/ut/internal/shutil"
)

const (
	baseResultsDir       = "/tmp/utrun/results" // base directory under which results are written
	latestResultsSymlink = "latest"             // symlink in baseResultsDir pointing at latest results

	coordSocketName = "ut.sock" // unix socket the group forms over

	// defaultStallTimeout aborts a run when the coordinator stops sending
	// messages for this long. Bundles heartbeat once a second, so a stall
	// means the group is wedged, not slow.
	defaultStallTimeout = 30 * time.Second
)

// runCmd implements subcommands.Command to support running group tests.
type runCmd struct {
	procs        int           // group size to launch; 0 means choose automatically
	resDir       string        // directory results are written to
	stallTimeout time.Duration // watchdog timeout for the control stream
}

var _ = subcommands.Command(&runCmd{})

func newRunCmd() *runCmd { return &runCmd{} }

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "run group tests" }
func (*runCmd) Usage() string {
	return `run [flag]... <executable> [pattern]...:
	Launches a process group running the bundle executable and reports
	the consolidated results.
`
}

func (r *runCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&r.procs, "procs", 0, "number of processes to launch (0 to choose automatically)")
	f.StringVar(&r.resDir, "resdir", "", "directory where test results are written")
	f.Var(command.NewDurationFlag(time.Second, &r.stallTimeout, defaultStallTimeout),
		"stalltimeout", "seconds without coordinator output before the run is aborted")
}

// chooseProcs resolves the group size: the -procs flag wins, then the config
// file, then an automatic choice.
func chooseProcs(flagProcs int, cfg *config) int {
	if flagProcs > 0 {
		return flagProcs
	}
	if cfg.Procs > 0 {
		return cfg.Procs
	}
	return defaultProcs()
}

// rankEnv returns the environment for one rank, extending base with the
// variables a bundle reads at startup.
func rankEnv(base []string, rank, procs int, session, addr string) []string {
	return append(base[:len(base):len(base)],
		fmt.Sprintf("%s=%d", comm.EnvRank, rank),
		fmt.Sprintf("%s=%d", comm.EnvSize, procs),
		fmt.Sprintf("%s=%s", comm.EnvSession, session),
		fmt.Sprintf("%s=%s", comm.EnvAddr, addr))
}

func (r *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	lg, ok := logging.FromContext(ctx)
	if !ok {
		lg = logging.NewDiscard()
	}

	if len(f.Args()) == 0 {
		lg.Log("Missing executable.\n\n" + r.Usage())
		return subcommands.ExitUsageError
	}
	exe := f.Args()[0]
	patterns := f.Args()[1:]

	cfg, err := loadConfig(configName)
	if err != nil {
		lg.Logf("Failed to read %s: %v", configName, err)
		return subcommands.ExitFailure
	}

	procs := chooseProcs(r.procs, cfg)

	resDir := r.resDir
	if resDir == "" {
		resDir = cfg.ResDir
	}
	if resDir == "" {
		resDir = filepath.Join(baseResultsDir, time.Now().Format("20060102-150405"))

		link := filepath.Join(baseResultsDir, latestResultsSymlink)
		if err := os.MkdirAll(baseResultsDir, 0755); err == nil {
			os.Remove(link)
			if err := os.Symlink(filepath.Base(resDir), link); err != nil {
				lg.Log("Failed to create results symlink: ", err)
			}
		}
	}
	if err := os.MkdirAll(resDir, 0755); err != nil {
		lg.Log(err)
		return subcommands.ExitFailure
	}
	lg.Log("Writing results to ", resDir)

	sockDir, err := ioutil.TempDir("", "utrun.")
	if err != nil {
		lg.Log(err)
		return subcommands.ExitFailure
	}
	defer os.RemoveAll(sockDir)
	addr := filepath.Join(sockDir, coordSocketName)
	session := uuid.New().String()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bundleArgs := append([]string{"-report=control"}, patterns...)
	lg.Debugf("Launching %d rank(s) of %s (session %s)", procs,
		shutil.EscapeSlice(append([]string{exe}, bundleArgs...)), session)
	base := os.Environ()

	// Ranks are not canceled when a sibling exits nonzero: test failures
	// are ordinary exits, and a crashed rank already surfaces on the
	// others as a lost-connection error that ends the run.
	var coordOut *os.File
	var g errgroup.Group
	for rank := 0; rank < procs; rank++ {
		logFile, err := os.Create(filepath.Join(resDir, fmt.Sprintf("rank%d.log", rank)))
		if err != nil {
			lg.Log(err)
			cancel()
			g.Wait()
			return subcommands.ExitFailure
		}
		defer logFile.Close()

		cmd := exec.CommandContext(ctx, exe, bundleArgs...)
		cmd.Env = rankEnv(base, rank, procs, session, addr)
		cmd.Stderr = logFile
		if rank == 0 {
			// The coordinator's stdout carries the control stream.
			pr, pw, err := os.Pipe()
			if err != nil {
				lg.Log(err)
				cancel()
				g.Wait()
				return subcommands.ExitFailure
			}
			coordOut = pr
			cmd.Stdout = pw
			defer pw.Close()

			g.Go(func() error {
				defer pw.Close()
				return cmd.Run()
			})
			continue
		}
		cmd.Stdout = logFile
		g.Go(func() error { return cmd.Run() })
	}

	proc := newStreamProcessor(lg)
	mr := control.NewMessageReader(coordOut)
	stalled, readErr := consumeStream(mr, proc, clock.NewClock(), r.stallTimeout, func() {
		lg.Logf("No coordinator output for %v; aborting run", r.stallTimeout)
		cancel()
	})
	coordOut.Close()

	procErr := g.Wait()

	if len(proc.results) > 0 {
		if err := writeResults(resDir, proc.results); err != nil {
			lg.Log("Failed to write results: ", err)
		}
	}

	passed, failed, skipped := proc.counts()
	lg.Logf("%d passed, %d failed, %d skipped", passed, failed, skipped)

	switch {
	case stalled:
		return subcommands.ExitFailure
	case readErr != nil:
		lg.Log("Failed to read control stream: ", readErr)
		return subcommands.ExitFailure
	case proc.runErr != nil:
		return subcommands.ExitFailure
	case procErr != nil:
		// Nonzero bundle exits land here too; test failures were already
		// reported per test.
		lg.Debug("Process group: ", procErr)
		return subcommands.ExitFailure
	case !proc.sawRunEnd:
		lg.Log("Control stream ended without a run summary")
		return subcommands.ExitFailure
	case failed > 0:
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

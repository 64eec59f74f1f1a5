// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package bundle

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/jkammerland/ut/internal/command"
)

// reportMode describes where a coordinator rank sends run events.
type reportMode int

const (
	// consoleReport renders human-readable lines, for running a test
	// executable directly.
	consoleReport reportMode = iota
	// controlReport emits the JSON control-message stream consumed by the
	// utrun launcher.
	controlReport
)

const (
	defaultTestTimeout       = 2 * time.Minute
	defaultHeartbeatInterval = time.Second
)

// Args holds the parsed command line of a test executable.
type Args struct {
	// ListTests requests the catalog as JSON instead of a run.
	ListTests bool
	// Report selects the event output format on the coordinator.
	Report reportMode
	// TestTimeout bounds each test body whose Test.Timeout is unset.
	TestTimeout time.Duration
	// HeartbeatInterval is the interval between heartbeat control messages.
	// Non-positive disables them. Only meaningful with controlReport.
	HeartbeatInterval time.Duration
	// Patterns restricts the run to tests whose names match any pattern.
	// Empty means all registered tests.
	Patterns []string
}

// readArgs parses clArgs into args. The returned error is a
// *command.StatusError on bad flags.
func readArgs(clArgs []string, stderr io.Writer, args *Args) error {
	flags := flag.NewFlagSet("", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprintf(stderr, "Usage: %s [flag]... [pattern]...\n\n"+
			"Runs group tests registered in this executable.\n\n",
			flags.Name())
		flags.PrintDefaults()
	}

	flags.BoolVar(&args.ListTests, "list", false, "print registered tests as JSON and exit")
	report := command.NewEnumFlag(
		map[string]int{"console": int(consoleReport), "control": int(controlReport)},
		func(v int) { args.Report = reportMode(v) },
		"console")
	flags.Var(report, "report", fmt.Sprintf("event output format (%s)", report.QuotedValues()))
	flags.Var(command.NewDurationFlag(time.Second, &args.TestTimeout, defaultTestTimeout),
		"timeout", "default per-test timeout in seconds")
	flags.Var(command.NewDurationFlag(time.Second, &args.HeartbeatInterval, defaultHeartbeatInterval),
		"heartbeat", "heartbeat interval in seconds (0 disables)")

	if err := flags.Parse(clArgs); err != nil {
		return command.NewStatusErrorf(statusBadArgs, "%v", err)
	}
	args.Patterns = flags.Args()
	return nil
}

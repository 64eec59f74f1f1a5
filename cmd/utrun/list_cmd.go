// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os/exec"

	"github.com/google/subcommands"

	"github.com/jkammerland/ut/grouptest"
	"github.com/jkammerland/ut/internal/logging"
)

// listCmd implements subcommands.Command to support listing tests.
type listCmd struct {
	json bool      // print the bundle's JSON instead of just names
	out  io.Writer // where to print tests
}

var _ = subcommands.Command(&listCmd{})

func newListCmd(out io.Writer) *listCmd {
	return &listCmd{out: out}
}

func (*listCmd) Name() string     { return "list" }
func (*listCmd) Synopsis() string { return "list tests" }
func (*listCmd) Usage() string {
	return `list [flag]... <executable> [pattern]...:
	Lists tests in the bundle executable matched by zero or more patterns.
`
}

func (lc *listCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&lc.json, "json", false, "print full test details as JSON")
}

func (lc *listCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	lg, ok := logging.FromContext(ctx)
	if !ok {
		lg = logging.NewDiscard()
	}

	if len(f.Args()) == 0 {
		lg.Log("Missing executable.\n\n" + lc.Usage())
		return subcommands.ExitUsageError
	}

	args := append([]string{"-list"}, f.Args()[1:]...)
	cmd := exec.CommandContext(ctx, f.Args()[0], args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	b, err := cmd.Output()
	if err != nil {
		lg.Log("Failed to list tests: ", err)
		if stderr.Len() > 0 {
			lg.Log(stderr.String())
		}
		return subcommands.ExitFailure
	}

	if lc.json {
		lc.out.Write(b)
		return subcommands.ExitSuccess
	}

	var tests []*grouptest.Test
	if err := json.Unmarshal(b, &tests); err != nil {
		lg.Log("Failed to parse test list: ", err)
		return subcommands.ExitFailure
	}
	for _, t := range tests {
		fmt.Fprintln(lc.out, t.Name)
	}
	return subcommands.ExitSuccess
}

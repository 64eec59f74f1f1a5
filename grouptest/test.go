// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package grouptest provides infrastructure used by group tests.
//
// A group test runs simultaneously on every rank of a fixed-size process
// group. Its verdict is collective: the failure counts of all ranks are
// summed after the body returns, and the test passes only if the total is
// zero. Tests register themselves at module load time via AddTest and are
// executed by a bundle executable under the utrun launcher.
package grouptest

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/jkammerland/ut/errors"
)

// TestFunc is the code associated with a test. It runs on every rank.
type TestFunc func(context.Context, *State)

// Test contains information about a group test and its code itself.
//
// While this struct can be marshaled to a JSON object, note that unmarshaling
// that object will not yield a runnable Test struct; Func will not be present.
type Test struct {
	// Name identifies the test. Tests run in registration order, and
	// duplicate names are permitted.
	Name string `json:"name"`
	// Func is the function executed on every participating rank.
	Func TestFunc `json:"-"`
	// MinProcs is the smallest group size the test is meaningful for.
	// When the actual group is smaller, every rank skips the test.
	// Zero means 1.
	MinProcs int `json:"minProcs"`
	// Timeout bounds the test body's context. Zero means the bundle default.
	Timeout time.Duration `json:"timeout"`
}

func (t *Test) clone() *Test {
	tc := *t
	return &tc
}

func (t *Test) String() string {
	return t.Name
}

// validate checks fields that registration must reject and fills defaults.
func (t *Test) validate() error {
	if t.Name == "" {
		return errors.New("test has no name")
	}
	if t.Func == nil {
		return errors.Errorf("%q has no function", t.Name)
	}
	if t.MinProcs < 0 {
		return errors.Errorf("%q has negative MinProcs %d", t.Name, t.MinProcs)
	}
	if t.MinProcs == 0 {
		t.MinProcs = 1
	}
	if t.Timeout < 0 {
		return errors.Errorf("%q has negative timeout %v", t.Name, t.Timeout)
	}
	return nil
}

// WriteTestsAsJSON marshals ts to JSON and writes the resulting data to w.
func WriteTestsAsJSON(w io.Writer, ts []*Test) error {
	b, err := json.MarshalIndent(ts, "", "  ")
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package grouptest

import (
	"context"
	"strings"
	gotesting "testing"
	"time"
)

func TestRunSuccess(t *gotesting.T) {
	ran := false
	test := &Test{Func: func(context.Context, *State) { ran = true }}
	or := newOutputReader()
	if ok := test.Run(context.Background(), soloGroup(t), or.ch, time.Minute); !ok {
		t.Error("Run() reported timeout for well-behaved test")
	}
	if !ran {
		t.Error("Test body never ran")
	}
	if errs := getOutputErrors(or.read()); len(errs) != 0 {
		t.Errorf("Got unexpected error(s) for test: %v", errs)
	}
}

func TestRunPanic(t *gotesting.T) {
	test := &Test{Func: func(context.Context, *State) { panic("intentional panic") }}
	or := newOutputReader()
	test.Run(context.Background(), soloGroup(t), or.ch, time.Minute)
	errs := getOutputErrors(or.read())
	if len(errs) != 1 {
		t.Fatalf("Got %v error(s) for panicking test; want 1", len(errs))
	}
	if exp := "Panic: intentional panic"; errs[0].Reason != exp {
		t.Errorf("Got reason %q; want %q", errs[0].Reason, exp)
	}
}

func TestRunFatal(t *gotesting.T) {
	reached := false
	test := &Test{Func: func(ctx context.Context, s *State) {
		s.Fatal("fatal msg")
		reached = true
	}}
	or := newOutputReader()
	if ok := test.Run(context.Background(), soloGroup(t), or.ch, time.Minute); !ok {
		t.Error("Run() reported timeout for fatal test")
	}
	if reached {
		t.Error("Test continued after Fatal")
	}
	errs := getOutputErrors(or.read())
	if len(errs) != 1 {
		t.Fatalf("Got %v error(s); want 1", len(errs))
	}
	if exp := "fatal msg"; errs[0].Reason != exp {
		t.Errorf("Got reason %q; want %q", errs[0].Reason, exp)
	}
}

func TestRunErrorContinues(t *gotesting.T) {
	test := &Test{Func: func(ctx context.Context, s *State) {
		s.Error("first")
		s.Error("second")
	}}
	or := newOutputReader()
	test.Run(context.Background(), soloGroup(t), or.ch, time.Minute)
	errs := getOutputErrors(or.read())
	if len(errs) != 2 {
		t.Fatalf("Got %v error(s); want 2", len(errs))
	}
}

func TestRunDeadline(t *gotesting.T) {
	f := func(ctx context.Context, s *State) {
		// Wait for the context to report that the deadline has been hit.
		<-ctx.Done()
		s.Error("Saw timeout within test")
	}
	test := &Test{Func: f, Timeout: time.Millisecond}
	or := newOutputReader()
	if ok := test.Run(context.Background(), soloGroup(t), or.ch, time.Minute); !ok {
		t.Error("Run() reported timeout for test that returned after its deadline")
	}
	// The error that was reported by the test after its deadline was hit
	// but within the exit delay should be available.
	if errs := getOutputErrors(or.read()); len(errs) != 1 {
		t.Errorf("Got %v error(s) for timed-out test; want 1", len(errs))
	}
}

func TestRunDefaultTimeout(t *gotesting.T) {
	var deadlineSet bool
	test := &Test{Func: func(ctx context.Context, s *State) {
		_, deadlineSet = ctx.Deadline()
	}}
	or := newOutputReader()
	test.Run(context.Background(), soloGroup(t), or.ch, time.Minute)
	or.read()
	if !deadlineSet {
		t.Error("Test context has no deadline despite default timeout")
	}
}

func TestRunPanicStack(t *gotesting.T) {
	test := &Test{Func: func(context.Context, *State) { panic("boom") }}
	or := newOutputReader()
	test.Run(context.Background(), soloGroup(t), or.ch, time.Minute)
	errs := getOutputErrors(or.read())
	if len(errs) != 1 {
		t.Fatalf("Got %v error(s); want 1", len(errs))
	}
	if !strings.HasPrefix(errs[0].Stack, "Panic: boom\n") {
		t.Errorf("Stack trace %q doesn't start with panic reason", errs[0].Stack)
	}
}

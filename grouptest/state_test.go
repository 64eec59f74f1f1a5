// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package grouptest

import (
	"context"
	"reflect"
	"runtime"
	"strings"
	gotesting "testing"

	"github.com/jkammerland/ut/errors"
	"github.com/jkammerland/ut/internal/comm"
)

// soloGroup returns a single-rank group for state tests that don't exercise
// communication.
func soloGroup(t *gotesting.T) *comm.Group {
	t.Helper()
	g, err := comm.Join(context.Background(), comm.Options{Rank: 0, Size: 1})
	if err != nil {
		t.Fatal("Join failed: ", err)
	}
	t.Cleanup(func() { g.Close() })
	return g
}

func TestLog(t *gotesting.T) {
	or := newOutputReader()
	s := newState(&Test{}, or.ch, soloGroup(t))
	s.Log("msg ", 1)
	s.Logf("msg %d", 2)
	close(or.ch)
	out := or.read()
	if len(out) != 2 || out[0].Msg != "msg 1" || out[1].Msg != "msg 2" {
		t.Errorf("Bad test output: %v", out)
	}
}

func TestReportError(t *gotesting.T) {
	or := newOutputReader()
	s := newState(&Test{}, or.ch, soloGroup(t))

	// Keep these lines next to each other (see below comparison).
	s.Error("error ", 1)
	s.Errorf("error %d", 2)
	close(or.ch)

	out := or.read()
	if len(out) != 2 {
		t.Fatalf("Got %v output(s); want 2", len(out))
	}

	e0, e1 := out[0].Err, out[1].Err
	if e0 == nil || e1 == nil {
		t.Fatal("Got nil error(s)")
	}
	if act, exp := []string{e0.Reason, e1.Reason}, []string{"error 1", "error 2"}; !reflect.DeepEqual(act, exp) {
		t.Errorf("Got reasons %v; want %v", act, exp)
	}
	if _, fn, _, _ := runtime.Caller(0); e0.File != fn || e1.File != fn {
		t.Errorf("Got filenames %q and %q; want %q", e0.File, e1.File, fn)
	}
	if e0.Line+1 != e1.Line {
		t.Errorf("Got non-sequential line numbers %d and %d", e0.Line, e1.Line)
	}
	if !s.HasError() {
		t.Error("HasError() = false after reported errors")
	}

	for _, e := range []*Error{e0, e1} {
		lines := strings.Split(e.Stack, "\n")
		if len(lines) < 2 {
			t.Errorf("Stack trace %q contains fewer than 2 lines", e.Stack)
			continue
		}
		if exp := "error "; !strings.HasPrefix(lines[0], exp) {
			t.Errorf("First line of stack trace %q doesn't start with %q", e.Stack, exp)
		}
		if exp := "\tat github.com/jkammerland/ut/grouptest.TestReportError"; !strings.HasPrefix(lines[1], exp) {
			t.Errorf("Second line of stack trace %q doesn't start with %q", e.Stack, exp)
		}
	}
}

func errorFunc() error {
	return errors.New("meow")
}

func TestExtractErrorSimple(t *gotesting.T) {
	or := newOutputReader()
	s := newState(&Test{}, or.ch, soloGroup(t))

	err := errorFunc()
	s.Error(err)
	close(or.ch)

	out := or.read()
	if len(out) != 1 {
		t.Fatalf("Got %v output(s); want 1", len(out))
	}

	e := out[0].Err

	if exp := "meow"; e.Reason != exp {
		t.Errorf("Error message %q is not %q", e.Reason, exp)
	}
	if exp := "meow\n\tat github.com/jkammerland/ut/grouptest.TestExtractErrorSimple"; !strings.HasPrefix(e.Stack, exp) {
		t.Errorf("Stack trace %q doesn't start with %q", e.Stack, exp)
	}
	if exp := "meow\n\tat github.com/jkammerland/ut/grouptest.errorFunc"; !strings.Contains(e.Stack, exp) {
		t.Errorf("Stack trace %q doesn't contain %q", e.Stack, exp)
	}
}

func TestExtractErrorHeuristic(t *gotesting.T) {
	or := newOutputReader()
	s := newState(&Test{}, or.ch, soloGroup(t))

	err := errorFunc()
	s.Error("Failed something  :  ", err)
	s.Error("Failed something  ", err)
	s.Errorf("Failed something  :  %v", err)
	s.Errorf("Failed something  %v", err)
	close(or.ch)

	out := or.read()
	if len(out) != 4 {
		t.Fatalf("Got %v output(s); want 4", len(out))
	}

	for _, o := range out {
		e := o.Err
		if exp := "Failed something  "; !strings.HasPrefix(e.Reason, exp) {
			t.Errorf("Error message %q doesn't start with %q", e.Reason, exp)
		}
		if exp := "Failed something\n\tat github.com/jkammerland/ut/grouptest.TestExtractErrorHeuristic"; !strings.HasPrefix(e.Stack, exp) {
			t.Errorf("Stack trace %q doesn't start with %q", e.Stack, exp)
		}
		if exp := "\nmeow\n\tat github.com/jkammerland/ut/grouptest.errorFunc"; !strings.Contains(e.Stack, exp) {
			t.Errorf("Stack trace %q doesn't contain %q", e.Stack, exp)
		}
	}
}

func TestFatal(t *gotesting.T) {
	or := newOutputReader()
	s := newState(&Test{}, or.ch, soloGroup(t))

	// Log the fatal message in a goroutine so the main goroutine that's
	// running the test won't exit.
	done := make(chan bool)
	died := true
	go func() {
		defer func() {
			close(done)
			close(or.ch)
		}()
		s.Fatalf("fatal %s", "msg")
		died = false
	}()
	<-done

	if !died {
		t.Errorf("Test continued after call to Fatalf")
	}
	if out := or.read(); len(out) != 1 {
		t.Errorf("Got %v outputs; want 1", len(out))
	} else if out[0].Err == nil || out[0].Err.Reason != "fatal msg" {
		t.Errorf("Got output %v; want reason %q", out[0].Err, "fatal msg")
	}
}

func TestCheckRank(t *gotesting.T) {
	or := newOutputReader()
	s := newState(&Test{}, or.ch, soloGroup(t))

	// This rank is 0; conditions scoped to rank 1 must be ignored.
	s.CheckRank(1, false, "other rank's problem")
	s.CheckRank(0, true, "fine here")
	s.CheckRank(0, false, "broken here")
	close(or.ch)

	errs := getOutputErrors(or.read())
	if len(errs) != 1 {
		t.Fatalf("Got %v error(s); want 1", len(errs))
	}
	if exp := "broken here"; errs[0].Reason != exp {
		t.Errorf("Got reason %q; want %q", errs[0].Reason, exp)
	}
}

func TestRequireRank(t *gotesting.T) {
	or := newOutputReader()
	s := newState(&Test{}, or.ch, soloGroup(t))

	done := make(chan bool)
	died := true
	go func() {
		defer func() {
			close(done)
			close(or.ch)
		}()
		s.RequireRank(1, false, "other rank's problem")
		s.RequireRank(0, false, "required")
		died = false
	}()
	<-done

	if !died {
		t.Error("Test continued after failed RequireRank on own rank")
	}
	errs := getOutputErrors(or.read())
	if len(errs) != 1 {
		t.Fatalf("Got %v error(s); want 1", len(errs))
	}
	if exp := "required"; errs[0].Reason != exp {
		t.Errorf("Got reason %q; want %q", errs[0].Reason, exp)
	}
}

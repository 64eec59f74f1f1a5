// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestSimpleLog(t *testing.T) {
	var b bytes.Buffer
	lg := NewSimple(&b, false, false)
	lg.Log("hello ", 1)
	lg.Logf("formatted %d", 2)
	if got, want := b.String(), "hello 1\nformatted 2\n"; got != want {
		t.Errorf("logged %q; want %q", got, want)
	}
}

func TestSimpleDebugSuppressed(t *testing.T) {
	var b bytes.Buffer
	lg := NewSimple(&b, false, false)
	lg.Debug("quiet")
	lg.Debugf("also %s", "quiet")
	if b.Len() != 0 {
		t.Errorf("non-verbose logger wrote %q; want nothing", b.String())
	}
}

func TestSimpleDebugVerbose(t *testing.T) {
	var b bytes.Buffer
	lg := NewSimple(&b, false, true)
	lg.Debug("loud")
	if got, want := b.String(), "loud\n"; got != want {
		t.Errorf("logged %q; want %q", got, want)
	}
}

func TestSimpleTimestamp(t *testing.T) {
	var b bytes.Buffer
	lg := NewSimple(&b, true, false)
	lg.Log("msg")
	line := b.String()
	if !strings.HasSuffix(line, "Z msg\n") {
		t.Errorf("line %q doesn't end with timestamped message", line)
	}
	if !strings.Contains(line, "T") {
		t.Errorf("line %q has no timestamp", line)
	}
}

func TestContext(t *testing.T) {
	lg := NewDiscard()
	ctx := NewContext(context.Background(), lg)
	got, ok := FromContext(ctx)
	if !ok || got != lg {
		t.Errorf("FromContext = %v, %v; want %v, true", got, ok, lg)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Error("FromContext on empty context reported a logger")
	}
}

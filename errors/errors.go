// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package errors constructs errors that carry stack traces.
//
// Use this package instead of the standard library errors package (or
// fmt.Errorf) in code belonging to this module. Errors created here record
// where they were constructed, and failure records built from them include
// the full chain, which is what gets shipped to the coordinator rank and
// printed when a group test fails.
//
//	errors.New("rank never joined")
//	errors.Errorf("rank %d never joined", r)
//	errors.Wrap(err, "failed to form process group")
//	errors.Wrapf(err, "failed to receive from rank %d", r)
//
// Formatting an error with "%+v" prints the chain with one stack trace per
// link. Wrapped errors participate in errors.Is and errors.As via Unwrap.
package errors

import (
	"fmt"
	"io"
	"strings"

	"github.com/jkammerland/ut/errors/stack"
)

type tracedError struct {
	msg   string
	trace stack.Trace
	cause error
}

func (e *tracedError) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return e.msg + ": " + e.cause.Error()
}

// Unwrap returns the wrapped error, if any.
func (e *tracedError) Unwrap() error { return e.cause }

// Format implements fmt.Formatter so that "%+v" renders the whole chain.
func (e *tracedError) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		io.WriteString(s, chainString(e))
		return
	}
	io.WriteString(s, e.Error())
}

// chainString renders err and every error below it, one trace per link.
func chainString(err error) string {
	var parts []string
	for err != nil {
		te, ok := err.(*tracedError)
		if !ok {
			parts = append(parts, err.Error()+"\n\tat ???")
			break
		}
		parts = append(parts, te.msg+"\n"+te.trace.String())
		err = te.cause
	}
	return strings.Join(parts, "\n")
}

// New returns an error with the given message, recording where it was called.
func New(msg string) error {
	return &tracedError{msg: msg, trace: stack.Capture(1)}
}

// Errorf returns an error with a formatted message, recording where it was
// called.
func Errorf(format string, args ...interface{}) error {
	return &tracedError{msg: fmt.Sprintf(format, args...), trace: stack.Capture(1)}
}

// Wrap returns an error that adds msg as context around cause.
// A nil cause behaves like New.
func Wrap(cause error, msg string) error {
	return &tracedError{msg: msg, trace: stack.Capture(1), cause: cause}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(cause error, format string, args ...interface{}) error {
	return &tracedError{msg: fmt.Sprintf(format, args...), trace: stack.Capture(1), cause: cause}
}

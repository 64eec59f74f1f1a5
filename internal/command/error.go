// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package command contains code shared by the executables in this module
// (the utrun launcher and group-test executables).
package command

import (
	"fmt"
	"io"
)

// StatusError implements the error interface and carries a process exit
// status.
type StatusError struct {
	msg    string
	status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v (status %v)", e.msg, e.status)
}

// Status returns e's exit status.
func (e *StatusError) Status() int { return e.status }

// NewStatusErrorf creates a StatusError with the given status and formatted
// message.
func NewStatusErrorf(status int, format string, args ...interface{}) *StatusError {
	return &StatusError{fmt.Sprintf(format, args...), status}
}

// WriteError writes a newline-terminated fatal error to w and returns the
// status to exit with. Errors other than *StatusError yield status 1.
func WriteError(w io.Writer, err error) int {
	msg, status := err.Error(), 1
	if se, ok := err.(*StatusError); ok {
		msg, status = se.msg, se.status
	}
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		msg += "\n"
	}
	io.WriteString(w, msg)
	return status
}

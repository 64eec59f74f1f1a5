// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package command

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DurationFlag implements flag.Value to parse a whole number of units
// (typically seconds) into a time.Duration.
type DurationFlag struct {
	unit time.Duration
	dst  *time.Duration
}

// NewDurationFlag returns a DurationFlag assigning parsed values to dst.
// def is assigned immediately as the default.
func NewDurationFlag(unit time.Duration, dst *time.Duration, def time.Duration) *DurationFlag {
	*dst = def
	return &DurationFlag{unit: unit, dst: dst}
}

func (f *DurationFlag) String() string {
	if f.dst == nil {
		return "0"
	}
	return strconv.FormatInt(int64(*f.dst/f.unit), 10)
}

func (f *DurationFlag) Set(v string) error {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return fmt.Errorf("must be a non-negative integer")
	}
	*f.dst = time.Duration(n) * f.unit
	return nil
}

// EnumFlag implements flag.Value to map a user-supplied string to one of a
// fixed set of values.
type EnumFlag struct {
	valid  map[string]int
	assign func(val int)
	def    string
}

// NewEnumFlag returns an EnumFlag using the supplied map of valid values and
// assignment function. def is assigned immediately as the default; it panics
// if def is not a valid value.
func NewEnumFlag(valid map[string]int, assign func(val int), def string) *EnumFlag {
	f := &EnumFlag{valid: valid, assign: assign, def: def}
	if err := f.Set(def); err != nil {
		panic(err)
	}
	return f
}

// QuotedValues returns a comma-separated list of quoted values the user can
// supply.
func (f *EnumFlag) QuotedValues() string {
	var qn []string
	for n := range f.valid {
		qn = append(qn, strconv.Quote(n))
	}
	sort.Strings(qn)
	return strings.Join(qn, ", ")
}

func (f *EnumFlag) String() string { return f.def }

func (f *EnumFlag) Set(v string) error {
	ev, ok := f.valid[v]
	if !ok {
		return fmt.Errorf("must be in %s", f.QuotedValues())
	}
	f.assign(ev)
	return nil
}

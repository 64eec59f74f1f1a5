// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package grouptest

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/jkammerland/ut/errors"
)

// Registry holds tests. The order in which tests are added is the order in
// which every rank runs them.
type Registry struct {
	allTests []*Test
}

// NewRegistry returns a new test registry.
func NewRegistry() *Registry {
	return &Registry{allTests: make([]*Test, 0)}
}

// AddTest adds t to the registry. Missing fields are filled where possible.
func (r *Registry) AddTest(t *Test) error {
	t = t.clone()
	if err := t.validate(); err != nil {
		return err
	}
	r.allTests = append(r.allTests, t)
	return nil
}

// AllTests returns copies of all registered tests, in registration order.
func (r *Registry) AllTests() []*Test {
	ts := make([]*Test, len(r.allTests))
	for i, t := range r.allTests {
		ts[i] = t.clone()
	}
	return ts
}

// compilePattern turns a name pattern that may contain '*' wildcards into
// an anchored regexp.
func compilePattern(p string) (*regexp.Regexp, error) {
	if err := validateTestPattern(p); err != nil {
		return nil, errors.Wrapf(err, "bad pattern %q", p)
	}
	p = strings.Replace(p, ".", "\\.", -1)
	p = strings.Replace(p, "*", ".*", -1)
	p = "^" + p + "$"
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to compile %q", p)
	}
	return re, nil
}

// validateTestPattern returns an error if p contains one or more characters
// disallowed in test wildcard patterns.
func validateTestPattern(p string) error {
	for _, ch := range p {
		if !unicode.IsLetter(ch) && !unicode.IsDigit(ch) &&
			ch != '.' && ch != '*' && ch != '_' && ch != '-' {
			return errors.Errorf("invalid character %v", ch)
		}
	}
	return nil
}

// TestsForPatterns returns copies of registered tests with names matched by
// any pattern in ps. An empty ps matches everything. Registration order is
// preserved regardless of the order of patterns: every rank must arrive at
// the identical run list in the identical order.
func (r *Registry) TestsForPatterns(ps []string) ([]*Test, error) {
	if len(ps) == 0 {
		return r.AllTests(), nil
	}
	res := make([]*regexp.Regexp, len(ps))
	for i, p := range ps {
		re, err := compilePattern(p)
		if err != nil {
			return nil, err
		}
		res[i] = re
	}

	tests := make([]*Test, 0)
	for _, t := range r.allTests {
		for _, re := range res {
			if re.MatchString(t.Name) {
				tests = append(tests, t.clone())
				break
			}
		}
	}
	return tests, nil
}

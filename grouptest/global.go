// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package grouptest

var (
	globalRegistry     *Registry // singleton, initialized on first use
	registrationErrors []error
)

// GlobalRegistry returns a global registry containing tests
// registered by calls to AddTest.
func GlobalRegistry() *Registry {
	if globalRegistry == nil {
		globalRegistry = NewRegistry()
	}
	return globalRegistry
}

// AddTest adds test t to the global registry. It is typically called from
// an init function in the test's package. Registration failures are
// recorded and later reported by the bundle, which refuses to run.
func AddTest(t *Test) {
	if err := GlobalRegistry().AddTest(t); err != nil {
		registrationErrors = append(registrationErrors, err)
	}
}

// RegistrationErrors returns errors generated by calls to AddTest.
func RegistrationErrors() []error {
	return registrationErrors
}

// SetGlobalRegistryForTesting temporarily sets reg as the global registry
// and clears registration errors. The caller must call the returned function
// later to restore the original registry and errors. This is intended to be
// used by unit tests that need to register tests in the global registry but
// don't want to affect subsequent unit tests.
func SetGlobalRegistryForTesting(reg *Registry) (restore func()) {
	origReg, origErrs := globalRegistry, registrationErrors
	globalRegistry, registrationErrors = reg, nil
	return func() {
		globalRegistry, registrationErrors = origReg, origErrs
	}
}

// Copyright 2024 The ut Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package main

import (
	"io/ioutil"
	"os"

	"github.com/shirou/gopsutil/v3/cpu"
	"gopkg.in/yaml.v2"

	"github.com/jkammerland/ut/internal/comm"
)

const (
	// configName is the optional per-project defaults file, looked up in
	// the working directory. Flags win over its values.
	configName = "utrun.yaml"

	// maxDefaultProcs caps the process count chosen automatically. Group
	// tests gain little from very wide groups and each rank is a full OS
	// process.
	maxDefaultProcs = 8
)

// config holds defaults read from utrun.yaml.
type config struct {
	// Procs is the group size to launch. Zero means choose automatically.
	Procs int `yaml:"procs"`
	// ResDir is the directory results are written to.
	ResDir string `yaml:"resdir"`
}

// loadConfig reads path. A missing file is not an error; it yields a zero
// config.
func loadConfig(path string) (*config, error) {
	b, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return &config{}, nil
	} else if err != nil {
		return nil, err
	}
	var cfg config
	if err := yaml.UnmarshalStrict(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// defaultProcs picks a group size when neither the flag nor the config file
// supplies one: the size advertised by a recognized launcher environment if
// any, otherwise the logical CPU count, capped.
func defaultProcs() int {
	if n := comm.DetectLaunchSize(); n > 0 {
		return n
	}
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		n = 1
	}
	if n > maxDefaultProcs {
		n = maxDefaultProcs
	}
	return n
}

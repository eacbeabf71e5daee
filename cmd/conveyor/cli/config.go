// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"github.com/bureau-foundation/conveyor/lib/config"
)

// LoadConfig loads and validates the conveyor configuration and
// applies its configured log level to all command loggers. path is
// the --config flag value; empty falls back to $CONVEYOR_CONFIG and
// then the default location (where a missing file yields built-in
// defaults).
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := SetLogLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	return cfg, nil
}

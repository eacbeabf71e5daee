// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for conveyor.
//
// Configuration is loaded from a single file: the --config flag if
// given, else the CONVEYOR_CONFIG environment variable, else
// ~/.config/conveyor/config.yaml. An explicitly named file must
// exist; a missing default file is not an error, because conveyor is
// expected to work on a fresh machine with no configuration at all.
// File values overlay [Default], so a config file states only what it
// changes.
//
// Environment variables never override values from the file. The only
// expansion performed is ${VAR} and ${VAR:-default} in path fields
// after loading, so a file can say ${HOME}/ci or
// ${CONVEYOR_DATA}/blobs and stay portable between machines.
//
// Key exports:
//
//   - [Config] -- paths, runner settings, the runner-label table,
//     history retention, secrets and log-store key locations
//   - [Default] -- the zero-configuration defaults, including the
//     three canonical runner labels (ubuntu-latest, windows-latest,
//     macos-latest) executing on the host shell
//   - [Load] -- the single entry point for loading
//
// This package depends on no other conveyor packages.
package config

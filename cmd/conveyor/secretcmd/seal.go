// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secretcmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/conveyor/cmd/conveyor/cli"
	"github.com/bureau-foundation/conveyor/lib/sealed"
)

// sealCommand returns the "seal" subcommand for encrypting secrets.
func sealCommand() *cli.Command {
	var (
		configPath   string
		filePath     string
		identityPath string
		recipients   []string
	)

	return &cli.Command{
		Name:    "seal",
		Summary: "Encrypt NAME=value pairs into the secrets file",
		Description: `Read NAME=value lines from stdin and seal them into the secrets file.
Values are read from stdin rather than arguments so they never appear
in shell history or process listings.

The sealed file is replaced wholesale: the lines provided here become
the complete secret set. To add or change one secret, include the
full set. Blank lines and lines starting with "#" are ignored.

Recipients default to the runner's own identity; pass --recipient to
seal for other identities (repeatable).`,
		Usage: "conveyor secret seal [flags]",
		Examples: []cli.Example{
			{
				Description: "Seal a single secret for the local runner",
				Command:     "printf 'DEPLOY_TOKEN=abc123\\n' | conveyor secret seal",
			},
			{
				Description: "Seal from a plaintext env file",
				Command:     "conveyor secret seal < secrets.env",
			},
			{
				Description: "Seal for an explicit recipient",
				Command:     "conveyor secret seal --recipient age1... < secrets.env",
			},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("seal", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file path")
			flagSet.StringVar(&filePath, "file", "", "sealed secrets file (default from configuration)")
			flagSet.StringVar(&identityPath, "identity", "", "identity file path (default from configuration)")
			flagSet.StringArrayVar(&recipients, "recipient", nil, "age recipient to seal for (repeatable)")
			return flagSet
		},
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}

			cfg, err := cli.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if filePath == "" {
				filePath = cfg.Secrets.File
			}
			if identityPath == "" {
				identityPath = cfg.Secrets.IdentityFile
			}

			values, err := parseSecretLines(os.Stdin)
			if err != nil {
				return err
			}

			recipientKeys, err := resolveRecipients(recipients, identityPath)
			if err != nil {
				return err
			}

			if err := sealed.Seal(filePath, values, recipientKeys); err != nil {
				return err
			}
			logger.Info("secrets sealed",
				"path", filePath,
				"count", len(values),
				"recipients", len(recipientKeys))

			names := make([]string, 0, len(values))
			for name := range values {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Printf("sealed %d secret(s) to %s: %s\n",
				len(values), filePath, strings.Join(names, ", "))
			return nil
		},
	}
}

// parseSecretLines reads NAME=value lines, skipping blanks and "#"
// comments. Duplicate names and lines without "=" are errors; deeper
// validation (name syntax, newline-free values) happens at seal time.
func parseSecretLines(r io.Reader) (map[string]string, error) {
	values := make(map[string]string)
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		name, value, found := strings.Cut(line, "=")
		if !found {
			return nil, fmt.Errorf("line %d: expected NAME=value, got %q", lineNo, line)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("line %d: empty secret name", lineNo)
		}
		if _, exists := values[name]; exists {
			return nil, fmt.Errorf("line %d: duplicate secret %q", lineNo, name)
		}
		values[name] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading secrets: %w", err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("no NAME=value lines on stdin")
	}
	return values, nil
}

// resolveRecipients validates explicit recipient keys, or derives the
// single default recipient from the runner's own identity.
func resolveRecipients(explicit []string, identityPath string) ([]string, error) {
	if len(explicit) > 0 {
		for _, key := range explicit {
			if err := sealed.ParseRecipient(key); err != nil {
				return nil, err
			}
		}
		return explicit, nil
	}

	identity, err := sealed.LoadIdentity(identityPath)
	if err != nil {
		return nil, fmt.Errorf("no --recipient given and loading identity failed (run \"conveyor secret init\" first): %w", err)
	}
	defer identity.Close()

	recipient, err := sealed.RecipientFor(identity)
	if err != nil {
		return nil, err
	}
	return []string{recipient}, nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/friendsincode/slotwatch/internal/events"
	"github.com/friendsincode/slotwatch/internal/server"
)

var snapshotResetForce bool

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Inspect or reset the persisted snapshot store",
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the persisted snapshot document",
	RunE:  runSnapshotShow,
}

var snapshotResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Discard every remembered slot for today",
	Long: `Clear the snapshot store and persist the empty dated document.

Locked slots are forgotten, so the next poll reports what the calendar
shows without the remembered capacity lock.

Examples:
  # Interactive reset (will prompt for confirmation)
  slotwatch snapshot reset

  # Force reset without confirmation
  slotwatch snapshot reset --force
`,
	RunE: runSnapshotReset,
}

func init() {
	snapshotResetCmd.Flags().BoolVarP(&snapshotResetForce, "force", "f", false, "Skip confirmation prompt")
	snapshotCmd.AddCommand(snapshotShowCmd)
	snapshotCmd.AddCommand(snapshotResetCmd)
	rootCmd.AddCommand(snapshotCmd)
}

func openCore(ctx context.Context) (*server.Core, error) {
	if err := loadConfig(os.Stderr); err != nil {
		return nil, err
	}
	return server.NewCore(ctx, cfg, events.NewBus(), logger)
}

func runSnapshotShow(cmd *cobra.Command, args []string) error {
	core, err := openCore(cmd.Context())
	if err != nil {
		return err
	}
	defer core.Close()

	data, err := core.Engine.Store().Encoded()
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func runSnapshotReset(cmd *cobra.Command, args []string) error {
	core, err := openCore(cmd.Context())
	if err != nil {
		return err
	}
	defer core.Close()

	store := core.Engine.Store()
	if !snapshotResetForce {
		fmt.Fprintf(cmd.OutOrStdout(), "Clear %d remembered slot(s) for %s? Type 'yes' to continue: ", store.Len(), store.Date())
		reader := bufio.NewReader(cmd.InOrStdin())
		answer, _ := reader.ReadString('\n')
		if strings.TrimSpace(strings.ToLower(answer)) != "yes" {
			fmt.Fprintln(cmd.OutOrStdout(), "Reset cancelled.")
			return nil
		}
	}

	if err := core.Engine.ClearSnapshot(cmd.Context()); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	logger.Warn().Str("date", store.Date()).Msg("snapshot store cleared")
	fmt.Fprintln(cmd.OutOrStdout(), "Snapshot store cleared.")
	return nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/friendsincode/slotwatch/internal/engine"
	"github.com/friendsincode/slotwatch/internal/events"
	"github.com/friendsincode/slotwatch/internal/models"
	"github.com/friendsincode/slotwatch/internal/server"
)

var pollCmd = &cobra.Command{
	Use:   "poll [category...]",
	Short: "Run one poll cycle and print the results",
	Long: `Run a single poll cycle over the given categories, or the whole catalog,
commit the snapshot store, and print each category's answer as JSON.

Examples:
  # Poll every category
  slotwatch poll

  # Poll the AI and drone calendars only
  slotwatch poll ai drone
`,
	RunE: runPoll,
}

func init() {
	rootCmd.AddCommand(pollCmd)
}

func runPoll(cmd *cobra.Command, args []string) error {
	if err := loadConfig(os.Stderr); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := server.NewCore(ctx, cfg, events.NewBus(), logger)
	if err != nil {
		return err
	}
	defer core.Close()

	cycle, err := core.Engine.PollAll(ctx, engine.TriggerCLI, args...)
	if err != nil {
		return err
	}

	ids := args
	if len(ids) == 0 {
		ids = core.Catalog.IDs()
	}
	out := make([]models.Reservation, 0, len(ids))
	for _, id := range ids {
		out = append(out, core.Engine.Reservation(cycle, id))
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))

	if cycle.CommitErr != nil {
		return fmt.Errorf("snapshot commit: %w", cycle.CommitErr)
	}
	return nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/slotwatch/internal/auth"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin token for the admin endpoints",
	Long: `Sign a bearer token carrying the admin role with SLOTWATCH_JWT_SIGNING_KEY.

Example:
  curl -X POST -H "Authorization: Bearer $(slotwatch token --subject ops)" \
    http://localhost:4000/api/admin/poll
`,
	RunE: runToken,
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "Token subject, recorded in admin logs")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	if err := loadConfig(os.Stderr); err != nil {
		return err
	}
	if !cfg.AdminEnabled() {
		return errors.New("SLOTWATCH_JWT_SIGNING_KEY is not set")
	}
	if tokenTTL <= 0 {
		return errors.New("--ttl must be positive")
	}

	token, err := auth.Issue([]byte(cfg.JWTSigningKey), tokenSubject, []string{auth.RoleAdmin}, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

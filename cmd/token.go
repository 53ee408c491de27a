package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tasktracker/api"
	"tasktracker/service"
)

var (
	tokenSubject string
	tokenEmail   string
	tokenName    string
	tokenTTL     time.Duration
)

// tokenCmd mints HS256 tokens accepted by a server running in test mode.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development bearer token signed with TEST_JWT_SECRET",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.TestJWTSecret == "" {
			return errors.New("TEST_JWT_SECRET is not set")
		}
		token, err := api.SignTestToken([]byte(cfg.TestJWTSecret), service.Identity{
			Subject: tokenSubject,
			Email:   tokenEmail,
			Name:    tokenName,
		}, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "", "token subject (user id)")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "email claim")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "name claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("subject")
}

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/knoguchi/rerank/internal/auth"
)

func (a *app) tokenCmd() *cobra.Command {
	var (
		subject string
		expiry  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.JWTSecret == "" {
				return &usageError{err: errors.New("JWT_SECRET is not set")}
			}
			if subject == "" {
				return &usageError{err: errors.New("--subject is required")}
			}
			if expiry <= 0 {
				expiry = a.cfg.JWTExpiry
			}

			jwtConfig := auth.DefaultJWTConfig(a.cfg.JWTSecret)
			jwtConfig.Expiry = expiry
			token, err := auth.NewJWTManager(jwtConfig).GenerateToken(subject)
			if err != nil {
				return fmt.Errorf("failed to generate token: %w", err)
			}
			_, err = fmt.Fprintln(a.stdout, token)
			return err
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "token subject")
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "token lifetime (default JWT_EXPIRY)")
	return cmd
}

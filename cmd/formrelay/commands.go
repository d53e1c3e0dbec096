package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/formrelay/formrelay/internal/http/middleware"
	"github.com/formrelay/formrelay/internal/identity"
	"github.com/formrelay/formrelay/internal/plans"
	"github.com/formrelay/formrelay/internal/repo"
	"github.com/formrelay/formrelay/internal/services"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDB(configFrom(cmd.Context()))
			if err != nil {
				return err
			}
			closeDB(db)
			log.Info().Msg("schema up to date")
			return nil
		},
	}
}

func pruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Trim archives to ARCHIVED_SUBMISSIONS_LIMIT and drop expired idempotency keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd.Context())
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer closeDB(db)

			p := &services.Pruner{DB: db, Limit: cfg.Archive.Limit, Probability: 1}
			n, err := p.PruneAll(cmd.Context())
			if err != nil {
				return err
			}
			log.Info().Int64("deleted", n).Int("limit", cfg.Archive.Limit).Msg("archives pruned")

			keys, err := repo.PurgeExpiredIdempotency(cmd.Context(), db, time.Now().UTC())
			if err != nil {
				return err
			}
			log.Info().Int64("deleted", keys).Msg("expired idempotency keys purged")
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d submissions, %d idempotency keys\n", n, keys)
			return nil
		},
	}
}

func usersCmd() *cobra.Command {
	users := &cobra.Command{
		Use:   "users",
		Short: "Manage owner accounts",
	}

	var email, plan string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an account and register its email as verified",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd.Context())
			if !identity.IsValidEmail(email) {
				return fmt.Errorf("invalid email %q", email)
			}
			catalog, err := plans.Load(cfg.PlansFile)
			if err != nil {
				return err
			}
			if plan == "" {
				plan = catalog.Default
			}
			if !catalog.Exists(plan) {
				return fmt.Errorf("unknown plan %q", plan)
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer closeDB(db)

			u, err := repo.CreateUser(cmd.Context(), db, email, plan)
			if err != nil {
				return err
			}
			if err := repo.AddEmail(cmd.Context(), db, u.ID, u.Email); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %d created (%s, plan %s)\n", u.ID, u.Email, u.Plan)
			return nil
		},
	}
	create.Flags().StringVar(&email, "email", "", "account email (required)")
	create.Flags().StringVar(&plan, "plan", "", "plan id from the catalogue (default: catalogue default)")
	_ = create.MarkFlagRequired("email")

	var (
		id  uint
		ttl time.Duration
	)
	token := &cobra.Command{
		Use:   "token",
		Short: "Issue an owner API bearer token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd.Context())
			if id == 0 {
				return errors.New("--id is required")
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer closeDB(db)
			if _, err := repo.GetUser(cmd.Context(), db, id); err != nil {
				return fmt.Errorf("user %d: %w", id, err)
			}

			tok, err := middleware.IssueToken([]byte(cfg.JWTSecret), id, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	token.Flags().UintVar(&id, "id", 0, "user id")
	token.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime; 0 issues a token without expiry")

	users.AddCommand(create, token)
	return users
}

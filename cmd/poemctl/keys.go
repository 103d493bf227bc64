package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/poem-search/internal/auth/apikey"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/poem-search/pkg/postgres"
)

// keyStore is the subset of apikey.Store used by the keys commands.
type keyStore interface {
	CreateKey(ctx context.Context, name string, expiresAt *time.Time) (string, error)
	RevokeKey(ctx context.Context, rawKey string) error
	ListKeys(ctx context.Context) ([]apikey.KeyInfo, error)
}

func newKeysCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage admin API keys stored in Postgres",
	}

	var (
		name      string
		expiresIn time.Duration
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a key; the raw key is printed once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" {
				return errors.New("--name is required")
			}
			var expiresAt *time.Time
			if expiresIn > 0 {
				t := time.Now().Add(expiresIn)
				expiresAt = &t
			}
			return o.withKeys(cmd, func(ctx context.Context, ks keyStore) error {
				key, err := ks.CreateKey(ctx, name, expiresAt)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, "Store this key securely, it cannot be retrieved again.")
				fmt.Fprintf(out, "  Key:     %s\n", key)
				fmt.Fprintf(out, "  Name:    %s\n", name)
				fmt.Fprintf(out, "  Expires: %s\n", formatExpiry(expiresAt))
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "name for the key")
	create.Flags().DurationVar(&expiresIn, "expires-in", 0, "expiry duration, e.g. 720h (0 never expires)")

	revoke := &cobra.Command{
		Use:   "revoke KEY",
		Short: "Deactivate a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return o.withKeys(cmd, func(ctx context.Context, ks keyStore) error {
				if err := ks.RevokeKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "key revoked")
				return nil
			})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List active keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return o.withKeys(cmd, func(ctx context.Context, ks keyStore) error {
				keys, err := ks.ListKeys(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tCREATED\tEXPIRES")
				for _, k := range keys {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", k.ID, k.Name, k.CreatedAt.Format(time.RFC3339), formatExpiry(k.ExpiresAt))
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d active key(s)\n", len(keys))
				return nil
			})
		},
	}

	cmd.AddCommand(create, revoke, list)
	return cmd
}

func (o *options) withKeys(cmd *cobra.Command, fn func(ctx context.Context, ks keyStore) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	ks, closeFn, err := o.openKeys(ctx, o)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, ks)
}

func openKeyStore(ctx context.Context, o *options) (keyStore, func() error, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Auth.APIKeyTable == "" {
		return nil, nil, errors.New("auth.apiKeyTable is not configured")
	}
	db, err := postgres.New(cfg.Postgres)
	if err != nil {
		return nil, nil, err
	}
	ks, err := apikey.NewStore(ctx, db, cfg.Auth.APIKeyTable)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return ks, db.Close, nil
}

func formatExpiry(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/merigil/mythoria-sub000/internal/auth"
	"github.com/merigil/mythoria-sub000/internal/catalog"
	"github.com/merigil/mythoria-sub000/internal/config"
	"github.com/merigil/mythoria-sub000/internal/reconcile"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newImportCatalogCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import-catalog",
		Short: "Upsert targets and players from a YAML, JSON or TOML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.LoadMaintenance(viper.GetViper())
			if err != nil {
				return err
			}
			logger, err := newLogger(appConfig)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			parsed, err := catalog.Load(file)
			if err != nil {
				return err
			}
			backends, err := openSQLStores(appConfig, logger)
			if err != nil {
				return err
			}
			defer backends.Close() //nolint:errcheck

			summary, err := catalog.Apply(cmd.Context(), parsed, backends.ledger, backends.players)
			if err != nil {
				return err
			}
			logger.Info("catalog imported",
				zap.String("file", file),
				zap.Int("targets", summary.Targets),
				zap.Int("players", summary.Players))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Catalog file to import")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newReconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Rebuild the Redis leaderboard from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.LoadMaintenance(viper.GetViper())
			if err != nil {
				return err
			}
			logger, err := newLogger(appConfig)
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			backends, err := openAllStores(cmd.Context(), appConfig, logger)
			if err != nil {
				return err
			}
			defer backends.Close() //nolint:errcheck

			reconciler, err := reconcile.New(reconcile.Config{
				Ledger:      backends.ledger,
				Leaderboard: backends.leaderboard,
				Window:      appConfig.ReconcileWindow,
				Logger:      logger,
			})
			if err != nil {
				return err
			}
			players, err := reconciler.Run(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reconciled %d players\n", players)
			return nil
		},
	}
}

func newIssueAdminTokenCommand() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "issue-admin-token",
		Short: "Mint a bearer token for the admin endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			appConfig, err := config.LoadMaintenance(viper.GetViper())
			if err != nil {
				return err
			}
			if !appConfig.AdminEnabled() {
				return fmt.Errorf("admin.signing_secret is required to issue admin tokens")
			}
			issuer, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
				SigningSecret: []byte(appConfig.AdminSigningSecret),
				Issuer:        appConfig.AdminIssuer,
				TokenTTL:      ttl,
			})
			if err != nil {
				return err
			}
			token, expiresAt, err := issuer.IssueAdminToken(strings.TrimSpace(subject))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Operator identity recorded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/merigil/mythoria-sub000/internal/auth"
	"github.com/merigil/mythoria-sub000/internal/config"
	"github.com/merigil/mythoria-sub000/internal/reconcile"
	"github.com/merigil/mythoria-sub000/internal/server"
	"github.com/merigil/mythoria-sub000/internal/signature"
	"github.com/merigil/mythoria-sub000/internal/submissions"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := newLogger(appConfig)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := openAllStores(signalCtx, appConfig, logger)
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
	// The ledger is authoritative; start from it rather than from whatever Redis holds.
	if _, err := reconciler.Run(signalCtx); err != nil {
		logger.Warn("startup reconcile failed", zap.Error(err))
	}

	dispatcher := server.NewRealtimeDispatcher(appConfig.RealtimeBufferSize)
	defer dispatcher.Close()

	submissionService, err := submissions.NewService(submissions.ServiceConfig{
		Ledger:       backends.ledger,
		Leaderboard:  backends.leaderboard,
		Verifier:     signature.NewVerifier([]byte(appConfig.SubmissionSigningSecret)),
		Notifier:     dispatcher,
		DisplayNames: backends.players,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	deps := server.Dependencies{
		Targets:        backends.ledger,
		Submissions:    submissionService,
		Leaderboard:    backends.leaderboard,
		Players:        backends.players,
		Realtime:       dispatcher,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	}
	if appConfig.AdminEnabled() {
		validator, err := auth.NewAdminValidator(auth.AdminValidatorConfig{
			SigningSecret: []byte(appConfig.AdminSigningSecret),
			Issuer:        appConfig.AdminIssuer,
		})
		if err != nil {
			return err
		}
		deps.AdminValidator = validator
		deps.Reconciler = reconciler
	}

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpServer.RegisterOnShutdown(dispatcher.Close)

	reconcileDone := reconciler.Start(signalCtx, appConfig.ReconcileInterval)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("address", appConfig.HTTPAddress),
			zap.Bool("admin_enabled", appConfig.AdminEnabled()),
			zap.Duration("reconcile_interval", appConfig.ReconcileInterval))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		<-reconcileDone
		logger.Info("server stopped")
		return err
	case err := <-errCh:
		stop()
		<-reconcileDone
		return err
	}
}

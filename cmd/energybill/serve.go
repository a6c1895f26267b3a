package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bher20/energybill/internal/alerting"
	"github.com/bher20/energybill/internal/api"
	"github.com/bher20/energybill/internal/auth"
	"github.com/bher20/energybill/internal/calculation"
	"github.com/bher20/energybill/internal/cron"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the stale calculation sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv()
			if err != nil {
				return err
			}
			defer e.log.Sync() //nolint:errcheck
			return runServe(cmd.Context(), e)
		},
	}
}

func runServe(parent context.Context, e *env) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := e.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	authSvc, err := auth.NewService(e.cfg.APITokens)
	if err != nil {
		return err
	}
	if !authSvc.Enabled() {
		e.log.Warn("no API tokens configured, authentication disabled")
	}

	mux := api.NewMux(calculation.NewService(st, e.log), st, authSvc, e.log)
	srv := &http.Server{
		Addr:              e.cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sweeper := cron.NewSweeper(st, e.log, e.cfg.SweepSchedule, e.cfg.SweepStaleAfter).
		WithAlerter(alerting.NewAlerter(alerting.Config{
			WebhookURL:  e.cfg.AlertWebhookURL,
			WebhookType: e.cfg.AlertWebhookType,
			MinStale:    e.cfg.AlertMinStale,
			Email: alerting.EmailConfig{
				APIKey:      e.cfg.AlertSendGridAPIKey,
				FromName:    e.cfg.AlertEmailFromName,
				FromAddress: e.cfg.AlertEmailFrom,
				To:          e.cfg.AlertEmailTo,
			},
		}, e.log))
	go func() {
		if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.log.Error("sweeper stopped", zap.Error(err))
		}
	}()

	errc := make(chan error, 1)
	go func() {
		e.log.Info("energybill listening", zap.String("addr", srv.Addr), zap.String("driver", e.cfg.DBDriver))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	e.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

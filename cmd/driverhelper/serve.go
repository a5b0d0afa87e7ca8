package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/driverhelper/internal/auth"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/config"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/database"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/driver"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/ledger"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/logging"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/server"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/syncclient"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync relay",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			for key, flag := range map[string]string{
				"http.address":        "http-address",
				"relay.database_path": "relay-database-path",
				"relay.upstream_url":  "upstream-url",
				"auth.signing_secret": "signing-secret",
			} {
				if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return err
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
	defaults := config.NewViper()
	cmd.Flags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.Flags().String("relay-database-path", defaults.GetString("relay.database_path"), "Relay ledger SQLite path")
	cmd.Flags().String("upstream-url", "", "Forward batches to this sync endpoint instead of the local ledger")
	cmd.Flags().String("signing-secret", "", "Device token signing secret (overrides env)")
	return cmd
}

func runServer(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFile)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	deps := server.Dependencies{Logger: logger}

	if appConfig.SigningSecret != "" {
		tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
			SigningSecret: []byte(appConfig.SigningSecret),
			Issuer:        auth.DefaultIssuer,
			Audience:      auth.DefaultAudience,
			TokenTTL:      appConfig.TokenTTL,
		})
		if err != nil {
			return err
		}
		deps.Tokens = tokenManager
	} else {
		logger.Warn("auth.signing_secret is empty; relay accepts unauthenticated batches")
	}

	if appConfig.UpstreamURL != "" {
		forwarder, err := syncclient.New(syncclient.Config{
			Endpoint: appConfig.UpstreamURL,
			APIKey:   appConfig.UpstreamAPIKey,
			Timeout:  appConfig.SyncTimeout,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		deps.Forwarder = forwarder
	} else {
		db, err := database.OpenRelayLedger(appConfig.RelayDatabasePath, logger)
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		defer sqlDB.Close()

		ledgerService, err := ledger.NewService(ledger.ServiceConfig{
			Database:   db,
			Clock:      time.Now,
			IDProvider: driver.NewUUIDProvider(),
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		deps.Ledger = ledgerService
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

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay starting", zap.String("address", appConfig.HTTPAddress), zap.Bool("forwarding", deps.Forwarder != nil))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/MarcoPoloResearchLab/driverhelper/internal/config"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/driver"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/syncclient"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/syncengine"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newDaemonCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Keep syncing in the background until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context())
		},
	}
}

func runDaemon(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := openDevice(signalCtx)
	if err != nil {
		return err
	}
	defer app.close()

	scheduler, err := syncengine.New(syncengine.Config{
		Syncer:      app.store,
		Transitions: app.prober.Transitions(),
		Interval:    app.cfg.SyncInterval,
		Logger:      app.logger,
	})
	if err != nil {
		return err
	}

	watchSyncSettings(app.client, app.logger)

	group, groupCtx := errgroup.WithContext(signalCtx)
	group.Go(func() error {
		app.prober.Run(groupCtx)
		return nil
	})
	group.Go(func() error {
		return scheduler.Run(groupCtx)
	})
	group.Go(func() error {
		logStatusChanges(groupCtx, app.store, app.logger)
		return nil
	})

	app.logger.Info("daemon started",
		zap.String("endpoint", app.client.Endpoint()),
		zap.Duration("interval", app.cfg.SyncInterval),
		zap.Int("pending", app.store.PendingCount()))
	err = group.Wait()
	app.logger.Info("daemon stopped", zap.Int("pending", app.store.PendingCount()))
	return err
}

// watchSyncSettings applies endpoint and credential edits from the config
// file without restarting. Other keys need a restart.
func watchSyncSettings(client *syncclient.Client, logger *zap.Logger) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(event fsnotify.Event) {
		appConfig, err := config.Load(viper.GetViper())
		if err != nil {
			logger.Warn("ignoring invalid config change", zap.String("file", event.Name), zap.Error(err))
			return
		}
		if err := client.Reconfigure(appConfig.SyncEndpoint, appConfig.SyncAPIKey); err != nil {
			logger.Warn("failed to apply sync settings", zap.Error(err))
			return
		}
		logger.Info("sync settings reloaded", zap.String("file", event.Name), zap.String("endpoint", appConfig.SyncEndpoint))
	})
	viper.WatchConfig()
}

func logStatusChanges(ctx context.Context, store *driver.Store, logger *zap.Logger) {
	events, cleanup := store.Subscribe(ctx, driver.EventStatusChanged, driver.EventQueueDrained)
	defer cleanup()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-events:
			switch event.Kind {
			case driver.EventQueueDrained:
				logger.Info("changes synced", zap.Int("acknowledged", len(event.RecordIDs)), zap.Int("pending", event.Pending))
			default:
				logger.Debug("sync status changed", zap.String("status", event.Status.Label()), zap.Int("pending", event.Pending))
			}
		}
	}
}

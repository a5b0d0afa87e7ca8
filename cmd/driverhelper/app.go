package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MarcoPoloResearchLab/driverhelper/internal/config"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/connectivity"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/database"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/driver"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/logging"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/syncclient"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// deviceApp is the wired device side: store, sync client and prober.
type deviceApp struct {
	cfg    config.AppConfig
	logger *zap.Logger
	store  *driver.Store
	client *syncclient.Client
	prober *connectivity.Prober
	close  func()
}

func openDevice(ctx context.Context) (*deviceApp, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFile)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenDeviceStore(appConfig.DatabasePath, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	closer := func() {
		_ = sqlDB.Close()
		_ = logger.Sync()
	}

	client, err := syncclient.New(syncclient.Config{
		Endpoint: appConfig.SyncEndpoint,
		APIKey:   appConfig.SyncAPIKey,
		Timeout:  appConfig.SyncTimeout,
		Logger:   logger,
	})
	if err != nil {
		closer()
		return nil, err
	}
	prober, err := connectivity.NewProber(connectivity.ProberConfig{
		URL:      appConfig.ProbeURL,
		Interval: appConfig.ProbeInterval,
		Logger:   logger,
	})
	if err != nil {
		closer()
		return nil, err
	}

	store, err := driver.NewStore(driver.StoreConfig{
		Database:             db,
		Transport:            client,
		Connectivity:         prober,
		Clock:                time.Now,
		IDProvider:           driver.NewUUIDProvider(),
		StrictAcknowledgment: appConfig.StrictAcknowledgment,
		Logger:               logger,
	})
	if err != nil {
		closer()
		return nil, err
	}
	if err := store.Load(ctx); err != nil {
		closer()
		return nil, err
	}

	return &deviceApp{
		cfg:    appConfig,
		logger: logger,
		store:  store,
		client: client,
		prober: prober,
		close:  closer,
	}, nil
}

// withDevice opens the device, runs fn and then makes one reactive sync
// attempt when mutate is set. A failed attempt leaves the queue for later.
func withDevice(ctx context.Context, out io.Writer, mutate bool, fn func(app *deviceApp) error) error {
	app, err := openDevice(ctx)
	if err != nil {
		return err
	}
	defer app.close()

	if err := fn(app); err != nil {
		return err
	}
	if !mutate {
		return nil
	}

	app.prober.Check(ctx)
	if err := app.store.SyncNow(ctx); err != nil {
		var storeErr *driver.StoreError
		if errors.As(err, &storeErr) {
			app.logger.Debug("reactive sync failed", zap.String("code", storeErr.Code()))
		}
		fmt.Fprintf(out, "saved locally; %s (%d pending)\n", app.store.SyncStatus().Label(), app.store.PendingCount())
		return nil
	}
	if pending := app.store.PendingCount(); pending > 0 {
		fmt.Fprintf(out, "saved locally; %d change(s) waiting for connectivity\n", pending)
		return nil
	}
	fmt.Fprintln(out, app.store.SyncStatus().Label())
	return nil
}

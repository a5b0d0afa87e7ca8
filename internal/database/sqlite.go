package database

import (
	"fmt"

	"github.com/MarcoPoloResearchLab/driverhelper/internal/ledger"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/records"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/storage"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/syncqueue"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenDeviceStore opens the device-local database holding entity collections and the sync queue.
func OpenDeviceStore(path string, zapLogger *zap.Logger) (*gorm.DB, error) {
	return openSQLite(path, zapLogger, migrateDeviceSchema)
}

// OpenRelayLedger opens the relay database holding reconciled records and receipts.
func OpenRelayLedger(path string, zapLogger *zap.Logger) (*gorm.DB, error) {
	return openSQLite(path, zapLogger, func(db *gorm.DB) error {
		return db.AutoMigrate(&ledger.SyncedRecord{}, &ledger.SyncReceipt{})
	})
}

func openSQLite(path string, zapLogger *zap.Logger, migrate func(*gorm.DB) error) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: database path is required", storage.ErrStorageUnavailable)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrStorageUnavailable, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrStorageUnavailable, err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: %v", storage.ErrStorageUnavailable, err)
	}

	if zapLogger != nil {
		zapLogger.Info("database initialized", zap.String("path", path))
	}

	return db, nil
}

func migrateDeviceSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&records.DriverProfile{},
		&records.Note{},
		&records.HealthMetric{},
		&records.CommunityPost{},
		&records.Reminder{},
		&records.SOSContact{},
		&records.SOSEvent{},
		&syncqueue.Item{},
	); err != nil {
		return err
	}
	for _, collection := range []records.Collection{records.CollectionEarnings, records.CollectionExpenses} {
		if err := db.Table(collection.String()).AutoMigrate(&records.MoneyEntry{}); err != nil {
			return err
		}
	}
	return nil
}

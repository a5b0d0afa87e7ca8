package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/driverhelper/internal/records"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestAdapter(testContext *testing.T) (*Adapter, *gorm.DB) {
	testContext.Helper()
	database, err := gorm.Open(sqlite.Open(filepath.Join(testContext.TempDir(), "adapter.db")), &gorm.Config{TranslateError: true})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	testContext.Cleanup(func() { sqlDB.Close() })

	if err := database.AutoMigrate(&records.DriverProfile{}, &records.Reminder{}); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}
	if err := database.Table("earnings").AutoMigrate(&records.MoneyEntry{}); err != nil {
		testContext.Fatalf("failed to migrate earnings: %v", err)
	}
	adapter, err := NewAdapter(database)
	if err != nil {
		testContext.Fatalf("failed to build adapter: %v", err)
	}
	return adapter, database
}

func TestInsertAndReadAllNewestFirst(testContext *testing.T) {
	adapter, _ := newTestAdapter(testContext)
	ctx := context.Background()
	recordedOn := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	for _, id := range []string{"e-1", "e-2", "e-3"} {
		entry := records.MoneyEntry{ID: id, Amount: 100, Category: "Daily Trip", RecordedOn: recordedOn}
		if err := adapter.Insert(ctx, "earnings", &entry); err != nil {
			testContext.Fatalf("unexpected insert error: %v", err)
		}
	}

	entries, err := ReadAll[records.MoneyEntry](ctx, adapter, "earnings")
	if err != nil {
		testContext.Fatalf("unexpected read error: %v", err)
	}
	if len(entries) != 3 {
		testContext.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].ID != "e-3" || entries[2].ID != "e-1" {
		testContext.Fatalf("expected newest first, got %s..%s", entries[0].ID, entries[2].ID)
	}
	if !entries[0].RecordedOn.Equal(recordedOn) {
		testContext.Fatalf("expected recorded_on to round-trip, got %s", entries[0].RecordedOn)
	}
}

func TestInsertRejectsSecondProfile(testContext *testing.T) {
	adapter, _ := newTestAdapter(testContext)
	ctx := context.Background()

	first := records.DriverProfile{ID: records.ProfileID, Name: "Ravi", CreatedAt: time.Now().UTC()}
	if err := adapter.Insert(ctx, records.CollectionProfile.String(), &first); err != nil {
		testContext.Fatalf("unexpected insert error: %v", err)
	}
	second := records.DriverProfile{ID: records.ProfileID, Name: "Someone else", CreatedAt: time.Now().UTC()}
	err := adapter.Insert(ctx, records.CollectionProfile.String(), &second)
	if !errors.Is(err, ErrWriteRejected) {
		testContext.Fatalf("expected ErrWriteRejected, got %v", err)
	}
}

func TestUpdatePatchesExistingRow(testContext *testing.T) {
	adapter, _ := newTestAdapter(testContext)
	ctx := context.Background()

	reminder := records.Reminder{ID: "r-1", Title: "Permit renewal", DueOn: time.Now().UTC()}
	if err := adapter.Insert(ctx, records.CollectionReminders.String(), &reminder); err != nil {
		testContext.Fatalf("unexpected insert error: %v", err)
	}
	if err := adapter.Update(ctx, records.CollectionReminders.String(), "r-1", map[string]any{"completed": true}); err != nil {
		testContext.Fatalf("unexpected update error: %v", err)
	}
	reminders, err := ReadAll[records.Reminder](ctx, adapter, records.CollectionReminders.String())
	if err != nil {
		testContext.Fatalf("unexpected read error: %v", err)
	}
	if len(reminders) != 1 || !reminders[0].Completed {
		testContext.Fatalf("expected completed reminder, got %+v", reminders)
	}

	err = adapter.Update(ctx, records.CollectionReminders.String(), "missing", map[string]any{"completed": true})
	if !errors.Is(err, ErrRecordNotFound) {
		testContext.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestTransactionRollsBackOnFailure(testContext *testing.T) {
	adapter, _ := newTestAdapter(testContext)
	ctx := context.Background()

	failure := errors.New("second write failed")
	err := adapter.Transaction(ctx, func(tx *Adapter) error {
		reminder := records.Reminder{ID: "r-1", Title: "Oil change", DueOn: time.Now().UTC()}
		if err := tx.Insert(ctx, records.CollectionReminders.String(), &reminder); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		testContext.Fatalf("expected callback error to surface, got %v", err)
	}
	reminders, err := ReadAll[records.Reminder](ctx, adapter, records.CollectionReminders.String())
	if err != nil {
		testContext.Fatalf("unexpected read error: %v", err)
	}
	if len(reminders) != 0 {
		testContext.Fatalf("expected rollback to discard the insert, found %d rows", len(reminders))
	}
}

func TestClosedDatabaseReportsStorageUnavailable(testContext *testing.T) {
	adapter, database := newTestAdapter(testContext)
	sqlDB, _ := database.DB()
	sqlDB.Close()

	reminder := records.Reminder{ID: "r-1", Title: "Oil change", DueOn: time.Now().UTC()}
	err := adapter.Insert(context.Background(), records.CollectionReminders.String(), &reminder)
	if !errors.Is(err, ErrStorageUnavailable) {
		testContext.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	_, err = ReadAll[records.Reminder](context.Background(), adapter, records.CollectionReminders.String())
	if !errors.Is(err, ErrStorageUnavailable) {
		testContext.Fatalf("expected ErrStorageUnavailable on read, got %v", err)
	}
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/driverhelper/internal/jsonpatch"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/syncqueue"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDs struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDs) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("change-%d", p.next), nil
}

var baseTime = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestService(testContext *testing.T) (*Service, *gorm.DB) {
	testContext.Helper()
	database, err := gorm.Open(sqlite.Open(filepath.Join(testContext.TempDir(), "ledger.db")), &gorm.Config{TranslateError: true})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	testContext.Cleanup(func() { sqlDB.Close() })
	if err := database.AutoMigrate(&SyncedRecord{}, &SyncReceipt{}); err != nil {
		testContext.Fatalf("failed to migrate ledger: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:   database,
		Clock:      func() time.Time { return baseTime.Add(time.Hour) },
		IDProvider: &sequenceIDs{},
	})
	if err != nil {
		testContext.Fatalf("failed to build service: %v", err)
	}
	return service, database
}

func item(id, table, recordID string, action syncqueue.Action, payload string, offset time.Duration) syncqueue.Item {
	return syncqueue.Item{ID: id, Table: table, RecordID: recordID, Action: action, Payload: payload, CreatedAt: baseTime.Add(offset)}
}

func mustApply(testContext *testing.T, service *Service, items ...syncqueue.Item) BatchResult {
	testContext.Helper()
	result, err := service.ApplyBatch(context.Background(), "phone", items)
	if err != nil {
		testContext.Fatalf("unexpected apply error: %v", err)
	}
	return result
}

func mustRecord(testContext *testing.T, service *Service, table, recordID string) SyncedRecord {
	testContext.Helper()
	records, err := service.ListRecords(context.Background(), table)
	if err != nil {
		testContext.Fatalf("unexpected list error: %v", err)
	}
	for _, record := range records {
		if record.RecordID == recordID {
			return record
		}
	}
	testContext.Fatalf("record %s/%s not found", table, recordID)
	return SyncedRecord{}
}

func TestApplyBatchAcknowledgesEveryItemInOrder(testContext *testing.T) {
	service, _ := newTestService(testContext)
	result := mustApply(testContext, service,
		item("q-1", "earnings", "e-1", syncqueue.ActionCreate, `{"id":"e-1","amount":500}`, 0),
		item("q-2", "notes", "n-1", syncqueue.ActionCreate, `{"id":"n-1","body":"fuel"}`, time.Second),
	)
	if len(result.SyncedIDs) != 2 || result.SyncedIDs[0] != "q-1" || result.SyncedIDs[1] != "q-2" {
		testContext.Fatalf("unexpected synced ids %v", result.SyncedIDs)
	}
	record := mustRecord(testContext, service, "earnings", "e-1")
	if record.Version != 1 || record.LastWriterDevice != "phone" || record.IsDeleted {
		testContext.Fatalf("unexpected record %+v", record)
	}
	if jsonpatch.Field(record.PayloadJSON, "amount") != "500" {
		testContext.Fatalf("unexpected payload %s", record.PayloadJSON)
	}
}

func TestApplyBatchMergesUpdatesAndMarksDeletes(testContext *testing.T) {
	service, _ := newTestService(testContext)
	mustApply(testContext, service, item("q-1", "reminders", "r-1", syncqueue.ActionCreate, `{"id":"r-1","title":"Tax","completed":false}`, 0))
	mustApply(testContext, service, item("q-2", "reminders", "r-1", syncqueue.ActionUpdate, `{"id":"r-1","completed":true}`, time.Minute))

	record := mustRecord(testContext, service, "reminders", "r-1")
	if record.Version != 2 {
		testContext.Fatalf("expected version 2, got %d", record.Version)
	}
	if jsonpatch.Field(record.PayloadJSON, "completed") != "true" || jsonpatch.Field(record.PayloadJSON, "title") != "Tax" {
		testContext.Fatalf("expected merged payload, got %s", record.PayloadJSON)
	}

	mustApply(testContext, service, item("q-3", "reminders", "r-1", syncqueue.ActionDelete, `{"id":"r-1"}`, 2*time.Minute))
	record = mustRecord(testContext, service, "reminders", "r-1")
	if !record.IsDeleted || jsonpatch.Field(record.PayloadJSON, "title") != "Tax" {
		testContext.Fatalf("expected tombstone keeping last payload, got %+v", record)
	}

	result := mustApply(testContext, service, item("q-4", "reminders", "r-1", syncqueue.ActionUpdate, `{"completed":false}`, 3*time.Minute))
	if result.Outcomes[0].Accepted || len(result.SyncedIDs) != 1 {
		testContext.Fatalf("update after delete must be acknowledged but not applied: %+v", result.Outcomes[0])
	}
}

func TestApplyBatchKeepsNewerStateOnStaleWrite(testContext *testing.T) {
	service, _ := newTestService(testContext)
	mustApply(testContext, service, item("q-2", "driver_profile", "1", syncqueue.ActionCreate, `{"id":1,"name":"New"}`, time.Hour))
	result := mustApply(testContext, service, item("q-1", "driver_profile", "1", syncqueue.ActionUpdate, `{"id":1,"name":"Old"}`, 0))

	if result.Outcomes[0].Accepted {
		testContext.Fatalf("stale write must be rejected")
	}
	if len(result.SyncedIDs) != 1 || result.SyncedIDs[0] != "q-1" {
		testContext.Fatalf("stale write must still be acknowledged, got %v", result.SyncedIDs)
	}
	if name := jsonpatch.Field(mustRecord(testContext, service, "driver_profile", "1").PayloadJSON, "name"); name != "New" {
		testContext.Fatalf("expected newer name to survive, got %q", name)
	}
}

func TestApplyBatchDetectsReplays(testContext *testing.T) {
	service, db := newTestService(testContext)
	first := item("q-1", "notes", "n-1", syncqueue.ActionCreate, `{"id":"n-1","body":"a"}`, 0)
	mustApply(testContext, service, first)

	result := mustApply(testContext, service, first)
	if !result.Outcomes[0].Replayed || result.SyncedIDs[0] != "q-1" {
		testContext.Fatalf("expected replay to be acknowledged, got %+v", result.Outcomes[0])
	}
	if record := mustRecord(testContext, service, "notes", "n-1"); record.Version != 1 {
		testContext.Fatalf("replay must not reapply, version %d", record.Version)
	}
	var receipts int64
	if err := db.Model(&SyncReceipt{}).Count(&receipts).Error; err != nil {
		testContext.Fatalf("failed to count receipts: %v", err)
	}
	if receipts != 1 {
		testContext.Fatalf("expected one receipt, got %d", receipts)
	}
}

func TestApplyBatchRejectsInvalidItemsAtomically(testContext *testing.T) {
	service, db := newTestService(testContext)
	_, err := service.ApplyBatch(context.Background(), "", []syncqueue.Item{
		item("q-1", "notes", "n-1", syncqueue.ActionCreate, `{"id":"n-1"}`, 0),
		item("q-2", "notes", "n-2", syncqueue.ActionCreate, `not json`, time.Second),
	})
	if !errors.Is(err, syncqueue.ErrInvalidItem) {
		testContext.Fatalf("expected invalid item, got %v", err)
	}
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "ledger.apply_batch.invalid_item" {
		testContext.Fatalf("unexpected error code: %v", err)
	}
	var count int64
	if err := db.Model(&SyncedRecord{}).Count(&count).Error; err != nil {
		testContext.Fatalf("failed to count records: %v", err)
	}
	if count != 0 {
		testContext.Fatalf("failed batch must not apply any item, found %d", count)
	}

	_, err = service.ApplyBatch(context.Background(), "", []syncqueue.Item{{ID: "q-3", Table: "notes", RecordID: "n-3", Action: "upsert", CreatedAt: baseTime}})
	if !errors.Is(err, syncqueue.ErrInvalidAction) {
		testContext.Fatalf("expected invalid action, got %v", err)
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceConfig{IDProvider: &sequenceIDs{}}); err == nil {
		t.Fatalf("expected missing database error")
	}
	if _, err := NewService(ServiceConfig{Database: &gorm.DB{}}); err == nil {
		t.Fatalf("expected missing id provider error")
	}
}

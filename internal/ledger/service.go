package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/driverhelper/internal/syncqueue"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingCollection = errors.New("table name is required")
	noOpLogger           = zap.NewNop()
)

// AnonymousDevice labels batches that arrive without a device identity.
const AnonymousDevice = "anonymous"

type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "ledger.service.new"
	opApplyBatch  = "ledger.apply_batch"
	opListRecords = "ledger.list_records"
)

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

type IDProvider interface {
	NewID() (string, error)
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// ApplyBatch reconciles items in order inside one transaction. Every item in
// the batch is acknowledged on success, including replays and items that lost
// to a newer state; on failure nothing is applied or acknowledged.
func (s *Service) ApplyBatch(ctx context.Context, device string, items []syncqueue.Item) (BatchResult, error) {
	if device == "" {
		device = AnonymousDevice
	}
	for _, item := range items {
		if err := item.Validate(); err != nil {
			s.logError(opApplyBatch, "invalid_item", err, zap.String("item_id", item.ID))
			return BatchResult{}, newServiceError(opApplyBatch, "invalid_item", err)
		}
	}

	result := BatchResult{
		SyncedIDs: make([]string, 0, len(items)),
		Outcomes:  make([]Outcome, 0, len(items)),
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range items {
			fields := []zap.Field{
				zap.String("device", device),
				zap.String("table_name", item.Table),
				zap.String("record_id", item.RecordID),
			}

			var receipt SyncReceipt
			err := tx.Where("item_id = ?", item.ID).Take(&receipt).Error
			switch {
			case err == nil:
				result.SyncedIDs = append(result.SyncedIDs, item.ID)
				result.Outcomes = append(result.Outcomes, Outcome{ItemID: item.ID, Accepted: receipt.Accepted, Replayed: true, Receipt: &receipt})
				continue
			case !errors.Is(err, gorm.ErrRecordNotFound):
				s.logError(opApplyBatch, "receipt_select_failed", err, fields...)
				return newServiceError(opApplyBatch, "receipt_select_failed", err)
			}

			var existing SyncedRecord
			var existingPtr *SyncedRecord
			err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("table_name = ? AND record_id = ?", item.Table, item.RecordID).
				Take(&existing).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				existingPtr = nil
			} else if err != nil {
				s.logError(opApplyBatch, "record_select_failed", err, fields...)
				return newServiceError(opApplyBatch, "record_select_failed", err)
			} else {
				existingPtr = &existing
			}

			outcome, err := resolveChange(existingPtr, item, device, s.clock().UTC())
			if err != nil {
				s.logError(opApplyBatch, "invalid_item", err, fields...)
				return newServiceError(opApplyBatch, "invalid_item", err)
			}
			if outcome.Accepted {
				if err := tx.Save(outcome.Record).Error; err != nil {
					s.logError(opApplyBatch, "record_save_failed", err, fields...)
					return newServiceError(opApplyBatch, "record_save_failed", err)
				}
			}

			changeID, err := s.idProvider.NewID()
			if err != nil {
				s.logError(opApplyBatch, "id_generation_failed", err, fields...)
				return newServiceError(opApplyBatch, "id_generation_failed", err)
			}
			outcome.Receipt.ChangeID = changeID
			if err := tx.Create(outcome.Receipt).Error; err != nil {
				s.logError(opApplyBatch, "receipt_insert_failed", err, fields...)
				return newServiceError(opApplyBatch, "receipt_insert_failed", err)
			}

			result.SyncedIDs = append(result.SyncedIDs, item.ID)
			result.Outcomes = append(result.Outcomes, outcome)
		}
		return nil
	})
	if txErr != nil {
		return BatchResult{}, txErr
	}

	s.logger.Info("sync batch applied", zap.String("device", device), zap.Int("items", len(items)))
	return result, nil
}

// ListRecords returns the reconciled records of one collection, deleted ones included.
func (s *Service) ListRecords(ctx context.Context, collection string) ([]SyncedRecord, error) {
	if collection == "" {
		return nil, newServiceError(opListRecords, "missing_table_name", errMissingCollection)
	}
	var records []SyncedRecord
	if err := s.db.WithContext(ctx).
		Where("table_name = ?", collection).
		Order("changed_at ASC").
		Find(&records).Error; err != nil {
		s.logError(opListRecords, "query_failed", err, zap.String("table_name", collection))
		return nil, newServiceError(opListRecords, "query_failed", err)
	}
	return records, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("ledger service error", attrs...)
}

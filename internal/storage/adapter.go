// Package storage is the device-local persistence layer. It exposes
// collection-oriented reads and writes over gorm and maps driver failures onto
// ErrStorageUnavailable and ErrWriteRejected.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

var (
	// ErrStorageUnavailable reports that the local medium could not be opened, read, or written.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrWriteRejected reports a constraint violation such as a second singleton row.
	ErrWriteRejected = errors.New("write rejected")
	// ErrRecordNotFound reports an update addressed to a row that does not exist.
	ErrRecordNotFound = errors.New("record not found")

	errMissingDatabase   = errors.New("database handle is required")
	errMissingCollection = errors.New("collection name is required")
)

const newestFirst = "rowid DESC"

// Adapter performs collection-level CRUD against one gorm handle, which may be a transaction.
type Adapter struct {
	db *gorm.DB
}

// NewAdapter wraps an opened database.
func NewAdapter(db *gorm.DB) (*Adapter, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, errMissingDatabase)
	}
	return &Adapter{db: db}, nil
}

// Transaction runs fn against an adapter bound to a single database transaction.
// Every write made through the inner adapter commits or rolls back together.
func (a *Adapter) Transaction(ctx context.Context, fn func(tx *Adapter) error) error {
	var fnErr error
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		fnErr = fn(&Adapter{db: tx})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return classify(err)
}

// Insert stores one record in the named collection.
func (a *Adapter) Insert(ctx context.Context, collection string, record any) error {
	if collection == "" {
		return errMissingCollection
	}
	return classify(a.db.WithContext(ctx).Table(collection).Create(record).Error)
}

// Update applies patch to the row whose primary key equals id.
func (a *Adapter) Update(ctx context.Context, collection string, id any, patch map[string]any) error {
	if collection == "" {
		return errMissingCollection
	}
	result := a.db.WithContext(ctx).Table(collection).Where("id = ?", id).Updates(patch)
	if result.Error != nil {
		return classify(result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s/%v", ErrRecordNotFound, collection, id)
	}
	return nil
}

// Delete removes the rows with the given primary keys. Missing ids are ignored.
func (a *Adapter) Delete(ctx context.Context, collection string, ids ...string) error {
	if collection == "" {
		return errMissingCollection
	}
	if len(ids) == 0 {
		return nil
	}
	return classify(a.db.WithContext(ctx).Table(collection).Where("id IN ?", ids).Delete(map[string]any{}).Error)
}

// ReadAll returns every record in the collection, most recently inserted first.
func ReadAll[T any](ctx context.Context, a *Adapter, collection string) ([]T, error) {
	return ReadAllOrdered[T](ctx, a, collection, newestFirst)
}

// ReadAllOrdered returns every record in the collection using the given ORDER BY clause.
func ReadAllOrdered[T any](ctx context.Context, a *Adapter, collection string, order string) ([]T, error) {
	if collection == "" {
		return nil, errMissingCollection
	}
	records := make([]T, 0)
	if err := a.db.WithContext(ctx).Table(collection).Order(order).Find(&records).Error; err != nil {
		return nil, classify(err)
	}
	return records, nil
}

// FindWhere returns the records matching every column/value pair in conditions.
func FindWhere[T any](ctx context.Context, a *Adapter, collection string, conditions map[string]any) ([]T, error) {
	if collection == "" {
		return nil, errMissingCollection
	}
	records := make([]T, 0)
	if err := a.db.WithContext(ctx).Table(collection).Where(conditions).Find(&records).Error; err != nil {
		return nil, classify(err)
	}
	return records, nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrWriteRejected) || errors.Is(err, ErrRecordNotFound) {
		return err
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || isConstraintViolation(err) {
		return fmt.Errorf("%w: %v", ErrWriteRejected, err)
	}
	return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
}

func isConstraintViolation(err error) bool {
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "constraint failed") || strings.Contains(message, "constraint violation")
}

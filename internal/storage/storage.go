// internal/storage/storage.go
package storage

import (
	"context"
	"errors"

	"github.com/rovshanmuradov/agro-ledger/internal/storage/models"
)

// ErrNotFound возвращается, когда запись журнала отсутствует
var ErrNotFound = errors.New("write record not found")

// WriteUpdate описывает изменение статуса; пустые поля не трогают сохранённые значения
type WriteUpdate struct {
	Status       string
	Hash         string
	ErrorMessage string
	Transient    bool
	BlockRef     uint64
}

// Journal определяет интерфейс журнала записей в леджер
type Journal interface {
	SaveWrite(ctx context.Context, rec *models.WriteRecord) error
	GetWrite(ctx context.Context, writeID string) (*models.WriteRecord, error)
	ListWrites(ctx context.Context, account string, limit, offset int) ([]*models.WriteRecord, error)
	UpdateWrite(ctx context.Context, writeID string, upd WriteUpdate) error

	RunMigrations() error
	Close() error
}

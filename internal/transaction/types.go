// internal/transaction/types.go
package transaction

import (
	"errors"
	"time"

	"github.com/rovshanmuradov/agro-ledger/internal/storage/models"
)

var (
	ErrConfirmationTimeout = errors.New("write confirmation timeout")
	ErrUnknownWrite        = errors.New("unknown write")
)

// Status: состояние записи в леджер, видимое вызывающему
type Status string

const (
	StatusPending Status = "pending"
	StatusSettled Status = "settled"
	StatusFailed  Status = "failed"
)

type Config struct {
	// PollInterval: период опроса квитанции
	PollInterval time.Duration
	// ConfirmationTime: максимальное ожидание включения записи
	ConfirmationTime time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval:     time.Second,
		ConfirmationTime: 120 * time.Second,
	}
}

// Record: состояние одной записи в леджер
type Record struct {
	ID        string
	Kind      string
	Account   string
	TokenID   string
	Payment   string
	Hash      string
	Status    Status
	Err       error
	Transient bool
	BlockRef  uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Intent описывает запись до отправки
type Intent struct {
	Kind    string
	Account string
	TokenID string
	Payment string
}

// FromJournal восстанавливает Record из строки журнала
func FromJournal(m *models.WriteRecord) Record {
	rec := Record{
		ID:        m.WriteID,
		Kind:      m.Kind,
		Account:   m.Account,
		TokenID:   m.TokenID,
		Payment:   m.Payment,
		Hash:      m.Hash,
		Status:    Status(m.Status),
		Transient: m.Transient,
		BlockRef:  m.BlockRef,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	if m.ErrorMessage != "" {
		rec.Err = errors.New(m.ErrorMessage)
	}
	return rec
}

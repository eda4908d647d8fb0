// internal/storage/memory/memory.go
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rovshanmuradov/agro-ledger/internal/storage"
	"github.com/rovshanmuradov/agro-ledger/internal/storage/models"
)

// Journal хранит записи в памяти процесса
type Journal struct {
	mu      sync.RWMutex
	nextID  uint
	records map[string]*models.WriteRecord
}

func New() *Journal {
	return &Journal{records: make(map[string]*models.WriteRecord)}
}

var _ storage.Journal = (*Journal)(nil)

func (j *Journal) SaveWrite(_ context.Context, rec *models.WriteRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, ok := j.records[rec.WriteID]; ok {
		return fmt.Errorf("write %s already journaled", rec.WriteID)
	}
	j.nextID++
	cp := *rec
	cp.ID = j.nextID
	now := time.Now().UTC()
	cp.CreatedAt, cp.UpdatedAt = now, now
	j.records[rec.WriteID] = &cp
	rec.ID = cp.ID
	return nil
}

func (j *Journal) GetWrite(_ context.Context, writeID string) (*models.WriteRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	rec, ok := j.records[writeID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (j *Journal) ListWrites(_ context.Context, account string, limit, offset int) ([]*models.WriteRecord, error) {
	j.mu.RLock()
	var out []*models.WriteRecord
	for _, rec := range j.records {
		if account == "" || rec.Account == account {
			cp := *rec
			out = append(out, &cp)
		}
	}
	j.mu.RUnlock()

	sort.Slice(out, func(a, b int) bool { return out[a].ID > out[b].ID })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (j *Journal) UpdateWrite(_ context.Context, writeID string, upd storage.WriteUpdate) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec, ok := j.records[writeID]
	if !ok {
		return storage.ErrNotFound
	}
	if upd.Status != "" {
		rec.Status = upd.Status
	}
	if upd.Hash != "" {
		rec.Hash = upd.Hash
	}
	if upd.ErrorMessage != "" {
		rec.ErrorMessage = upd.ErrorMessage
	}
	if upd.Transient {
		rec.Transient = true
	}
	if upd.BlockRef != 0 {
		rec.BlockRef = upd.BlockRef
	}
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (j *Journal) RunMigrations() error { return nil }
func (j *Journal) Close() error         { return nil }

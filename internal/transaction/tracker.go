// internal/transaction/tracker.go
package transaction

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rovshanmuradov/agro-ledger/internal/events"
	"github.com/rovshanmuradov/agro-ledger/internal/storage"
	"github.com/rovshanmuradov/agro-ledger/internal/storage/models"
	"github.com/rovshanmuradov/agro-ledger/internal/utils/metrics"
	"go.uber.org/zap"
)

// DefaultRetention: сколько завершённых записей держать в памяти
const DefaultRetention = 1000

// Tracker хранит статусы записей в леджер (pending/settled/failed),
// дублирует переходы в журнал и публикует их в шину событий.
// Журнал и шина опциональны. Из памяти вытесняются самые старые
// завершённые записи сверх retention; pending не вытесняются никогда.
type Tracker struct {
	mu        sync.RWMutex
	records   map[string]*Record
	retention int

	journal storage.Journal
	bus     events.Publisher
	metrics *metrics.Collector
	logger  *zap.Logger
}

func NewTracker(logger *zap.Logger, journal storage.Journal, bus events.Publisher, collector *metrics.Collector) *Tracker {
	return &Tracker{
		records:   make(map[string]*Record),
		retention: DefaultRetention,
		journal:   journal,
		bus:       bus,
		metrics:   collector,
		logger:    logger.Named("write-tracker"),
	}
}

// WithRetention меняет число завершённых записей, которые остаются в памяти
func (t *Tracker) WithRetention(n int) *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n > 0 {
		t.retention = n
	}
	return t
}

// Begin регистрирует запись в статусе pending и возвращает её id
func (t *Tracker) Begin(ctx context.Context, in Intent) string {
	now := time.Now().UTC()
	rec := &Record{
		ID:        uuid.New().String(),
		Kind:      in.Kind,
		Account:   in.Account,
		TokenID:   in.TokenID,
		Payment:   in.Payment,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	t.mu.Lock()
	t.records[rec.ID] = rec
	t.mu.Unlock()

	if t.journal != nil {
		err := t.journal.SaveWrite(context.WithoutCancel(ctx), &models.WriteRecord{
			WriteID: rec.ID,
			Kind:    rec.Kind,
			Account: rec.Account,
			TokenID: rec.TokenID,
			Payment: rec.Payment,
			Status:  string(StatusPending),
		})
		if err != nil {
			t.logger.Warn("Failed to journal write", zap.String("write_id", rec.ID), zap.Error(err))
		}
	}
	return rec.ID
}

// MarkSubmitted сохраняет хэш отправленной записи; статус остаётся pending
func (t *Tracker) MarkSubmitted(ctx context.Context, id, hash string) {
	rec, ok := t.update(id, func(r *Record) { r.Hash = hash })
	if !ok {
		return
	}
	t.journalUpdate(ctx, id, storage.WriteUpdate{Hash: hash})
	t.publish(events.WriteSubmitted, rec)
}

// Settle переводит запись в settled
func (t *Tracker) Settle(ctx context.Context, id string, blockRef uint64) {
	rec, ok := t.update(id, func(r *Record) {
		r.Status = StatusSettled
		r.BlockRef = blockRef
	})
	if !ok {
		return
	}
	t.journalUpdate(ctx, id, storage.WriteUpdate{Status: string(StatusSettled), BlockRef: blockRef})
	t.metrics.RecordWrite(rec.Kind, string(StatusSettled), rec.UpdatedAt.Sub(rec.CreatedAt))
	t.publish(events.WriteSettled, rec)
	t.evict()
}

// Fail переводит запись в failed; при transient исход неизвестен
func (t *Tracker) Fail(ctx context.Context, id string, cause error, transient bool) {
	rec, ok := t.update(id, func(r *Record) {
		r.Status = StatusFailed
		r.Err = cause
		r.Transient = transient
	})
	if !ok {
		return
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	t.journalUpdate(ctx, id, storage.WriteUpdate{Status: string(StatusFailed), ErrorMessage: msg, Transient: transient})
	t.metrics.RecordWrite(rec.Kind, string(StatusFailed), 0)
	t.publish(events.WriteFailed, rec)
	t.evict()
}

// evict удаляет из памяти самые старые завершённые записи сверх retention.
// Журнал их сохраняет.
func (t *Tracker) evict() {
	t.mu.Lock()
	defer t.mu.Unlock()

	var done []*Record
	for _, rec := range t.records {
		if rec.Status != StatusPending {
			done = append(done, rec)
		}
	}
	if len(done) <= t.retention {
		return
	}
	sort.Slice(done, func(i, j int) bool { return done[i].UpdatedAt.Before(done[j].UpdatedAt) })
	for _, rec := range done[:len(done)-t.retention] {
		delete(t.records, rec.ID)
	}
	t.logger.Debug("Evicted finished writes", zap.Int("count", len(done)-t.retention))
}

// Get возвращает копию записи
func (t *Tracker) Get(id string) (Record, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[id]
	if !ok {
		return Record{}, ErrUnknownWrite
	}
	return *rec, nil
}

// List возвращает копии записей, новые первыми
func (t *Tracker) List() []Record {
	t.mu.RLock()
	out := make([]Record, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, *rec)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (t *Tracker) update(id string, fn func(*Record)) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[id]
	if !ok {
		t.logger.Warn("Update for unknown write", zap.String("write_id", id))
		return Record{}, false
	}
	fn(rec)
	rec.UpdatedAt = time.Now().UTC()
	return *rec, true
}

func (t *Tracker) journalUpdate(ctx context.Context, id string, upd storage.WriteUpdate) {
	if t.journal == nil {
		return
	}
	if err := t.journal.UpdateWrite(context.WithoutCancel(ctx), id, upd); err != nil && !errors.Is(err, storage.ErrNotFound) {
		t.logger.Warn("Failed to journal write update", zap.String("write_id", id), zap.Error(err))
	}
}

func (t *Tracker) publish(typ events.EventType, rec Record) {
	if t.bus == nil {
		return
	}
	err := t.bus.Publish(events.WriteEvent{
		BaseEvent: events.NewBase(typ),
		WriteID:   rec.ID,
		Kind:      rec.Kind,
		Account:   rec.Account,
		TokenID:   rec.TokenID,
		Hash:      rec.Hash,
		Transient: rec.Transient,
		Error:     rec.Err,
	})
	if err != nil {
		t.logger.Debug("Event not published", zap.String("type", string(typ)), zap.String("write_id", rec.ID), zap.Error(err))
	}
}

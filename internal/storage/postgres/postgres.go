// internal/storage/postgres/postgres.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rovshanmuradov/agro-ledger/internal/storage"
	"github.com/rovshanmuradov/agro-ledger/internal/storage/models"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// gormLogger реализует интерфейс logger.Interface для GORM
type gormLogger struct {
	zapLogger *zap.Logger
	logLevel  logger.LogLevel
}

func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{
		zapLogger: zapLogger,
		logLevel:  logger.Warn,
	}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

// Trace пишет SQL только на уровне Info; ErrRecordNotFound не считается ошибкой
func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		l.zapLogger.Error("trace", append(fields, zap.Error(err))...)
		return
	}
	if l.logLevel >= logger.Info {
		l.zapLogger.Debug("trace", fields...)
	}
}

// journalStorage реализует storage.Journal поверх GORM
type journalStorage struct {
	db      *gorm.DB
	dialect string
	logger  *zap.Logger
}

// NewStorage подключается к PostgreSQL по DSN
func NewStorage(dsn string, zapLogger *zap.Logger) (storage.Journal, error) {
	return Open(postgres.Open(dsn), DialectPostgres, zapLogger)
}

// Open создаёт журнал поверх произвольного диалектора GORM.
// dialect: имя диалекта для sql-migrate ("postgres" или "sqlite3").
func Open(dialector gorm.Dialector, dialect string, zapLogger *zap.Logger) (storage.Journal, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm")),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	// Настройка пула соединений
	if dialect == DialectPostgres {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	} else {
		sqlDB.SetMaxOpenConns(1)
	}

	return &journalStorage{
		db:      db,
		dialect: dialect,
		logger:  zapLogger.Named("journal"),
	}, nil
}

func (p *journalStorage) SaveWrite(ctx context.Context, rec *models.WriteRecord) error {
	return p.db.WithContext(ctx).Create(rec).Error
}

func (p *journalStorage) GetWrite(ctx context.Context, writeID string) (*models.WriteRecord, error) {
	var rec models.WriteRecord
	err := p.db.WithContext(ctx).Where("write_id = ?", writeID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (p *journalStorage) ListWrites(ctx context.Context, account string, limit, offset int) ([]*models.WriteRecord, error) {
	q := p.db.WithContext(ctx).Order("id desc")
	if account != "" {
		q = q.Where("account = ?", account)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}

	var recs []*models.WriteRecord
	err := q.Find(&recs).Error
	return recs, err
}

func (p *journalStorage) UpdateWrite(ctx context.Context, writeID string, upd storage.WriteUpdate) error {
	fields := map[string]interface{}{
		"updated_at": time.Now().UTC(),
	}
	if upd.Status != "" {
		fields["status"] = upd.Status
	}
	if upd.Hash != "" {
		fields["hash"] = upd.Hash
	}
	if upd.ErrorMessage != "" {
		fields["error_message"] = upd.ErrorMessage
	}
	if upd.Transient {
		fields["transient"] = true
	}
	if upd.BlockRef != 0 {
		fields["block_ref"] = upd.BlockRef
	}

	res := p.db.WithContext(ctx).Model(&models.WriteRecord{}).
		Where("write_id = ?", writeID).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (p *journalStorage) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

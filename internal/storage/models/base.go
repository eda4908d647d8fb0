// internal/storage/models/base.go
package models

import "time"

// BaseModel заменяет gorm.Model: журнал только дописывается и обновляет
// статус, поэтому мягкого удаления (DeletedAt) нет
type BaseModel struct {
	ID        uint      `gorm:"primarykey"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

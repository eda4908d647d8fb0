// internal/storage/models/write.go
package models

// WriteRecord: запись журнала об одной записи в леджер
type WriteRecord struct {
	BaseModel
	WriteID      string `gorm:"uniqueIndex;not null;type:varchar(36)"`
	Kind         string `gorm:"not null;type:varchar(32)"`
	Account      string `gorm:"index;not null;type:varchar(64)"`
	TokenID      string `gorm:"type:varchar(32)"`
	Payment      string `gorm:"type:varchar(80)"` // базовые единицы, десятичная строка
	Hash         string `gorm:"type:varchar(128)"`
	Status       string `gorm:"not null;type:varchar(16)"`
	ErrorMessage string `gorm:"type:text"`
	Transient    bool
	BlockRef     uint64
}

// TableName фиксирует имя таблицы, совпадающее с миграциями
func (WriteRecord) TableName() string {
	return "write_records"
}

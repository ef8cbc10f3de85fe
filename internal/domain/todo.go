package domain

import "time"

// Todo is the only persisted entity. Timestamps are managed by the store.
type Todo struct {
	ID          uint      `gorm:"primaryKey"`
	Title       string    `gorm:"size:200;not null"`
	Category    string    `gorm:"size:50;not null;default:general"`
	IsCompleted bool      `gorm:"not null;default:false"`
	CreatedAt   time.Time `gorm:"not null;index"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (Todo) TableName() string {
	return "todos"
}

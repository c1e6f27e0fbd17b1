package entity

import (
	"time"

	"gorm.io/gorm"
)

// Thing is the example resource served behind the idempotency middleware
type Thing struct {
	ID          uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	Title       string         `gorm:"size:255;not null" json:"title"`
	Description *string        `gorm:"type:text" json:"description,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`

	Tags []Tag `gorm:"many2many:thing_tags;" json:"tags,omitempty"`
}

// TableName returns the table name for the Thing model
func (Thing) TableName() string {
	return "things"
}

// Tag is a label that can be related to things
type Tag struct {
	ID   uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Name string `gorm:"size:100;not null;uniqueIndex" json:"name"`
}

// TableName returns the table name for the Tag model
func (Tag) TableName() string {
	return "tags"
}

package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ProjectModel struct {
	ID          string `gorm:"primaryKey"`
	Name        string `gorm:"not null"`
	Description string
	AccessType  string         `gorm:"not null"`
	State       string         `gorm:"not null"`
	GroupIDs    datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt   time.Time      `gorm:"not null"`
	UpdatedAt   time.Time      `gorm:"not null"`
}

type DocumentModel struct {
	ID            string `gorm:"primaryKey"`
	ProjectID     string `gorm:"not null;index"`
	Name          string `gorm:"not null"`
	DocumentType  string `gorm:"not null"`
	FileExtension string
	SizeBytes     int64 `gorm:"not null"`
	StorageURL    string
	StorageKey    string
	ChunkCount    int       `gorm:"not null"`
	UploadedAt    time.Time `gorm:"not null;index"`
}

type MessageModel struct {
	ID        string    `gorm:"primaryKey"`
	ProjectID string    `gorm:"not null;index"`
	UserID    string    `gorm:"index"`
	Role      string    `gorm:"not null"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index"`
}

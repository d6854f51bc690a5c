package models

import "time"

// Document statuses.
const (
	DocNew   = "new"
	DocReady = "ready"
	DocError = "error"
)

// Document is the status-relevant projection of an uploaded document.
type Document struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Title     string `gorm:"size:255;not null"`
	Language  string `gorm:"size:16;default:eng"`
	Status    string `gorm:"size:16;default:new;index"`
	CreatedAt time.Time
	UpdatedAt time.Time

	Jobs []ProcessingJob `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`
}

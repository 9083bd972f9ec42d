package model

import "time"

// WebhookEvent marks a billing provider event as processed.
type WebhookEvent struct {
	Provider    string    `gorm:"primaryKey;size:32"`
	EventID     string    `gorm:"primaryKey;size:255"`
	EventType   string    `gorm:"size:100;not null"`
	ProcessedAt time.Time `gorm:"not null"`
}

// TableName returns the table name.
func (WebhookEvent) TableName() string {
	return "webhook_events"
}

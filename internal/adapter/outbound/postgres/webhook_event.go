package postgres

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ganesh-swami/prvt-sub003/internal/model"
	"github.com/ganesh-swami/prvt-sub003/internal/port/outbound"
)

// webhookEventAdapter implements outbound.WebhookEventStorePort.
type webhookEventAdapter struct {
	db *gorm.DB
}

// NewWebhookEventAdapter creates a new webhook event database adapter.
func NewWebhookEventAdapter(db *gorm.DB) outbound.WebhookEventStorePort {
	return &webhookEventAdapter{db: db}
}

func (a *webhookEventAdapter) Record(ctx context.Context, provider, eventID, eventType string) (bool, error) {
	event := &model.WebhookEvent{
		Provider:    provider,
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: time.Now().UTC(),
	}
	result := a.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if result.Error != nil {
		return false, fmt.Errorf("record webhook event: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (a *webhookEventAdapter) Forget(ctx context.Context, provider, eventID string) error {
	err := a.db.WithContext(ctx).
		Where("provider = ? AND event_id = ?", provider, eventID).
		Delete(&model.WebhookEvent{}).Error
	if err != nil {
		return fmt.Errorf("forget webhook event: %w", err)
	}
	return nil
}

// Compile-time check
var _ outbound.WebhookEventStorePort = (*webhookEventAdapter)(nil)

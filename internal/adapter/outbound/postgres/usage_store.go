package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ganesh-swami/prvt-sub003/internal/model"
	"github.com/ganesh-swami/prvt-sub003/internal/port/outbound"
)

// UsageStore implements outbound.UsageStorePort. Each increment runs in one
// transaction holding the counter row lock, so token checks and allowance
// enforcement see a consistent count.
type UsageStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewUsageStore creates a new gorm usage store.
func NewUsageStore(db *gorm.DB) *UsageStore {
	return &UsageStore{db: db, now: time.Now}
}

func (s *UsageStore) Increment(ctx context.Context, inc *outbound.UsageIncrement) (*outbound.UsageIncrementResult, error) {
	var res *outbound.UsageIncrementResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now().UTC()
		key := inc.Key

		seed := &model.UsageCounter{
			OrgID:       key.OrgID,
			Feature:     key.Feature,
			PeriodStart: key.PeriodStart.UTC(),
			Allowance:   inc.Allowance,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
			return fmt.Errorf("create usage counter: %w", err)
		}

		var counter model.UsageCounter
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("org_id = ? AND feature = ? AND period_start = ?", key.OrgID, key.Feature, key.PeriodStart.UTC()).
			First(&counter).Error
		if err != nil {
			return fmt.Errorf("lock usage counter: %w", err)
		}

		if inc.Allowance != nil && (counter.Allowance == nil || *counter.Allowance < *inc.Allowance) {
			err := counterScope(tx, key).
				Update("allowance", *inc.Allowance).Error
			if err != nil {
				return fmt.Errorf("raise allowance: %w", err)
			}
			limit := *inc.Allowance
			counter.Allowance = &limit
		}

		if inc.Token != "" {
			var seen int64
			err := tx.Model(&model.UsageToken{}).
				Where("org_id = ? AND feature = ? AND token = ? AND created_at > ?",
					key.OrgID, key.Feature, inc.Token, now.Add(-inc.TokenTTL)).
				Count(&seen).Error
			if err != nil {
				return fmt.Errorf("check usage token: %w", err)
			}
			if seen > 0 {
				res = &outbound.UsageIncrementResult{Count: counter.UsedCount, Allowance: counter.Allowance, Duplicate: true}
				return nil
			}
		}

		if inc.Enforce && counter.Allowance != nil && counter.UsedCount+inc.Amount > *counter.Allowance {
			res = &outbound.UsageIncrementResult{Count: counter.UsedCount, Allowance: counter.Allowance, Rejected: true}
			return nil
		}

		err = counterScope(tx, key).Updates(map[string]any{
			"used_count": gorm.Expr("used_count + ?", inc.Amount),
			"updated_at": now,
		}).Error
		if err != nil {
			return fmt.Errorf("increment usage counter: %w", err)
		}

		if inc.Token != "" {
			token := &model.UsageToken{OrgID: key.OrgID, Feature: key.Feature, Token: inc.Token, CreatedAt: now}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "org_id"}, {Name: "feature"}, {Name: "token"}},
				DoUpdates: clause.AssignmentColumns([]string{"created_at"}),
			}).Create(token).Error
			if err != nil {
				return fmt.Errorf("record usage token: %w", err)
			}
		}

		res = &outbound.UsageIncrementResult{Count: counter.UsedCount + inc.Amount, Allowance: counter.Allowance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *UsageStore) Get(ctx context.Context, key outbound.UsageKey) (*model.UsageCounter, error) {
	var counter model.UsageCounter
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND feature = ? AND period_start = ?", key.OrgID, key.Feature, key.PeriodStart.UTC()).
		First(&counter).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get usage counter: %w", err)
	}
	return &counter, nil
}

// PurgeTokens deletes action tokens recorded before cutoff.
func (s *UsageStore) PurgeTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff.UTC()).
		Delete(&model.UsageToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("purge usage tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func counterScope(tx *gorm.DB, key outbound.UsageKey) *gorm.DB {
	return tx.Model(&model.UsageCounter{}).
		Where("org_id = ? AND feature = ? AND period_start = ?", key.OrgID, key.Feature, key.PeriodStart.UTC())
}

// Compile-time check
var _ outbound.UsageStorePort = (*UsageStore)(nil)

package model

import (
	"slices"
	"time"

	"github.com/lib/pq"
)

// SubscriptionStatus represents the commercial state of a workspace.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// String returns the string representation of the status.
func (s SubscriptionStatus) String() string {
	return string(s)
}

// IsValid checks if the status is valid.
func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionStatusTrialing, SubscriptionStatusActive, SubscriptionStatusPastDue, SubscriptionStatusCanceled:
		return true
	}
	return false
}

// WorkspaceSubscription is one organization's current plan, addons and billing status.
type WorkspaceSubscription struct {
	OrgID                string             `json:"org_id" gorm:"primaryKey;size:64"`
	PlanID               string             `json:"plan_id" gorm:"size:64;not null"`
	Addons               pq.StringArray     `json:"addons" gorm:"type:text[]"`
	Status               SubscriptionStatus `json:"status" gorm:"size:20;not null"`
	GraceUntil           *time.Time         `json:"grace_until,omitempty"`
	AnchorAt             time.Time          `json:"anchor_at" gorm:"not null"`
	StripeCustomerID     *string            `json:"-" gorm:"size:255"`
	StripeSubscriptionID *string            `json:"-" gorm:"size:255"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// TableName returns the table name.
func (WorkspaceSubscription) TableName() string {
	return "workspace_subscriptions"
}

// AddonIDs returns the addon set with duplicates and empty entries removed, sorted.
func (s *WorkspaceSubscription) AddonIDs() []string {
	if s == nil || len(s.Addons) == 0 {
		return nil
	}
	ids := make([]string, 0, len(s.Addons))
	for _, id := range s.Addons {
		if id != "" {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// InGrace reports whether a past_due subscription is still inside its grace window at now.
func (s *WorkspaceSubscription) InGrace(now time.Time) bool {
	return s.Status == SubscriptionStatusPastDue && s.GraceUntil != nil && now.Before(*s.GraceUntil)
}

// Clone returns a deep copy.
func (s *WorkspaceSubscription) Clone() *WorkspaceSubscription {
	if s == nil {
		return nil
	}
	c := *s
	c.Addons = slices.Clone(s.Addons)
	if s.GraceUntil != nil {
		g := *s.GraceUntil
		c.GraceUntil = &g
	}
	if s.StripeCustomerID != nil {
		v := *s.StripeCustomerID
		c.StripeCustomerID = &v
	}
	if s.StripeSubscriptionID != nil {
		v := *s.StripeSubscriptionID
		c.StripeSubscriptionID = &v
	}
	return &c
}

package gin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/ganesh-swami/prvt-sub003/internal/model"
	"github.com/ganesh-swami/prvt-sub003/internal/module/subscription"
	"github.com/ganesh-swami/prvt-sub003/internal/port/inbound"
	"github.com/ganesh-swami/prvt-sub003/internal/port/outbound"
	apperrors "github.com/ganesh-swami/prvt-sub003/internal/shared/errors"
	"github.com/ganesh-swami/prvt-sub003/internal/shared/logger"
	"github.com/ganesh-swami/prvt-sub003/internal/shared/response"
)

const (
	providerStripe = "stripe"

	// Stripe limits webhook payloads to 64 KiB.
	maxWebhookBody = 64 << 10

	metadataOrgID  = "org_id"
	metadataPlanID = "plan_id"
	metadataAddons = "addons"
)

// SubscriptionMutator applies billing effects to subscriptions.
type SubscriptionMutator interface {
	GetByStripeID(ctx context.Context, stripeSubID string) (*model.WorkspaceSubscription, error)
	Upgrade(ctx context.Context, orgID string, change subscription.Change) (*model.WorkspaceSubscription, error)
	MarkPastDue(ctx context.Context, orgID string, graceUntil *time.Time) (*model.WorkspaceSubscription, error)
	Reactivate(ctx context.Context, orgID string) (*model.WorkspaceSubscription, error)
	Cancel(ctx context.Context, orgID string) (*model.WorkspaceSubscription, error)
}

// errUnlinked means an event refers to a subscription this service does not know.
var errUnlinked = errors.New("subscription not linked to an organization")

// webhookHandler implements inbound.BillingWebhookHttpPort.
type webhookHandler struct {
	subs   SubscriptionMutator
	events outbound.WebhookEventStorePort
	secret string
	logger *zap.Logger
}

// NewWebhookHandler creates a new Stripe webhook handler.
func NewWebhookHandler(
	subs SubscriptionMutator,
	events outbound.WebhookEventStorePort,
	secret string,
	logger *zap.Logger,
) *webhookHandler {
	return &webhookHandler{
		subs:   subs,
		events: events,
		secret: secret,
		logger: logger,
	}
}

// RegisterRoutes registers webhook routes.
func (h *webhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/stripe", h.HandleStripeWebhook)
}

func (h *webhookHandler) HandleStripeWebhook(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContextOr(ctx, h.logger)

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil || len(payload) > maxWebhookBody {
		response.AppError(c, apperrors.BadRequest("failed to read body"))
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, c.GetHeader("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		log.Warn("invalid webhook signature", zap.Error(err))
		response.AppError(c, apperrors.BadRequest("invalid signature"))
		return
	}

	log = log.With(zap.String("event_id", event.ID), zap.String("type", string(event.Type)))

	fresh, err := h.events.Record(ctx, providerStripe, event.ID, string(event.Type))
	if err != nil {
		log.Error("failed to record webhook event", zap.Error(err))
		response.AppError(c, apperrors.Internal("", err))
		return
	}
	if !fresh {
		log.Info("webhook event already processed")
		c.JSON(http.StatusOK, gin.H{"status": "already_processed"})
		return
	}

	if err := h.dispatch(ctx, &event, log); err != nil {
		switch {
		case errors.Is(err, errUnlinked),
			errors.Is(err, subscription.ErrInvalidTransition),
			errors.Is(err, subscription.ErrInvalidOrgID),
			errors.Is(err, subscription.ErrInvalidPlan):
			// Redelivery cannot fix these.
			log.Warn("webhook event ignored", zap.Error(err))
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}

		log.Error("failed to process webhook event", zap.Error(err))
		if ferr := h.events.Forget(ctx, providerStripe, event.ID); ferr != nil {
			log.Error("failed to forget webhook event", zap.Error(ferr))
		}
		response.AppError(c, apperrors.Internal("processing failed", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}

func (h *webhookHandler) dispatch(ctx context.Context, event *stripe.Event, log *zap.Logger) error {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		return h.checkoutCompleted(ctx, event)
	case stripe.EventTypeCustomerSubscriptionUpdated:
		return h.subscriptionUpdated(ctx, event, log)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		return h.subscriptionDeleted(ctx, event)
	case stripe.EventTypeInvoicePaymentFailed:
		return h.paymentFailed(ctx, event)
	default:
		log.Debug("unhandled webhook event type")
		return nil
	}
}

func (h *webhookHandler) checkoutCompleted(ctx context.Context, event *stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("unmarshal checkout session: %w", err)
	}

	orgID := session.ClientReferenceID
	if orgID == "" {
		orgID = session.Metadata[metadataOrgID]
	}
	change := subscription.Change{
		PlanID: session.Metadata[metadataPlanID],
		Addons: splitAddons(session.Metadata[metadataAddons]),
	}
	if session.Customer != nil {
		change.StripeCustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		change.StripeSubscriptionID = session.Subscription.ID
		change.Trial = session.Subscription.Status == stripe.SubscriptionStatusTrialing
	}

	_, err := h.subs.Upgrade(ctx, orgID, change)
	return err
}

func (h *webhookHandler) subscriptionUpdated(ctx context.Context, event *stripe.Event, log *zap.Logger) error {
	var s stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}
	orgID, err := h.orgOf(ctx, &s)
	if err != nil {
		return err
	}

	switch s.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		planID := planOf(&s)
		if planID == "" {
			_, err = h.subs.Reactivate(ctx, orgID)
			return err
		}
		change := subscription.Change{
			PlanID:               planID,
			Addons:               splitAddons(s.Metadata[metadataAddons]),
			Trial:                s.Status == stripe.SubscriptionStatusTrialing,
			StripeSubscriptionID: s.ID,
		}
		if s.Customer != nil {
			change.StripeCustomerID = s.Customer.ID
		}
		_, err = h.subs.Upgrade(ctx, orgID, change)
	case stripe.SubscriptionStatusPastDue:
		_, err = h.subs.MarkPastDue(ctx, orgID, nil)
	case stripe.SubscriptionStatusCanceled,
		stripe.SubscriptionStatusUnpaid,
		stripe.SubscriptionStatusIncompleteExpired:
		_, err = h.subs.Cancel(ctx, orgID)
	default:
		log.Debug("subscription status has no effect", zap.String("status", string(s.Status)))
	}
	return err
}

func (h *webhookHandler) subscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	var s stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
		return fmt.Errorf("unmarshal subscription: %w", err)
	}
	orgID, err := h.orgOf(ctx, &s)
	if err != nil {
		return err
	}
	_, err = h.subs.Cancel(ctx, orgID)
	return err
}

func (h *webhookHandler) paymentFailed(ctx context.Context, event *stripe.Event) error {
	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return fmt.Errorf("unmarshal invoice: %w", err)
	}
	if invoice.Subscription == nil || invoice.Subscription.ID == "" {
		return errUnlinked
	}
	orgID, err := h.orgOf(ctx, invoice.Subscription)
	if err != nil {
		return err
	}
	_, err = h.subs.MarkPastDue(ctx, orgID, nil)
	return err
}

// orgOf resolves the organization from subscription metadata, then from the
// stored Stripe subscription link.
func (h *webhookHandler) orgOf(ctx context.Context, s *stripe.Subscription) (string, error) {
	if orgID := s.Metadata[metadataOrgID]; orgID != "" {
		return orgID, nil
	}
	sub, err := h.subs.GetByStripeID(ctx, s.ID)
	if err != nil {
		if errors.Is(err, outbound.ErrSubscriptionNotFound) {
			return "", fmt.Errorf("%w: %s", errUnlinked, s.ID)
		}
		return "", err
	}
	return sub.OrgID, nil
}

// planOf returns the plan id from subscription metadata or the first price lookup key.
func planOf(s *stripe.Subscription) string {
	if planID := s.Metadata[metadataPlanID]; planID != "" {
		return planID
	}
	if s.Items == nil {
		return ""
	}
	for _, item := range s.Items.Data {
		if item.Price != nil && item.Price.LookupKey != "" {
			return item.Price.LookupKey
		}
	}
	return ""
}

func splitAddons(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// Compile-time check
var _ inbound.BillingWebhookHttpPort = (*webhookHandler)(nil)

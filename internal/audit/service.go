package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to tenant users by default.
// - Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.TenantID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogRuleUsage records one application of a discount rule during a price
// calculation.
func (s *Service) LogRuleUsage(ctx context.Context, tenantID, ruleID, productID, customerID string, quantity int, discountAmount string) error {
	return s.Append(ctx, Event{
		TenantID:       tenantID,
		Type:           EventTypeRuleUsage,
		RuleID:         ruleID,
		ProductID:      productID,
		CustomerID:     customerID,
		Quantity:       quantity,
		DiscountAmount: discountAmount,
		Message:        "pricing rule applied",
	})
}

// LogRuleAdminAction records a CRUD mutation on a pricing rule.
func (s *Service) LogRuleAdminAction(ctx context.Context, tenantID, ruleID, actorUserID, message, metadata string) error {
	return s.Append(ctx, Event{
		TenantID:    tenantID,
		Type:        EventTypeRuleAdminAction,
		RuleID:      ruleID,
		ActorUserID: actorUserID,
		Message:     message,
		Metadata:    metadata,
	})
}

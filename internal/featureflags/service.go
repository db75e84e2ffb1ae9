package featureflags

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"billing-platform/internal/cache"
)

// Per-tenant boolean feature flags, stored as one redis hash per tenant so a
// tenant's whole flag set reads in a single round trip.

var ErrInvalidFlag = errors.New("featureflags: tenant and flag name required")

type Service struct {
	store cache.RemoteStore
	log   *slog.Logger
}

func NewService(store cache.RemoteStore) *Service {
	return &Service{store: store, log: slog.Default()}
}

func (s *Service) Enable(ctx context.Context, tenantID, flag string) error {
	return s.set(ctx, tenantID, flag, "1")
}

func (s *Service) Disable(ctx context.Context, tenantID, flag string) error {
	return s.set(ctx, tenantID, flag, "0")
}

func (s *Service) set(ctx context.Context, tenantID, flag, value string) error {
	tenantID, flag = normalize(tenantID, flag)
	if tenantID == "" || flag == "" {
		return ErrInvalidFlag
	}
	return s.store.HSet(ctx, cache.FlagsKey(tenantID), flag, value)
}

// IsEnabled fails closed: an unset flag, an unreachable store, and an
// unparseable value all read as disabled.
func (s *Service) IsEnabled(ctx context.Context, tenantID, flag string) bool {
	tenantID, flag = normalize(tenantID, flag)
	if tenantID == "" || flag == "" {
		return false
	}
	v, ok, err := s.store.HGet(ctx, cache.FlagsKey(tenantID), flag)
	if err != nil {
		s.log.Warn("feature flag read failed", "tenant_id", tenantID, "flag", flag, "err", err)
		return false
	}
	return ok && truthy(v)
}

// All returns every flag recorded for the tenant, including disabled ones.
func (s *Service) All(ctx context.Context, tenantID string) (map[string]bool, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return nil, ErrInvalidFlag
	}
	raw, err := s.store.HGetAll(ctx, cache.FlagsKey(tenantID))
	if err != nil {
		return nil, err
	}
	flags := make(map[string]bool, len(raw))
	for name, v := range raw {
		flags[name] = truthy(v)
	}
	return flags, nil
}

// Remove deletes a flag entirely, distinct from disabling it.
func (s *Service) Remove(ctx context.Context, tenantID, flag string) (bool, error) {
	tenantID, flag = normalize(tenantID, flag)
	if tenantID == "" || flag == "" {
		return false, ErrInvalidFlag
	}
	n, err := s.store.HDel(ctx, cache.FlagsKey(tenantID), flag)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func normalize(tenantID, flag string) (string, string) {
	return strings.TrimSpace(tenantID), strings.ToLower(strings.TrimSpace(flag))
}

func truthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "on", "enabled":
		return true
	default:
		return false
	}
}

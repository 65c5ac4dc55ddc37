package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/abidjan-digital/declaration-api/internal/dto"
	"github.com/abidjan-digital/declaration-api/internal/models"
	appErrors "github.com/abidjan-digital/declaration-api/pkg/errors"
)

type pendingCounter interface {
	CountPending(ctx context.Context, commissariatID string) (int, error)
}

type countCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// NotificationService exposes the pending-declaration counter that agent
// dashboards poll. Counts are cached briefly so a dashboard full of agents
// polling every 30 seconds does not hammer the database.
type NotificationService struct {
	declarations pendingCounter
	cache        countCache
	ttl          time.Duration
	logger       *zap.Logger
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(declarations pendingCounter, cache countCache, ttl time.Duration, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &NotificationService{declarations: declarations, cache: cache, ttl: ttl, logger: logger}
}

// PendingCount returns the pending declaration count for a commissariat.
// Agents may only read their own commissariat; admins may read any.
func (s *NotificationService) PendingCount(ctx context.Context, claims *models.JWTClaims, commissariatID string) (*dto.PendingCountResponse, error) {
	if claims.Role != models.RoleAdmin {
		if claims.Role != models.RoleAgent {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "agent role required")
		}
		if claims.CommissariatID == nil || *claims.CommissariatID != commissariatID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "counter belongs to another commissariat")
		}
	}

	key := pendingCountKey(commissariatID)
	var cached int
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return &dto.PendingCountResponse{CommissariatID: commissariatID, Pending: cached}, nil
	} else if !errors.Is(err, appErrors.ErrCacheMiss) {
		s.logger.Warn("pending count cache read failed", zap.Error(err))
	}

	count, err := s.declarations.CountPending(ctx, commissariatID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count pending declarations")
	}

	if err := s.cache.Set(ctx, key, count, s.ttl); err != nil {
		s.logger.Warn("pending count cache write failed", zap.Error(err))
	}

	return &dto.PendingCountResponse{CommissariatID: commissariatID, Pending: count}, nil
}

// Invalidate drops the cached counter after a mutation so the next poll sees
// the fresh count instead of waiting out the TTL.
func (s *NotificationService) Invalidate(ctx context.Context, commissariatID string) {
	if commissariatID == "" {
		return
	}
	if err := s.cache.Delete(ctx, pendingCountKey(commissariatID)); err != nil {
		s.logger.Warn("pending count cache invalidation failed", zap.Error(err))
	}
}

func pendingCountKey(commissariatID string) string {
	return fmt.Sprintf("notifications:pending:%s", commissariatID)
}

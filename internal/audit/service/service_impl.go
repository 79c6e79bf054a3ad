package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/microsaas/internal/audit/domain"
	"github.com/smallbiznis/microsaas/internal/clock"
	obscontext "github.com/smallbiznis/microsaas/internal/observability/context"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  auditdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  auditdomain.Repository
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Record(ctx context.Context, eventType string, userID string, metadata map[string]any) error {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return auditdomain.ErrInvalidEventType
	}

	payload := map[string]any{}
	for key, value := range metadata {
		if key == "" {
			continue
		}
		payload[key] = value
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	entry := auditdomain.Event{
		ID:        s.genID.Generate(),
		Type:      eventType,
		UserID:    normalize(userID),
		Metadata:  datatypes.JSONMap(payload),
		CreatedAt: s.clock.Now(),
	}
	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.log.Warn("failed to write event", zap.String("type", eventType), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) CountDistinctUsers(ctx context.Context, since, until time.Time) (int64, error) {
	if !since.Before(until) {
		return 0, auditdomain.ErrInvalidTimeRange
	}
	return s.repo.CountDistinctUsers(ctx, s.db, since.UTC(), until.UTC())
}

func (s *Service) CountByType(ctx context.Context, eventType string, since, until time.Time) (int64, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return 0, auditdomain.ErrInvalidEventType
	}
	if !since.Before(until) {
		return 0, auditdomain.ErrInvalidTimeRange
	}
	return s.repo.CountByType(ctx, s.db, eventType, since.UTC(), until.UTC())
}

func normalize(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

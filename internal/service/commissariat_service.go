package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/abidjan-digital/declaration-api/internal/dto"
	"github.com/abidjan-digital/declaration-api/internal/models"
	appErrors "github.com/abidjan-digital/declaration-api/pkg/errors"
)

type commissariatStore interface {
	List(ctx context.Context) ([]models.Commissariat, error)
	FindByID(ctx context.Context, id string) (*models.Commissariat, error)
	Create(ctx context.Context, commissariat *models.Commissariat) error
	Delete(ctx context.Context, id string) error
	CountAgents(ctx context.Context, id string) (int, error)
}

// CommissariatService covers the station directory. The list endpoint is
// public: citizens pick a station while filing a declaration before any
// session exists.
type CommissariatService struct {
	repo      commissariatStore
	audit     auditRecorder
	validator *validator.Validate
	logger    *zap.Logger
}

// NewCommissariatService constructs a CommissariatService instance.
func NewCommissariatService(repo commissariatStore, audit auditRecorder, validate *validator.Validate, logger *zap.Logger) *CommissariatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &CommissariatService{repo: repo, audit: audit, validator: validate, logger: logger}
}

// List returns all stations ordered by name.
func (s *CommissariatService) List(ctx context.Context) ([]models.Commissariat, error) {
	commissariats, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list commissariats")
	}
	return commissariats, nil
}

// GetByID returns a single station.
func (s *CommissariatService) GetByID(ctx context.Context, id string) (*models.Commissariat, error) {
	commissariat, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "commissariat not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load commissariat")
	}
	return commissariat, nil
}

// Create registers a new station.
func (s *CommissariatService) Create(ctx context.Context, adminID string, req dto.CreateCommissariatRequest) (*models.Commissariat, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid commissariat payload")
	}

	commissariat := &models.Commissariat{
		Name:    req.Name,
		Address: req.Address,
		City:    req.City,
		Phone:   req.Phone,
		Email:   req.Email,
	}
	if err := s.repo.Create(ctx, commissariat); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create commissariat")
	}

	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &adminID,
		Action:     models.AuditActionCommissariatCreate,
		Resource:   "commissariats",
		ResourceID: &commissariat.ID,
		NewValues:  mustJSON(map[string]interface{}{"name": commissariat.Name, "city": commissariat.City}),
	}); err != nil {
		s.logger.Warn("failed to record commissariat audit log", zap.Error(err))
	}

	return commissariat, nil
}

// Delete removes a station. Refused while agents are still attached so no
// active agent loses its scope.
func (s *CommissariatService) Delete(ctx context.Context, adminID, id string) error {
	agents, err := s.repo.CountAgents(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count attached agents")
	}
	if agents > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "commissariat still has active agents")
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "commissariat not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete commissariat")
	}

	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &adminID,
		Action:     models.AuditActionCommissariatDelete,
		Resource:   "commissariats",
		ResourceID: &id,
	}); err != nil {
		s.logger.Warn("failed to record commissariat deletion audit log", zap.Error(err))
	}

	return nil
}

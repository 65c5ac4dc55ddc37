package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/abidjan-digital/declaration-api/internal/dto"
	"github.com/abidjan-digital/declaration-api/internal/models"
	appErrors "github.com/abidjan-digital/declaration-api/pkg/errors"
)

type userStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	Create(ctx context.Context, user *models.User) error
	Deactivate(ctx context.Context, id string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// UserService covers the admin account management surface.
type UserService struct {
	repo          userStore
	commissariats commissariatLookup
	validator     *validator.Validate
	logger        *zap.Logger
}

// NewUserService constructs a UserService instance.
func NewUserService(repo userStore, commissariats commissariatLookup, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, commissariats: commissariats, validator: validate, logger: logger}
}

// List returns users matching the filter.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	for i := range users {
		users[i].PasswordHash = ""
	}
	return users, total, nil
}

// Create registers an account on behalf of an admin. Agents must reference an
// existing commissariat; citizens and admins must not.
func (s *UserService) Create(ctx context.Context, adminID string, req dto.CreateUserRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid user payload")
	}
	if !req.Role.Known() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown role %q", req.Role))
	}

	if req.Role == models.RoleAgent {
		if req.CommissariatID == nil || *req.CommissariatID == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "agents require a commissariat")
		}
		if _, err := s.commissariats.FindByID(ctx, *req.CommissariatID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrValidation, "unknown commissariat")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check commissariat")
		}
	} else if req.CommissariatID != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "only agents may reference a commissariat")
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := s.repo.FindByEmail(ctx, email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Email:          email,
		PasswordHash:   string(hash),
		FirstName:      strings.TrimSpace(req.FirstName),
		LastName:       strings.TrimSpace(req.LastName),
		Phone:          req.Phone,
		Role:           req.Role,
		CommissariatID: req.CommissariatID,
		Active:         true,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &adminID,
		Action:     models.AuditActionUserCreate,
		Resource:   "users",
		ResourceID: &user.ID,
		NewValues:  mustJSON(map[string]interface{}{"role": user.Role, "email": user.Email}),
	}); err != nil {
		s.logger.Warn("failed to record user creation audit log", zap.Error(err))
	}

	user.PasswordHash = ""
	return user, nil
}

// Delete deactivates an account. Admins cannot remove themselves.
func (s *UserService) Delete(ctx context.Context, adminID, userID string) error {
	if adminID == userID {
		return appErrors.Clone(appErrors.ErrValidation, "cannot delete your own account")
	}

	if err := s.repo.Deactivate(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user")
	}

	if err := s.repo.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &adminID,
		Action:     models.AuditActionUserDelete,
		Resource:   "users",
		ResourceID: &userID,
	}); err != nil {
		s.logger.Warn("failed to record user deletion audit log", zap.Error(err))
	}

	return nil
}

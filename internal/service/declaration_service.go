package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/abidjan-digital/declaration-api/internal/dto"
	"github.com/abidjan-digital/declaration-api/internal/models"
	"github.com/abidjan-digital/declaration-api/pkg/config"
	appErrors "github.com/abidjan-digital/declaration-api/pkg/errors"
)

type declarationStore interface {
	Create(ctx context.Context, declaration *models.Declaration) error
	FindByID(ctx context.Context, id string) (*models.Declaration, error)
	List(ctx context.Context, filter models.DeclarationFilter) ([]models.Declaration, int, error)
	MarkRejected(ctx context.Context, id, agentID, reason string, ts time.Time) error
	UpdateReceiptFields(ctx context.Context, id string, receiptNumber *string, receiptDate *time.Time, agentID *string, ts time.Time) error
	Delete(ctx context.Context, id, userID string) error
}

type userFinder interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type auditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type photoStore interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Delete(filename string) error
}

type pendingInvalidator interface {
	Invalidate(ctx context.Context, commissariatID string)
}

// PhotoUpload is a single uploaded photo as received by the handler.
type PhotoUpload struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.Reader
}

// DeclarationService implements the declaration lifecycle. All transition
// decisions flow through models.DeclarationStatus so the rules live in one
// place.
type DeclarationService struct {
	repo          declarationStore
	users         userFinder
	commissariats commissariatLookup
	audit         auditRecorder
	photos        photoStore
	notifications pendingInvalidator
	validator     *validator.Validate
	logger        *zap.Logger
	uploads       config.UploadsConfig
}

// NewDeclarationService constructs a DeclarationService instance.
func NewDeclarationService(
	repo declarationStore,
	users userFinder,
	commissariats commissariatLookup,
	audit auditRecorder,
	photos photoStore,
	notifications pendingInvalidator,
	validate *validator.Validate,
	logger *zap.Logger,
	uploads config.UploadsConfig,
) *DeclarationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &DeclarationService{
		repo:          repo,
		users:         users,
		commissariats: commissariats,
		audit:         audit,
		photos:        photos,
		notifications: notifications,
		validator:     validate,
		logger:        logger,
		uploads:       uploads,
	}
}

// Create files a new declaration for the given citizen. Photos are stored
// before the row is written; stored files are rolled back on failure.
func (s *DeclarationService) Create(ctx context.Context, userID string, req dto.CreateDeclarationRequest, photos []PhotoUpload) (*models.Declaration, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid declaration payload")
	}
	if !req.Type.Known() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown declaration type %q", req.Type))
	}

	declaration := &models.Declaration{
		UserID:          userID,
		Type:            req.Type,
		DeclarationDate: req.DeclarationDate,
		Location:        strings.TrimSpace(req.Location),
		Description:     strings.TrimSpace(req.Description),
		Status:          models.StatusPending,
		CommissariatID:  req.CommissariatID,
	}

	switch req.Type {
	case models.DeclarationObject:
		if req.ObjectDetails == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "object details are required for object declarations")
		}
		details := &models.ObjectDetails{}
		if err := json.Unmarshal([]byte(req.ObjectDetails), details); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid object details")
		}
		declaration.ObjectDetails = details
	case models.DeclarationPerson:
		if req.PersonDetails == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "person details are required for person declarations")
		}
		details := &models.PersonDetails{}
		if err := json.Unmarshal([]byte(req.PersonDetails), details); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid person details")
		}
		declaration.PersonDetails = details
	}

	if _, err := s.commissariats.FindByID(ctx, req.CommissariatID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown commissariat")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check commissariat")
	}

	declaration.ID = uuid.NewString()
	stored, err := s.storePhotos(declaration.ID, photos)
	if err != nil {
		return nil, err
	}
	declaration.Photos = pq.StringArray(stored)

	if err := s.repo.Create(ctx, declaration); err != nil {
		s.discardPhotos(stored)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create declaration")
	}

	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionDeclarationCreate,
		Resource:   "declarations",
		ResourceID: &declaration.ID,
		NewValues:  mustJSON(map[string]interface{}{"type": declaration.Type, "commissariat_id": declaration.CommissariatID}),
	}); err != nil {
		s.logger.Warn("failed to record declaration audit log", zap.Error(err))
	}

	if s.notifications != nil {
		s.notifications.Invalidate(ctx, declaration.CommissariatID)
	}

	return declaration, nil
}

// GetByID returns a declaration visible to the caller: its owner, an agent of
// the same commissariat, or an admin.
func (s *DeclarationService) GetByID(ctx context.Context, claims *models.JWTClaims, id string) (*models.Declaration, error) {
	declaration, err := s.findDeclaration(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeRead(claims, declaration); err != nil {
		return nil, err
	}
	s.hydrate(ctx, declaration)
	return declaration, nil
}

// ListMine returns the caller's declarations, newest first.
func (s *DeclarationService) ListMine(ctx context.Context, userID string, filter models.DeclarationFilter) ([]models.Declaration, int, error) {
	filter.UserID = userID
	filter.CommissariatID = ""
	declarations, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list declarations")
	}
	return declarations, total, nil
}

// ListForCommissariat returns the declarations routed to a commissariat.
// Agents may only read their own commissariat; admins may read any.
func (s *DeclarationService) ListForCommissariat(ctx context.Context, claims *models.JWTClaims, commissariatID string, filter models.DeclarationFilter) ([]models.Declaration, int, error) {
	if err := s.authorizeCommissariat(claims, commissariatID); err != nil {
		return nil, 0, err
	}

	filter.CommissariatID = commissariatID
	filter.UserID = ""
	declarations, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list declarations")
	}

	for i := range declarations {
		s.hydrate(ctx, &declarations[i])
	}
	return declarations, total, nil
}

// UpdateStatus applies a lifecycle transition requested by an agent. Only the
// rejection path goes through here; processed is reached exclusively through
// receipt issuance.
func (s *DeclarationService) UpdateStatus(ctx context.Context, claims *models.JWTClaims, id string, req dto.UpdateStatusRequest) (*models.Declaration, error) {
	if !req.Status.Known() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", req.Status))
	}
	if req.Status == models.StatusProcessed {
		return nil, appErrors.Clone(appErrors.ErrValidation, "processed status is set through receipt issuance")
	}
	if req.Status == models.StatusPending {
		return nil, appErrors.Clone(appErrors.ErrValidation, "declarations cannot be reset to pending")
	}

	reason := strings.TrimSpace(req.RejectReason)
	if req.Status == models.StatusRejected && reason == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reject reason is required")
	}

	declaration, err := s.findDeclaration(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeCommissariat(claims, declaration.CommissariatID); err != nil {
		return nil, err
	}
	if !declaration.Status.CanTransitionTo(req.Status) {
		return nil, appErrors.Clone(appErrors.ErrFinalized, fmt.Sprintf("declaration is already %s", declaration.Status))
	}

	now := time.Now().UTC()
	if err := s.repo.MarkRejected(ctx, id, claims.UserID, reason, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Someone else finalized the declaration between our read and the
			// guarded update.
			return nil, appErrors.Clone(appErrors.ErrFinalized, "declaration was finalized by another agent")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update declaration status")
	}

	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &claims.UserID,
		Action:     models.AuditActionStatusChange,
		Resource:   "declarations",
		ResourceID: &id,
		OldValues:  mustJSON(map[string]interface{}{"status": declaration.Status}),
		NewValues:  mustJSON(map[string]interface{}{"status": req.Status, "reject_reason": reason}),
	}); err != nil {
		s.logger.Warn("failed to record status audit log", zap.Error(err))
	}

	if s.notifications != nil {
		s.notifications.Invalidate(ctx, declaration.CommissariatID)
	}

	declaration.Status = req.Status
	declaration.RejectReason = &reason
	declaration.AgentID = &claims.UserID
	declaration.UpdatedAt = now
	s.hydrate(ctx, declaration)
	return declaration, nil
}

// Update patches receipt metadata on an already processed declaration.
// Receipt fields exist iff the declaration is processed, so any other status
// is refused before touching the row, and the UPDATE itself carries the same
// status precondition against stale reads.
func (s *DeclarationService) Update(ctx context.Context, claims *models.JWTClaims, id string, req dto.UpdateDeclarationRequest) (*models.Declaration, error) {
	declaration, err := s.findDeclaration(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeCommissariat(claims, declaration.CommissariatID); err != nil {
		return nil, err
	}
	if declaration.Status != models.StatusProcessed {
		return nil, appErrors.Clone(appErrors.ErrValidation, "receipt fields can only be updated on a processed declaration")
	}

	if err := s.repo.UpdateReceiptFields(ctx, id, req.ReceiptNumber, req.ReceiptDate, req.AgentID, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "declaration is no longer processed")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update declaration")
	}

	return s.GetByID(ctx, claims, id)
}

// Delete removes a citizen's own declaration while its status still permits
// withdrawal. Processed declarations are immutable.
func (s *DeclarationService) Delete(ctx context.Context, userID, id string) error {
	declaration, err := s.findDeclaration(ctx, id)
	if err != nil {
		return err
	}
	if declaration.UserID != userID {
		return appErrors.Clone(appErrors.ErrForbidden, "declaration belongs to another user")
	}
	if !declaration.Status.Deletable() {
		return appErrors.Clone(appErrors.ErrFinalized, "processed declarations cannot be deleted")
	}

	if err := s.repo.Delete(ctx, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrFinalized, "declaration was finalized by another agent")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete declaration")
	}

	for _, photo := range declaration.Photos {
		if err := s.photos.Delete(photo); err != nil {
			s.logger.Warn("failed to delete declaration photo", zap.String("photo", photo), zap.Error(err))
		}
	}

	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionDeclarationDelete,
		Resource:   "declarations",
		ResourceID: &id,
		OldValues:  mustJSON(map[string]interface{}{"status": declaration.Status}),
	}); err != nil {
		s.logger.Warn("failed to record delete audit log", zap.Error(err))
	}

	if s.notifications != nil {
		s.notifications.Invalidate(ctx, declaration.CommissariatID)
	}
	return nil
}

func (s *DeclarationService) findDeclaration(ctx context.Context, id string) (*models.Declaration, error) {
	declaration, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "declaration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load declaration")
	}
	return declaration, nil
}

func (s *DeclarationService) authorizeRead(claims *models.JWTClaims, declaration *models.Declaration) error {
	switch claims.Role {
	case models.RoleAdmin:
		return nil
	case models.RoleAgent:
		return s.authorizeCommissariat(claims, declaration.CommissariatID)
	default:
		if declaration.UserID != claims.UserID {
			return appErrors.Clone(appErrors.ErrForbidden, "declaration belongs to another user")
		}
		return nil
	}
}

// authorizeCommissariat enforces the commissariat scope: agents only act on
// declarations routed to their own commissariat.
func (s *DeclarationService) authorizeCommissariat(claims *models.JWTClaims, commissariatID string) error {
	if claims.Role == models.RoleAdmin {
		return nil
	}
	if claims.Role != models.RoleAgent {
		return appErrors.Clone(appErrors.ErrForbidden, "agent role required")
	}
	if claims.CommissariatID == nil || *claims.CommissariatID != commissariatID {
		return appErrors.Clone(appErrors.ErrForbidden, "declaration belongs to another commissariat")
	}
	return nil
}

func (s *DeclarationService) hydrate(ctx context.Context, declaration *models.Declaration) {
	if declaration.Declarant == nil {
		if user, err := s.users.FindByID(ctx, declaration.UserID); err == nil {
			user.PasswordHash = ""
			declaration.Declarant = user
		}
	}
	if declaration.Commissariat == nil && declaration.CommissariatID != "" {
		if commissariat, err := s.commissariats.FindByID(ctx, declaration.CommissariatID); err == nil {
			declaration.Commissariat = commissariat
		}
	}
	if declaration.Agent == nil && declaration.AgentID != nil {
		if agent, err := s.users.FindByID(ctx, *declaration.AgentID); err == nil {
			agent.PasswordHash = ""
			declaration.Agent = agent
		}
	}
}

func (s *DeclarationService) storePhotos(declarationID string, photos []PhotoUpload) ([]string, error) {
	maxPhotos := s.uploads.MaxPhotos
	if maxPhotos <= 0 {
		maxPhotos = 5
	}
	if len(photos) > maxPhotos {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("at most %d photos are allowed", maxPhotos))
	}

	stored := make([]string, 0, len(photos))
	for _, photo := range photos {
		if s.uploads.MaxFileSizeBytes > 0 && photo.Size > s.uploads.MaxFileSizeBytes {
			s.discardPhotos(stored)
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("photo %s exceeds the size limit", photo.Filename))
		}
		if !s.mimeAllowed(photo.ContentType) {
			s.discardPhotos(stored)
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("photo %s has unsupported type %s", photo.Filename, photo.ContentType))
		}

		name := filepath.Join("declarations", declarationID, uuid.NewString()+strings.ToLower(filepath.Ext(photo.Filename)))
		if _, err := s.photos.SaveStream(name, photo.Content); err != nil {
			s.discardPhotos(stored)
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store photo")
		}
		stored = append(stored, name)
	}
	return stored, nil
}

func (s *DeclarationService) discardPhotos(stored []string) {
	for _, name := range stored {
		if err := s.photos.Delete(name); err != nil {
			s.logger.Warn("failed to discard photo", zap.String("photo", name), zap.Error(err))
		}
	}
}

func (s *DeclarationService) mimeAllowed(contentType string) bool {
	if len(s.uploads.AllowedMIMEs) == 0 {
		return true
	}
	for _, allowed := range s.uploads.AllowedMIMEs {
		if strings.EqualFold(allowed, contentType) {
			return true
		}
	}
	return false
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return data
}

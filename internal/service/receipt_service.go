package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/abidjan-digital/declaration-api/internal/dto"
	"github.com/abidjan-digital/declaration-api/internal/models"
	appErrors "github.com/abidjan-digital/declaration-api/pkg/errors"
	"github.com/abidjan-digital/declaration-api/pkg/jobs"
)

type receiptDeclarationStore interface {
	FindByID(ctx context.Context, id string) (*models.Declaration, error)
	MarkProcessed(ctx context.Context, id, agentID, receiptNumber string, ts time.Time) error
	CountReceiptsIssuedOn(ctx context.Context, day time.Time) (int, error)
}

type receiptRenderer interface {
	Render(payload models.ReceiptPayload) ([]byte, error)
}

type receiptArtifactStore interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Exists(filename string) bool
}

type downloadSigner interface {
	Generate(declarationID, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (declarationID, relPath string, expiresAt time.Time, err error)
}

// ReceiptDownload is a resolved, verified receipt download.
type ReceiptDownload struct {
	DeclarationID string
	Filename      string
	File          *os.File
}

// ReceiptService issues receipt references and renders their artifacts.
// Issuance is the only path that moves a declaration to processed: the number
// is assigned and the transition recorded in a single guarded statement, then
// the PDF is rendered off the request path.
type ReceiptService struct {
	declarations  receiptDeclarationStore
	users         userFinder
	commissariats commissariatLookup
	audit         auditRecorder
	renderer      receiptRenderer
	artifacts     receiptArtifactStore
	signer        downloadSigner
	queue         *jobs.Queue
	logger        *zap.Logger
}

// NewReceiptService constructs a ReceiptService. Call StartWorkers before
// serving traffic so rendering jobs have somewhere to go.
func NewReceiptService(
	declarations receiptDeclarationStore,
	users userFinder,
	commissariats commissariatLookup,
	audit auditRecorder,
	renderer receiptRenderer,
	artifacts receiptArtifactStore,
	signer downloadSigner,
	workers, retries int,
	logger *zap.Logger,
) *ReceiptService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ReceiptService{
		declarations:  declarations,
		users:         users,
		commissariats: commissariats,
		audit:         audit,
		renderer:      renderer,
		artifacts:     artifacts,
		signer:        signer,
		logger:        logger,
	}
	s.queue = jobs.NewQueue("receipt-render", s.handleRenderJob, jobs.QueueConfig{
		Workers:    workers,
		MaxRetries: retries,
		Logger:     logger,
	})
	return s
}

// StartWorkers launches the rendering worker pool.
func (s *ReceiptService) StartWorkers(ctx context.Context) {
	s.queue.Start(ctx)
}

// StopWorkers drains and stops the rendering worker pool.
func (s *ReceiptService) StopWorkers() {
	s.queue.Stop()
}

// Issue assigns a receipt reference to a pending declaration and moves it to
// processed. Issuance is one-shot and refused for rejected declarations.
func (s *ReceiptService) Issue(ctx context.Context, claims *models.JWTClaims, declarationID string) (*dto.ReceiptIssueResponse, error) {
	declaration, err := s.declarations.FindByID(ctx, declarationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "declaration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load declaration")
	}

	if err := s.authorizeAgent(claims, declaration.CommissariatID); err != nil {
		return nil, err
	}
	if !models.CanIssueReceipt(declaration) {
		if declaration.HasReceipt() {
			return nil, appErrors.Clone(appErrors.ErrConflict, "receipt already issued")
		}
		return nil, appErrors.Clone(appErrors.ErrFinalized, "rejected declarations cannot receive a receipt")
	}

	now := time.Now().UTC()
	number, err := s.issueNumber(ctx, claims.UserID, declarationID, now)
	if err != nil {
		return nil, err
	}

	if err := s.audit.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &claims.UserID,
		Action:     models.AuditActionReceiptIssue,
		Resource:   "declarations",
		ResourceID: &declarationID,
		NewValues:  mustJSON(map[string]interface{}{"receipt_number": number}),
	}); err != nil {
		s.logger.Warn("failed to record receipt audit log", zap.Error(err))
	}

	relPath := artifactPath(declarationID, number)
	if err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    "render-receipt",
		Payload: renderPayload{DeclarationID: declarationID, RelPath: relPath},
	}); err != nil {
		// Queue not running: render inline so the download token stays honest.
		s.logger.Warn("receipt queue unavailable, rendering inline", zap.Error(err))
		if err := s.renderArtifact(ctx, declarationID, relPath); err != nil {
			return nil, err
		}
	}

	token, expiresAt, err := s.signer.Generate(declarationID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download token")
	}

	return &dto.ReceiptIssueResponse{
		DeclarationID: declarationID,
		ReceiptNumber: number,
		ReceiptDate:   now,
		DownloadToken: token,
		ExpiresAt:     expiresAt,
	}, nil
}

// SignedDownload returns a fresh download token for an already issued receipt.
func (s *ReceiptService) SignedDownload(ctx context.Context, claims *models.JWTClaims, declarationID string) (*dto.ReceiptIssueResponse, error) {
	declaration, err := s.declarations.FindByID(ctx, declarationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "declaration not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load declaration")
	}

	// Owners may re-download their own receipt; agents stay commissariat-scoped.
	if declaration.UserID != claims.UserID {
		if err := s.authorizeAgent(claims, declaration.CommissariatID); err != nil {
			return nil, err
		}
	}
	if !declaration.HasReceipt() {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no receipt issued for this declaration")
	}

	relPath := artifactPath(declarationID, *declaration.ReceiptNumber)
	if !s.artifacts.Exists(relPath) {
		// Artifact missing (render still in flight or lost): re-render now.
		if err := s.renderArtifact(ctx, declarationID, relPath); err != nil {
			return nil, err
		}
	}

	token, expiresAt, err := s.signer.Generate(declarationID, relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download token")
	}

	return &dto.ReceiptIssueResponse{
		DeclarationID: declarationID,
		ReceiptNumber: *declaration.ReceiptNumber,
		ReceiptDate:   derefTime(declaration.ReceiptDate),
		DownloadToken: token,
		ExpiresAt:     expiresAt,
	}, nil
}

// ResolveDownload validates a signed token and opens the artifact for
// streaming. The token alone authorizes the download.
func (s *ReceiptService) ResolveDownload(ctx context.Context, token string) (*ReceiptDownload, error) {
	declarationID, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid download token")
	}

	if !s.artifacts.Exists(relPath) {
		if err := s.renderArtifact(ctx, declarationID, relPath); err != nil {
			return nil, err
		}
	}

	file, err := s.artifacts.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "receipt artifact not found")
	}

	return &ReceiptDownload{
		DeclarationID: declarationID,
		Filename:      filepath.Base(relPath),
		File:          file,
	}, nil
}

type renderPayload struct {
	DeclarationID string
	RelPath       string
}

func (s *ReceiptService) handleRenderJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(renderPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", job.Payload)
	}
	return s.renderArtifact(ctx, payload.DeclarationID, payload.RelPath)
}

func (s *ReceiptService) renderArtifact(ctx context.Context, declarationID, relPath string) error {
	declaration, err := s.declarations.FindByID(ctx, declarationID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load declaration for rendering")
	}

	if declaration.Declarant == nil {
		if user, err := s.users.FindByID(ctx, declaration.UserID); err == nil {
			declaration.Declarant = user
		}
	}
	if declaration.Commissariat == nil {
		if commissariat, err := s.commissariats.FindByID(ctx, declaration.CommissariatID); err == nil {
			declaration.Commissariat = commissariat
		}
	}
	if declaration.Agent == nil && declaration.AgentID != nil {
		if agent, err := s.users.FindByID(ctx, *declaration.AgentID); err == nil {
			declaration.Agent = agent
		}
	}

	data, err := s.renderer.Render(models.BuildReceiptPayload(declaration))
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render receipt")
	}
	if _, err := s.artifacts.Save(relPath, data); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store receipt artifact")
	}
	return nil
}

const receiptNumberAttempts = 3

// issueNumber computes the next per-day reference and records it. The
// count-then-update pair is not atomic, so two agents issuing on the same day
// can read the same count; the unique index on receipt_number rejects the
// loser, who recounts and tries again.
func (s *ReceiptService) issueNumber(ctx context.Context, agentID, declarationID string, now time.Time) (string, error) {
	for attempt := 0; attempt < receiptNumberAttempts; attempt++ {
		number, err := s.nextReceiptNumber(ctx, now)
		if err != nil {
			return "", err
		}

		err = s.declarations.MarkProcessed(ctx, declarationID, agentID, number, now)
		if err == nil {
			return number, nil
		}
		if errors.Is(err, sql.ErrNoRows) {
			return "", appErrors.Clone(appErrors.ErrConflict, "declaration was finalized by another agent")
		}
		if isUniqueViolation(err) {
			s.logger.Warn("receipt number collision, recomputing sequence",
				zap.String("receipt_number", number), zap.Int("attempt", attempt+1))
			continue
		}
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record receipt")
	}
	return "", appErrors.Clone(appErrors.ErrConflict, "receipt sequence contention, retry the issuance")
}

// nextReceiptNumber builds the REC-YYYYMMDD-NNN reference from the per-day
// issuance count. The zero-padded sequence restarts every day.
func (s *ReceiptService) nextReceiptNumber(ctx context.Context, now time.Time) (string, error) {
	issued, err := s.declarations.CountReceiptsIssuedOn(ctx, now)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute receipt sequence")
	}
	return fmt.Sprintf("REC-%s-%03d", now.Format("20060102"), issued+1), nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (s *ReceiptService) authorizeAgent(claims *models.JWTClaims, commissariatID string) error {
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

func artifactPath(declarationID, receiptNumber string) string {
	return filepath.Join("receipts", declarationID, receiptNumber+".pdf")
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

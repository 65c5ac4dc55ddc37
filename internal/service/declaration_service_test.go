package service

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/abidjan-digital/declaration-api/internal/dto"
	"github.com/abidjan-digital/declaration-api/internal/models"
	"github.com/abidjan-digital/declaration-api/pkg/config"
	appErrors "github.com/abidjan-digital/declaration-api/pkg/errors"
)

type mockDeclarationRepo struct {
	byID          map[string]*models.Declaration
	created       []*models.Declaration
	createErr     error
	listResult    []models.Declaration
	listTotal     int
	listFilter    models.DeclarationFilter
	rejectErr     error
	rejectedWith  string
	updateErr     error
	updateCalled  bool
	deleteErr     error
	deleted       []string
	issuedToday   int
	processErrs   []error
	countCalls    int
	processedWith string
	processErr    error
}

func (m *mockDeclarationRepo) Create(ctx context.Context, declaration *models.Declaration) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, declaration)
	return nil
}

func (m *mockDeclarationRepo) FindByID(ctx context.Context, id string) (*models.Declaration, error) {
	if d, ok := m.byID[id]; ok {
		copied := *d
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockDeclarationRepo) List(ctx context.Context, filter models.DeclarationFilter) ([]models.Declaration, int, error) {
	m.listFilter = filter
	return m.listResult, m.listTotal, nil
}

func (m *mockDeclarationRepo) CountPending(ctx context.Context, commissariatID string) (int, error) {
	return len(m.listResult), nil
}

func (m *mockDeclarationRepo) CountReceiptsIssuedOn(ctx context.Context, day time.Time) (int, error) {
	m.countCalls++
	return m.issuedToday, nil
}

func (m *mockDeclarationRepo) MarkRejected(ctx context.Context, id, agentID, reason string, ts time.Time) error {
	if m.rejectErr != nil {
		return m.rejectErr
	}
	m.rejectedWith = reason
	return nil
}

func (m *mockDeclarationRepo) MarkProcessed(ctx context.Context, id, agentID, receiptNumber string, ts time.Time) error {
	if len(m.processErrs) > 0 {
		err := m.processErrs[0]
		m.processErrs = m.processErrs[1:]
		if err != nil {
			// Another writer claimed the slot; the per-day count moves on.
			m.issuedToday++
			return err
		}
	}
	if m.processErr != nil {
		return m.processErr
	}
	m.processedWith = receiptNumber
	return nil
}

func (m *mockDeclarationRepo) UpdateReceiptFields(ctx context.Context, id string, receiptNumber *string, receiptDate *time.Time, agentID *string, ts time.Time) error {
	m.updateCalled = true
	return m.updateErr
}

func (m *mockDeclarationRepo) Delete(ctx context.Context, id, userID string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, id)
	return nil
}

type fakePhotoStore struct {
	saved   []string
	deleted []string
	saveErr error
}

func (m *fakePhotoStore) SaveStream(filename string, r io.Reader) (string, error) {
	if m.saveErr != nil {
		return "", m.saveErr
	}
	m.saved = append(m.saved, filename)
	return filename, nil
}

func (m *fakePhotoStore) Delete(filename string) error {
	m.deleted = append(m.deleted, filename)
	return nil
}

type mockInvalidator struct {
	invalidated []string
}

func (m *mockInvalidator) Invalidate(ctx context.Context, commissariatID string) {
	m.invalidated = append(m.invalidated, commissariatID)
}

func agentClaims(commissariatID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: "a-1", Role: models.RoleAgent, CommissariatID: &commissariatID}
}

func newDeclarationService(repo *mockDeclarationRepo, photos photoStore, invalidator *mockInvalidator) (*DeclarationService, *mockUserRepo) {
	users := &mockUserRepo{usersByID: map[string]*models.User{
		"u-1": {ID: "u-1", FirstName: "Awa", LastName: "Kone"},
	}}
	commissariats := &mockCommissariats{byID: map[string]*models.Commissariat{
		"c-1": {ID: "c-1", Name: "Commissariat du Plateau", City: "Abidjan"},
	}}
	uploads := config.UploadsConfig{
		MaxFileSizeBytes: 1024,
		AllowedMIMEs:     []string{"image/jpeg", "image/png"},
		MaxPhotos:        2,
	}
	svc := NewDeclarationService(repo, users, commissariats, users, photos, invalidator, validator.New(), zap.NewNop(), uploads)
	return svc, users
}

func TestDeclarationServiceCreateObject(t *testing.T) {
	repo := &mockDeclarationRepo{}
	photos := &fakePhotoStore{}
	invalidator := &mockInvalidator{}
	svc, users := newDeclarationService(repo, photos, invalidator)

	declaration, err := svc.Create(context.Background(), "u-1", dto.CreateDeclarationRequest{
		Type:            models.DeclarationObject,
		DeclarationDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Location:        "Cocody",
		Description:     "Sac perdu au marché",
		CommissariatID:  "c-1",
		ObjectDetails:   `{"objectCategory":"Sac","objectName":"Sac à dos"}`,
	}, []PhotoUpload{
		{Filename: "photo.jpg", ContentType: "image/jpeg", Size: 100, Content: bytes.NewBufferString("jpegdata")},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, declaration.Status)
	require.NotNil(t, declaration.ObjectDetails)
	assert.Equal(t, "Sac à dos", declaration.ObjectDetails.Name)
	require.Len(t, declaration.Photos, 1)
	assert.True(t, strings.HasPrefix(declaration.Photos[0], "declarations/"))
	assert.Equal(t, []string{"c-1"}, invalidator.invalidated)
	require.Len(t, users.auditLogs, 1)
	assert.Equal(t, models.AuditActionDeclarationCreate, users.auditLogs[0].Action)
}

func TestDeclarationServiceCreateUnknownCommissariat(t *testing.T) {
	repo := &mockDeclarationRepo{}
	svc, _ := newDeclarationService(repo, &fakePhotoStore{}, &mockInvalidator{})

	_, err := svc.Create(context.Background(), "u-1", dto.CreateDeclarationRequest{
		Type:            models.DeclarationObject,
		DeclarationDate: time.Now(),
		Location:        "Cocody",
		Description:     "Sac perdu",
		CommissariatID:  "c-missing",
		ObjectDetails:   `{"objectCategory":"Sac"}`,
	}, nil)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.created)
}

func TestDeclarationServiceCreateRejectsOversizedPhoto(t *testing.T) {
	repo := &mockDeclarationRepo{}
	photos := &fakePhotoStore{}
	svc, _ := newDeclarationService(repo, photos, &mockInvalidator{})

	_, err := svc.Create(context.Background(), "u-1", dto.CreateDeclarationRequest{
		Type:            models.DeclarationObject,
		DeclarationDate: time.Now(),
		Location:        "Cocody",
		Description:     "Sac perdu",
		CommissariatID:  "c-1",
		ObjectDetails:   `{"objectCategory":"Sac"}`,
	}, []PhotoUpload{
		{Filename: "big.jpg", ContentType: "image/jpeg", Size: 10_000, Content: bytes.NewBuffer(nil)},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.created)
}

func TestDeclarationServiceCreateRejectsUnsupportedMIME(t *testing.T) {
	svc, _ := newDeclarationService(&mockDeclarationRepo{}, &fakePhotoStore{}, &mockInvalidator{})

	_, err := svc.Create(context.Background(), "u-1", dto.CreateDeclarationRequest{
		Type:            models.DeclarationObject,
		DeclarationDate: time.Now(),
		Location:        "Cocody",
		Description:     "Sac perdu",
		CommissariatID:  "c-1",
		ObjectDetails:   `{"objectCategory":"Sac"}`,
	}, []PhotoUpload{
		{Filename: "doc.pdf", ContentType: "application/pdf", Size: 10, Content: bytes.NewBuffer(nil)},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestDeclarationServiceRejectRequiresReason(t *testing.T) {
	repo := &mockDeclarationRepo{byID: map[string]*models.Declaration{
		"d-1": {ID: "d-1", UserID: "u-1", Status: models.StatusPending, CommissariatID: "c-1"},
	}}
	svc, _ := newDeclarationService(repo, &fakePhotoStore{}, &mockInvalidator{})

	_, err := svc.UpdateStatus(context.Background(), agentClaims("c-1"), "d-1", dto.UpdateStatusRequest{
		Status:       models.StatusRejected,
		RejectReason: "   ",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	// Fail-fast: nothing was written.
	assert.Empty(t, repo.rejectedWith)
}

func TestDeclarationServiceRejectSuccess(t *testing.T) {
	repo := &mockDeclarationRepo{byID: map[string]*models.Declaration{
		"d-1": {ID: "d-1", UserID: "u-1", Status: models.StatusPending, CommissariatID: "c-1"},
	}}
	invalidator := &mockInvalidator{}
	svc, _ := newDeclarationService(repo, &fakePhotoStore{}, invalidator)

	declaration, err := svc.UpdateStatus(context.Background(), agentClaims("c-1"), "d-1", dto.UpdateStatusRequest{
		Status:       models.StatusRejected,
		RejectReason: "  Informations insuffisantes  ",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, declaration.Status)
	assert.Equal(t, "Informations insuffisantes", repo.rejectedWith)
	require.NotNil(t, declaration.RejectReason)
	assert.Equal(t, "Informations insuffisantes", *declaration.RejectReason)
	assert.Equal(t, []string{"c-1"}, invalidator.invalidated)
}

func TestDeclarationServiceRejectTerminalState(t *testing.T) {
	repo := &mockDeclarationRepo{byID: map[string]*models.Declaration{
		"d-1": {ID: "d-1", UserID: "u-1", Status: models.StatusProcessed, CommissariatID: "c-1"},
	}}
	svc, _ := newDeclarationService(repo, &fakePhotoStore{}, &mockInvalidator{})

	_, err := svc.UpdateStatus(context.Background(), agentClaims("c-1"), "d-1", dto.UpdateStatusRequest{
		Status:       models.StatusRejected,
		RejectReason: "trop tard",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrFinalized.Code, appErrors.FromError(err).Code)
}

func TestDeclarationServiceProcessedGoesThroughReceipts(t *testing.T) {
	svc, _ := newDeclarationService(&mockDeclarationRepo{}, &fakePhotoStore{}, &mockInvalidator{})

	_, err := svc.UpdateStatus(context.Background(), agentClaims("c-1"), "d-1", dto.UpdateStatusRequest{
		Status: models.StatusProcessed,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestDeclarationServiceRejectStaleWriter(t *testing.T) {
	repo := &mockDeclarationRepo{
		byID: map[string]*models.Declaration{
			"d-1": {ID: "d-1", UserID: "u-1", Status: models.StatusPending, CommissariatID: "c-1"},
		},
		rejectErr: sql.ErrNoRows,
	}
	svc, _ := newDeclarationService(repo, &fakePhotoStore{}, &mockInvalidator{})

	_, err := svc.UpdateStatus(context.Background(), agentClaims("c-1"), "d-1", dto.UpdateStatusRequest{
		Status:       models.StatusRejected,
		RejectReason: "doublon",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrFinalized.Code, appErrors.FromError(err).Code)
}

func TestDeclarationServiceUpdateRejectedRefused(t *testing.T) {
	repo := &mockDeclarationRepo{byID: map[string]*models.Declaration{
		"d-1": {ID: "d-1", UserID: "u-1", Status: models.StatusRejected, CommissariatID: "c-1"},
	}}
	svc, _ := newDeclarationService(repo, &fakePhotoStore{}, &mockInvalidator{})

	number := "REC-20240301-001"
	_, err := svc.Update(context.Background(), agentClaims("c-1"), "d-1", dto.UpdateDeclarationRequest{
		ReceiptNumber: &number,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	// A rejected declaration never carries receipt fields.
	assert.False(t, repo.updateCalled)
}

func TestDeclarationServiceUpdatePendingRefused(t *testing.T) {
	repo := &mockDeclarationRepo{byID: map[string]*models.Declaration{
		"d-1": {ID: "d-1", UserID: "u-1", Status: models.StatusPending, CommissariatID: "c-1"},
	}}
	svc, _ := newDeclarationService(repo, &fakePhotoStore{}, &mockInvalidator{})

	number := "REC-20240301-001"
	_, err := svc.Update(context.Background(), agentClaims("c-1"), "d-1", dto.UpdateDeclarationRequest{
		ReceiptNumber: &number,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.False(t, repo.updateCalled)
}

func TestDeclarationServiceUpdateProcessed(t *testing.T) {
	repo := &mockDeclarationRepo{byID: map[string]*models.Declaration{
		"d-1": {ID: "d-1", UserID: "u-1", Status: models.StatusProcessed, CommissariatID: "c-1"},
	}}
	svc, _ := newDeclarationService(repo, &fakePhotoStore{}, &mockInvalidator{})

	number := "REC-20240301-002"
	declaration, err := svc.Update(context.Background(), agentClaims("c-1"), "d-1", dto.UpdateDeclarationRequest{
		ReceiptNumber: &number,
	})
	require.NoError(t, err)
	assert.True(t, repo.updateCalled)
	assert.Equal(t, "d-1", declaration.ID)
}

func TestDeclarationServiceUpdateStaleWriter(t *testing.T) {
	repo := &mockDeclarationRepo{
		byID: map[string]*models.Declaration{
			"d-1": {ID: "d-1", UserID: "u-1", Status: models.StatusProcessed, CommissariatID: "c-1"},
		},
		updateErr: sql.ErrNoRows,
	}
	svc, _ := newDeclarationService(repo, &fakePhotoStore{}, &mockInvalidator{})

	number := "REC-20240301-003"
	_, err := svc.Update(context.Background(), agentClaims("c-1"), "d-1", dto.UpdateDeclarationRequest{
		ReceiptNumber: &number,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestDeclarationServiceAgentScopedToOwnCommissariat(t *testing.T) {
	repo := &mockDeclarationRepo{byID: map[string]*models.Declaration{
		"d-1": {ID: "d-1", UserID: "u-1", Status: models.StatusPending, CommissariatID: "c-1"},
	}}
	svc, _ := newDeclarationService(repo, &fakePhotoStore{}, &mockInvalidator{})

	_, err := svc.UpdateStatus(context.Background(), agentClaims("c-2"), "d-1", dto.UpdateStatusRequest{
		Status:       models.StatusRejected,
		RejectReason: "hors zone",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, _, err = svc.ListForCommissariat(context.Background(), agentClaims("c-2"), "c-1", models.DeclarationFilter{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestDeclarationServiceAdminBypassesScope(t *testing.T) {
	repo := &mockDeclarationRepo{}
	svc, _ := newDeclarationService(repo, &fakePhotoStore{}, &mockInvalidator{})

	_, _, err := svc.ListForCommissariat(context.Background(), &models.JWTClaims{UserID: "adm", Role: models.RoleAdmin}, "c-1", models.DeclarationFilter{})
	require.NoError(t, err)
	assert.Equal(t, "c-1", repo.listFilter.CommissariatID)
}

func TestDeclarationServiceDeleteOwnPending(t *testing.T) {
	repo := &mockDeclarationRepo{byID: map[string]*models.Declaration{
		"d-1": {ID: "d-1", UserID: "u-1", Status: models.StatusPending, CommissariatID: "c-1", Photos: pq.StringArray{"declarations/d-1/p.jpg"}},
	}}
	photos := &fakePhotoStore{}
	svc, _ := newDeclarationService(repo, photos, &mockInvalidator{})

	require.NoError(t, svc.Delete(context.Background(), "u-1", "d-1"))
	assert.Equal(t, []string{"d-1"}, repo.deleted)
	assert.Equal(t, []string{"declarations/d-1/p.jpg"}, photos.deleted)
}

func TestDeclarationServiceDeleteRejectedAllowed(t *testing.T) {
	repo := &mockDeclarationRepo{byID: map[string]*models.Declaration{
		"d-1": {ID: "d-1", UserID: "u-1", Status: models.StatusRejected, CommissariatID: "c-1"},
	}}
	svc, _ := newDeclarationService(repo, &fakePhotoStore{}, &mockInvalidator{})

	require.NoError(t, svc.Delete(context.Background(), "u-1", "d-1"))
}

func TestDeclarationServiceDeleteProcessedRefused(t *testing.T) {
	repo := &mockDeclarationRepo{byID: map[string]*models.Declaration{
		"d-1": {ID: "d-1", UserID: "u-1", Status: models.StatusProcessed, CommissariatID: "c-1"},
	}}
	svc, _ := newDeclarationService(repo, &fakePhotoStore{}, &mockInvalidator{})

	err := svc.Delete(context.Background(), "u-1", "d-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrFinalized.Code, appErrors.FromError(err).Code)
	assert.Empty(t, repo.deleted)
}

func TestDeclarationServiceDeleteForeignDeclaration(t *testing.T) {
	repo := &mockDeclarationRepo{byID: map[string]*models.Declaration{
		"d-1": {ID: "d-1", UserID: "u-1", Status: models.StatusPending, CommissariatID: "c-1"},
	}}
	svc, _ := newDeclarationService(repo, &fakePhotoStore{}, &mockInvalidator{})

	err := svc.Delete(context.Background(), "u-2", "d-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

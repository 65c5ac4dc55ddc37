package service

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/abidjan-digital/declaration-api/internal/models"
	appErrors "github.com/abidjan-digital/declaration-api/pkg/errors"
	"github.com/abidjan-digital/declaration-api/pkg/storage"
)

type fakeRenderer struct {
	rendered []models.ReceiptPayload
	err      error
}

func (f *fakeRenderer) Render(payload models.ReceiptPayload) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.rendered = append(f.rendered, payload)
	return []byte("%PDF-1.4 receipt " + payload.Number), nil
}

func newReceiptService(t *testing.T, repo *mockDeclarationRepo) (*ReceiptService, *fakeRenderer) {
	t.Helper()
	artifacts, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	renderer := &fakeRenderer{}
	users := &mockUserRepo{usersByID: map[string]*models.User{
		"u-1": {ID: "u-1", FirstName: "Awa", LastName: "Kone"},
		"a-1": {ID: "a-1", FirstName: "Issa", LastName: "Traore"},
	}}
	commissariats := &mockCommissariats{byID: map[string]*models.Commissariat{
		"c-1": {ID: "c-1", Name: "Commissariat du Plateau", City: "Abidjan"},
	}}
	svc := NewReceiptService(repo, users, commissariats, users, renderer, artifacts, signer, 1, 1, zap.NewNop())
	return svc, renderer
}

func pendingDeclaration() *models.Declaration {
	return &models.Declaration{
		ID:             "d-1",
		UserID:         "u-1",
		Type:           models.DeclarationObject,
		Status:         models.StatusPending,
		CommissariatID: "c-1",
		Location:       "Cocody",
		ObjectDetails:  &models.ObjectDetails{Category: "Sac", Name: "Sac à dos"},
	}
}

func TestReceiptServiceIssue(t *testing.T) {
	repo := &mockDeclarationRepo{byID: map[string]*models.Declaration{"d-1": pendingDeclaration()}}
	svc, _ := newReceiptService(t, repo)

	res, err := svc.Issue(context.Background(), agentClaims("c-1"), "d-1")
	require.NoError(t, err)

	expected := fmt.Sprintf("REC-%s-001", time.Now().UTC().Format("20060102"))
	assert.Equal(t, expected, res.ReceiptNumber)
	assert.Equal(t, expected, repo.processedWith)
	assert.NotEmpty(t, res.DownloadToken)
	assert.True(t, res.ExpiresAt.After(time.Now()))
}

func TestReceiptServiceSequenceAdvances(t *testing.T) {
	repo := &mockDeclarationRepo{
		byID:        map[string]*models.Declaration{"d-1": pendingDeclaration()},
		issuedToday: 41,
	}
	svc, _ := newReceiptService(t, repo)

	res, err := svc.Issue(context.Background(), agentClaims("c-1"), "d-1")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("REC-%s-042", time.Now().UTC().Format("20060102")), res.ReceiptNumber)
}

func TestReceiptServiceIssueRetriesOnNumberCollision(t *testing.T) {
	repo := &mockDeclarationRepo{
		byID:        map[string]*models.Declaration{"d-1": pendingDeclaration()},
		issuedToday: 41,
		// Another agent wins the -042 slot; the retry recounts and takes -043.
		processErrs: []error{&pq.Error{Code: "23505"}},
	}
	svc, _ := newReceiptService(t, repo)

	res, err := svc.Issue(context.Background(), agentClaims("c-1"), "d-1")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("REC-%s-043", time.Now().UTC().Format("20060102")), res.ReceiptNumber)
	assert.Equal(t, 2, repo.countCalls)
}

func TestReceiptServiceIssueGivesUpAfterRepeatedCollisions(t *testing.T) {
	repo := &mockDeclarationRepo{
		byID:        map[string]*models.Declaration{"d-1": pendingDeclaration()},
		processErrs: []error{&pq.Error{Code: "23505"}, &pq.Error{Code: "23505"}, &pq.Error{Code: "23505"}},
	}
	svc, _ := newReceiptService(t, repo)

	_, err := svc.Issue(context.Background(), agentClaims("c-1"), "d-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestReceiptServiceIssueTwiceRefused(t *testing.T) {
	issued := "REC-20240101-001"
	declaration := pendingDeclaration()
	declaration.Status = models.StatusProcessed
	declaration.ReceiptNumber = &issued
	repo := &mockDeclarationRepo{byID: map[string]*models.Declaration{"d-1": declaration}}
	svc, _ := newReceiptService(t, repo)

	_, err := svc.Issue(context.Background(), agentClaims("c-1"), "d-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestReceiptServiceIssueRejectedRefused(t *testing.T) {
	declaration := pendingDeclaration()
	declaration.Status = models.StatusRejected
	repo := &mockDeclarationRepo{byID: map[string]*models.Declaration{"d-1": declaration}}
	svc, _ := newReceiptService(t, repo)

	_, err := svc.Issue(context.Background(), agentClaims("c-1"), "d-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrFinalized.Code, appErrors.FromError(err).Code)
}

func TestReceiptServiceIssueForeignCommissariat(t *testing.T) {
	repo := &mockDeclarationRepo{byID: map[string]*models.Declaration{"d-1": pendingDeclaration()}}
	svc, _ := newReceiptService(t, repo)

	_, err := svc.Issue(context.Background(), agentClaims("c-2"), "d-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestReceiptServiceIssueLostRace(t *testing.T) {
	repo := &mockDeclarationRepo{
		byID:       map[string]*models.Declaration{"d-1": pendingDeclaration()},
		processErr: sql.ErrNoRows,
	}
	svc, _ := newReceiptService(t, repo)

	_, err := svc.Issue(context.Background(), agentClaims("c-1"), "d-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestReceiptServiceDownloadRoundTrip(t *testing.T) {
	repo := &mockDeclarationRepo{byID: map[string]*models.Declaration{"d-1": pendingDeclaration()}}
	svc, renderer := newReceiptService(t, repo)

	// The queue is not started in tests, so rendering happens inline.
	res, err := svc.Issue(context.Background(), agentClaims("c-1"), "d-1")
	require.NoError(t, err)
	require.NotEmpty(t, renderer.rendered)

	download, err := svc.ResolveDownload(context.Background(), res.DownloadToken)
	require.NoError(t, err)
	defer download.File.Close() //nolint:errcheck

	assert.Equal(t, "d-1", download.DeclarationID)
	data, err := io.ReadAll(download.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), "%PDF")
}

func TestReceiptServiceDownloadTamperedToken(t *testing.T) {
	repo := &mockDeclarationRepo{byID: map[string]*models.Declaration{"d-1": pendingDeclaration()}}
	svc, _ := newReceiptService(t, repo)

	res, err := svc.Issue(context.Background(), agentClaims("c-1"), "d-1")
	require.NoError(t, err)

	_, err = svc.ResolveDownload(context.Background(), res.DownloadToken+"x")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestReceiptServiceSignedDownloadForOwner(t *testing.T) {
	issued := "REC-20240301-007"
	issuedAt := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	declaration := pendingDeclaration()
	declaration.Status = models.StatusProcessed
	declaration.ReceiptNumber = &issued
	declaration.ReceiptDate = &issuedAt
	repo := &mockDeclarationRepo{byID: map[string]*models.Declaration{"d-1": declaration}}
	svc, _ := newReceiptService(t, repo)

	owner := &models.JWTClaims{UserID: "u-1", Role: models.RoleUser}
	res, err := svc.SignedDownload(context.Background(), owner, "d-1")
	require.NoError(t, err)
	assert.Equal(t, issued, res.ReceiptNumber)
	assert.NotEmpty(t, res.DownloadToken)

	download, err := svc.ResolveDownload(context.Background(), res.DownloadToken)
	require.NoError(t, err)
	download.File.Close() //nolint:errcheck
}

func TestReceiptServiceSignedDownloadWithoutReceipt(t *testing.T) {
	repo := &mockDeclarationRepo{byID: map[string]*models.Declaration{"d-1": pendingDeclaration()}}
	svc, _ := newReceiptService(t, repo)

	owner := &models.JWTClaims{UserID: "u-1", Role: models.RoleUser}
	_, err := svc.SignedDownload(context.Background(), owner, "d-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

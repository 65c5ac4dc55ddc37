package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/abidjan-digital/declaration-api/internal/dto"
	"github.com/abidjan-digital/declaration-api/internal/models"
	appErrors "github.com/abidjan-digital/declaration-api/pkg/errors"
)

type mockAdminUserRepo struct {
	mockUserRepo
	listResult    []models.User
	listTotal     int
	deactivated   []string
	deactivateErr error
}

func (m *mockAdminUserRepo) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	return m.listResult, m.listTotal, nil
}

func (m *mockAdminUserRepo) Deactivate(ctx context.Context, id string) error {
	if m.deactivateErr != nil {
		return m.deactivateErr
	}
	m.deactivated = append(m.deactivated, id)
	return nil
}

func newUserService(repo *mockAdminUserRepo, commissariats *mockCommissariats) *UserService {
	if commissariats == nil {
		commissariats = &mockCommissariats{}
	}
	return NewUserService(repo, commissariats, validator.New(), zap.NewNop())
}

func TestUserServiceCreateAgent(t *testing.T) {
	repo := &mockAdminUserRepo{}
	commissariats := &mockCommissariats{byID: map[string]*models.Commissariat{
		"c-1": {ID: "c-1", Name: "Commissariat du Plateau"},
	}}
	svc := newUserService(repo, commissariats)

	commissariatID := "c-1"
	user, err := svc.Create(context.Background(), "adm", dto.CreateUserRequest{
		Email:          "agent@example.com",
		Password:       "password",
		FirstName:      "Issa",
		LastName:       "Traore",
		Role:           models.RoleAgent,
		CommissariatID: &commissariatID,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAgent, user.Role)
	assert.Empty(t, user.PasswordHash)
	require.Len(t, repo.created, 1)
	assert.NotEmpty(t, repo.created[0].PasswordHash)
	require.Len(t, repo.auditLogs, 1)
	assert.Equal(t, models.AuditActionUserCreate, repo.auditLogs[0].Action)
}

func TestUserServiceCreateAgentWithoutCommissariat(t *testing.T) {
	svc := newUserService(&mockAdminUserRepo{}, nil)

	_, err := svc.Create(context.Background(), "adm", dto.CreateUserRequest{
		Email:     "agent@example.com",
		Password:  "password",
		FirstName: "Issa",
		LastName:  "Traore",
		Role:      models.RoleAgent,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserServiceCreateAgentUnknownCommissariat(t *testing.T) {
	svc := newUserService(&mockAdminUserRepo{}, &mockCommissariats{})

	commissariatID := "c-missing"
	_, err := svc.Create(context.Background(), "adm", dto.CreateUserRequest{
		Email:          "agent@example.com",
		Password:       "password",
		FirstName:      "Issa",
		LastName:       "Traore",
		Role:           models.RoleAgent,
		CommissariatID: &commissariatID,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserServiceCreateCitizenWithCommissariatRefused(t *testing.T) {
	svc := newUserService(&mockAdminUserRepo{}, nil)

	commissariatID := "c-1"
	_, err := svc.Create(context.Background(), "adm", dto.CreateUserRequest{
		Email:          "user@example.com",
		Password:       "password",
		FirstName:      "Awa",
		LastName:       "Kone",
		Role:           models.RoleUser,
		CommissariatID: &commissariatID,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserServiceCreateDuplicateEmail(t *testing.T) {
	repo := &mockAdminUserRepo{}
	repo.userByEmail = &models.User{ID: "u-1", Email: "user@example.com"}
	svc := newUserService(repo, nil)

	_, err := svc.Create(context.Background(), "adm", dto.CreateUserRequest{
		Email:     "user@example.com",
		Password:  "password",
		FirstName: "Awa",
		LastName:  "Kone",
		Role:      models.RoleUser,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestUserServiceDeleteSelfRefused(t *testing.T) {
	svc := newUserService(&mockAdminUserRepo{}, nil)

	err := svc.Delete(context.Background(), "adm", "adm")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserServiceDeleteMissingUser(t *testing.T) {
	repo := &mockAdminUserRepo{deactivateErr: sql.ErrNoRows}
	svc := newUserService(repo, nil)

	err := svc.Delete(context.Background(), "adm", "ghost")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestUserServiceDeleteDeactivates(t *testing.T) {
	repo := &mockAdminUserRepo{}
	svc := newUserService(repo, nil)

	require.NoError(t, svc.Delete(context.Background(), "adm", "u-1"))
	assert.Equal(t, []string{"u-1"}, repo.deactivated)
}

func TestUserServiceListStripsPasswordHashes(t *testing.T) {
	repo := &mockAdminUserRepo{
		listResult: []models.User{{ID: "u-1", Email: "user@example.com", PasswordHash: "hash"}},
		listTotal:  1,
	}
	svc := newUserService(repo, nil)

	users, total, err := svc.List(context.Background(), models.UserFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, users, 1)
	assert.Empty(t, users[0].PasswordHash)
}

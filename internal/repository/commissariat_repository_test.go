package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abidjan-digital/declaration-api/internal/models"
)

func TestCommissariatList(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCommissariatRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "name", "address", "city", "phone", "email", "created_at", "updated_at"}).
		AddRow("c1", "Commissariat du Plateau", "Rue du Commerce", "Abidjan", "", "", now, now)
	mock.ExpectQuery(`SELECT .+ FROM commissariats ORDER BY name ASC`).WillReturnRows(rows)

	commissariats, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, commissariats, 1)
	assert.Equal(t, "Commissariat du Plateau", commissariats[0].Name)
}

func TestCommissariatCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCommissariatRepository(db)

	mock.ExpectExec("INSERT INTO commissariats").WillReturnResult(sqlmock.NewResult(1, 1))

	commissariat := &models.Commissariat{Name: "Commissariat de Cocody", Address: "Boulevard Latrille", City: "Abidjan"}
	require.NoError(t, repo.Create(context.Background(), commissariat))
	assert.NotEmpty(t, commissariat.ID)
}

func TestCommissariatDeleteMissing(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCommissariatRepository(db)

	mock.ExpectExec("DELETE FROM commissariats").WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCommissariatCountAgents(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewCommissariatRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM users WHERE commissariat_id = $1 AND role = $2 AND active = TRUE`)).
		WithArgs("c1", string(models.RoleAgent)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountAgents(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

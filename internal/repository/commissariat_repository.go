package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/abidjan-digital/declaration-api/internal/models"
)

const commissariatColumns = `id, name, address, city, phone, email, created_at, updated_at`

// CommissariatRepository provides database access for station management.
type CommissariatRepository struct {
	db *sqlx.DB
}

// NewCommissariatRepository creates a new instance of CommissariatRepository.
func NewCommissariatRepository(db *sqlx.DB) *CommissariatRepository {
	return &CommissariatRepository{db: db}
}

// List returns every commissariat ordered by name.
func (r *CommissariatRepository) List(ctx context.Context) ([]models.Commissariat, error) {
	query := fmt.Sprintf(`SELECT %s FROM commissariats ORDER BY name ASC`, commissariatColumns)
	var commissariats []models.Commissariat
	if err := r.db.SelectContext(ctx, &commissariats, query); err != nil {
		return nil, fmt.Errorf("list commissariats: %w", err)
	}
	return commissariats, nil
}

// FindByID returns a commissariat by identifier.
func (r *CommissariatRepository) FindByID(ctx context.Context, id string) (*models.Commissariat, error) {
	query := fmt.Sprintf(`SELECT %s FROM commissariats WHERE id = $1 LIMIT 1`, commissariatColumns)
	var commissariat models.Commissariat
	if err := r.db.GetContext(ctx, &commissariat, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find commissariat by id: %w", err)
	}
	return &commissariat, nil
}

// Create inserts a new commissariat.
func (r *CommissariatRepository) Create(ctx context.Context, commissariat *models.Commissariat) error {
	if commissariat.ID == "" {
		commissariat.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if commissariat.CreatedAt.IsZero() {
		commissariat.CreatedAt = now
	}
	commissariat.UpdatedAt = now

	const query = `INSERT INTO commissariats (id, name, address, city, phone, email, created_at, updated_at) VALUES (:id, :name, :address, :city, :phone, :email, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, commissariat); err != nil {
		return fmt.Errorf("create commissariat: %w", err)
	}
	return nil
}

// Delete removes a commissariat.
func (r *CommissariatRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM commissariats WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete commissariat: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountAgents returns the number of active agents enrolled at a commissariat.
func (r *CommissariatRepository) CountAgents(ctx context.Context, id string) (int, error) {
	const query = `SELECT COUNT(*) FROM users WHERE commissariat_id = $1 AND role = $2 AND active = TRUE`
	var count int
	if err := r.db.GetContext(ctx, &count, query, id, models.RoleAgent); err != nil {
		return 0, fmt.Errorf("count agents: %w", err)
	}
	return count, nil
}

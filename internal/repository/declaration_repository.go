package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/abidjan-digital/declaration-api/internal/models"
)

const declarationColumns = `id, user_id, declaration_type, declaration_date, location, description, status, object_details, person_details, photos, commissariat_id, agent_id, reject_reason, receipt_number, receipt_date, processed_at, created_at, updated_at`

// DeclarationRepository provides database access for declarations.
type DeclarationRepository struct {
	db *sqlx.DB
}

// NewDeclarationRepository creates a new instance of DeclarationRepository.
func NewDeclarationRepository(db *sqlx.DB) *DeclarationRepository {
	return &DeclarationRepository{db: db}
}

// Create inserts a new declaration.
func (r *DeclarationRepository) Create(ctx context.Context, declaration *models.Declaration) error {
	if declaration.ID == "" {
		declaration.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if declaration.CreatedAt.IsZero() {
		declaration.CreatedAt = now
	}
	declaration.UpdatedAt = now

	const query = `INSERT INTO declarations (id, user_id, declaration_type, declaration_date, location, description, status, object_details, person_details, photos, commissariat_id, created_at, updated_at) VALUES (:id, :user_id, :declaration_type, :declaration_date, :location, :description, :status, :object_details, :person_details, :photos, :commissariat_id, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, declaration); err != nil {
		return fmt.Errorf("create declaration: %w", err)
	}
	return nil
}

// FindByID returns a declaration by identifier.
func (r *DeclarationRepository) FindByID(ctx context.Context, id string) (*models.Declaration, error) {
	query := fmt.Sprintf(`SELECT %s FROM declarations WHERE id = $1 LIMIT 1`, declarationColumns)
	var declaration models.Declaration
	if err := r.db.GetContext(ctx, &declaration, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find declaration by id: %w", err)
	}
	return &declaration, nil
}

// List returns declarations matching the filter, newest first.
func (r *DeclarationRepository) List(ctx context.Context, filter models.DeclarationFilter) ([]models.Declaration, int, error) {
	baseQuery := `FROM declarations WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.UserID != "" {
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)+1))
		args = append(args, filter.UserID)
	}
	if filter.CommissariatID != "" {
		conditions = append(conditions, fmt.Sprintf("commissariat_id = $%d", len(args)+1))
		args = append(args, filter.CommissariatID)
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.Type != nil {
		conditions = append(conditions, fmt.Sprintf("declaration_type = $%d", len(args)+1))
		args = append(args, *filter.Type)
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", declarationColumns, baseQuery, pageSize, offset)

	var declarations []models.Declaration
	if err := r.db.SelectContext(ctx, &declarations, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list declarations: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count declarations: %w", err)
	}

	return declarations, total, nil
}

// CountPending returns the number of pending declarations for a commissariat.
func (r *DeclarationRepository) CountPending(ctx context.Context, commissariatID string) (int, error) {
	const query = `SELECT COUNT(*) FROM declarations WHERE commissariat_id = $1 AND status = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, commissariatID, models.StatusPending); err != nil {
		return 0, fmt.Errorf("count pending declarations: %w", err)
	}
	return count, nil
}

// CountReceiptsIssuedOn returns how many receipts were issued on the given
// day. Feeds the per-day receipt sequence.
func (r *DeclarationRepository) CountReceiptsIssuedOn(ctx context.Context, day time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM declarations WHERE receipt_number IS NOT NULL AND receipt_date >= $1 AND receipt_date < $2`
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	var count int
	if err := r.db.GetContext(ctx, &count, query, start, start.Add(24*time.Hour)); err != nil {
		return 0, fmt.Errorf("count issued receipts: %w", err)
	}
	return count, nil
}

// MarkRejected records a rejection. The WHERE clause re-checks the pending
// precondition so a stale writer affects zero rows instead of clobbering a
// terminal state.
func (r *DeclarationRepository) MarkRejected(ctx context.Context, id, agentID, reason string, ts time.Time) error {
	const query = `UPDATE declarations SET status = $2, reject_reason = $3, agent_id = $4, updated_at = $5 WHERE id = $1 AND status = $6`
	result, err := r.db.ExecContext(ctx, query, id, models.StatusRejected, reason, agentID, ts, models.StatusPending)
	if err != nil {
		return fmt.Errorf("mark declaration rejected: %w", err)
	}
	return requireOneRow(result)
}

// MarkProcessed records receipt issuance and the processed transition in one
// guarded statement.
func (r *DeclarationRepository) MarkProcessed(ctx context.Context, id, agentID, receiptNumber string, ts time.Time) error {
	const query = `UPDATE declarations SET status = $2, receipt_number = $3, receipt_date = $4, processed_at = $4, agent_id = $5, updated_at = $4 WHERE id = $1 AND status = $6 AND receipt_number IS NULL`
	result, err := r.db.ExecContext(ctx, query, id, models.StatusProcessed, receiptNumber, ts, agentID, models.StatusPending)
	if err != nil {
		return fmt.Errorf("mark declaration processed: %w", err)
	}
	return requireOneRow(result)
}

// UpdateReceiptFields updates receipt metadata outside the issuance flow.
// Only processed declarations carry receipt fields, so the status is part of
// the WHERE clause; a stale caller affects zero rows.
func (r *DeclarationRepository) UpdateReceiptFields(ctx context.Context, id string, receiptNumber *string, receiptDate *time.Time, agentID *string, ts time.Time) error {
	const query = `UPDATE declarations SET receipt_number = COALESCE($2, receipt_number), receipt_date = COALESCE($3, receipt_date), agent_id = COALESCE($4, agent_id), updated_at = $5 WHERE id = $1 AND status = $6`
	result, err := r.db.ExecContext(ctx, query, id, receiptNumber, receiptDate, agentID, ts, models.StatusProcessed)
	if err != nil {
		return fmt.Errorf("update receipt fields: %w", err)
	}
	return requireOneRow(result)
}

// Delete removes a declaration owned by the given user, only while its status
// still permits deletion.
func (r *DeclarationRepository) Delete(ctx context.Context, id, userID string) error {
	const query = `DELETE FROM declarations WHERE id = $1 AND user_id = $2 AND status IN ($3, $4)`
	result, err := r.db.ExecContext(ctx, query, id, userID, models.StatusPending, models.StatusRejected)
	if err != nil {
		return fmt.Errorf("delete declaration: %w", err)
	}
	return requireOneRow(result)
}

func requireOneRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/store"
	"apotekpos/backend/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

const shiftColumns = `id, user_id, user_name, outlet_id, status, start_time, end_time,
	opening_cash_cents, cash_sales_cents, card_sales_cents, mobile_sales_cents,
	transaction_count, total_cash_in_cents, total_cash_out_cents, expected_cash_cents,
	actual_cash_cents, variance_cents, approval_required, notes,
	approved, approved_by, approved_at, version`

const movementColumns = `id, shift_id, kind, amount_cents, reason, tender_type,
	transaction_id, created_by, created_at`

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an already opened handle.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the ledger tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.UserID) == "" || strings.TrimSpace(shift.OutletID) == "" {
		return nil, store.ErrInvalidRecord
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.StartTime.IsZero() {
		shift.StartTime = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusActive
	shift.Version = 0

	approved, approvedBy, approvedAt := approvalColumns(shift.ManagerApproval)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shifts (`+shiftColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
	`, shift.ID, shift.UserID, shift.UserName, shift.OutletID, shift.Status, shift.StartTime, nullTime(shift.EndTime),
		shift.OpeningCashCents, shift.CashSalesCents, shift.CardSalesCents, shift.MobileSalesCents,
		shift.TransactionCount, shift.TotalCashInCents, shift.TotalCashOutCents, shift.ExpectedCashCents,
		nullInt64(shift.ActualCashCents), nullInt64(shift.VarianceCents), shift.ApprovalRequired, shift.Notes,
		approved, approvedBy, approvedAt, shift.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrAlreadyActive
		}
		return nil, err
	}

	saved := shift.Clone()
	return &saved, nil
}

func (s *Store) GetShift(ctx context.Context, shiftID string) (*domain.Shift, error) {
	shift, err := scanShift(s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE id = $1
	`, shiftID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return shift, nil
}

func (s *Store) GetOpenShift(ctx context.Context, userID string, outletID string) (*domain.Shift, error) {
	shift, err := scanShift(s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM shifts
		WHERE user_id = $1 AND outlet_id = $2 AND status IN ('active', 'pending_approval')
		ORDER BY start_time DESC
		LIMIT 1
	`, userID, outletID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return shift, nil
}

func (s *Store) SaveShift(ctx context.Context, shift domain.Shift, expectedVersion int64, movement *domain.CashMovement) (*domain.Shift, error) {
	if !shift.Status.Valid() {
		return nil, store.ErrInvalidRecord
	}
	if movement != nil {
		if movement.ShiftID != shift.ID {
			return nil, store.ErrInvalidRecord
		}
		if err := movement.Validate(); err != nil {
			return nil, store.ErrInvalidRecord
		}
	}

	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	approved, approvedBy, approvedAt := approvalColumns(shift.ManagerApproval)
	res, err := pgTx.ExecContext(ctx, `
		UPDATE shifts
		SET user_name = $3, status = $4, end_time = $5,
			cash_sales_cents = $6, card_sales_cents = $7, mobile_sales_cents = $8,
			transaction_count = $9, total_cash_in_cents = $10, total_cash_out_cents = $11,
			expected_cash_cents = $12, actual_cash_cents = $13, variance_cents = $14,
			approval_required = $15, notes = $16,
			approved = $17, approved_by = $18, approved_at = $19,
			version = version + 1
		WHERE id = $1 AND version = $2
	`, shift.ID, expectedVersion, shift.UserName, shift.Status, nullTime(shift.EndTime),
		shift.CashSalesCents, shift.CardSalesCents, shift.MobileSalesCents,
		shift.TransactionCount, shift.TotalCashInCents, shift.TotalCashOutCents,
		shift.ExpectedCashCents, nullInt64(shift.ActualCashCents), nullInt64(shift.VarianceCents),
		shift.ApprovalRequired, shift.Notes, approved, approvedBy, approvedAt)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		var exists bool
		if err := pgTx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM shifts WHERE id = $1)`, shift.ID).Scan(&exists); err != nil {
			return nil, err
		}
		if !exists {
			return nil, store.ErrNotFound
		}
		return nil, store.ErrConcurrentUpdate
	}

	if movement != nil {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO cash_movements (`+movementColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, movement.ID, movement.ShiftID, movement.Kind, movement.AmountCents, movement.Reason,
			movement.TenderType, nullIfEmpty(movement.TransactionID), movement.CreatedBy, movement.Timestamp)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, store.ErrDuplicateSale
			}
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}

	saved := shift.Clone()
	saved.Version = expectedVersion + 1
	return &saved, nil
}

func (s *Store) FindSaleMovement(ctx context.Context, shiftID string, transactionID string) (*domain.CashMovement, error) {
	movement, err := scanMovement(s.db.QueryRowContext(ctx, `
		SELECT `+movementColumns+`
		FROM cash_movements
		WHERE shift_id = $1 AND transaction_id = $2 AND kind = 'sale'
	`, shiftID, transactionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return movement, nil
}

func (s *Store) ListMovements(ctx context.Context, shiftID string) ([]domain.CashMovement, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM shifts WHERE id = $1)`, shiftID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, store.ErrNotFound
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+movementColumns+`
		FROM cash_movements
		WHERE shift_id = $1
		ORDER BY created_at ASC, id ASC
	`, shiftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.CashMovement, 0, 32)
	for rows.Next() {
		movement, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, *movement)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) ListShifts(ctx context.Context, filter domain.ShiftFilter, offset int, limit int) ([]domain.Shift, int, error) {
	where, args := shiftWhere(filter)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM shifts`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []domain.Shift{}, total, nil
	}

	query := `SELECT ` + shiftColumns + ` FROM shifts` + where + ` ORDER BY start_time DESC, id DESC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	args = append(args, offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	shifts := make([]domain.Shift, 0, max(limit, 0))
	for rows.Next() {
		shift, err := scanShift(rows)
		if err != nil {
			return nil, 0, err
		}
		shifts = append(shifts, *shift)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return shifts, total, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, outlet_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.OutletID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, outletID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, outlet_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR outlet_id = $1)
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC, id DESC
		LIMIT $4
	`, outletID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.OutletID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRecord
	}
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, true, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidRecord
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRecord
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShift(row rowScanner) (*domain.Shift, error) {
	var (
		shift      domain.Shift
		endTime    sql.NullTime
		actual     sql.NullInt64
		variance   sql.NullInt64
		approved   sql.NullBool
		approvedBy sql.NullString
		approvedAt sql.NullTime
	)
	err := row.Scan(
		&shift.ID,
		&shift.UserID,
		&shift.UserName,
		&shift.OutletID,
		&shift.Status,
		&shift.StartTime,
		&endTime,
		&shift.OpeningCashCents,
		&shift.CashSalesCents,
		&shift.CardSalesCents,
		&shift.MobileSalesCents,
		&shift.TransactionCount,
		&shift.TotalCashInCents,
		&shift.TotalCashOutCents,
		&shift.ExpectedCashCents,
		&actual,
		&variance,
		&shift.ApprovalRequired,
		&shift.Notes,
		&approved,
		&approvedBy,
		&approvedAt,
		&shift.Version,
	)
	if err != nil {
		return nil, err
	}

	shift.StartTime = shift.StartTime.UTC()
	if endTime.Valid {
		at := endTime.Time.UTC()
		shift.EndTime = &at
	}
	if actual.Valid {
		v := actual.Int64
		shift.ActualCashCents = &v
	}
	if variance.Valid {
		v := variance.Int64
		shift.VarianceCents = &v
	}
	if approved.Valid {
		shift.ManagerApproval = &domain.ManagerApproval{
			Approved:  approved.Bool,
			ManagerID: approvedBy.String,
			Timestamp: approvedAt.Time.UTC(),
		}
	}
	return &shift, nil
}

func scanMovement(row rowScanner) (*domain.CashMovement, error) {
	var (
		movement      domain.CashMovement
		transactionID sql.NullString
	)
	err := row.Scan(
		&movement.ID,
		&movement.ShiftID,
		&movement.Kind,
		&movement.AmountCents,
		&movement.Reason,
		&movement.TenderType,
		&transactionID,
		&movement.CreatedBy,
		&movement.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	movement.TransactionID = transactionID.String
	movement.Timestamp = movement.Timestamp.UTC()
	return &movement, nil
}

func shiftWhere(filter domain.ShiftFilter) (string, []any) {
	clauses := make([]string, 0, 5)
	args := make([]any, 0, 6)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.OutletID != "" {
		add("outlet_id = $%d", filter.OutletID)
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.StartDate != nil {
		add("start_time >= $%d", *filter.StartDate)
	}
	if filter.EndDate != nil {
		add("start_time < $%d", *filter.EndDate)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func approvalColumns(approval *domain.ManagerApproval) (any, any, any) {
	if approval == nil {
		return nil, nil, nil
	}
	return approval.Approved, approval.ManagerID, approval.Timestamp
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

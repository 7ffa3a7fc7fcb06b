package store

import (
	"context"
	"errors"
	"time"

	"apotekpos/backend/internal/domain"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyActive    = errors.New("an open shift already exists for this user and outlet")
	ErrConcurrentUpdate = errors.New("shift was modified concurrently")
	ErrDuplicateSale    = errors.New("sale already posted for this transaction")
	ErrInvalidRecord    = errors.New("invalid record")
)

// Repository is the durable ledger of shifts and their cash movements.
type Repository interface {
	LedgerStore
	AuditStore
	UserStore
}

type LedgerStore interface {
	// CreateShift fails with ErrAlreadyActive while the user still has an
	// active or pending_approval shift on the outlet.
	CreateShift(ctx context.Context, shift domain.Shift) (*domain.Shift, error)
	GetShift(ctx context.Context, shiftID string) (*domain.Shift, error)
	// GetOpenShift returns the user's active or pending_approval shift.
	GetOpenShift(ctx context.Context, userID string, outletID string) (*domain.Shift, error)
	// SaveShift replaces the stored shift when its version still equals
	// expectedVersion and, in the same atomic write, appends movement when
	// non-nil. The saved shift carries expectedVersion+1.
	SaveShift(ctx context.Context, shift domain.Shift, expectedVersion int64, movement *domain.CashMovement) (*domain.Shift, error)
	FindSaleMovement(ctx context.Context, shiftID string, transactionID string) (*domain.CashMovement, error)
	ListMovements(ctx context.Context, shiftID string) ([]domain.CashMovement, error)
	// ListShifts returns matching shifts ordered by start time descending and
	// the total match count. limit < 1 returns every match.
	ListShifts(ctx context.Context, filter domain.ShiftFilter, offset int, limit int) ([]domain.Shift, int, error)
}

type AuditStore interface {
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, outletID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// MatchShift applies filter the same way every store implementation does.
func MatchShift(shift domain.Shift, filter domain.ShiftFilter) bool {
	if filter.UserID != "" && shift.UserID != filter.UserID {
		return false
	}
	if filter.OutletID != "" && shift.OutletID != filter.OutletID {
		return false
	}
	if filter.Status != "" && shift.Status != filter.Status {
		return false
	}
	if filter.StartDate != nil && shift.StartTime.Before(*filter.StartDate) {
		return false
	}
	if filter.EndDate != nil && !shift.StartTime.Before(*filter.EndDate) {
		return false
	}
	return true
}

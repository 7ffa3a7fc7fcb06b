package service

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/store"
)

// drawerKickCommand is the ESC/POS pulse on pin 2 that opens a cash drawer.
var drawerKickCommand = []byte{0x1b, 0x70, 0x00, 0x19, 0xfa}

// OpenCashDrawer hands out the drawer kick command to a user working an
// active shift on the outlet.
func (s *Service) OpenCashDrawer(ctx context.Context, req domain.CashDrawerOpenRequest) (domain.CashDrawerOpenResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.CashDrawerOpenResponse{}, ErrForbidden
	}
	outletID := defaultString(req.OutletID, s.defaultOutletID)

	shift, err := s.repo.GetOpenShift(ctx, actor.Username, outletID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CashDrawerOpenResponse{}, ErrShiftNotActive
		}
		return domain.CashDrawerOpenResponse{}, err
	}
	if shift.Status != domain.ShiftStatusActive {
		return domain.CashDrawerOpenResponse{}, ErrShiftNotActive
	}

	s.logAudit(ctx, outletID, "cash_drawer_open", "shift", shift.ID, "")

	return domain.CashDrawerOpenResponse{
		ShiftID:       shift.ID,
		CommandBase64: base64.StdEncoding.EncodeToString(drawerKickCommand),
		Note:          "Send this ESC/POS pulse command via local printer bridge to open cash drawer.",
	}, nil
}

// ShiftReport bundles a shift with its full movement ledger.
func (s *Service) ShiftReport(ctx context.Context, shiftID string) (domain.ShiftReport, error) {
	shift, err := s.GetShift(ctx, shiftID)
	if err != nil {
		return domain.ShiftReport{}, err
	}
	movements, err := s.repo.ListMovements(ctx, shift.ID)
	if err != nil {
		return domain.ShiftReport{}, err
	}
	return domain.ShiftReport{Shift: shift, Movements: movements}, nil
}

// ListAuditLogs returns the entries of one UTC day, the last 24 hours when date is empty.
func (s *Service) ListAuditLogs(ctx context.Context, outletID string, date string, limit int) ([]domain.AuditLog, error) {
	outletID = defaultString(outletID, s.defaultOutletID)
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, ErrInvalidRequest
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, outletID, from, to, limit)
}

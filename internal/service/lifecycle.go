package service

import (
	"context"
	"fmt"
	"strings"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/xid"
)

func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.Shift, error) {
	req.OutletID = defaultString(req.OutletID, s.defaultOutletID)
	req.UserID = strings.TrimSpace(req.UserID)

	if actor, ok := ActorFromContext(ctx); ok {
		if req.UserID == "" {
			req.UserID = actor.Username
		}
		if !actor.Supervisor() && req.UserID != actor.Username {
			return domain.Shift{}, ErrForbidden
		}
	}
	if req.UserID == "" {
		return domain.Shift{}, ErrInvalidRequest
	}
	if req.OpeningCashCents < 0 {
		return domain.Shift{}, ErrInvalidAmount
	}

	shift := domain.Shift{
		ID:                xid.New("shift"),
		UserID:            req.UserID,
		UserName:          defaultString(req.UserName, req.UserID),
		OutletID:          req.OutletID,
		Status:            domain.ShiftStatusActive,
		StartTime:         s.now(),
		OpeningCashCents:  req.OpeningCashCents,
		ExpectedCashCents: req.OpeningCashCents,
		Notes:             strings.TrimSpace(req.Notes),
	}
	saved, err := s.repo.CreateShift(ctx, shift)
	if err != nil {
		return domain.Shift{}, err
	}

	s.logAudit(ctx, saved.OutletID, "shift_open", "shift", saved.ID, fmt.Sprintf("user=%s,opening_cash=%d", saved.UserID, saved.OpeningCashCents))

	return *saved, nil
}

// GetActiveShift returns the user's open shift on the outlet, including one
// awaiting approval. It fails with store.ErrNotFound when there is none.
func (s *Service) GetActiveShift(ctx context.Context, userID string, outletID string) (domain.Shift, error) {
	outletID = defaultString(outletID, s.defaultOutletID)
	userID = strings.TrimSpace(userID)

	if actor, ok := ActorFromContext(ctx); ok {
		if userID == "" {
			userID = actor.Username
		}
		if !actor.Supervisor() && userID != actor.Username {
			return domain.Shift{}, ErrForbidden
		}
	}
	if userID == "" {
		return domain.Shift{}, ErrInvalidRequest
	}

	shift, err := s.repo.GetOpenShift(ctx, userID, outletID)
	if err != nil {
		return domain.Shift{}, err
	}
	return *shift, nil
}

func (s *Service) GetShift(ctx context.Context, shiftID string) (domain.Shift, error) {
	shiftID = strings.TrimSpace(shiftID)
	if shiftID == "" {
		return domain.Shift{}, ErrInvalidRequest
	}

	shift, err := s.repo.GetShift(ctx, shiftID)
	if err != nil {
		return domain.Shift{}, err
	}
	if err := authorizeShift(ctx, *shift); err != nil {
		return domain.Shift{}, err
	}
	return *shift, nil
}

// CloseShift reconciles the counted drawer against the expected balance. A
// variance above the approval threshold parks the shift in pending_approval;
// either outcome stops further movements.
func (s *Service) CloseShift(ctx context.Context, shiftID string, req domain.ShiftCloseRequest) (domain.ShiftCloseResponse, error) {
	var report domain.VarianceReport

	saved, err := s.mutateShift(ctx, shiftID, func(current domain.Shift) (*domain.Shift, *domain.CashMovement, error) {
		if err := authorizeShift(ctx, current); err != nil {
			return nil, nil, err
		}
		if current.Status != domain.ShiftStatusActive {
			return nil, nil, ErrShiftNotActive
		}
		if req.ActualCashCents < 0 {
			return nil, nil, ErrInvalidAmount
		}

		report = s.policy.Reconcile(current, req.ActualCashCents)

		endTime := s.now()
		actual := report.ActualCashCents
		variance := report.VarianceCents
		current.EndTime = &endTime
		current.ActualCashCents = &actual
		current.VarianceCents = &variance
		current.ApprovalRequired = report.RequiresApproval
		current.Notes = appendNote(current.Notes, req.Notes)
		if report.RequiresApproval {
			current.Status = domain.ShiftStatusPendingApproval
		} else {
			current.Status = domain.ShiftStatusClosed
		}
		return &current, nil, nil
	})
	if err != nil {
		return domain.ShiftCloseResponse{}, err
	}

	s.invalidateStats(ctx)
	s.logAudit(ctx, saved.OutletID, "shift_close", "shift", saved.ID,
		fmt.Sprintf("status=%s,expected=%d,actual=%d,variance=%d", saved.Status, report.ExpectedCashCents, report.ActualCashCents, report.VarianceCents))

	return domain.ShiftCloseResponse{Shift: *saved, VarianceReport: report}, nil
}

// ApproveShift closes a shift parked in pending_approval. The approving
// manager may not be the shift owner.
func (s *Service) ApproveShift(ctx context.Context, shiftID string, managerID string) (domain.Shift, error) {
	managerID = strings.TrimSpace(managerID)
	if managerID == "" {
		return domain.Shift{}, ErrInvalidRequest
	}
	if actor, ok := ActorFromContext(ctx); ok && !actor.Supervisor() && !managerPINVerified(ctx) {
		return domain.Shift{}, ErrForbidden
	}

	saved, err := s.mutateShift(ctx, shiftID, func(current domain.Shift) (*domain.Shift, *domain.CashMovement, error) {
		if current.Status != domain.ShiftStatusPendingApproval {
			return nil, nil, ErrNotPendingApproval
		}
		if managerID == current.UserID {
			return nil, nil, ErrForbidden
		}

		current.Status = domain.ShiftStatusClosed
		current.ManagerApproval = &domain.ManagerApproval{
			Approved:  true,
			ManagerID: managerID,
			Timestamp: s.now(),
		}
		return &current, nil, nil
	})
	if err != nil {
		return domain.Shift{}, err
	}

	s.invalidateStats(ctx)
	s.logAudit(ctx, saved.OutletID, "shift_approve", "shift", saved.ID,
		fmt.Sprintf("manager=%s,manager_pin=%t", managerID, managerPINVerified(ctx)))

	return *saved, nil
}

func appendNote(existing string, note string) string {
	note = strings.TrimSpace(note)
	switch {
	case note == "":
		return existing
	case existing == "":
		return note
	default:
		return existing + "\n" + note
	}
}


package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/store"
	"apotekpos/backend/internal/xid"
)

// PostSale records one completed checkout against an active shift. A repeated
// TransactionID on the same shift returns the shift without counting it twice.
func (s *Service) PostSale(ctx context.Context, shiftID string, req domain.SalePostRequest) (domain.Shift, error) {
	req.TransactionID = strings.TrimSpace(req.TransactionID)
	var posted *domain.CashMovement

	saved, err := s.mutateShift(ctx, shiftID, func(current domain.Shift) (*domain.Shift, *domain.CashMovement, error) {
		posted = nil
		if err := authorizeShift(ctx, current); err != nil {
			return nil, nil, err
		}
		if current.Status != domain.ShiftStatusActive {
			return nil, nil, ErrShiftNotActive
		}
		if req.AmountCents <= 0 {
			return nil, nil, ErrInvalidAmount
		}
		if !req.TenderType.Valid() {
			return nil, nil, ErrInvalidRequest
		}
		if req.TransactionID != "" {
			if _, err := s.repo.FindSaleMovement(ctx, current.ID, req.TransactionID); err == nil {
				return nil, nil, nil
			} else if !errors.Is(err, store.ErrNotFound) {
				return nil, nil, err
			}
		}

		var err error
		switch req.TenderType {
		case domain.TenderCash:
			current.CashSalesCents, err = addCents(current.CashSalesCents, req.AmountCents)
		case domain.TenderCard:
			current.CardSalesCents, err = addCents(current.CardSalesCents, req.AmountCents)
		case domain.TenderMobile:
			current.MobileSalesCents, err = addCents(current.MobileSalesCents, req.AmountCents)
		}
		if err != nil {
			return nil, nil, err
		}
		if current.TransactionCount, err = addCents(current.TransactionCount, 1); err != nil {
			return nil, nil, err
		}
		if err := checkBalance(current); err != nil {
			return nil, nil, err
		}
		current.ExpectedCashCents = current.CashBalance()

		movement := domain.NewSaleMovement(xid.New("mv"), current.ID, req.AmountCents, req.TenderType, req.TransactionID, s.now())
		movement.CreatedBy = actorName(ctx)
		posted = &movement
		return &current, &movement, nil
	})
	if errors.Is(err, store.ErrDuplicateSale) {
		return s.GetShift(ctx, shiftID)
	}
	if err != nil {
		return domain.Shift{}, err
	}

	if posted != nil {
		s.logAudit(ctx, saved.OutletID, "shift_sale", "shift", saved.ID,
			fmt.Sprintf("tender=%s,amount=%d,transaction=%s", posted.TenderType, posted.AmountCents, posted.TransactionID))
	}
	return *saved, nil
}

// PostCashMovement records a manual drawer adjustment. A cash out may not
// exceed the cash currently expected in the drawer.
func (s *Service) PostCashMovement(ctx context.Context, shiftID string, req domain.CashMovementRequest) (domain.Shift, error) {
	req.Reason = strings.TrimSpace(req.Reason)

	saved, err := s.mutateShift(ctx, shiftID, func(current domain.Shift) (*domain.Shift, *domain.CashMovement, error) {
		if err := authorizeShift(ctx, current); err != nil {
			return nil, nil, err
		}
		if current.Status != domain.ShiftStatusActive {
			return nil, nil, ErrShiftNotActive
		}
		if req.AmountCents <= 0 {
			return nil, nil, ErrInvalidAmount
		}
		if !req.Kind.Manual() || req.Reason == "" {
			return nil, nil, ErrInvalidRequest
		}

		var err error
		switch req.Kind {
		case domain.MovementCashIn:
			current.TotalCashInCents, err = addCents(current.TotalCashInCents, req.AmountCents)
		case domain.MovementCashOut:
			if req.AmountCents > current.CashBalance() {
				return nil, nil, ErrInsufficientCash
			}
			current.TotalCashOutCents, err = addCents(current.TotalCashOutCents, req.AmountCents)
		}
		if err != nil {
			return nil, nil, err
		}
		if err := checkBalance(current); err != nil {
			return nil, nil, err
		}
		current.ExpectedCashCents = current.CashBalance()

		movement := domain.NewManualMovement(xid.New("mv"), current.ID, req.Kind, req.AmountCents, req.Reason, s.now())
		movement.CreatedBy = actorName(ctx)
		return &current, &movement, nil
	})
	if err != nil {
		return domain.Shift{}, err
	}

	s.logAudit(ctx, saved.OutletID, "shift_"+string(req.Kind), "shift", saved.ID,
		fmt.Sprintf("amount=%d,reason=%s", req.AmountCents, req.Reason))
	return *saved, nil
}

// ListMovements returns the shift ledger, oldest entry first.
func (s *Service) ListMovements(ctx context.Context, shiftID string) ([]domain.CashMovement, error) {
	shift, err := s.GetShift(ctx, shiftID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListMovements(ctx, shift.ID)
}

// checkBalance rejects totals whose expected cash formula would overflow.
func checkBalance(shift domain.Shift) error {
	total, err := addCents(shift.OpeningCashCents, shift.CashSalesCents)
	if err != nil {
		return err
	}
	if _, err := addCents(total, shift.TotalCashInCents); err != nil {
		return err
	}
	return nil
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor.Username
	}
	return "system"
}

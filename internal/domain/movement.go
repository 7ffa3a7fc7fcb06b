package domain

import (
	"errors"
	"strings"
	"time"
)

type MovementKind string

const (
	MovementCashIn  MovementKind = "cash_in"
	MovementCashOut MovementKind = "cash_out"
	MovementSale    MovementKind = "sale"
)

// Manual reports whether the kind is a user-initiated drawer adjustment.
func (k MovementKind) Manual() bool {
	return k == MovementCashIn || k == MovementCashOut
}

type TenderType string

const (
	TenderCash   TenderType = "cash"
	TenderCard   TenderType = "card"
	TenderMobile TenderType = "mobile"
)

func (t TenderType) Valid() bool {
	switch t {
	case TenderCash, TenderCard, TenderMobile:
		return true
	default:
		return false
	}
}

// CashMovement is an append-only ledger entry owned by exactly one shift.
// Sale entries carry a tender type and never a reason requirement; manual
// entries carry a reason and never a tender type.
type CashMovement struct {
	ID            string       `json:"id"`
	ShiftID       string       `json:"shift_id"`
	Kind          MovementKind `json:"kind"`
	AmountCents   int64        `json:"amount_cents"`
	Reason        string       `json:"reason,omitempty"`
	TenderType    TenderType   `json:"tender_type,omitempty"`
	TransactionID string       `json:"transaction_id,omitempty"`
	CreatedBy     string       `json:"created_by,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
}

var errMalformedMovement = errors.New("malformed cash movement")

func NewSaleMovement(id string, shiftID string, amountCents int64, tender TenderType, transactionID string, at time.Time) CashMovement {
	return CashMovement{
		ID:            id,
		ShiftID:       shiftID,
		Kind:          MovementSale,
		AmountCents:   amountCents,
		TenderType:    tender,
		TransactionID: strings.TrimSpace(transactionID),
		Timestamp:     at,
	}
}

func NewManualMovement(id string, shiftID string, kind MovementKind, amountCents int64, reason string, at time.Time) CashMovement {
	return CashMovement{
		ID:          id,
		ShiftID:     shiftID,
		Kind:        kind,
		AmountCents: amountCents,
		Reason:      strings.TrimSpace(reason),
		Timestamp:   at,
	}
}

// Validate checks the field set of the movement variant.
func (m CashMovement) Validate() error {
	if m.ID == "" || m.ShiftID == "" || m.AmountCents <= 0 {
		return errMalformedMovement
	}
	switch m.Kind {
	case MovementSale:
		if !m.TenderType.Valid() {
			return errMalformedMovement
		}
	case MovementCashIn, MovementCashOut:
		if m.TenderType != "" || m.Reason == "" || m.TransactionID != "" {
			return errMalformedMovement
		}
	default:
		return errMalformedMovement
	}
	return nil
}

type SalePostRequest struct {
	AmountCents   int64      `json:"amount_cents"`
	TenderType    TenderType `json:"tender_type" validate:"required,oneof=cash card mobile"`
	TransactionID string     `json:"transaction_id,omitempty" validate:"max=128"`
}

type CashMovementRequest struct {
	Kind        MovementKind `json:"kind" validate:"required,oneof=cash_in cash_out"`
	AmountCents int64        `json:"amount_cents"`
	Reason      string       `json:"reason" validate:"max=500"`
}

type CashMovementListResponse struct {
	Movements []CashMovement `json:"movements"`
}

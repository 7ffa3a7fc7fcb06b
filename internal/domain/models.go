package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ShiftStatus string

const (
	ShiftStatusActive          ShiftStatus = "active"
	ShiftStatusPendingApproval ShiftStatus = "pending_approval"
	ShiftStatusClosed          ShiftStatus = "closed"
)

func (s ShiftStatus) Valid() bool {
	switch s {
	case ShiftStatusActive, ShiftStatusPendingApproval, ShiftStatusClosed:
		return true
	default:
		return false
	}
}

// Open reports whether the status still blocks a new shift for the same user and outlet.
func (s ShiftStatus) Open() bool {
	return s == ShiftStatusActive || s == ShiftStatusPendingApproval
}

type ManagerApproval struct {
	Approved  bool      `json:"approved"`
	ManagerID string    `json:"manager_id"`
	Timestamp time.Time `json:"timestamp"`
}

type Shift struct {
	ID                string           `json:"id"`
	UserID            string           `json:"user_id"`
	UserName          string           `json:"user_name"`
	OutletID          string           `json:"outlet_id"`
	Status            ShiftStatus      `json:"status"`
	StartTime         time.Time        `json:"start_time"`
	EndTime           *time.Time       `json:"end_time,omitempty"`
	OpeningCashCents  int64            `json:"opening_cash_cents"`
	CashSalesCents    int64            `json:"cash_sales_cents"`
	CardSalesCents    int64            `json:"card_sales_cents"`
	MobileSalesCents  int64            `json:"mobile_sales_cents"`
	TransactionCount  int64            `json:"transaction_count"`
	TotalCashInCents  int64            `json:"total_cash_in_cents"`
	TotalCashOutCents int64            `json:"total_cash_out_cents"`
	ExpectedCashCents int64            `json:"expected_cash_cents"`
	ActualCashCents   *int64           `json:"actual_cash_cents,omitempty"`
	VarianceCents     *int64           `json:"variance_cents,omitempty"`
	ApprovalRequired  bool             `json:"approval_required"`
	Notes             string           `json:"notes"`
	ManagerApproval   *ManagerApproval `json:"manager_approval,omitempty"`
	Version           int64            `json:"version"`
}

// CashBalance is openingCash + cashSales + totalCashIn - totalCashOut.
func (s Shift) CashBalance() int64 {
	return s.OpeningCashCents + s.CashSalesCents + s.TotalCashInCents - s.TotalCashOutCents
}

func (s Shift) TotalSalesCents() int64 {
	return s.CashSalesCents + s.CardSalesCents + s.MobileSalesCents
}

// Duration is measured up to EndTime, or up to now for a shift that has not ended.
func (s Shift) Duration(now time.Time) time.Duration {
	end := now
	if s.EndTime != nil {
		end = *s.EndTime
	}
	if end.Before(s.StartTime) {
		return 0
	}
	return end.Sub(s.StartTime)
}

// Clone returns a deep copy so callers never share pointer fields with stored records.
func (s Shift) Clone() Shift {
	out := s
	if s.EndTime != nil {
		at := *s.EndTime
		out.EndTime = &at
	}
	if s.ActualCashCents != nil {
		v := *s.ActualCashCents
		out.ActualCashCents = &v
	}
	if s.VarianceCents != nil {
		v := *s.VarianceCents
		out.VarianceCents = &v
	}
	if s.ManagerApproval != nil {
		approval := *s.ManagerApproval
		out.ManagerApproval = &approval
	}
	return out
}

type VarianceClass string

const (
	VarianceBalanced VarianceClass = "balanced"
	VarianceOver     VarianceClass = "over"
	VarianceShort    VarianceClass = "short"
)

type VarianceReport struct {
	ExpectedCashCents int64         `json:"expected_cash_cents"`
	ActualCashCents   int64         `json:"actual_cash_cents"`
	VarianceCents     int64         `json:"variance_cents"`
	RequiresApproval  bool          `json:"requires_approval"`
	ThresholdCents    int64         `json:"threshold_cents"`
	Classification    VarianceClass `json:"classification"`
}

type ShiftOpenRequest struct {
	UserID           string `json:"user_id"`
	UserName         string `json:"user_name"`
	OutletID         string `json:"outlet_id"`
	OpeningCashCents int64  `json:"opening_cash_cents" validate:"gte=0"`
	Notes            string `json:"notes" validate:"max=1000"`
}

type ShiftCloseRequest struct {
	ActualCashCents int64  `json:"actual_cash_cents" validate:"gte=0"`
	Notes           string `json:"notes" validate:"max=1000"`
}

type ShiftCloseResponse struct {
	Shift          Shift          `json:"shift"`
	VarianceReport VarianceReport `json:"variance_report"`
}

type ShiftApproveRequest struct {
	ManagerID  string `json:"manager_id,omitempty"`
	ManagerPIN string `json:"manager_pin,omitempty"`
}

type ShiftResponse struct {
	Shift Shift `json:"shift"`
}

// ShiftFilter matches on StartTime; StartDate is inclusive and EndDate exclusive.
type ShiftFilter struct {
	UserID    string
	OutletID  string
	StartDate *time.Time
	EndDate   *time.Time
	Status    ShiftStatus
}

type ShiftListResponse struct {
	Shifts []Shift `json:"shifts"`
	Total  int     `json:"total"`
	Page   int     `json:"page"`
	Limit  int     `json:"limit"`
}

type ShiftStats struct {
	TotalShifts                 int             `json:"total_shifts"`
	TotalSalesCents             int64           `json:"total_sales_cents"`
	AverageVarianceCents        decimal.Decimal `json:"average_variance_cents"`
	TotalVarianceCents          int64           `json:"total_variance_cents"`
	AverageShiftDurationMinutes decimal.Decimal `json:"average_shift_duration_minutes"`
	ShiftsRequiringApproval     int             `json:"shifts_requiring_approval"`
}

type TopPerformer struct {
	StaffID           string          `json:"staff_id"`
	StaffName         string          `json:"staff_name"`
	TotalShifts       int             `json:"total_shifts"`
	TotalSalesCents   int64           `json:"total_sales_cents"`
	AverageSalesCents decimal.Decimal `json:"average_sales_cents"`
}

type TopPerformerResponse struct {
	Performers []TopPerformer `json:"performers"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleCashier = "cashier"
)

type Actor struct {
	Username string
	Role     string
}

// Supervisor reports whether the actor may act on shifts owned by other staff.
func (a Actor) Supervisor() bool {
	return a.Role == RoleAdmin || a.Role == RoleManager
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty" validate:"omitempty,oneof=cashier manager"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	OutletID      string    `json:"outlet_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type CashDrawerOpenRequest struct {
	OutletID string `json:"outlet_id"`
}

type CashDrawerOpenResponse struct {
	ShiftID       string `json:"shift_id"`
	CommandBase64 string `json:"command_base64"`
	Note          string `json:"note"`
}

type ShiftReport struct {
	Shift     Shift          `json:"shift"`
	Movements []CashMovement `json:"movements"`
}

// Package reconcile compares the cash a shift ledger expects against a
// physical drawer count and decides whether the difference needs a manager.
package reconcile

import "apotekpos/backend/internal/domain"

const DefaultThresholdCents int64 = 10000

type Policy struct {
	ThresholdCents int64
}

func NewPolicy(thresholdCents int64) Policy {
	if thresholdCents < 0 {
		thresholdCents = DefaultThresholdCents
	}
	return Policy{ThresholdCents: thresholdCents}
}

// Reconcile does not modify the shift; the caller applies the report.
func (p Policy) Reconcile(shift domain.Shift, actualCashCents int64) domain.VarianceReport {
	variance := actualCashCents - shift.ExpectedCashCents
	return domain.VarianceReport{
		ExpectedCashCents: shift.ExpectedCashCents,
		ActualCashCents:   actualCashCents,
		VarianceCents:     variance,
		RequiresApproval:  abs(variance) > p.ThresholdCents,
		ThresholdCents:    p.ThresholdCents,
		Classification:    classify(variance),
	}
}

func classify(variance int64) domain.VarianceClass {
	switch {
	case variance == 0:
		return domain.VarianceBalanced
	case variance > 0:
		return domain.VarianceOver
	default:
		return domain.VarianceShort
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

package service

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"apotekpos/backend/internal/domain"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ListShifts pages through matching shifts, newest first. page is 1-based.
func (s *Service) ListShifts(ctx context.Context, filter domain.ShiftFilter, page int, limit int) (domain.ShiftListResponse, error) {
	filter, err := scopeFilter(ctx, filter)
	if err != nil {
		return domain.ShiftListResponse{}, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	// Pages whose offset does not fit in an int lie past every result.
	if page-1 > (math.MaxInt-limit)/limit {
		_, total, err := s.repo.ListShifts(ctx, filter, 0, 1)
		if err != nil {
			return domain.ShiftListResponse{}, err
		}
		return domain.ShiftListResponse{
			Shifts: []domain.Shift{},
			Total:  total,
			Page:   page,
			Limit:  limit,
		}, nil
	}

	shifts, total, err := s.repo.ListShifts(ctx, filter, (page-1)*limit, limit)
	if err != nil {
		return domain.ShiftListResponse{}, err
	}
	return domain.ShiftListResponse{
		Shifts: shifts,
		Total:  total,
		Page:   page,
		Limit:  limit,
	}, nil
}

// ComputeStats aggregates closed and pending_approval shifts. Variance
// figures only cover shifts that carry a physical count.
func (s *Service) ComputeStats(ctx context.Context, filter domain.ShiftFilter) (domain.ShiftStats, error) {
	filter, err := scopeFilter(ctx, filter)
	if err != nil {
		return domain.ShiftStats{}, err
	}

	key := "stats:" + filterKey(filter)
	gen, cacheable := s.cacheGeneration(ctx)
	var cached domain.ShiftStats
	if cacheable && s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	shifts, err := s.finishedShifts(ctx, filter)
	if err != nil {
		return domain.ShiftStats{}, err
	}

	stats := domain.ShiftStats{
		AverageVarianceCents:        decimal.Zero,
		AverageShiftDurationMinutes: decimal.Zero,
	}
	var (
		reconciled   int64
		totalMinutes = decimal.Zero
	)
	for _, shift := range shifts {
		stats.TotalShifts++
		stats.TotalSalesCents += shift.TotalSalesCents()
		if shift.ApprovalRequired {
			stats.ShiftsRequiringApproval++
		}
		if shift.ActualCashCents != nil && shift.VarianceCents != nil {
			reconciled++
			stats.TotalVarianceCents += *shift.VarianceCents
		}
		seconds := int64(shift.Duration(s.now()) / time.Second)
		totalMinutes = totalMinutes.Add(decimal.NewFromInt(seconds).Div(decimal.NewFromInt(60)))
	}
	if reconciled > 0 {
		stats.AverageVarianceCents = decimal.NewFromInt(stats.TotalVarianceCents).
			Div(decimal.NewFromInt(reconciled)).
			Round(2)
	}
	if stats.TotalShifts > 0 {
		stats.AverageShiftDurationMinutes = totalMinutes.
			Div(decimal.NewFromInt(int64(stats.TotalShifts))).
			Round(2)
	}

	if cacheable {
		s.cacheSet(ctx, gen, key, stats)
	}
	return stats, nil
}

// TopPerformers ranks staff by total sales over closed and pending_approval shifts.
func (s *Service) TopPerformers(ctx context.Context, filter domain.ShiftFilter) ([]domain.TopPerformer, error) {
	filter, err := scopeFilter(ctx, filter)
	if err != nil {
		return nil, err
	}

	key := "top:" + filterKey(filter)
	gen, cacheable := s.cacheGeneration(ctx)
	var cached []domain.TopPerformer
	if cacheable && s.cacheGet(ctx, key, &cached) {
		return cached, nil
	}

	shifts, err := s.finishedShifts(ctx, filter)
	if err != nil {
		return nil, err
	}

	byUser := make(map[string]*domain.TopPerformer)
	order := make([]string, 0)
	for _, shift := range shifts {
		performer, ok := byUser[shift.UserID]
		if !ok {
			// Shifts arrive newest first, so the name is the latest one used.
			performer = &domain.TopPerformer{
				StaffID:   shift.UserID,
				StaffName: defaultString(shift.UserName, shift.UserID),
			}
			byUser[shift.UserID] = performer
			order = append(order, shift.UserID)
		}
		performer.TotalShifts++
		performer.TotalSalesCents += shift.TotalSalesCents()
	}

	performers := make([]domain.TopPerformer, 0, len(order))
	for _, userID := range order {
		performer := *byUser[userID]
		performer.AverageSalesCents = decimal.NewFromInt(performer.TotalSalesCents).
			Div(decimal.NewFromInt(int64(performer.TotalShifts))).
			Round(2)
		performers = append(performers, performer)
	}
	slices.SortStableFunc(performers, func(a, b domain.TopPerformer) int {
		switch {
		case a.TotalSalesCents > b.TotalSalesCents:
			return -1
		case a.TotalSalesCents < b.TotalSalesCents:
			return 1
		default:
			return strings.Compare(a.StaffID, b.StaffID)
		}
	})

	if cacheable {
		s.cacheSet(ctx, gen, key, performers)
	}
	return performers, nil
}

func (s *Service) finishedShifts(ctx context.Context, filter domain.ShiftFilter) ([]domain.Shift, error) {
	if filter.Status != "" && filter.Status != domain.ShiftStatusClosed && filter.Status != domain.ShiftStatusPendingApproval {
		return nil, nil
	}

	shifts, _, err := s.repo.ListShifts(ctx, filter, 0, 0)
	if err != nil {
		return nil, err
	}

	finished := shifts[:0]
	for _, shift := range shifts {
		if shift.Status == domain.ShiftStatusClosed || shift.Status == domain.ShiftStatusPendingApproval {
			finished = append(finished, shift)
		}
	}
	return finished, nil
}

// scopeFilter limits cashiers to their own history.
func scopeFilter(ctx context.Context, filter domain.ShiftFilter) (domain.ShiftFilter, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return filter, ErrInvalidRequest
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return filter, ErrInvalidRequest
	}

	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Supervisor() {
		return filter, nil
	}
	if filter.UserID != "" && filter.UserID != actor.Username {
		return filter, ErrForbidden
	}
	filter.UserID = actor.Username
	return filter, nil
}

func filterKey(filter domain.ShiftFilter) string {
	return fmt.Sprintf("u=%s|o=%s|s=%s|from=%s|to=%s",
		filter.UserID, filter.OutletID, filter.Status, formatBound(filter.StartDate), formatBound(filter.EndDate))
}

func formatBound(at *time.Time) string {
	if at == nil {
		return ""
	}
	return at.UTC().Format(time.RFC3339Nano)
}

// cacheGeneration must run before the repository read so that an
// invalidation landing mid-computation discards the result.
func (s *Service) cacheGeneration(ctx context.Context) (int64, bool) {
	gen, err := s.stats.Generation(ctx)
	if err != nil {
		s.log.Warn("stats cache generation read failed", zap.Error(err))
		return 0, false
	}
	return gen, true
}

func (s *Service) cacheGet(ctx context.Context, key string, dest any) bool {
	hit, err := s.stats.Get(ctx, key, dest)
	if err != nil {
		s.log.Warn("stats cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return hit
}

func (s *Service) cacheSet(ctx context.Context, generation int64, key string, value any) {
	if err := s.stats.Set(ctx, generation, key, value, s.statsTTL); err != nil {
		s.log.Warn("stats cache write failed", zap.String("key", key), zap.Error(err))
	}
}

package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"apotekpos/backend/internal/cache"
	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/reconcile"
	"apotekpos/backend/internal/shiftlock"
	"apotekpos/backend/internal/store"
	"apotekpos/backend/internal/xid"
)

var (
	ErrShiftNotActive     = errors.New("shift is not active")
	ErrNotPendingApproval = errors.New("shift is not pending approval")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInsufficientCash   = errors.New("cash out exceeds the drawer balance")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrForbidden          = errors.New("not allowed for this user")
	ErrShiftBusy          = shiftlock.ErrBusy
)

const maxSaveAttempts = 3

type actorContextKey struct{}

type managerPINContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// WithManagerPIN marks ctx as carrying a verified manager PIN, letting a
// cashier terminal approve a pending shift while a manager is present.
func WithManagerPIN(ctx context.Context) context.Context {
	return context.WithValue(ctx, managerPINContextKey{}, true)
}

func managerPINVerified(ctx context.Context) bool {
	ok, _ := ctx.Value(managerPINContextKey{}).(bool)
	return ok
}

type Options struct {
	DefaultOutletID string
	Policy          reconcile.Policy
	StatsCache      cache.StatsCache
	StatsTTL        time.Duration
	Logger          *zap.Logger
	Clock           func() time.Time
}

type Service struct {
	repo            store.Repository
	locker          shiftlock.Locker
	policy          reconcile.Policy
	stats           cache.StatsCache
	statsTTL        time.Duration
	defaultOutletID string
	log             *zap.Logger
	now             func() time.Time
}

func New(repo store.Repository, locker shiftlock.Locker, opts Options) *Service {
	if opts.DefaultOutletID == "" {
		opts.DefaultOutletID = "main-outlet"
	}
	if opts.StatsCache == nil {
		opts.StatsCache = cache.NoopStatsCache{}
	}
	if opts.StatsTTL <= 0 {
		opts.StatsTTL = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if locker == nil {
		locker = shiftlock.NewLocal(3 * time.Second)
	}

	return &Service{
		repo:            repo,
		locker:          locker,
		policy:          opts.Policy,
		stats:           opts.StatsCache,
		statsTTL:        opts.StatsTTL,
		defaultOutletID: opts.DefaultOutletID,
		log:             opts.Logger.Named("service"),
		now:             func() time.Time { return opts.Clock().UTC() },
	}
}

// ApprovalThresholdCents is the variance magnitude above which a close needs approval.
func (s *Service) ApprovalThresholdCents() int64 {
	return s.policy.ThresholdCents
}

// mutation computes the next state of a shift from a private copy. Returning
// a nil shift leaves the stored record untouched.
type mutation func(current domain.Shift) (*domain.Shift, *domain.CashMovement, error)

// mutateShift serializes writers of one shift behind the shift lock and
// persists the result with a version check, re-reading on a lost race with
// another process that bypassed the local lock.
func (s *Service) mutateShift(ctx context.Context, shiftID string, apply mutation) (*domain.Shift, error) {
	shiftID = strings.TrimSpace(shiftID)
	if shiftID == "" {
		return nil, ErrInvalidRequest
	}

	unlock, err := s.locker.Lock(ctx, "shift:"+shiftID)
	if err != nil {
		if errors.Is(err, shiftlock.ErrBusy) {
			s.log.Warn("shift lock contention", zap.String("shift_id", shiftID), zap.Error(err))
		}
		return nil, err
	}
	defer unlock()

	for attempt := 1; ; attempt++ {
		current, err := s.repo.GetShift(ctx, shiftID)
		if err != nil {
			return nil, err
		}

		updated, movement, err := apply(current.Clone())
		if err != nil {
			return nil, err
		}
		if updated == nil {
			return current, nil
		}

		saved, err := s.repo.SaveShift(ctx, *updated, current.Version, movement)
		if errors.Is(err, store.ErrConcurrentUpdate) && attempt < maxSaveAttempts {
			s.log.Warn("shift changed during update, retrying",
				zap.String("shift_id", shiftID),
				zap.Int("attempt", attempt),
			)
			continue
		}
		return saved, err
	}
}

// authorizeShift lets supervisors act on any shift and cashiers only on
// their own. Calls without an actor come from trusted in-process callers.
func authorizeShift(ctx context.Context, shift domain.Shift) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Supervisor() {
		return nil
	}
	if actor.Username != shift.UserID {
		return ErrForbidden
	}
	return nil
}

func (s *Service) logAudit(ctx context.Context, outletID string, action string, entityType string, entityID string, detail string) {
	if outletID == "" {
		outletID = s.defaultOutletID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		OutletID:      outletID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err),
		)
	}
}

func (s *Service) invalidateStats(ctx context.Context) {
	if err := s.stats.Invalidate(ctx); err != nil {
		s.log.Warn("failed to invalidate stats cache", zap.Error(err))
	}
}

// addCents adds a non-negative delta, rejecting int64 overflow.
func addCents(total int64, delta int64) (int64, error) {
	if delta < 0 || total > math.MaxInt64-delta {
		return 0, ErrInvalidAmount
	}
	return total + delta, nil
}

func defaultString(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

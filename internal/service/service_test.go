package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apotekpos/backend/internal/cache"
	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/reconcile"
	"apotekpos/backend/internal/shiftlock"
	"apotekpos/backend/internal/store"
	"apotekpos/backend/internal/store/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	svc   *Service
	repo  *memory.Store
	clock *fakeClock
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	repo := memory.New()
	clock := &fakeClock{now: time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)}
	svc := New(repo, shiftlock.NewLocal(time.Second), Options{
		DefaultOutletID: "apotek-pusat",
		Policy:          reconcile.NewPolicy(reconcile.DefaultThresholdCents),
		StatsCache:      cache.NewMemoryStatsCache(),
		Clock:           clock.Now,
	})
	return testEnv{svc: svc, repo: repo, clock: clock}
}

func (e testEnv) open(t *testing.T, userID string, openingCash int64) domain.Shift {
	t.Helper()
	shift, err := e.svc.OpenShift(context.Background(), domain.ShiftOpenRequest{
		UserID:           userID,
		UserName:         "Kasir " + userID,
		OutletID:         "apotek-pusat",
		OpeningCashCents: openingCash,
	})
	require.NoError(t, err)
	return shift
}

func cashSale(amount int64) domain.SalePostRequest {
	return domain.SalePostRequest{AmountCents: amount, TenderType: domain.TenderCash}
}

func cashOut(amount int64, reason string) domain.CashMovementRequest {
	return domain.CashMovementRequest{Kind: domain.MovementCashOut, AmountCents: amount, Reason: reason}
}

// scenarioThree builds the shift of the worked examples: opening 50000, a
// 1500 cash sale and a 1000 cash out.
func scenarioThree(t *testing.T, e testEnv) domain.Shift {
	t.Helper()
	ctx := context.Background()
	shift := e.open(t, "sari", 50000)

	shift, err := e.svc.PostSale(ctx, shift.ID, cashSale(1500))
	require.NoError(t, err)
	shift, err = e.svc.PostCashMovement(ctx, shift.ID, cashOut(1000, "change for customer"))
	require.NoError(t, err)
	return shift
}

func TestOpenShiftStartsWithOpeningCash(t *testing.T) {
	e := newTestEnv(t)
	shift := e.open(t, "sari", 50000)

	assert.Equal(t, domain.ShiftStatusActive, shift.Status)
	assert.Equal(t, int64(50000), shift.ExpectedCashCents)
	assert.Zero(t, shift.CashSalesCents)
	assert.Zero(t, shift.TransactionCount)
	assert.Nil(t, shift.EndTime)
	assert.Nil(t, shift.ActualCashCents)
	assert.Equal(t, "Kasir sari", shift.UserName)
}

func TestOpenShiftRejectsNegativeOpeningCash(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.svc.OpenShift(context.Background(), domain.ShiftOpenRequest{UserID: "sari", OpeningCashCents: -1})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestScenarioCashSaleUpdatesExpectedCash(t *testing.T) {
	e := newTestEnv(t)
	shift := e.open(t, "sari", 50000)

	shift, err := e.svc.PostSale(context.Background(), shift.ID, cashSale(1500))
	require.NoError(t, err)
	assert.Equal(t, int64(51500), shift.ExpectedCashCents)
	assert.Equal(t, int64(1500), shift.CashSalesCents)
	assert.Equal(t, int64(1), shift.TransactionCount)
}

func TestScenarioInsufficientCashLeavesShiftUnchanged(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	shift := e.open(t, "sari", 50000)
	shift, err := e.svc.PostSale(ctx, shift.ID, cashSale(1500))
	require.NoError(t, err)

	_, err = e.svc.PostCashMovement(ctx, shift.ID, cashOut(60000, "bank deposit"))
	assert.ErrorIs(t, err, ErrInsufficientCash)

	after, err := e.svc.GetShift(ctx, shift.ID)
	require.NoError(t, err)
	assert.Equal(t, shift, after)

	movements, err := e.svc.ListMovements(ctx, shift.ID)
	require.NoError(t, err)
	assert.Len(t, movements, 1)
}

func TestScenarioCashOutWithinBalance(t *testing.T) {
	e := newTestEnv(t)
	shift := scenarioThree(t, e)

	assert.Equal(t, int64(50500), shift.ExpectedCashCents)
	assert.Equal(t, int64(1000), shift.TotalCashOutCents)
}

func TestScenarioBalancedCloseClosesDirectly(t *testing.T) {
	e := newTestEnv(t)
	shift := scenarioThree(t, e)

	resp, err := e.svc.CloseShift(context.Background(), shift.ID, domain.ShiftCloseRequest{ActualCashCents: 50500})
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusClosed, resp.Shift.Status)
	assert.Zero(t, resp.VarianceReport.VarianceCents)
	assert.False(t, resp.VarianceReport.RequiresApproval)
	assert.Equal(t, domain.VarianceBalanced, resp.VarianceReport.Classification)
	require.NotNil(t, resp.Shift.EndTime)
	require.NotNil(t, resp.Shift.VarianceCents)
	assert.Zero(t, *resp.Shift.VarianceCents)
	assert.Nil(t, resp.Shift.ManagerApproval)
}

func TestScenarioShortCloseNeedsApproval(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	shift := scenarioThree(t, e)

	resp, err := e.svc.CloseShift(ctx, shift.ID, domain.ShiftCloseRequest{ActualCashCents: 35000, Notes: "counted twice"})
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusPendingApproval, resp.Shift.Status)
	assert.Equal(t, int64(-15500), resp.VarianceReport.VarianceCents)
	assert.True(t, resp.VarianceReport.RequiresApproval)
	assert.True(t, resp.Shift.ApprovalRequired)
	assert.Equal(t, "counted twice", resp.Shift.Notes)

	e.clock.Advance(10 * time.Minute)
	approved, err := e.svc.ApproveShift(ctx, shift.ID, "manager")
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftStatusClosed, approved.Status)
	require.NotNil(t, approved.ManagerApproval)
	assert.True(t, approved.ManagerApproval.Approved)
	assert.Equal(t, "manager", approved.ManagerApproval.ManagerID)
	assert.Equal(t, e.clock.Now(), approved.ManagerApproval.Timestamp)
}

func TestOpenShiftRejectedWhileActiveOrPending(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	shift := e.open(t, "sari", 50000)

	_, err := e.svc.OpenShift(ctx, domain.ShiftOpenRequest{UserID: "sari", OutletID: "apotek-pusat"})
	assert.ErrorIs(t, err, store.ErrAlreadyActive)

	_, err = e.svc.CloseShift(ctx, shift.ID, domain.ShiftCloseRequest{ActualCashCents: 0})
	require.NoError(t, err)

	_, err = e.svc.OpenShift(ctx, domain.ShiftOpenRequest{UserID: "sari", OutletID: "apotek-pusat"})
	assert.ErrorIs(t, err, store.ErrAlreadyActive)

	_, err = e.svc.ApproveShift(ctx, shift.ID, "manager")
	require.NoError(t, err)

	reopened, err := e.svc.OpenShift(ctx, domain.ShiftOpenRequest{UserID: "sari", OutletID: "apotek-pusat"})
	require.NoError(t, err)
	assert.NotEqual(t, shift.ID, reopened.ID)

	_, err = e.svc.OpenShift(ctx, domain.ShiftOpenRequest{UserID: "sari", OutletID: "apotek-cabang"})
	assert.NoError(t, err)
}

func TestGetActiveShiftReturnsPendingShift(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	_, err := e.svc.GetActiveShift(ctx, "sari", "apotek-pusat")
	assert.ErrorIs(t, err, store.ErrNotFound)

	shift := e.open(t, "sari", 30000)
	_, err = e.svc.CloseShift(ctx, shift.ID, domain.ShiftCloseRequest{ActualCashCents: 0})
	require.NoError(t, err)

	active, err := e.svc.GetActiveShift(ctx, "sari", "")
	require.NoError(t, err)
	assert.Equal(t, shift.ID, active.ID)
	assert.Equal(t, domain.ShiftStatusPendingApproval, active.Status)
}

func TestPendingAndClosedShiftsRejectMovements(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	shift := e.open(t, "sari", 50000)

	_, err := e.svc.CloseShift(ctx, shift.ID, domain.ShiftCloseRequest{ActualCashCents: 10})
	require.NoError(t, err)

	_, err = e.svc.PostSale(ctx, shift.ID, cashSale(100))
	assert.ErrorIs(t, err, ErrShiftNotActive)
	_, err = e.svc.PostCashMovement(ctx, shift.ID, domain.CashMovementRequest{Kind: domain.MovementCashIn, AmountCents: 100, Reason: "float"})
	assert.ErrorIs(t, err, ErrShiftNotActive)
	_, err = e.svc.CloseShift(ctx, shift.ID, domain.ShiftCloseRequest{ActualCashCents: 50000})
	assert.ErrorIs(t, err, ErrShiftNotActive)

	_, err = e.svc.ApproveShift(ctx, shift.ID, "manager")
	require.NoError(t, err)
	_, err = e.svc.PostSale(ctx, shift.ID, cashSale(100))
	assert.ErrorIs(t, err, ErrShiftNotActive)
}

func TestCloseShiftNotFound(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.svc.CloseShift(context.Background(), "shift-missing", domain.ShiftCloseRequest{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApproveShiftRequiresPending(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	shift := e.open(t, "sari", 50000)

	_, err := e.svc.ApproveShift(ctx, shift.ID, "manager")
	assert.ErrorIs(t, err, ErrNotPendingApproval)

	_, err = e.svc.CloseShift(ctx, shift.ID, domain.ShiftCloseRequest{ActualCashCents: 50000})
	require.NoError(t, err)
	_, err = e.svc.ApproveShift(ctx, shift.ID, "manager")
	assert.ErrorIs(t, err, ErrNotPendingApproval)

	_, err = e.svc.ApproveShift(ctx, "shift-missing", "manager")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApproveShiftAuthorization(t *testing.T) {
	e := newTestEnv(t)
	shift := e.open(t, "sari", 50000)
	_, err := e.svc.CloseShift(context.Background(), shift.ID, domain.ShiftCloseRequest{ActualCashCents: 0})
	require.NoError(t, err)

	cashierCtx := WithActor(context.Background(), domain.Actor{Username: "sari", Role: domain.RoleCashier})
	_, err = e.svc.ApproveShift(cashierCtx, shift.ID, "sari")
	assert.ErrorIs(t, err, ErrForbidden)

	managerCtx := WithActor(context.Background(), domain.Actor{Username: "sari", Role: domain.RoleManager})
	_, err = e.svc.ApproveShift(managerCtx, shift.ID, "sari")
	assert.ErrorIs(t, err, ErrForbidden, "owner may not approve their own shift")

	approved, err := e.svc.ApproveShift(WithManagerPIN(cashierCtx), shift.ID, "budi")
	require.NoError(t, err)
	assert.Equal(t, "budi", approved.ManagerApproval.ManagerID)
}

func TestPostValidatesAmountsAndReasons(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	shift := e.open(t, "sari", 50000)

	_, err := e.svc.PostSale(ctx, shift.ID, cashSale(0))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = e.svc.PostSale(ctx, shift.ID, cashSale(-500))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = e.svc.PostSale(ctx, shift.ID, domain.SalePostRequest{AmountCents: 500, TenderType: "voucher"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = e.svc.PostCashMovement(ctx, shift.ID, cashOut(0, "petty cash"))
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = e.svc.PostCashMovement(ctx, shift.ID, cashOut(100, "  "))
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = e.svc.PostCashMovement(ctx, shift.ID, domain.CashMovementRequest{Kind: domain.MovementSale, AmountCents: 100, Reason: "x"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	after, err := e.svc.GetShift(ctx, shift.ID)
	require.NoError(t, err)
	assert.Equal(t, shift, after)
}

func TestNonCashSalesDoNotMoveExpectedCash(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	shift := e.open(t, "sari", 20000)

	shift, err := e.svc.PostSale(ctx, shift.ID, domain.SalePostRequest{AmountCents: 7000, TenderType: domain.TenderCard})
	require.NoError(t, err)
	shift, err = e.svc.PostSale(ctx, shift.ID, domain.SalePostRequest{AmountCents: 3000, TenderType: domain.TenderMobile})
	require.NoError(t, err)

	assert.Equal(t, int64(20000), shift.ExpectedCashCents)
	assert.Equal(t, int64(7000), shift.CardSalesCents)
	assert.Equal(t, int64(3000), shift.MobileSalesCents)
	assert.Equal(t, int64(2), shift.TransactionCount)
}

func TestPostSaleIsIdempotentPerTransaction(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	shift := e.open(t, "sari", 0)

	req := domain.SalePostRequest{AmountCents: 4500, TenderType: domain.TenderCash, TransactionID: "trx-001"}
	first, err := e.svc.PostSale(ctx, shift.ID, req)
	require.NoError(t, err)
	second, err := e.svc.PostSale(ctx, shift.ID, req)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(4500), second.CashSalesCents)
	assert.Equal(t, int64(1), second.TransactionCount)

	movements, err := e.svc.ListMovements(ctx, shift.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, "trx-001", movements[0].TransactionID)
}

func TestPostSaleRejectsOverflow(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	shift := e.open(t, "sari", 1)

	_, err := e.svc.PostSale(ctx, shift.ID, cashSale(1<<62))
	require.NoError(t, err)
	_, err = e.svc.PostSale(ctx, shift.ID, cashSale(1<<62))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestConcurrentSalesAreNotLost(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	shift := e.open(t, "sari", 1000)

	const n = 64
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.PostSale(ctx, shift.ID, cashSale(1))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	after, err := e.svc.GetShift(ctx, shift.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(n), after.CashSalesCents)
	assert.Equal(t, int64(n), after.TransactionCount)
	assert.Equal(t, int64(1000+n), after.ExpectedCashCents)
	assert.Equal(t, int64(n), after.Version)
}

func TestExpectedCashInvariantHoldsAcrossPostings(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	shift := e.open(t, "sari", 25000)

	steps := []func() (domain.Shift, error){
		func() (domain.Shift, error) { return e.svc.PostSale(ctx, shift.ID, cashSale(1200)) },
		func() (domain.Shift, error) {
			return e.svc.PostSale(ctx, shift.ID, domain.SalePostRequest{AmountCents: 800, TenderType: domain.TenderCard})
		},
		func() (domain.Shift, error) {
			return e.svc.PostCashMovement(ctx, shift.ID, domain.CashMovementRequest{Kind: domain.MovementCashIn, AmountCents: 5000, Reason: "extra float"})
		},
		func() (domain.Shift, error) { return e.svc.PostCashMovement(ctx, shift.ID, cashOut(31200, "bank deposit")) },
		func() (domain.Shift, error) { return e.svc.PostCashMovement(ctx, shift.ID, cashOut(1, "rounding")) },
		func() (domain.Shift, error) { return e.svc.PostSale(ctx, shift.ID, cashSale(99)) },
	}
	for i, step := range steps {
		_, _ = step()
		current, err := e.svc.GetShift(ctx, shift.ID)
		require.NoError(t, err)
		assert.Equal(t, current.CashBalance(), current.ExpectedCashCents, "step %d", i)
	}

	final, err := e.svc.GetShift(ctx, shift.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(99), final.ExpectedCashCents)
}

func TestCashierMayOnlyTouchOwnShift(t *testing.T) {
	e := newTestEnv(t)
	shift := e.open(t, "sari", 50000)

	other := WithActor(context.Background(), domain.Actor{Username: "dewi", Role: domain.RoleCashier})
	_, err := e.svc.PostSale(other, shift.ID, cashSale(100))
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = e.svc.CloseShift(other, shift.ID, domain.ShiftCloseRequest{ActualCashCents: 50000})
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = e.svc.GetShift(other, shift.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = e.svc.OpenShift(other, domain.ShiftOpenRequest{UserID: "sari"})
	assert.ErrorIs(t, err, ErrForbidden)

	owner := WithActor(context.Background(), domain.Actor{Username: "sari", Role: domain.RoleCashier})
	updated, err := e.svc.PostSale(owner, shift.ID, cashSale(100))
	require.NoError(t, err)
	assert.Equal(t, int64(100), updated.CashSalesCents)

	movements, err := e.svc.ListMovements(owner, shift.ID)
	require.NoError(t, err)
	require.Len(t, movements, 1)
	assert.Equal(t, "sari", movements[0].CreatedBy)
}

func TestOpenCashDrawerNeedsActiveShift(t *testing.T) {
	e := newTestEnv(t)
	ctx := WithActor(context.Background(), domain.Actor{Username: "sari", Role: domain.RoleCashier})

	_, err := e.svc.OpenCashDrawer(ctx, domain.CashDrawerOpenRequest{})
	assert.ErrorIs(t, err, ErrShiftNotActive)

	shift, err := e.svc.OpenShift(ctx, domain.ShiftOpenRequest{OpeningCashCents: 1000})
	require.NoError(t, err)

	resp, err := e.svc.OpenCashDrawer(ctx, domain.CashDrawerOpenRequest{})
	require.NoError(t, err)
	assert.Equal(t, shift.ID, resp.ShiftID)
	assert.Equal(t, "G3AAGfo=", resp.CommandBase64)

	e.clock.Advance(time.Minute)
	logs, err := e.svc.ListAuditLogs(ctx, "", "", 10)
	require.NoError(t, err)
	actions := make([]string, 0, len(logs))
	for _, entry := range logs {
		actions = append(actions, entry.Action)
	}
	assert.Contains(t, actions, "cash_drawer_open")
	assert.Contains(t, actions, "shift_open")
}

func TestShiftReportIncludesMovements(t *testing.T) {
	e := newTestEnv(t)
	shift := scenarioThree(t, e)

	report, err := e.svc.ShiftReport(context.Background(), shift.ID)
	require.NoError(t, err)
	assert.Equal(t, shift.ID, report.Shift.ID)
	require.Len(t, report.Movements, 2)
	assert.Equal(t, domain.MovementSale, report.Movements[0].Kind)
	assert.Equal(t, domain.MovementCashOut, report.Movements[1].Kind)
}

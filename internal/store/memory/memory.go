package memory

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/store"
	"apotekpos/backend/internal/xid"
)

// Store keeps the ledger in process memory. A single RWMutex guards every
// map so a reader never observes a shift update without its movement.
type Store struct {
	mu               sync.RWMutex
	shiftsByID       map[string]domain.Shift
	openShiftByKey   map[openShiftKey]string
	movementsByShift map[string][]domain.CashMovement
	saleByTxKey      map[saleKey]string
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		shiftsByID:       make(map[string]domain.Shift),
		openShiftByKey:   make(map[openShiftKey]string),
		movementsByShift: make(map[string][]domain.CashMovement),
		saleByTxKey:      make(map[saleKey]string),
		auditLogs:        make([]domain.AuditLog, 0, 64),
		usersByUsername:  make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with dev/demo staff accounts. Passwords come from
// SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD; when
// unset, dev defaults are used and a warning is logged. The backend only uses
// this store when DATABASE_URL is empty.
func NewSeeded(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	s := New()
	s.usersByUsername = seedUsers(log)
	return s
}

func seedUsers(log *zap.Logger) map[string]domain.UserAccount {
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_MANAGER_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Warn("memory store using default dev credentials; set SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", envOr("SEED_ADMIN_PASSWORD", "admin123"), domain.RoleAdmin},
		{"manager", envOr("SEED_MANAGER_PASSWORD", "manager123"), domain.RoleManager},
		{"cashier", envOr("SEED_CASHIER_PASSWORD", "cashier123"), domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal("hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) CreateShift(_ context.Context, shift domain.Shift) (*domain.Shift, error) {
	if strings.TrimSpace(shift.UserID) == "" || strings.TrimSpace(shift.OutletID) == "" {
		return nil, store.ErrInvalidRecord
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := openShiftKey{userID: shift.UserID, outletID: shift.OutletID}
	if _, exists := s.openShiftByKey[key]; exists {
		return nil, store.ErrAlreadyActive
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if _, exists := s.shiftsByID[shift.ID]; exists {
		return nil, store.ErrInvalidRecord
	}
	if shift.StartTime.IsZero() {
		shift.StartTime = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusActive
	shift.Version = 0

	s.shiftsByID[shift.ID] = shift.Clone()
	s.openShiftByKey[key] = shift.ID
	saved := shift.Clone()
	return &saved, nil
}

func (s *Store) GetShift(_ context.Context, shiftID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shift, exists := s.shiftsByID[shiftID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyShift := shift.Clone()
	return &copyShift, nil
}

func (s *Store) GetOpenShift(_ context.Context, userID string, outletID string) (*domain.Shift, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shiftID, exists := s.openShiftByKey[openShiftKey{userID: userID, outletID: outletID}]
	if !exists {
		return nil, store.ErrNotFound
	}
	shift, exists := s.shiftsByID[shiftID]
	if !exists || !shift.Status.Open() {
		return nil, store.ErrNotFound
	}
	copyShift := shift.Clone()
	return &copyShift, nil
}

func (s *Store) SaveShift(_ context.Context, shift domain.Shift, expectedVersion int64, movement *domain.CashMovement) (*domain.Shift, error) {
	if !shift.Status.Valid() {
		return nil, store.ErrInvalidRecord
	}
	if movement != nil {
		if movement.ShiftID != shift.ID {
			return nil, store.ErrInvalidRecord
		}
		if err := movement.Validate(); err != nil {
			return nil, store.ErrInvalidRecord
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.shiftsByID[shift.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if current.Version != expectedVersion {
		return nil, store.ErrConcurrentUpdate
	}
	if current.UserID != shift.UserID || current.OutletID != shift.OutletID {
		return nil, store.ErrInvalidRecord
	}

	var txKey saleKey
	if movement != nil && movement.Kind == domain.MovementSale && movement.TransactionID != "" {
		txKey = saleKey{shiftID: shift.ID, transactionID: movement.TransactionID}
		if _, dup := s.saleByTxKey[txKey]; dup {
			return nil, store.ErrDuplicateSale
		}
	}

	shift.Version = expectedVersion + 1
	s.shiftsByID[shift.ID] = shift.Clone()

	key := openShiftKey{userID: shift.UserID, outletID: shift.OutletID}
	if shift.Status.Open() {
		s.openShiftByKey[key] = shift.ID
	} else if s.openShiftByKey[key] == shift.ID {
		delete(s.openShiftByKey, key)
	}

	if movement != nil {
		s.movementsByShift[shift.ID] = append(s.movementsByShift[shift.ID], *movement)
		if txKey != (saleKey{}) {
			s.saleByTxKey[txKey] = movement.ID
		}
	}

	saved := shift.Clone()
	return &saved, nil
}

func (s *Store) FindSaleMovement(_ context.Context, shiftID string, transactionID string) (*domain.CashMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	movementID, exists := s.saleByTxKey[saleKey{shiftID: shiftID, transactionID: transactionID}]
	if !exists {
		return nil, store.ErrNotFound
	}
	for _, movement := range s.movementsByShift[shiftID] {
		if movement.ID == movementID {
			found := movement
			return &found, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListMovements(_ context.Context, shiftID string) ([]domain.CashMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.shiftsByID[shiftID]; !exists {
		return nil, store.ErrNotFound
	}
	return slices.Clone(s.movementsByShift[shiftID]), nil
}

func (s *Store) ListShifts(_ context.Context, filter domain.ShiftFilter, offset int, limit int) ([]domain.Shift, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]domain.Shift, 0, len(s.shiftsByID))
	for _, shift := range s.shiftsByID {
		if store.MatchShift(shift, filter) {
			matched = append(matched, shift.Clone())
		}
	}

	slices.SortFunc(matched, func(a, b domain.Shift) int {
		if a.StartTime.Equal(b.StartTime) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.StartTime.After(b.StartTime) {
			return -1
		}
		return 1
	})

	total := len(matched)
	if offset < 0 {
		offset = 0
	}
	if offset >= total {
		return []domain.Shift{}, total, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, outletID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if outletID != "" && entry.OutletID != outletID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidRecord
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidRecord
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleCashier
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidRecord
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

type openShiftKey struct {
	userID   string
	outletID string
}

type saleKey struct {
	shiftID       string
	transactionID string
}

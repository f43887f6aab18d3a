package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletledger/internal/cache"
	"github.com/punchamoorthee/walletledger/internal/domain"
	"github.com/punchamoorthee/walletledger/internal/identity"
	"github.com/punchamoorthee/walletledger/internal/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"golang.org/x/crypto/bcrypt"
)

const testPIN = "1234"

// fakeLedger keeps committed state in memory. ExecTx stages writes and
// applies them on success; wallet locks are per-row RW mutexes.
type fakeLedger struct {
	mu        sync.Mutex
	rowLocks  map[uuid.UUID]*sync.RWMutex
	byUser    map[uuid.UUID]uuid.UUID
	wallets   map[uuid.UUID]domain.Wallet
	entries   []domain.LedgerEntry
	donations map[uuid.UUID]domain.Donation
	keys      map[string]domain.IdempotencyKey
	reserved  map[string]chan struct{}

	failInsertDonation error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		rowLocks:  map[uuid.UUID]*sync.RWMutex{},
		byUser:    map[uuid.UUID]uuid.UUID{},
		wallets:   map[uuid.UUID]domain.Wallet{},
		donations: map[uuid.UUID]domain.Donation{},
		keys:      map[string]domain.IdempotencyKey{},
		reserved:  map[string]chan struct{}{},
	}
}

func (l *fakeLedger) addWallet(userID uuid.UUID, balance string) uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := uuid.New()
	bal := decimal.RequireFromString(balance)
	l.byUser[userID] = id
	l.rowLocks[id] = &sync.RWMutex{}
	l.wallets[id] = domain.Wallet{ID: id, UserID: userID, Balance: bal, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if bal.IsPositive() {
		l.entries = append(l.entries, domain.LedgerEntry{
			ID: uuid.New(), WalletID: id, Type: domain.EntryCredit, Amount: bal,
			Description: "Opening balance", CreatedAt: time.Now(),
		})
	}
	return id
}

func (l *fakeLedger) balance(userID uuid.UUID) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wallets[l.byUser[userID]].Balance
}

func (l *fakeLedger) entriesOf(userID uuid.UUID, t domain.EntryType) []domain.LedgerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []domain.LedgerEntry
	for _, e := range l.entries {
		if e.WalletID == l.byUser[userID] && e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (l *fakeLedger) donationCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.donations)
}

func (l *fakeLedger) entryCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *fakeLedger) ExecTx(ctx context.Context, fn func(q store.Querier) error) error {
	tx := &fakeTx{fakeLedger: l, balances: map[uuid.UUID]decimal.Decimal{}}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return domain.Retryable(err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for id, bal := range tx.balances {
		w := l.wallets[id]
		w.Balance = bal
		w.UpdatedAt = time.Now()
		l.wallets[id] = w
	}
	l.entries = append(l.entries, tx.entries...)
	for _, d := range tx.donations {
		l.donations[d.ID] = d
	}
	for _, k := range tx.keys {
		l.keys[k.Key] = k
	}
	return nil
}

// Reads outside a unit of work see committed state.

func (l *fakeLedger) LockWallets(ctx context.Context, mode store.LockMode, userIDs ...uuid.UUID) (map[uuid.UUID]*domain.Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := map[uuid.UUID]*domain.Wallet{}
	for _, u := range userIDs {
		id, ok := l.byUser[u]
		if !ok {
			return nil, domain.ErrWalletNotFound
		}
		w := l.wallets[id]
		out[u] = &w
	}
	return out, nil
}

func (l *fakeLedger) UpdateWalletBalance(context.Context, uuid.UUID, decimal.Decimal) error {
	panic("writes must run inside ExecTx")
}

func (l *fakeLedger) GetWalletByUser(_ context.Context, userID uuid.UUID) (*domain.Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.byUser[userID]
	if !ok {
		return nil, domain.ErrWalletNotFound
	}
	w := l.wallets[id]
	return &w, nil
}

func (l *fakeLedger) LedgerNet(_ context.Context, walletID uuid.UUID) (decimal.Decimal, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	net, n := decimal.Zero, 0
	for _, e := range l.entries {
		if e.WalletID != walletID {
			continue
		}
		n++
		if e.Type == domain.EntryCredit {
			net = net.Add(e.Amount)
		} else {
			net = net.Sub(e.Amount)
		}
	}
	return net, n, nil
}

func (l *fakeLedger) InsertEntry(context.Context, *domain.LedgerEntry) error {
	panic("writes must run inside ExecTx")
}

func (l *fakeLedger) GetDonationEntry(_ context.Context, donorID, donationID uuid.UUID) (*domain.LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.donations[donationID]
	if !ok || d.DonorID != donorID {
		return nil, domain.ErrDonationNotFound
	}
	for _, e := range l.entries {
		if d.TransactionID != nil && e.ID == *d.TransactionID {
			return &e, nil
		}
	}
	return nil, domain.ErrEntryNotFound
}

func (l *fakeLedger) ListEntries(_ context.Context, walletID uuid.UUID, limit, offset int) ([]domain.LedgerEntry, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var all []domain.LedgerEntry
	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].WalletID == walletID {
			all = append(all, l.entries[i])
		}
	}
	return page(all, limit, offset), len(all), nil
}

func (l *fakeLedger) InsertDonation(context.Context, *domain.Donation) error {
	panic("writes must run inside ExecTx")
}

func (l *fakeLedger) GetDonation(_ context.Context, id uuid.UUID) (*domain.Donation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	d, ok := l.donations[id]
	if !ok {
		return nil, domain.ErrDonationNotFound
	}
	return &d, nil
}

func (l *fakeLedger) GetDonationForDonor(ctx context.Context, donorID, id uuid.UUID) (*domain.Donation, error) {
	d, err := l.GetDonation(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.DonorID != donorID {
		return nil, domain.ErrDonationNotFound
	}
	return d, nil
}

func (l *fakeLedger) ListDonations(_ context.Context, donorID uuid.UUID, f domain.DonationFilter) ([]domain.Donation, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f = f.Normalize()
	var all []domain.Donation
	for _, d := range l.donations {
		if d.DonorID != donorID {
			continue
		}
		if f.StartDate != nil && d.CreatedAt.Before(*f.StartDate) {
			continue
		}
		if f.EndDate != nil && d.CreatedAt.After(*f.EndDate) {
			continue
		}
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return page(all, f.Limit, f.Offset()), len(all), nil
}

func (l *fakeLedger) CountDonations(_ context.Context, donorID uuid.UUID) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, d := range l.donations {
		if d.DonorID == donorID {
			n++
		}
	}
	return n, nil
}

func (l *fakeLedger) FindIdempotencyKey(_ context.Context, key string) (*domain.IdempotencyKey, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k, ok := l.keys[key]
	if !ok {
		return nil, nil
	}
	return &k, nil
}

func (l *fakeLedger) BindIdempotencyKey(context.Context, *domain.IdempotencyKey) error {
	panic("writes must run inside ExecTx")
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return []T{}
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

// fakeTx is one unit of work against a fakeLedger.
type fakeTx struct {
	*fakeLedger
	held      []func()
	balances  map[uuid.UUID]decimal.Decimal
	entries   []domain.LedgerEntry
	donations []domain.Donation
	keys      []domain.IdempotencyKey
}

func (tx *fakeTx) release() {
	for i := len(tx.held) - 1; i >= 0; i-- {
		tx.held[i]()
	}
	tx.fakeLedger.mu.Lock()
	for _, k := range tx.keys {
		close(tx.fakeLedger.reserved[k.Key])
		delete(tx.fakeLedger.reserved, k.Key)
	}
	tx.fakeLedger.mu.Unlock()
}

func (tx *fakeTx) LockWallets(ctx context.Context, mode store.LockMode, userIDs ...uuid.UUID) (map[uuid.UUID]*domain.Wallet, error) {
	l := tx.fakeLedger
	l.mu.Lock()
	ids := make([]uuid.UUID, 0, len(userIDs))
	for _, u := range userIDs {
		id, ok := l.byUser[u]
		if !ok {
			l.mu.Unlock()
			return nil, domain.ErrWalletNotFound
		}
		ids = append(ids, id)
	}
	l.mu.Unlock()

	store.SortWalletIDs(ids)
	for _, id := range ids {
		l.mu.Lock()
		rw := l.rowLocks[id]
		l.mu.Unlock()
		if mode == store.LockShared {
			rw.RLock()
			tx.held = append(tx.held, rw.RUnlock)
		} else {
			rw.Lock()
			tx.held = append(tx.held, rw.Unlock)
		}
	}

	out := map[uuid.UUID]*domain.Wallet{}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, u := range userIDs {
		w := l.wallets[l.byUser[u]]
		out[u] = &w
	}
	return out, nil
}

func (tx *fakeTx) UpdateWalletBalance(_ context.Context, walletID uuid.UUID, balance decimal.Decimal) error {
	if balance.IsNegative() {
		panic("balance check constraint violated")
	}
	tx.balances[walletID] = balance
	return nil
}

func (tx *fakeTx) InsertEntry(_ context.Context, e *domain.LedgerEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now()
	tx.entries = append(tx.entries, *e)
	return nil
}

func (tx *fakeTx) InsertDonation(_ context.Context, d *domain.Donation) error {
	if tx.fakeLedger.failInsertDonation != nil {
		return tx.fakeLedger.failInsertDonation
	}
	d.CreatedAt = time.Now()
	tx.donations = append(tx.donations, *d)
	return nil
}

// BindIdempotencyKey waits for an in-flight binding of the same key to
// finish, like a unique index does: a commit makes this bind fail, a
// rollback frees the key.
func (tx *fakeTx) BindIdempotencyKey(ctx context.Context, k *domain.IdempotencyKey) error {
	l := tx.fakeLedger
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		if _, ok := l.keys[k.Key]; ok {
			return domain.ErrIdempotencyKeyExists
		}
		pending, ok := l.reserved[k.Key]
		if !ok {
			break
		}
		l.mu.Unlock()
		select {
		case <-pending:
		case <-ctx.Done():
			l.mu.Lock()
			return domain.Retryable(ctx.Err())
		}
		l.mu.Lock()
	}
	l.reserved[k.Key] = make(chan struct{})
	if k.ID == uuid.Nil {
		k.ID = uuid.New()
	}
	k.CreatedAt = time.Now()
	tx.keys = append(tx.keys, *k)
	return nil
}

// fakeUsers resolves users from a fixed map.
type fakeUsers struct {
	mu    sync.Mutex
	users map[uuid.UUID]*identity.User
}

func (f *fakeUsers) ResolveUser(_ context.Context, id uuid.UUID) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	return u, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls [][2]uuid.UUID
}

func (r *recordingNotifier) TransferCompleted(donorID, beneficiaryID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, [2]uuid.UUID{donorID, beneficiaryID})
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

var (
	pinHashOnce sync.Once
	pinHash     string
)

func testPINHash(t *testing.T) string {
	t.Helper()
	pinHashOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte(testPIN), bcrypt.MinCost)
		if err != nil {
			panic(err)
		}
		pinHash = string(h)
	})
	return pinHash
}

type fixture struct {
	svc      *WalletService
	ledger   *fakeLedger
	users    *fakeUsers
	notifier *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, _ := test.NewNullLogger()
	ledger := newFakeLedger()
	users := &fakeUsers{users: map[uuid.UUID]*identity.User{}}
	notifier := &recordingNotifier{}
	views := cache.NewBalanceCache(cache.NewMemoryCache(time.Minute, time.Minute), time.Minute, time.Minute, log)
	return &fixture{
		svc:      NewWalletService(ledger, users, views, notifier, log),
		ledger:   ledger,
		users:    users,
		notifier: notifier,
	}
}

// user registers a user with a PIN and a wallet holding balance.
func (f *fixture) user(t *testing.T, balance string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	f.users.mu.Lock()
	f.users.users[id] = &identity.User{ID: id, Email: id.String() + "@example.com", FirstName: "Test", PINHash: testPINHash(t)}
	f.users.mu.Unlock()
	f.ledger.addWallet(id, balance)
	return id
}

// bindRaceLedger makes every bind lose to a competing unit of work that
// commits winner under the same key first.
type bindRaceLedger struct {
	*fakeLedger
	winner domain.Donation
	key    domain.IdempotencyKey
}

func (l *bindRaceLedger) ExecTx(ctx context.Context, fn func(q store.Querier) error) error {
	return l.fakeLedger.ExecTx(ctx, func(q store.Querier) error {
		return fn(&losingBinder{Querier: q, race: l})
	})
}

type losingBinder struct {
	store.Querier
	race *bindRaceLedger
}

func (q *losingBinder) BindIdempotencyKey(context.Context, *domain.IdempotencyKey) error {
	l := q.race.fakeLedger
	l.mu.Lock()
	defer l.mu.Unlock()
	l.donations[q.race.winner.ID] = q.race.winner
	l.keys[q.race.key.Key] = q.race.key
	return domain.ErrIdempotencyKeyExists
}

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletledger/internal/domain"
	"github.com/punchamoorthee/walletledger/internal/metrics"
	"github.com/sirupsen/logrus"
)

const (
	viewWallet        = "wallet"
	viewDonations     = "donations"
	viewDonationCount = "donation_count"
)

// BalanceCache serves read-only snapshots of wallets and donor views.
//
// Every key embeds a per-user version token. Writers replace the token after
// commit, so a reader that loaded pre-commit state can only ever populate a
// key that is no longer read. Tokens are random, so a token that expires or
// is evicted never brings an older snapshot back. Cached values are always
// copies of committed rows; nothing computed by a writer is stored.
//
// Cache failures are logged and treated as misses. They never fail a read
// or a transfer.
type BalanceCache struct {
	backend    Cache
	walletTTL  time.Duration
	listTTL    time.Duration
	versionTTL time.Duration
	log        logrus.FieldLogger
}

// unversioned is the token used while a user has none. Tokens outlive every
// view, so snapshots taken under it are gone before it is used again.
const unversioned = "0"

func NewBalanceCache(backend Cache, walletTTL, listTTL time.Duration, log logrus.FieldLogger) *BalanceCache {
	return &BalanceCache{
		backend:    backend,
		walletTTL:  walletTTL,
		listTTL:    listTTL,
		versionTTL: 4 * max(walletTTL, listTTL),
		log:        log,
	}
}

func versionKey(userID uuid.UUID) string {
	return "ledger-version:" + userID.String()
}

func walletKey(userID uuid.UUID, version string) string {
	return fmt.Sprintf("wallet:%s:v%s", userID, version)
}

func donationCountKey(donorID uuid.UUID, version string) string {
	return fmt.Sprintf("donation-count:%s:v%s", donorID, version)
}

func donationListKey(donorID uuid.UUID, version string, f domain.DonationFilter) string {
	start, end := "all", "all"
	if f.StartDate != nil {
		start = f.StartDate.UTC().Format(time.RFC3339)
	}
	if f.EndDate != nil {
		end = f.EndDate.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("donations:%s:v%s:%s:%s:%d:%d", donorID, version, start, end, f.Page, f.Limit)
}

// version returns the user's current token. ok is false when the token
// could not be read; callers then bypass the cache.
func (b *BalanceCache) version(ctx context.Context, userID uuid.UUID) (string, bool) {
	raw, found, err := b.backend.Get(ctx, versionKey(userID))
	if err != nil {
		b.log.WithError(err).WithField("user_id", userID).Warn("cache version read failed")
		return "", false
	}
	if !found || len(raw) == 0 {
		return unversioned, true
	}
	return string(raw), true
}

// readThrough returns the cached value at key or loads, stores, and returns
// a fresh one.
func readThrough[T any](ctx context.Context, b *BalanceCache, view, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	raw, found, err := b.backend.Get(ctx, key)
	if err != nil {
		b.log.WithError(err).WithField("key", key).Warn("cache read failed")
	}
	if found {
		var cached T
		if err := json.Unmarshal(raw, &cached); err == nil {
			metrics.CacheHit(view)
			return cached, nil
		}
		b.log.WithField("key", key).Warn("discarding undecodable cache entry")
	}
	metrics.CacheMiss(view)

	fresh, err := load(ctx)
	if err != nil {
		return fresh, err
	}

	data, err := json.Marshal(fresh)
	if err != nil {
		b.log.WithError(err).WithField("key", key).Warn("cache encode failed")
		return fresh, nil
	}
	if err := b.backend.Set(ctx, key, data, ttl); err != nil {
		b.log.WithError(err).WithField("key", key).Warn("cache write failed")
	}
	return fresh, nil
}

// Wallet returns the user's wallet snapshot, loading it on a miss.
func (b *BalanceCache) Wallet(ctx context.Context, userID uuid.UUID, load func(context.Context) (*domain.Wallet, error)) (*domain.Wallet, error) {
	v, ok := b.version(ctx, userID)
	if !ok {
		metrics.CacheMiss(viewWallet)
		return load(ctx)
	}
	return readThrough(ctx, b, viewWallet, walletKey(userID, v), b.walletTTL, load)
}

func (b *BalanceCache) DonationCount(ctx context.Context, donorID uuid.UUID, load func(context.Context) (int, error)) (int, error) {
	v, ok := b.version(ctx, donorID)
	if !ok {
		metrics.CacheMiss(viewDonationCount)
		return load(ctx)
	}
	return readThrough(ctx, b, viewDonationCount, donationCountKey(donorID, v), b.listTTL, load)
}

func (b *BalanceCache) Donations(ctx context.Context, donorID uuid.UUID, f domain.DonationFilter, load func(context.Context) (*domain.DonationPage, error)) (*domain.DonationPage, error) {
	f = f.Normalize()
	v, ok := b.version(ctx, donorID)
	if !ok {
		metrics.CacheMiss(viewDonations)
		return load(ctx)
	}
	return readThrough(ctx, b, viewDonations, donationListKey(donorID, v, f), b.listTTL, load)
}

// Invalidate retires every cached view of the given users. It must run
// after the write it follows has committed.
func (b *BalanceCache) Invalidate(ctx context.Context, userIDs ...uuid.UUID) {
	for _, id := range userIDs {
		prev, _ := b.version(ctx, id)
		if err := b.backend.Set(ctx, versionKey(id), []byte(newVersion()), b.versionTTL); err != nil {
			b.log.WithError(err).WithField("user_id", id).Error("cache invalidation failed")
			continue
		}
		if prev == "" {
			continue
		}
		if err := b.backend.Delete(ctx, walletKey(id, prev)); err != nil {
			b.log.WithError(err).WithField("user_id", id).Warn("stale wallet key delete failed")
		}
	}
}

// newVersion is overridden in tests that need predictable keys.
var newVersion = func() string {
	return uuid.NewString()
}

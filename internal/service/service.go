package service

import (
	"context"

	"github.com/punchamoorthee/walletledger/internal/cache"
	"github.com/punchamoorthee/walletledger/internal/identity"
	"github.com/punchamoorthee/walletledger/internal/notify"
	"github.com/punchamoorthee/walletledger/internal/store"
	"github.com/sirupsen/logrus"
)

// Ledger is the store surface the engines run against.
type Ledger interface {
	store.Querier
	ExecTx(ctx context.Context, fn func(q store.Querier) error) error
}

var _ Ledger = (*store.Store)(nil)

// WalletService moves money between wallets and serves the wallet and
// donation read models.
type WalletService struct {
	ledger   Ledger
	users    identity.Resolver
	views    *cache.BalanceCache
	notifier notify.Notifier
	log      logrus.FieldLogger
}

func NewWalletService(ledger Ledger, users identity.Resolver, views *cache.BalanceCache, notifier notify.Notifier, log logrus.FieldLogger) *WalletService {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &WalletService{
		ledger:   ledger,
		users:    users,
		views:    views,
		notifier: notifier,
		log:      log,
	}
}

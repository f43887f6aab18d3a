package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletledger/internal/identity"
	"github.com/punchamoorthee/walletledger/internal/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Notifier receives post-commit transfer events. Implementations must not
// block the caller and must never report failure back to it.
type Notifier interface {
	TransferCompleted(donorID, beneficiaryID uuid.UUID)
}

// Noop discards every event.
type Noop struct{}

func (Noop) TransferCompleted(uuid.UUID, uuid.UUID) {}

type event struct {
	DonorID       uuid.UUID
	BeneficiaryID uuid.UUID
}

// Handler processes one event on a worker goroutine.
type Handler func(ctx context.Context, donorID, beneficiaryID uuid.UUID) error

// AsyncNotifier fans events out to a fixed pool of workers over a bounded
// queue. When the queue is full the event is dropped and logged.
type AsyncNotifier struct {
	queue   chan event
	workers int
	handle  Handler
	timeout time.Duration
	log     logrus.FieldLogger

	mu      sync.RWMutex
	stopped bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

func NewAsyncNotifier(handle Handler, queueSize, workers int, log logrus.FieldLogger) *AsyncNotifier {
	if queueSize < 1 {
		queueSize = 1
	}
	if workers < 1 {
		workers = 1
	}
	return &AsyncNotifier{
		queue:   make(chan event, queueSize),
		workers: workers,
		handle:  handle,
		timeout: 10 * time.Second,
		log:     log,
	}
}

// Start launches the workers. They run until Stop.
func (n *AsyncNotifier) Start(ctx context.Context) {
	ctx, n.cancel = context.WithCancel(ctx)
	n.group, ctx = errgroup.WithContext(ctx)
	for i := 0; i < n.workers; i++ {
		n.group.Go(func() error {
			n.work(ctx)
			return nil
		})
	}
}

// Stop drains queued events and waits for the workers to exit.
func (n *AsyncNotifier) Stop() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	close(n.queue)
	n.mu.Unlock()

	if n.group != nil {
		_ = n.group.Wait()
	}
	if n.cancel != nil {
		n.cancel()
	}
}

func (n *AsyncNotifier) TransferCompleted(donorID, beneficiaryID uuid.UUID) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.stopped {
		return
	}
	select {
	case n.queue <- event{DonorID: donorID, BeneficiaryID: beneficiaryID}:
	default:
		metrics.Notifications.WithLabelValues("dropped").Inc()
		n.log.WithFields(logrus.Fields{
			"donor_id":       donorID,
			"beneficiary_id": beneficiaryID,
		}).Warn("notification queue full, dropping event")
	}
}

func (n *AsyncNotifier) work(ctx context.Context) {
	for ev := range n.queue {
		n.process(ctx, ev)
	}
}

func (n *AsyncNotifier) process(ctx context.Context, ev event) {
	defer func() {
		if r := recover(); r != nil {
			metrics.Notifications.WithLabelValues("panic").Inc()
			n.log.WithField("panic", fmt.Sprint(r)).Error("notification handler panicked")
		}
	}()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	if err := n.handle(ctx, ev.DonorID, ev.BeneficiaryID); err != nil {
		metrics.Notifications.WithLabelValues("failed").Inc()
		n.log.WithError(err).WithField("donor_id", ev.DonorID).Error("notification failed")
		return
	}
	metrics.Notifications.WithLabelValues("ok").Inc()
}

// DonationCounter reads the authoritative donation count for a donor.
type DonationCounter interface {
	CountDonations(ctx context.Context, donorID uuid.UUID) (int, error)
}

// Mailer delivers the thank-you message.
type Mailer interface {
	SendThankYou(ctx context.Context, to *identity.User, donationCount int) error
}

// ThankYou mails a donor once their committed donation count reaches
// threshold. The count is read from the store, never from cache.
func ThankYou(counter DonationCounter, users identity.Resolver, mailer Mailer, threshold int) Handler {
	return func(ctx context.Context, donorID, _ uuid.UUID) error {
		count, err := counter.CountDonations(ctx, donorID)
		if err != nil {
			return fmt.Errorf("count donations: %w", err)
		}
		if count < threshold {
			return nil
		}
		donor, err := users.ResolveUser(ctx, donorID)
		if err != nil {
			return fmt.Errorf("resolve donor: %w", err)
		}
		return mailer.SendThankYou(ctx, donor, count)
	}
}

// LogMailer writes thank-you messages to the log instead of sending mail.
type LogMailer struct {
	Log logrus.FieldLogger
}

func (m LogMailer) SendThankYou(_ context.Context, to *identity.User, donationCount int) error {
	m.Log.WithFields(logrus.Fields{
		"email":          to.Email,
		"name":           to.FirstName,
		"donation_count": donationCount,
	}).Info("thank-you message sent")
	return nil
}

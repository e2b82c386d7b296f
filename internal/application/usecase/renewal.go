package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tesso57/websubd/internal/domain/websub"
)

// SweepRepository is the slice of the store the renewal sweep reads
// and converges.
type SweepRepository interface {
	ExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]*websub.Subscription, error)
	ExpireLapsed(ctx context.Context, now time.Time) (int64, error)
	FailStalePending(ctx context.Context, cutoff time.Time) (int64, error)
}

// Subscriber is the renewal entry point; satisfied by *Manager.
type Subscriber interface {
	Subscribe(ctx context.Context, topic, hub string) bool
}

// SweepSummary is what one sweep run accomplished.
type SweepSummary struct {
	Due          int   `json:"due"`
	Renewed      int   `json:"renewed"`
	Failed       int   `json:"failed"`
	Lapsed       int64 `json:"lapsed"`
	StalePending int64 `json:"stalePending"`
}

// Sweep is the scheduled renewal batch job. It runs sequentially with
// a fixed inter-request delay; hubs rate-limit by caller, and a failed
// renewal gets another chance tomorrow as long as the lease holds.
// Not safe to run twice concurrently over the same store; exclusivity
// belongs to the external scheduler.
type Sweep struct {
	repo          SweepRepository
	subscriber    Subscriber
	window        time.Duration
	delay         time.Duration
	verifyTimeout time.Duration
	log           *zap.SugaredLogger

	sleep func(time.Duration)
}

// NewSweep builds a Sweep. window is the expiry look-ahead, delay the
// pause between hub requests, verifyTimeout how long a pending row may
// wait for verification before it is marked failed.
func NewSweep(repo SweepRepository, subscriber Subscriber,
	window, delay, verifyTimeout time.Duration) *Sweep {
	return &Sweep{
		repo:          repo,
		subscriber:    subscriber,
		window:        window,
		delay:         delay,
		verifyTimeout: verifyTimeout,
		log:           zap.S().Named("sweep"),
		sleep:         time.Sleep,
	}
}

// Run executes one sweep: persist lapsed leases, fail stale pending
// rows, then re-subscribe everything expiring inside the window. A
// renewal failure leaves the row active; it stays usable until its
// lease actually passes.
func (s *Sweep) Run(ctx context.Context) (SweepSummary, error) {
	now := time.Now()
	var sum SweepSummary

	lapsed, err := s.repo.ExpireLapsed(ctx, now)
	if err != nil {
		return sum, err
	}
	sum.Lapsed = lapsed

	stale, err := s.repo.FailStalePending(ctx, now.Add(-s.verifyTimeout))
	if err != nil {
		return sum, err
	}
	sum.StalePending = stale

	subs, err := s.repo.ExpiringWithin(ctx, now, s.window)
	if err != nil {
		return sum, err
	}
	sum.Due = len(subs)

	for i, sub := range subs {
		if i > 0 {
			s.sleep(s.delay)
		}
		if s.subscriber.Subscribe(ctx, sub.Topic, sub.Hub) {
			sum.Renewed++
		} else {
			sum.Failed++
			s.log.Warnw("renewal failed, will retry next sweep",
				"topic", sub.Topic, "hub", sub.Hub, "expires_at", sub.ExpiresAt)
		}
	}

	s.log.Infow("renewal sweep finished",
		"due", sum.Due, "renewed", sum.Renewed, "failed", sum.Failed,
		"lapsed", sum.Lapsed, "stale_pending", sum.StalePending)
	return sum, nil
}

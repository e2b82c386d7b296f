// Package usecase contains application-level services.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tesso57/websubd/internal/domain/websub"
)

// Errors the callback handler maps onto HTTP status codes.
var (
	// ErrUnknownTopic means no non-terminal subscription exists for
	// the topic. Echoing a challenge anyway would let a third party
	// confirm arbitrary subscriptions, so callers must reject.
	ErrUnknownTopic = errors.New("no subscription for topic")
	// ErrNotActive means the subscription exists but its lease lapsed.
	ErrNotActive = errors.New("subscription is not active")
	// ErrBadSignature means the notification body does not match the
	// X-Hub-Signature under the stored secret.
	ErrBadSignature = errors.New("signature mismatch")
)

// SubscriptionRepository abstracts persistence for subscriptions.
type SubscriptionRepository interface {
	Get(ctx context.Context, topic, hub string) (*websub.Subscription, error)
	GetByTopic(ctx context.Context, topic string) (*websub.Subscription, error)
	GetActiveByTopic(ctx context.Context, topic string) (*websub.Subscription, error)
	Create(ctx context.Context, sub *websub.Subscription) error
	SetPending(ctx context.Context, topic, hub string, leaseSeconds int) error
	Activate(ctx context.Context, id string, leaseSeconds int, expiresAt time.Time) (bool, error)
	RenewActive(ctx context.Context, id string, leaseSeconds int, expiresAt time.Time) (bool, error)
	MarkExpired(ctx context.Context, id string) error
}

// HubClient sends intent requests to a hub.
type HubClient interface {
	Subscribe(ctx context.Context, hubURL string, req websub.SubscribeRequest) error
	Unsubscribe(ctx context.Context, hubURL string, req websub.SubscribeRequest) error
}

// FeedInfo is what a direct feed fetch yields.
type FeedInfo struct {
	Title     string
	BuildDate time.Time
	ItemCount int
	Preview   string
	Raw       []byte
}

// FeedFetcher fetches a feed directly, bypassing the hub.
type FeedFetcher interface {
	Fetch(ctx context.Context, url string) (*FeedInfo, error)
}

// NotificationProcessor consumes verified raw feed payloads. It must
// tolerate being invoked twice with identical content.
type NotificationProcessor interface {
	Process(ctx context.Context, topic string, payload []byte) error
}

// Manager orchestrates the subscription lifecycle: it is the single
// entry point for first-time subscriptions and renewals, and applies
// the state transitions driven by hub callbacks.
type Manager struct {
	repo         SubscriptionRepository
	hub          HubClient
	fetcher      FeedFetcher
	processor    NotificationProcessor
	callbackURL  string
	leaseSeconds int
	log          *zap.SugaredLogger
}

// NewManager constructs a Manager. callbackURL is the externally
// reachable URL of this deployment's callback endpoint; leaseSeconds
// is the lease duration requested from hubs.
func NewManager(repo SubscriptionRepository, hub HubClient, fetcher FeedFetcher,
	processor NotificationProcessor, callbackURL string, leaseSeconds int) *Manager {
	return &Manager{
		repo:         repo,
		hub:          hub,
		fetcher:      fetcher,
		processor:    processor,
		callbackURL:  callbackURL,
		leaseSeconds: leaseSeconds,
		log:          zap.S().Named("manager"),
	}
}

// Subscribe asks the topic's hub to (re)establish the subscription.
// The first call for a (topic, hub) pair generates the secret and
// creates a pending row; later calls are renewals and reuse the
// stored secret, since the hub may keep signing with it during the
// renewal window. Returns false instead of an error on any failure so
// batch callers can keep going.
func (m *Manager) Subscribe(ctx context.Context, topic, hubURL string) bool {
	topic, hubURL, err := normalizePair(topic, hubURL)
	if err != nil {
		m.log.Warnw("rejecting subscribe", "err", err)
		return false
	}

	existing, err := m.repo.Get(ctx, topic, hubURL)
	if err != nil {
		m.log.Errorw("loading subscription", "topic", topic, "err", err)
		return false
	}

	secret := ""
	if existing != nil {
		secret = existing.Secret
	} else {
		secret, err = websub.NewSecret()
		if err != nil {
			m.log.Errorw("generating secret", "err", err)
			return false
		}
	}

	err = m.hub.Subscribe(ctx, hubURL, websub.SubscribeRequest{
		Topic:        topic,
		Callback:     m.callbackURL,
		Secret:       secret,
		LeaseSeconds: m.leaseSeconds,
	})
	if err != nil {
		m.log.Warnw("hub rejected subscribe", "topic", topic, "hub", hubURL, "err", err)
		return false
	}

	now := time.Now()
	switch {
	case existing == nil:
		err = m.repo.Create(ctx, &websub.Subscription{
			Topic:        topic,
			Hub:          hubURL,
			Secret:       secret,
			Status:       websub.StatusPending,
			LeaseSeconds: m.leaseSeconds,
		})
	case existing.Status == websub.StatusActive && !existing.Lapsed(now):
		// Renewal of a live lease: the row stays active under the old
		// expiry until the hub's new verification lands.
	default:
		err = m.repo.SetPending(ctx, topic, hubURL, m.leaseSeconds)
	}
	if err != nil {
		m.log.Errorw("storing subscription", "topic", topic, "err", err)
		return false
	}

	m.log.Infow("subscribe requested", "topic", topic, "hub", hubURL, "renewal", existing != nil)
	return true
}

// Unsubscribe asks the hub to stop pushing the topic. The row stays in
// its current state until the hub's unsubscribe verification arrives.
func (m *Manager) Unsubscribe(ctx context.Context, topic, hubURL string) bool {
	topic, hubURL, err := normalizePair(topic, hubURL)
	if err != nil {
		m.log.Warnw("rejecting unsubscribe", "err", err)
		return false
	}

	existing, err := m.repo.Get(ctx, topic, hubURL)
	if err != nil {
		m.log.Errorw("loading subscription", "topic", topic, "err", err)
		return false
	}
	if existing == nil {
		m.log.Warnw("unsubscribe for unknown pair", "topic", topic, "hub", hubURL)
		return false
	}

	err = m.hub.Unsubscribe(ctx, hubURL, websub.SubscribeRequest{
		Topic:    topic,
		Callback: m.callbackURL,
	})
	if err != nil {
		m.log.Warnw("hub rejected unsubscribe", "topic", topic, "hub", hubURL, "err", err)
		return false
	}
	return true
}

// ConfirmVerification applies the state change behind a verification
// GET. ErrUnknownTopic is returned when no non-terminal subscription
// matches; the caller must then withhold the challenge echo.
func (m *Manager) ConfirmVerification(ctx context.Context, mode, topic string, leaseSeconds int) error {
	sub, err := m.repo.GetByTopic(ctx, topic)
	if err != nil {
		return err
	}
	if sub == nil {
		return ErrUnknownTopic
	}

	// All transitions are scoped to the resolved row's id: a topic
	// subscribed through two hubs must never see one hub's verification
	// touch the other hub's row.
	switch mode {
	case websub.ModeSubscribe:
		expiresAt := time.Now().Add(time.Duration(leaseSeconds) * time.Second)
		if sub.Status == websub.StatusPending {
			done, err := m.repo.Activate(ctx, sub.ID, leaseSeconds, expiresAt)
			if err != nil {
				return err
			}
			if done {
				m.log.Infow("subscription verified", "topic", topic, "lease_seconds", leaseSeconds)
				return nil
			}
			// A concurrent verification won the race; fall through and
			// treat this delivery as a lease extension.
		}
		if _, err := m.repo.RenewActive(ctx, sub.ID, leaseSeconds, expiresAt); err != nil {
			return err
		}
		m.log.Infow("subscription lease renewed", "topic", topic, "lease_seconds", leaseSeconds)
		return nil
	case websub.ModeUnsubscribe:
		if err := m.repo.MarkExpired(ctx, sub.ID); err != nil {
			return err
		}
		m.log.Infow("unsubscribe verified", "topic", topic)
		return nil
	default:
		return fmt.Errorf("unsupported hub.mode %q", mode)
	}
}

// HandleNotification verifies and processes a pushed payload.
// Signature verification against the stored secret is the security
// boundary: knowing a topic name is not enough to inject content.
func (m *Manager) HandleNotification(ctx context.Context, topic, signature string, body []byte) error {
	sub, err := m.repo.GetActiveByTopic(ctx, topic)
	if err != nil {
		return err
	}
	if sub == nil {
		return ErrUnknownTopic
	}
	if sub.EffectiveStatus(time.Now()) != websub.StatusActive {
		return ErrNotActive
	}
	if !websub.VerifySignature(sub.Secret, body, signature) {
		m.log.Warnw("rejecting notification with bad signature", "topic", topic)
		return ErrBadSignature
	}
	return m.processor.Process(ctx, topic, body)
}

// FeedCheck is the result of a direct poll of a topic.
type FeedCheck struct {
	Topic                string    `json:"topic"`
	LastBuildDate        time.Time `json:"lastBuildDate"`
	LastNotificationDate time.Time `json:"lastNotificationDate"`
	HasChanged           bool      `json:"hasChanged"`
	FeedTitle            string    `json:"feedTitle"`
	ItemCount            int       `json:"itemCount"`
	Preview              string    `json:"preview"`
}

// CheckFeedForUpdates polls the feed directly and compares its build
// date to the last recorded push. WebSub delivery is best-effort; this
// is the only way to notice a hub that silently stopped pushing.
func (m *Manager) CheckFeedForUpdates(ctx context.Context, topic string) (*FeedCheck, error) {
	sub, err := m.repo.GetByTopic(ctx, topic)
	if err != nil {
		return nil, err
	}

	info, err := m.fetcher.Fetch(ctx, topic)
	if err != nil {
		return nil, err
	}

	var lastPush time.Time
	if sub != nil {
		lastPush = sub.LastNotifiedAt
	}
	return &FeedCheck{
		Topic:                topic,
		LastBuildDate:        info.BuildDate,
		LastNotificationDate: lastPush,
		HasChanged:           info.BuildDate.After(lastPush),
		FeedTitle:            info.Title,
		ItemCount:            info.ItemCount,
		Preview:              info.Preview,
	}, nil
}

// ProcessResult reports a forced processing run.
type ProcessResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ManuallyProcessFeed fetches the feed directly and pushes it through
// the same processing path a verified notification would take. No
// signature or hub involvement; operator escape hatch.
func (m *Manager) ManuallyProcessFeed(ctx context.Context, topic string) ProcessResult {
	info, err := m.fetcher.Fetch(ctx, topic)
	if err != nil {
		return ProcessResult{Message: err.Error()}
	}
	if err := m.processor.Process(ctx, topic, info.Raw); err != nil {
		return ProcessResult{Message: err.Error()}
	}
	return ProcessResult{
		Success: true,
		Message: fmt.Sprintf("processed %d items from %s", info.ItemCount, topic),
	}
}

// SubscriptionInfo is the read-only dump served by the debug endpoint.
type SubscriptionInfo struct {
	Topic          string        `json:"topic"`
	Hub            string        `json:"hub"`
	Status         websub.Status `json:"status"`
	LeaseSeconds   int           `json:"leaseSeconds"`
	ExpiresAt      time.Time     `json:"expiresAt"`
	LastNotifiedAt time.Time     `json:"lastNotifiedAt"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// VerifyInfo returns the stored subscription for a topic with its
// effective status. The secret is deliberately not included.
func (m *Manager) VerifyInfo(ctx context.Context, topic string) (*SubscriptionInfo, error) {
	sub, err := m.repo.GetByTopic(ctx, topic)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrUnknownTopic
	}
	return &SubscriptionInfo{
		Topic:          sub.Topic,
		Hub:            sub.Hub,
		Status:         sub.EffectiveStatus(time.Now()),
		LeaseSeconds:   sub.LeaseSeconds,
		ExpiresAt:      sub.ExpiresAt,
		LastNotifiedAt: sub.LastNotifiedAt,
		CreatedAt:      sub.CreatedAt,
		UpdatedAt:      sub.UpdatedAt,
	}, nil
}

func normalizePair(topic, hubURL string) (string, string, error) {
	topic = strings.TrimSpace(topic)
	hubURL = strings.TrimSpace(hubURL)
	if topic == "" {
		return "", "", fmt.Errorf("topic url is empty")
	}
	if hubURL == "" {
		return "", "", fmt.Errorf("hub url is empty")
	}
	if strings.ContainsAny(topic, " \t\r\n") || strings.ContainsAny(hubURL, " \t\r\n") {
		return "", "", fmt.Errorf("url contains whitespace")
	}
	return topic, hubURL, nil
}

// Package websub defines the subscription models for the WebSub
// (PubSubHubbub) subscriber side.
package websub

import "time"

// Status is the lifecycle state of a subscription.
type Status string

const (
	// StatusPending means a subscribe request was accepted by the hub
	// but the verification challenge has not arrived yet.
	StatusPending Status = "pending"
	// StatusActive means the hub verified our intent and is pushing.
	StatusActive Status = "active"
	// StatusExpired means the lease lapsed or we unsubscribed.
	StatusExpired Status = "expired"
	// StatusFailed means verification never arrived in time.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	return s == StatusExpired || s == StatusFailed
}

// Modes used in hub requests and verification callbacks.
const (
	ModeSubscribe   = "subscribe"
	ModeUnsubscribe = "unsubscribe"
)

// Subscription is one (topic, hub) pair being watched. Topic and Hub
// are immutable after creation; Secret is generated before the hub is
// first contacted and reused across renewals.
type Subscription struct {
	ID             string    `db:"id"`
	Topic          string    `db:"topic"`
	Hub            string    `db:"hub"`
	Secret         string    `db:"secret"`
	Status         Status    `db:"status"`
	LeaseSeconds   int       `db:"lease_seconds"`
	ExpiresAt      time.Time `db:"expires_at"`
	LastNotifiedAt time.Time `db:"last_notified_at"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Lapsed reports whether an active subscription's lease has passed.
// ExpiresAt is only meaningful while the subscription is active.
func (s *Subscription) Lapsed(now time.Time) bool {
	return s.Status == StatusActive && !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(now)
}

// EffectiveStatus is the status readers should act on: an active
// subscription whose lease has passed counts as expired even if the
// row has not been rewritten yet.
func (s *Subscription) EffectiveStatus(now time.Time) Status {
	if s.Lapsed(now) {
		return StatusExpired
	}
	return s.Status
}

// SubscribeRequest carries the fields of an outbound intent request.
// https://www.w3.org/TR/websub/#x5-1-subscriber-sends-subscription-request
type SubscribeRequest struct {
	Mode         string
	Topic        string
	Callback     string
	Secret       string
	LeaseSeconds int
}

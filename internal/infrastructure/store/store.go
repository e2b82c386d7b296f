// Package store persists subscriptions and notification deliveries in
// sqlite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/tesso57/websubd/internal/domain/websub"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

const schema = `
CREATE TABLE IF NOT EXISTS subscriptions (
	id TEXT PRIMARY KEY,
	topic TEXT NOT NULL,
	hub TEXT NOT NULL,
	secret TEXT NOT NULL,
	status TEXT NOT NULL,
	lease_seconds INTEGER NOT NULL DEFAULT 0,
	expires_at INTEGER NOT NULL DEFAULT 0,
	last_notified_at INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	UNIQUE (topic, hub)
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_status_expires
	ON subscriptions (status, expires_at);

CREATE TABLE IF NOT EXISTS deliveries (
	id TEXT PRIMARY KEY,
	topic TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	item_count INTEGER NOT NULL DEFAULT 0,
	received_at INTEGER NOT NULL,
	UNIQUE (topic, content_hash)
);
`

// Store wraps the sqlite database holding subscription state.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY between the handler and the sweep.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// subscriptionRow mirrors the subscriptions table; timestamps are unix
// seconds.
type subscriptionRow struct {
	ID             string        `db:"id"`
	Topic          string        `db:"topic"`
	Hub            string        `db:"hub"`
	Secret         string        `db:"secret"`
	Status         websub.Status `db:"status"`
	LeaseSeconds   int           `db:"lease_seconds"`
	ExpiresAt      int64         `db:"expires_at"`
	LastNotifiedAt int64         `db:"last_notified_at"`
	CreatedAt      int64         `db:"created_at"`
	UpdatedAt      int64         `db:"updated_at"`
}

func (r subscriptionRow) toDomain() *websub.Subscription {
	sub := &websub.Subscription{
		ID:           r.ID,
		Topic:        r.Topic,
		Hub:          r.Hub,
		Secret:       r.Secret,
		Status:       r.Status,
		LeaseSeconds: r.LeaseSeconds,
		CreatedAt:    time.Unix(r.CreatedAt, 0),
		UpdatedAt:    time.Unix(r.UpdatedAt, 0),
	}
	if r.ExpiresAt > 0 {
		sub.ExpiresAt = time.Unix(r.ExpiresAt, 0)
	}
	if r.LastNotifiedAt > 0 {
		sub.LastNotifiedAt = time.Unix(r.LastNotifiedAt, 0)
	}
	return sub
}

const subscriptionColumns = `id, topic, hub, secret, status, lease_seconds,
	expires_at, last_notified_at, created_at, updated_at`

// Get returns the subscription for the (topic, hub) pair, or nil if
// none exists.
func (s *Store) Get(ctx context.Context, topic, hub string) (*websub.Subscription, error) {
	var row subscriptionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE topic = ? AND hub = ?`,
		topic, hub)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

// GetByTopic returns the single non-terminal subscription for a topic.
// The verification callback only carries hub.topic, so pending rows
// win over active ones when both exist.
func (s *Store) GetByTopic(ctx context.Context, topic string) (*websub.Subscription, error) {
	var row subscriptionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE topic = ? AND status IN (?, ?)
		 ORDER BY CASE status WHEN ? THEN 0 ELSE 1 END
		 LIMIT 1`,
		topic, websub.StatusPending, websub.StatusActive, websub.StatusPending)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

// GetActiveByTopic returns the active subscription for a topic, or nil.
func (s *Store) GetActiveByTopic(ctx context.Context, topic string) (*websub.Subscription, error) {
	var row subscriptionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE topic = ? AND status = ?`,
		topic, websub.StatusActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

// Create inserts a new subscription row. ID, CreatedAt and UpdatedAt
// are filled in if unset.
func (s *Store) Create(ctx context.Context, sub *websub.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	var expires int64
	if !sub.ExpiresAt.IsZero() {
		expires = sub.ExpiresAt.Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions
		 (id, topic, hub, secret, status, lease_seconds, expires_at, last_notified_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		sub.ID, sub.Topic, sub.Hub, sub.Secret, sub.Status, sub.LeaseSeconds,
		expires, sub.CreatedAt.Unix(), sub.UpdatedAt.Unix())
	return err
}

// SetPending puts an existing row back into the pending state for a
// fresh verification round. The secret is left untouched.
func (s *Store) SetPending(ctx context.Context, topic, hub string, leaseSeconds int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = ?, lease_seconds = ?, updated_at = ?
		 WHERE topic = ? AND hub = ?`,
		websub.StatusPending, leaseSeconds, time.Now().Unix(), topic, hub)
	return err
}

// Activate transitions a pending subscription to active, recording the
// granted lease. Scoped to a single row id so a topic subscribed
// through two hubs never sees one hub's verification flip the other's
// row. The status guard makes a redelivered verification a no-op; the
// bool reports whether this call did the transition.
func (s *Store) Activate(ctx context.Context, id string, leaseSeconds int, expiresAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = ?, lease_seconds = ?, expires_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		websub.StatusActive, leaseSeconds, expiresAt.Unix(), time.Now().Unix(),
		id, websub.StatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RenewActive extends the lease of an already-active subscription, as
// happens when a renewal is re-verified before the old lease lapsed.
func (s *Store) RenewActive(ctx context.Context, id string, leaseSeconds int, expiresAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET lease_seconds = ?, expires_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		leaseSeconds, expiresAt.Unix(), time.Now().Unix(), id, websub.StatusActive)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkExpired moves a single non-terminal subscription to expired.
// Used for unsubscribe verifications and operator cleanup.
func (s *Store) MarkExpired(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		websub.StatusExpired, time.Now().Unix(),
		id, websub.StatusPending, websub.StatusActive)
	return err
}

// ExpireLapsed persists the expired state for active rows whose lease
// has already passed. Readers do not depend on this; it keeps the
// table converged.
func (s *Store) ExpireLapsed(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = ?, updated_at = ?
		 WHERE status = ? AND expires_at > 0 AND expires_at < ?`,
		websub.StatusExpired, now.Unix(), websub.StatusActive, now.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FailStalePending marks pending rows last touched before cutoff as
// failed: their verification never arrived.
func (s *Store) FailStalePending(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = ?, updated_at = ?
		 WHERE status = ? AND updated_at < ?`,
		websub.StatusFailed, time.Now().Unix(), websub.StatusPending, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ExpiringWithin returns active subscriptions whose lease ends inside
// the look-ahead window starting at now, soonest first.
func (s *Store) ExpiringWithin(ctx context.Context, now time.Time, window time.Duration) ([]*websub.Subscription, error) {
	var rows []subscriptionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+subscriptionColumns+` FROM subscriptions
		 WHERE status = ? AND expires_at >= ? AND expires_at <= ?
		 ORDER BY expires_at`,
		websub.StatusActive, now.Unix(), now.Add(window).Unix())
	if err != nil {
		return nil, err
	}
	subs := make([]*websub.Subscription, len(rows))
	for i, row := range rows {
		subs[i] = row.toDomain()
	}
	return subs, nil
}

// TouchNotified records the time a verified push was processed for a
// topic.
func (s *Store) TouchNotified(ctx context.Context, topic string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET last_notified_at = ?, updated_at = ? WHERE topic = ?`,
		at.Unix(), at.Unix(), topic)
	return err
}

// RecordDelivery inserts a delivery audit row. The (topic, hash) unique
// index makes redelivered notifications a no-op; the bool reports
// whether the row was new.
func (s *Store) RecordDelivery(ctx context.Context, topic, contentHash string, itemCount int, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO deliveries (id, topic, content_hash, item_count, received_at)
		 VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), topic, contentHash, itemCount, at.Unix())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Package processor handles verified notification payloads.
package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/tesso57/websubd/internal/infrastructure/feed"
)

// DeliveryStore is the slice of the store the processor writes to.
type DeliveryStore interface {
	RecordDelivery(ctx context.Context, topic, contentHash string, itemCount int, at time.Time) (bool, error)
	TouchNotified(ctx context.Context, topic string, at time.Time) error
}

// Processor validates pushed feed payloads and records their arrival.
// Hubs may redeliver; the content-hash delivery key makes a replay of
// the identical payload a no-op, so processing is idempotent.
type Processor struct {
	store DeliveryStore
	log   *zap.SugaredLogger
}

// New builds a Processor over the given store.
func New(store DeliveryStore) *Processor {
	return &Processor{
		store: store,
		log:   zap.S().Named("processor"),
	}
}

// Process parses the raw payload pushed for topic and records the
// delivery. The payload must be a well-formed RSS/Atom document.
func (p *Processor) Process(ctx context.Context, topic string, payload []byte) error {
	parsed, err := feed.Parse(payload)
	if err != nil {
		return fmt.Errorf("parsing notification for %s: %w", topic, err)
	}

	sum := sha256.Sum256(payload)
	hash := hex.EncodeToString(sum[:])
	now := time.Now()

	inserted, err := p.store.RecordDelivery(ctx, topic, hash, len(parsed.Items), now)
	if err != nil {
		return fmt.Errorf("recording delivery for %s: %w", topic, err)
	}
	if !inserted {
		p.log.Debugw("duplicate delivery", "topic", topic, "hash", hash)
	}

	if err := p.store.TouchNotified(ctx, topic, now); err != nil {
		return fmt.Errorf("touching notification time for %s: %w", topic, err)
	}

	p.log.Infow("notification processed",
		"topic", topic, "items", len(parsed.Items), "new", inserted)
	return nil
}

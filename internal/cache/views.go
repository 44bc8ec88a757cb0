// Package cache keeps rendered request/ticket views in Redis and drops them
// when a domain event reports the underlying entity changed.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/ops-portal/internal/events"
)

const keyPrefix = "ops:view"

// minGenerationTTL keeps generation counters alive well past any view they guard.
const minGenerationTTL = 24 * time.Hour

var errStaleView = errors.New("view generation moved")

// Variant distinguishes views of the same entity rendered for different audiences.
type Variant string

const (
	VariantStaff  Variant = "staff"
	VariantPublic Variant = "public"
)

var allVariants = []Variant{VariantStaff, VariantPublic}

// Views is a read-through JSON cache. A nil client or zero TTL disables it.
type Views struct {
	client  *redis.Client
	channel string
	ttl     time.Duration
	logger  *zap.Logger
}

// NewViews builds the cache. channel receives every handled event; empty disables fan-out.
func NewViews(client *redis.Client, channel string, ttl time.Duration, logger *zap.Logger) *Views {
	return &Views{client: client, channel: channel, ttl: ttl, logger: logger}
}

// Key returns the cache key of one view.
func Key(kind events.AggregateType, id string, variant Variant) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, kind, id, variant)
}

func generationKey(kind events.AggregateType, id string) string {
	return fmt.Sprintf("%s:%s:%s:gen", keyPrefix, kind, id)
}

func (v *Views) generationTTL() time.Duration {
	if ttl := 2 * v.ttl; ttl > minGenerationTTL {
		return ttl
	}
	return minGenerationTTL
}

func (v *Views) enabled() bool {
	return v != nil && v.client != nil && v.ttl > 0
}

// Get loads a cached view into dst. Any cache failure is reported as a miss.
func (v *Views) Get(ctx context.Context, kind events.AggregateType, id string, variant Variant, dst any) bool {
	if !v.enabled() {
		return false
	}
	raw, err := v.client.Get(ctx, Key(kind, id, variant)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			v.logger.Debug("view cache read failed", zap.String("id", id), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		v.logger.Warn("view cache entry corrupt", zap.String("id", id), zap.Error(err))
		return false
	}
	return true
}

// Generation returns the entity's invalidation counter. Read it before loading
// the entity from the store and hand it to Put. -1 means unknown, and Put
// then skips the write.
func (v *Views) Generation(ctx context.Context, kind events.AggregateType, id string) int64 {
	if !v.enabled() {
		return -1
	}
	gen, err := v.client.Get(ctx, generationKey(kind, id)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		v.logger.Debug("view generation read failed", zap.String("id", id), zap.Error(err))
		return -1
	}
	return gen
}

// Put stores a view loaded at generation. If an invalidation happened since,
// the view is stale and is dropped. Failures are logged only.
func (v *Views) Put(ctx context.Context, kind events.AggregateType, id string, variant Variant, generation int64, view any) {
	if !v.enabled() || generation < 0 {
		return
	}
	raw, err := json.Marshal(view)
	if err != nil {
		v.logger.Warn("view cache encode failed", zap.String("id", id), zap.Error(err))
		return
	}
	genKey := generationKey(kind, id)
	err = v.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != generation {
			return errStaleView
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, Key(kind, id, variant), raw, v.ttl)
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil:
	case errors.Is(err, errStaleView), errors.Is(err, redis.TxFailedErr):
		v.logger.Debug("stale view not cached", zap.String("id", id))
	default:
		v.logger.Debug("view cache write failed", zap.String("id", id), zap.Error(err))
	}
}

// Invalidate drops every variant of an entity's view and bumps its generation
// so in-flight readers do not write back what they loaded before the change.
func (v *Views) Invalidate(ctx context.Context, kind events.AggregateType, id string) error {
	if v == nil || v.client == nil {
		return nil
	}
	keys := make([]string, 0, len(allVariants))
	for _, variant := range allVariants {
		keys = append(keys, Key(kind, id, variant))
	}
	genKey := generationKey(kind, id)
	_, err := v.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, v.generationTTL())
		pipe.Del(ctx, keys...)
		return nil
	})
	return err
}

// HandleEvent is an events.EventHandler: it invalidates the entity's views and
// forwards the event to the Redis channel so other portal instances and UIs
// can refresh.
func (v *Views) HandleEvent(ctx context.Context, event events.Event) error {
	if v == nil || v.client == nil {
		return nil
	}
	var errs []error
	if err := v.Invalidate(ctx, event.AggregateType, event.AggregateID); err != nil {
		errs = append(errs, fmt.Errorf("invalidate %s %s: %w", event.AggregateType, event.AggregateID, err))
	}
	if v.channel != "" {
		raw, err := json.Marshal(event)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode event: %w", err))
		} else if err := v.client.Publish(ctx, v.channel, raw).Err(); err != nil {
			errs = append(errs, fmt.Errorf("publish event: %w", err))
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		v.logger.Warn("cache invalidation failed", zap.String("event_type", string(event.Type)), zap.Error(err))
	}
	return err
}

package cache

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

// Tiered reads through its tiers fastest first and back-fills the faster
// tiers on a hit further down. A failing tier is logged and skipped, so a
// Redis outage degrades to a slower lookup instead of an error.
type Tiered struct {
	tiers  []Tier
	ttl    time.Duration
	logger logrus.FieldLogger
}

// NewTiered chains tiers in the given order. Nil tiers are ignored.
func NewTiered(ttl time.Duration, logger logrus.FieldLogger, tiers ...Tier) *Tiered {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	t := &Tiered{ttl: ttl, logger: logger}
	for _, tier := range tiers {
		if tier != nil {
			t.tiers = append(t.tiers, tier)
		}
	}
	return t
}

// Name implements Tier.
func (t *Tiered) Name() string { return "tiered" }

// Tiers returns the tier names in lookup order.
func (t *Tiered) Tiers() []string {
	names := make([]string, len(t.tiers))
	for i, tier := range t.tiers {
		names[i] = tier.Name()
	}
	return names
}

// Get implements Tier.
func (t *Tiered) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, _, ok, err := t.GetWithTTL(ctx, key)
	return value, ok, err
}

// GetWithTTL implements ExpiringTier. Faster tiers are back-filled with
// the hit's remaining lifetime; a hit whose expiry is unknown is not
// back-filled.
func (t *Tiered) GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, bool, error) {
	for i, tier := range t.tiers {
		value, remaining, ok, err := getWithTTL(ctx, tier, key)
		if err != nil {
			t.logger.WithFields(logrus.Fields{
				"tier":      tier.Name(),
				"cache_key": key,
			}).WithError(err).Warn("cache tier read failed")
			continue
		}
		if !ok {
			continue
		}
		log := t.logger.WithFields(logrus.Fields{
			"tier":      tier.Name(),
			"cache_key": key,
		})
		log.Debug("cache hit")
		if i == 0 {
			return value, remaining, true, nil
		}
		if remaining <= 0 {
			log.Debug("expiry unknown; not back-filling")
			return value, remaining, true, nil
		}
		remaining = min(remaining, t.ttl)
		for _, faster := range t.tiers[:i] {
			if err := faster.Set(ctx, key, value, remaining); err != nil {
				t.logger.WithFields(logrus.Fields{
					"tier":      faster.Name(),
					"cache_key": key,
				}).WithError(err).Warn("cache back-fill failed")
			}
		}
		return value, remaining, true, nil
	}
	return nil, 0, false, nil
}

// getWithTTL reads through GetWithTTL when tier supports it.
func getWithTTL(ctx context.Context, tier Tier, key string) ([]byte, time.Duration, bool, error) {
	if et, ok := tier.(ExpiringTier); ok {
		return et.GetWithTTL(ctx, key)
	}
	value, ok, err := tier.Get(ctx, key)
	return value, 0, ok, err
}

// Set writes to every tier. It fails only when no tier accepted the value.
func (t *Tiered) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = t.ttl
	}
	var errs []error
	for _, tier := range t.tiers {
		if err := tier.Set(ctx, key, value, ttl); err != nil {
			t.logger.WithFields(logrus.Fields{
				"tier":      tier.Name(),
				"cache_key": key,
			}).WithError(err).Warn("cache tier write failed")
			errs = append(errs, err)
		}
	}
	if len(t.tiers) > 0 && len(errs) == len(t.tiers) {
		return errors.Join(errs...)
	}
	return nil
}

// Delete removes key from every tier.
func (t *Tiered) Delete(ctx context.Context, key string) error {
	var errs []error
	for _, tier := range t.tiers {
		if err := tier.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeletePrefix removes matching keys from every tier.
func (t *Tiered) DeletePrefix(ctx context.Context, prefix string) error {
	var errs []error
	for _, tier := range t.tiers {
		if err := tier.DeletePrefix(ctx, prefix); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

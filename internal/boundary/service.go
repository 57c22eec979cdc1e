// Package boundary serves org-unit boundaries as GeoJSON. Results are cached
// per (database, level, parent, children) for a day; a miss fetches
// /api/geoFeatures and converts each feature, dropping malformed ones.
package boundary

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spaolacci/murmur3"

	"github.com/hmis-ug/dhis2sql/internal/cache"
	"github.com/hmis-ug/dhis2sql/internal/dhis2"
	dherrors "github.com/hmis-ug/dhis2sql/internal/errors"
	"github.com/hmis-ug/dhis2sql/pkg/types"
)

// GeoClient fetches raw geoFeatures.
type GeoClient interface {
	GeoFeatures(ctx context.Context, ouParam string) ([]dhis2.GeoFeature, error)
}

// ClientProvider returns the DHIS2 client of a configured database.
type ClientProvider interface {
	GeoClient(ctx context.Context, databaseID int64) (GeoClient, error)
}

// ClientProviderFunc adapts a function to ClientProvider.
type ClientProviderFunc func(ctx context.Context, databaseID int64) (GeoClient, error)

// GeoClient implements ClientProvider.
func (f ClientProviderFunc) GeoClient(ctx context.Context, databaseID int64) (GeoClient, error) {
	return f(ctx, databaseID)
}

// Result is a boundary lookup with its encoded form.
type Result struct {
	Collection *types.FeatureCollection
	// Payload is the JSON encoding of Collection
	Payload []byte
	// ETag is a digest of Payload
	ETag string
	// Cached reports whether the result came from the cache
	Cached bool
	// Dropped counts features left out as malformed (fresh fetches only)
	Dropped int
}

// Service looks up boundaries through the cache.
type Service struct {
	provider ClientProvider
	cache    cache.Tier
	ttl      time.Duration
	logger   logrus.FieldLogger
}

// Option configures a Service.
type Option func(*Service)

// WithCache sets the cache tier. The default is an in-process TTLCache.
func WithCache(t cache.Tier) Option {
	return func(s *Service) {
		if t != nil {
			s.cache = t
		}
	}
}

// WithTTL sets how long boundaries stay cached.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a boundary service.
func NewService(provider ClientProvider, opts ...Option) *Service {
	s := &Service{
		provider: provider,
		ttl:      cache.DefaultTTL,
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = cache.NewTTLCache(1024, s.ttl)
	}
	return s
}

// GetBoundaries returns the features at level, optionally under parentID,
// and when includeChildren is set also the features one level below.
func (s *Service) GetBoundaries(ctx context.Context, databaseID int64, level int, parentID string, includeChildren bool) (*types.FeatureCollection, error) {
	res, err := s.Lookup(ctx, types.BoundaryKey{
		DatabaseID:      databaseID,
		Level:           level,
		ParentID:        parentID,
		IncludeChildren: includeChildren,
	})
	if err != nil {
		return nil, err
	}
	return res.Collection, nil
}

// Lookup is GetBoundaries with the encoded payload and cache details.
func (s *Service) Lookup(ctx context.Context, key types.BoundaryKey) (*Result, error) {
	if key.Level < 1 {
		return nil, dherrors.NewValidationError(dherrors.CodeInvalidArgument,
			fmt.Sprintf("boundary level must be 1 or more, got %d", key.Level))
	}
	if key.ParentID != "" && !dhis2.IsUID(key.ParentID) {
		return nil, dherrors.NewValidationError(dherrors.CodeInvalidArgument,
			fmt.Sprintf("parent %q is not a DHIS2 UID", key.ParentID))
	}

	cacheKey := key.String()
	log := s.logger.WithField("cache_key", cacheKey)

	payload, ok, err := s.cache.Get(ctx, cacheKey)
	if err != nil {
		log.WithError(err).Warn("boundary cache read failed")
	}
	if ok {
		var fc types.FeatureCollection
		if err := json.Unmarshal(payload, &fc); err == nil {
			log.Debug("boundary cache hit")
			return &Result{Collection: &fc, Payload: payload, ETag: etag(payload), Cached: true}, nil
		}
		log.Warn("discarding undecodable cached boundaries")
		_ = s.cache.Delete(ctx, cacheKey)
	}

	client, err := s.provider.GeoClient(ctx, key.DatabaseID)
	if err != nil {
		return nil, err
	}
	raw, err := client.GeoFeatures(ctx, OUParam(key))
	if err != nil {
		return nil, err
	}

	fc := types.NewFeatureCollection()
	dropped := 0
	for _, f := range raw {
		feature, err := ConvertFeature(f)
		if err != nil {
			dropped++
			s.logger.WithFields(logrus.Fields{
				"feature_id": f.ID,
				"cache_key":  cacheKey,
			}).WithError(err).Warn("dropping malformed boundary feature")
			continue
		}
		fc.Features = append(fc.Features, feature)
	}

	payload, err = json.Marshal(fc)
	if err != nil {
		return nil, dherrors.NewInternalError("could not encode boundaries", err)
	}
	if err := s.cache.Set(ctx, cacheKey, payload, s.ttl); err != nil {
		log.WithError(err).Warn("boundary cache write failed")
	}

	log.WithFields(logrus.Fields{
		"features": len(fc.Features),
		"dropped":  dropped,
	}).Info("fetched boundaries")
	return &Result{Collection: fc, Payload: payload, ETag: etag(payload), Dropped: dropped}, nil
}

// Invalidate drops one cached boundary set.
func (s *Service) Invalidate(ctx context.Context, key types.BoundaryKey) error {
	return s.cache.Delete(ctx, key.String())
}

// InvalidateAll drops every cached boundary set of a database.
func (s *Service) InvalidateAll(ctx context.Context, databaseID int64) error {
	return s.cache.DeletePrefix(ctx, DatabasePrefix(databaseID))
}

// DatabasePrefix is the cache-key prefix shared by one database's entries.
func DatabasePrefix(databaseID int64) string {
	return "boundaries:" + strconv.FormatInt(databaseID, 10) + ":"
}

// OUParam builds the geoFeatures ou parameter for a key.
func OUParam(key types.BoundaryKey) string {
	p := "ou:"
	if key.ParentID != "" {
		p += key.ParentID + ";"
	}
	p += "LEVEL-" + strconv.Itoa(key.Level)
	if key.IncludeChildren {
		p += ";LEVEL-" + strconv.Itoa(key.Level+1)
	}
	return p
}

func etag(payload []byte) string {
	h1, h2 := murmur3.Sum128(payload)
	return fmt.Sprintf(`"%016x%016x"`, h1, h2)
}

// Package resolver turns an AppID into app metadata. Lookups are
// answered from the local cache when fresh; otherwise both network
// sources are consulted, their answers merged, and the cache healed
// with the result. Resolution is total: callers always get metadata
// back, possibly with nothing but the AppID filled in.
package resolver

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	accela "github.com/FaultyPacketOverflowVector/Accela"
	"github.com/FaultyPacketOverflowVector/Accela/database"
	"github.com/FaultyPacketOverflowVector/Accela/metrics"
)

// Config holds resolver tuning.
type Config struct {
	// MaxRetries bounds network retries per source per lookup.
	MaxRetries uint64
	// InitialInterval seeds the exponential backoff between retries.
	InitialInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
	}
}

// Resolver merges cached and network metadata for Steam apps.
type Resolver struct {
	cache      *database.MetadataCache
	primary    ProductInfoClient
	secondary  StorefrontClient
	config     Config
	logger     *logrus.Logger
}

// New builds a Resolver. cache may be nil, in which case every lookup
// goes to the network.
func New(cache *database.MetadataCache, primary ProductInfoClient, secondary StorefrontClient, config Config, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.New()
	}
	return &Resolver{
		cache:     cache,
		primary:   primary,
		secondary: secondary,
		config:    config,
		logger:    logger,
	}
}

// Resolve returns metadata for appID. The cache is consulted first; a
// miss triggers a network fetch whose merged result is written back so
// the next lookup is local. Resolve never fails: when every source
// comes up empty the result carries just the AppID.
func (r *Resolver) Resolve(ctx context.Context, appID string) *accela.AppMetadata {
	if r.cache != nil {
		cached, err := r.cache.Get(appID)
		if err != nil {
			r.logger.WithError(err).WithField("appid", appID).Warn("Cache read failed")
		}
		// Only a row that actually knows depots short-circuits the
		// network; a header-only or corrupt-blob row would otherwise
		// pin zero depots for the full expiration window.
		if cached != nil && len(cached.Depots) > 0 {
			metrics.CacheHits.Inc()
			return cached
		}
		metrics.CacheMisses.Inc()
	}

	meta := r.FetchFresh(ctx, appID)

	if r.cache != nil && !meta.Empty() {
		if err := r.cache.Upsert(meta); err != nil {
			r.logger.WithError(err).WithField("appid", appID).Warn("Cache heal failed")
		}
	}
	return meta
}

// FetchFresh bypasses the cache and queries both network sources,
// merging their answers. The update checker uses this directly so a
// stale cache can never mask a new build.
func (r *Resolver) FetchFresh(ctx context.Context, appID string) *accela.AppMetadata {
	primary := r.fetchPrimary(ctx, appID)
	secondary := r.fetchSecondary(ctx, appID)
	return merge(appID, primary, secondary)
}

func (r *Resolver) fetchPrimary(ctx context.Context, appID string) *accela.AppMetadata {
	if r.primary == nil {
		return nil
	}
	meta, err := r.retry(ctx, func() (*accela.AppMetadata, error) {
		return r.primary.ProductInfo(ctx, appID)
	})
	if err != nil {
		metrics.MetadataFetches.WithLabelValues("product_info", "error").Inc()
		r.logger.WithError(err).WithField("appid", appID).Warn("Product info fetch failed")
		return nil
	}
	metrics.MetadataFetches.WithLabelValues("product_info", "ok").Inc()
	return meta
}

func (r *Resolver) fetchSecondary(ctx context.Context, appID string) *accela.AppMetadata {
	if r.secondary == nil {
		return nil
	}
	meta, err := r.retry(ctx, func() (*accela.AppMetadata, error) {
		return r.secondary.AppDetails(ctx, appID)
	})
	if err != nil {
		metrics.MetadataFetches.WithLabelValues("storefront", "error").Inc()
		r.logger.WithError(err).WithField("appid", appID).Debug("Storefront fetch failed")
		return nil
	}
	metrics.MetadataFetches.WithLabelValues("storefront", "ok").Inc()
	return meta
}

func (r *Resolver) retry(ctx context.Context, fetch func() (*accela.AppMetadata, error)) (*accela.AppMetadata, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.config.InitialInterval

	var meta *accela.AppMetadata
	err := backoff.Retry(func() error {
		var err error
		meta, err = fetch()
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(policy, r.config.MaxRetries), ctx))
	return meta, err
}

// merge combines the two source answers. The product-info record wins
// whenever it actually knows depots; the storefront fills display
// fields, and its header image always takes precedence because the
// mirror's artwork lags behind the store's.
func merge(appID string, primary, secondary *accela.AppMetadata) *accela.AppMetadata {
	meta := &accela.AppMetadata{
		AppID:  appID,
		Depots: map[string]accela.DepotInfo{},
	}
	if primary != nil && len(primary.Depots) > 0 {
		*meta = *primary
	} else if secondary != nil {
		*meta = *secondary
		if primary != nil {
			if meta.Name == "" {
				meta.Name = primary.Name
			}
			if primary.InstallDir != "" {
				meta.InstallDir = primary.InstallDir
			}
			if primary.BuildID != "" {
				meta.BuildID = primary.BuildID
			}
		}
	} else if primary != nil {
		*meta = *primary
	}
	if secondary != nil && secondary.HeaderURL != "" {
		meta.HeaderURL = secondary.HeaderURL
	}
	if meta.Depots == nil {
		meta.Depots = map[string]accela.DepotInfo{}
	}
	meta.AppID = appID
	return meta
}

package feed

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type engineMetrics struct {
	cacheHits      metric.Int64Counter
	cacheMisses    metric.Int64Counter
	cacheErrors    metric.Int64Counter
	storeFallbacks metric.Int64Counter
	postsCreated   metric.Int64Counter
}

func newEngineMetrics(meter metric.Meter) *engineMetrics {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("feed")
	}
	return &engineMetrics{
		cacheHits:      counter(meter, "feed_cache_hits", "Post snapshots served from the cache"),
		cacheMisses:    counter(meter, "feed_cache_misses", "Post snapshots backfilled from the store"),
		cacheErrors:    counter(meter, "feed_cache_errors", "Cache operations that failed and were absorbed"),
		storeFallbacks: counter(meter, "feed_store_fallbacks", "Pages served entirely from the store"),
		postsCreated:   counter(meter, "feed_posts_created", "Posts written to the store"),
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		c, _ = noop.NewMeterProvider().Meter("feed").Int64Counter(name)
	}
	return c
}

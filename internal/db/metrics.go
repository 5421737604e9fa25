package db

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/roary/feed/pkg/logging"
)

// RegisterMetrics exposes row counts as observable gauges, sampled on each scrape.
func RegisterMetrics(meter metric.Meter, posts *PostRepository, users *UserRepository) error {
	postsTotal, err := meter.Int64ObservableGauge("roary_posts_total",
		metric.WithDescription("Posts in the store"))
	if err != nil {
		return err
	}
	usersTotal, err := meter.Int64ObservableGauge("roary_users_total",
		metric.WithDescription("Registered users"))
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		if n, err := posts.CountPosts(ctx); err == nil {
			o.ObserveInt64(postsTotal, n)
		} else {
			logging.GetLogger().Warn("Failed to count posts for metrics", zap.Error(err))
		}
		if n, err := users.Count(ctx); err == nil {
			o.ObserveInt64(usersTotal, n)
		} else {
			logging.GetLogger().Warn("Failed to count users for metrics", zap.Error(err))
		}
		return nil
	}, postsTotal, usersTotal)
	return err
}

// Package telemetry owns the app's OpenTelemetry wiring: OTLP exporter
// setup and the counters the rest of the code records against. Without
// InitTelemetry the counters are no-ops.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/fableden/fableden"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Auth metrics
	SignInsTotal        metric.Int64Counter
	SignOutsTotal       metric.Int64Counter
	ActiveSessions      metric.Int64UpDownCounter
	IdleWarningsTotal   metric.Int64Counter
	IdleLogoutsTotal    metric.Int64Counter
	RouteRedirectsTotal metric.Int64Counter

	// Story metrics
	StoriesCreatedTotal      metric.Int64Counter
	StoriesPublishedTotal    metric.Int64Counter
	NarrationURLsIssuedTotal metric.Int64Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.SignInsTotal, _ = meter.Int64Counter(
		"fableden.auth.sign_ins.total",
		metric.WithDescription("Total number of successful sign-ins"),
		metric.WithUnit("{session}"),
	)

	m.SignOutsTotal, _ = meter.Int64Counter(
		"fableden.auth.sign_outs.total",
		metric.WithDescription("Total number of explicit sign-outs"),
		metric.WithUnit("{session}"),
	)

	m.ActiveSessions, _ = meter.Int64UpDownCounter(
		"fableden.sessions.active",
		metric.WithDescription("Number of sessions with an armed idle watch"),
		metric.WithUnit("{session}"),
	)

	m.IdleWarningsTotal, _ = meter.Int64Counter(
		"fableden.sessions.idle_warnings.total",
		metric.WithDescription("Total number of idle warnings shown"),
		metric.WithUnit("{warning}"),
	)

	m.IdleLogoutsTotal, _ = meter.Int64Counter(
		"fableden.sessions.idle_logouts.total",
		metric.WithDescription("Total number of forced idle logouts"),
		metric.WithUnit("{logout}"),
	)

	m.RouteRedirectsTotal, _ = meter.Int64Counter(
		"fableden.routes.redirects.total",
		metric.WithDescription("Total number of route guard redirects"),
		metric.WithUnit("{redirect}"),
	)

	m.StoriesCreatedTotal, _ = meter.Int64Counter(
		"fableden.stories.created.total",
		metric.WithDescription("Total number of stories created"),
		metric.WithUnit("{story}"),
	)

	m.StoriesPublishedTotal, _ = meter.Int64Counter(
		"fableden.stories.published.total",
		metric.WithDescription("Total number of stories published"),
		metric.WithUnit("{story}"),
	)

	m.NarrationURLsIssuedTotal, _ = meter.Int64Counter(
		"fableden.narration.urls_issued.total",
		metric.WithDescription("Total number of signed narration URLs issued"),
		metric.WithUnit("{url}"),
	)

	return m
}

// CountSignIn records a successful sign-in by method ("password",
// "google", "pin").
func CountSignIn(ctx context.Context, method string) {
	GetMetrics().SignInsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("method", method)))
	GetMetrics().ActiveSessions.Add(ctx, 1)
}

// CountSignOut records an explicit sign-out.
func CountSignOut(ctx context.Context) {
	GetMetrics().SignOutsTotal.Add(ctx, 1)
	GetMetrics().ActiveSessions.Add(ctx, -1)
}

// CountIdleWarning records an idle warning becoming visible.
func CountIdleWarning(ctx context.Context) {
	GetMetrics().IdleWarningsTotal.Add(ctx, 1)
}

// CountIdleLogout records a forced idle logout.
func CountIdleLogout(ctx context.Context) {
	GetMetrics().IdleLogoutsTotal.Add(ctx, 1)
	GetMetrics().ActiveSessions.Add(ctx, -1)
}

// CountRouteRedirect records a route guard redirect by visitor role
// ("parent", "child", "none").
func CountRouteRedirect(ctx context.Context, role string) {
	GetMetrics().RouteRedirectsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("role", role)))
}

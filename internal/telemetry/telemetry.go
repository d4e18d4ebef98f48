// Package telemetry exports watchdog metrics and signal records over OTLP
// HTTP. It is off unless an endpoint is configured:
//
//	HONK_OTEL_METRICS_URL  metrics push endpoint
//	HONK_OTEL_LOGS_URL     log records endpoint
//	HONK_OTEL_INTERVAL     metric push interval (default 30s)
//
// Setting either URL enables both signals; the other falls back to the
// VictoriaMetrics/VictoriaLogs local defaults.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	EnvMetricsURL = "HONK_OTEL_METRICS_URL"
	EnvLogsURL    = "HONK_OTEL_LOGS_URL"
	EnvInterval   = "HONK_OTEL_INTERVAL"

	DefaultMetricsURL = "http://localhost:8428/opentelemetry/api/v1/push"
	DefaultLogsURL    = "http://localhost:9428/insert/opentelemetry/v1/logs"
	DefaultInterval   = 30 * time.Second
)

// Endpoints is where telemetry goes.
type Endpoints struct {
	MetricsURL string
	LogsURL    string
	Interval   time.Duration
}

// EndpointsFromEnv reads the HONK_OTEL_* variables. ok is false when
// telemetry is not configured.
func EndpointsFromEnv() (ep Endpoints, ok bool, err error) {
	ep = Endpoints{
		MetricsURL: os.Getenv(EnvMetricsURL),
		LogsURL:    os.Getenv(EnvLogsURL),
		Interval:   DefaultInterval,
	}
	if ep.MetricsURL == "" && ep.LogsURL == "" {
		return Endpoints{}, false, nil
	}
	if ep.MetricsURL == "" {
		ep.MetricsURL = DefaultMetricsURL
	}
	if ep.LogsURL == "" {
		ep.LogsURL = DefaultLogsURL
	}
	if s := os.Getenv(EnvInterval); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return Endpoints{}, false, fmt.Errorf("%s: invalid duration %q", EnvInterval, s)
		}
		ep.Interval = d
	}
	return ep, true, nil
}

// Provider owns the installed meter and logger providers.
type Provider struct {
	mu      sync.Mutex
	closed  bool
	closers []func(context.Context) error
}

// Shutdown flushes and stops both providers. A nil provider, or a second
// call, is a no-op.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for _, fn := range p.closers {
		errs = append(errs, fn(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("telemetry shutdown: %w", err)
	}
	return nil
}

var (
	initMu   sync.Mutex
	started  bool
	provider *Provider
)

// Init configures telemetry from the environment once per process. It
// returns (nil, nil) when no endpoint is set; later calls return the first
// result.
func Init(ctx context.Context, service, version string) (*Provider, error) {
	initMu.Lock()
	defer initMu.Unlock()
	if started {
		return provider, nil
	}

	ep, ok, err := EndpointsFromEnv()
	if err != nil {
		return nil, err
	}
	if !ok {
		started = true
		return nil, nil
	}
	p, err := Start(ctx, ep, service, version)
	if err != nil {
		return nil, err
	}
	started, provider = true, p
	return p, nil
}

// Start installs global meter and logger providers exporting to ep.
func Start(ctx context.Context, ep Endpoints, service, version string) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(service), semconv.ServiceVersion(version)),
		resource.WithHost(),
		resource.WithOS(),
	)
	if err != nil {
		return nil, fmt.Errorf("building resource: %w", err)
	}

	metricExp, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(ep.MetricsURL))
	if err != nil {
		return nil, fmt.Errorf("metric exporter: %w", err)
	}
	logExp, err := otlploghttp.New(ctx, otlploghttp.WithEndpointURL(ep.LogsURL))
	if err != nil {
		_ = metricExp.Shutdown(ctx)
		return nil, fmt.Errorf("log exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(ep.Interval))),
	)
	lp := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
	)
	otel.SetMeterProvider(mp)
	global.SetLoggerProvider(lp)

	return &Provider{closers: []func(context.Context) error{mp.Shutdown, lp.Shutdown}}, nil
}

package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments. A nil *Metrics is a no-op.
type Metrics struct {
	invitations       metric.Int64Counter
	impersonations    metric.Int64Counter
	authzDenied       metric.Int64Counter
	workspacesCreated metric.Int64Counter
	rateLimitDenied   metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "tenantry"
	}
	meter := provider.Meter(name)

	invitations, err := meter.Int64Counter("tenantry_invitations_total")
	if err != nil {
		return nil, err
	}
	impersonations, err := meter.Int64Counter("tenantry_impersonations_total")
	if err != nil {
		return nil, err
	}
	authzDenied, err := meter.Int64Counter("tenantry_authorization_denied_total")
	if err != nil {
		return nil, err
	}
	workspacesCreated, err := meter.Int64Counter("tenantry_workspaces_created_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("tenantry_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		invitations:       invitations,
		impersonations:    impersonations,
		authzDenied:       authzDenied,
		workspacesCreated: workspacesCreated,
		rateLimitDenied:   rateLimitDenied,
	}, nil
}

// RecordInvitation counts invitation lifecycle outcomes (created, accepted, cancelled, expired, rejected).
func (m *Metrics) RecordInvitation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.invitations.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("outcome", outcome))...))
}

// RecordImpersonation counts impersonation starts and stops.
func (m *Metrics) RecordImpersonation(ctx context.Context, action string) {
	if m == nil {
		return
	}
	m.impersonations.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("action", action))...))
}

func (m *Metrics) RecordAuthorizationDenied(ctx context.Context, action, reason string) {
	if m == nil {
		return
	}
	m.authzDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("action", action),
		attribute.String("reason", reason),
	)...))
}

func (m *Metrics) RecordWorkspaceCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.workspacesCreated.Add(ctx, 1)
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("endpoint", endpoint))...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"outcome":  {},
	"action":   {},
	"reason":   {},
	"endpoint": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}

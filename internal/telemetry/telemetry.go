package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Telemetry holds all telemetry instruments and providers. A zero-value
// Telemetry (telemetry disabled) is safe to use; every recorder nil-checks
// its instrument.
type Telemetry struct {
	meterProvider metric.MeterProvider
	meter         metric.Meter
	exporter      *prometheus.Exporter

	// RED metrics for the local presentation surface
	httpRequestsTotal    metric.Int64Counter
	httpRequestDuration  metric.Float64Histogram
	httpRequestsInFlight metric.Int64UpDownCounter

	// Business metrics
	uploadsTotal          metric.Int64Counter
	uploadsActive         metric.Int64UpDownCounter
	uploadDuration        metric.Float64Histogram
	stagedFiles           metric.Int64UpDownCounter
	deliveredBytes        metric.Int64Counter
	clientOperationsTotal metric.Int64Counter
	clientErrors          metric.Int64Counter
}

// Config holds telemetry configuration.
type Config struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
}

// New creates a new telemetry instance backed by a Prometheus exporter.
func New(_ context.Context, cfg Config) (*Telemetry, error) {
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(meterProvider)

	t := &Telemetry{
		meterProvider: meterProvider,
		meter:         otel.Meter(cfg.ServiceName),
		exporter:      exporter,
	}

	if err := t.initializeMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return t, nil
}

func (t *Telemetry) initializeMetrics() error {
	var err error

	if t.httpRequestsTotal, err = t.meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total HTTP requests handled by the local surface"),
	); err != nil {
		return err
	}

	if t.httpRequestDuration, err = t.meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration"),
	); err != nil {
		return err
	}

	if t.httpRequestsInFlight, err = t.meter.Int64UpDownCounter(
		"http_requests_in_flight",
		metric.WithDescription("HTTP requests currently being served"),
	); err != nil {
		return err
	}

	if t.uploadsTotal, err = t.meter.Int64Counter(
		"uploads_total",
		metric.WithDescription("Statement submissions by outcome"),
	); err != nil {
		return err
	}

	if t.uploadsActive, err = t.meter.Int64UpDownCounter(
		"uploads_active",
		metric.WithDescription("Submissions currently in flight"),
	); err != nil {
		return err
	}

	if t.uploadDuration, err = t.meter.Float64Histogram(
		"upload_duration_seconds",
		metric.WithDescription("End-to-end submission duration"),
	); err != nil {
		return err
	}

	if t.stagedFiles, err = t.meter.Int64UpDownCounter(
		"staged_files",
		metric.WithDescription("Files currently staged for submission"),
	); err != nil {
		return err
	}

	if t.deliveredBytes, err = t.meter.Int64Counter(
		"delivered_bytes_total",
		metric.WithDescription("Archive bytes delivered to the download directory"),
	); err != nil {
		return err
	}

	if t.clientOperationsTotal, err = t.meter.Int64Counter(
		"client_operations_total",
		metric.WithDescription("Parse service client operations"),
	); err != nil {
		return err
	}

	if t.clientErrors, err = t.meter.Int64Counter(
		"client_errors_total",
		metric.WithDescription("Parse service client operation failures"),
	); err != nil {
		return err
	}

	return nil
}

// RecordHTTPRequest records HTTP request metrics.
func (t *Telemetry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.String("status", status),
	)

	if t.httpRequestsTotal != nil {
		t.httpRequestsTotal.Add(context.Background(), 1, attrs)
	}

	if t.httpRequestDuration != nil {
		t.httpRequestDuration.Record(context.Background(), duration.Seconds(), attrs)
	}
}

// IncrementHTTPInFlight increments in-flight HTTP requests.
func (t *Telemetry) IncrementHTTPInFlight() {
	if t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), 1)
	}
}

// DecrementHTTPInFlight decrements in-flight HTTP requests.
func (t *Telemetry) DecrementHTTPInFlight() {
	if t.httpRequestsInFlight != nil {
		t.httpRequestsInFlight.Add(context.Background(), -1)
	}
}

// RecordUpload records one finished submission attempt.
func (t *Telemetry) RecordUpload(status string, duration time.Duration) {
	if t.uploadsTotal != nil {
		t.uploadsTotal.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("status", status)),
		)
	}

	if t.uploadDuration != nil {
		t.uploadDuration.Record(context.Background(), duration.Seconds(),
			metric.WithAttributes(attribute.String("status", status)),
		)
	}
}

// IncrementActiveUploads increments the in-flight submission counter.
func (t *Telemetry) IncrementActiveUploads() {
	if t.uploadsActive != nil {
		t.uploadsActive.Add(context.Background(), 1)
	}
}

// DecrementActiveUploads decrements the in-flight submission counter.
func (t *Telemetry) DecrementActiveUploads() {
	if t.uploadsActive != nil {
		t.uploadsActive.Add(context.Background(), -1)
	}
}

// AddStagedFiles moves the staged-file gauge by delta (negative to remove).
func (t *Telemetry) AddStagedFiles(delta int64) {
	if t.stagedFiles != nil {
		t.stagedFiles.Add(context.Background(), delta)
	}
}

// RecordDeliveredBytes accounts for archive bytes written to disk.
func (t *Telemetry) RecordDeliveredBytes(n int64) {
	if t.deliveredBytes != nil {
		t.deliveredBytes.Add(context.Background(), n)
	}
}

// InstrumentClientOperation runs fn and records the outcome as a client
// operation metric.
func (t *Telemetry) InstrumentClientOperation(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"
	}

	if t.clientOperationsTotal != nil {
		t.clientOperationsTotal.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("operation", operation),
				attribute.String("status", status),
			),
		)
	}

	if err != nil && t.clientErrors != nil {
		t.clientErrors.Add(context.Background(), 1,
			metric.WithAttributes(attribute.String("operation", operation)),
		)
	}

	return err
}

// Handler returns the HTTP handler for the metrics endpoint.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.Handler()
}

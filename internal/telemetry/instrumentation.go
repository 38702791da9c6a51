package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Span and metric attributes must stay low-cardinality: backends, statuses and
// operation names only. URLs, file names and task ids belong in logs.

// InstrumentedFunc represents a function that can be instrumented.
type InstrumentedFunc func(ctx context.Context) error

// DownloadFunc runs one download to completion and returns its final status.
type DownloadFunc func(ctx context.Context) string

// InstrumentOperation instruments a generic operation with telemetry.
func (t *Telemetry) InstrumentOperation(ctx context.Context, operationName, component string, fn InstrumentedFunc) error {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()
	ctx, span := t.tracer.Start(ctx, operationName)

	defer span.End()

	span.SetAttributes(
		attribute.String("component", component),
		attribute.String("operation", operationName),
	)

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "error"

		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
	}

	span.SetAttributes(
		attribute.String("status", status),
		attribute.Float64("duration_seconds", time.Since(start).Seconds()),
	)

	return err
}

// InstrumentDBOperation instruments database operations.
func (t *Telemetry) InstrumentDBOperation(ctx context.Context, operation string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	start := time.Now()
	err := t.InstrumentOperation(ctx, "db_"+operation, "database", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordDBOperation(operation, status, time.Since(start))

	return err
}

// InstrumentDownload tracks one backend run: the active gauge while fn runs, then
// the total counter and duration histogram labelled with the status fn returns.
func (t *Telemetry) InstrumentDownload(ctx context.Context, backend string, fn DownloadFunc) string {
	if t == nil || t.tracer == nil {
		return fn(ctx)
	}

	start := time.Now()

	t.addActiveDownloads(backend, 1)
	defer t.addActiveDownloads(backend, -1)

	ctx, span := t.tracer.Start(ctx, "download")
	defer span.End()

	span.SetAttributes(attribute.String("download.backend", backend))

	status := fn(ctx)

	span.SetAttributes(attribute.String("download.status", status))

	if status == "error" {
		span.SetStatus(codes.Error, "download failed")
	}

	t.RecordDownload(backend, status, time.Since(start))

	return status
}

// InstrumentNotification instruments a notifier delivery.
func (t *Telemetry) InstrumentNotification(ctx context.Context, channel string, fn InstrumentedFunc) error {
	if t == nil {
		return fn(ctx)
	}

	err := t.InstrumentOperation(ctx, "notify_"+channel, "notifier", fn)

	status := "success"
	if err != nil {
		status = "error"
	}

	t.RecordNotification(channel, status)

	return err
}

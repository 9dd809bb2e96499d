// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// Config holds metrics configuration
type Config struct {
	Enabled bool
	// Provider overrides the global meter provider.
	Provider metric.MeterProvider
}

// Meter wraps OpenTelemetry meter
type Meter struct {
	meter metric.Meter
}

// New creates a new meter instance
func New(cfg Config, serviceName string) *Meter {
	if !cfg.Enabled {
		return &Meter{meter: noop.NewMeterProvider().Meter(serviceName)}
	}
	provider := cfg.Provider
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	return &Meter{meter: provider.Meter(serviceName)}
}

// NewProvider creates an OTLP/gRPC meter provider exporting every 10s and
// installs it globally. The endpoint is taken from OTEL_EXPORTER_OTLP_*.
func NewProvider(ctx context.Context, serviceName, serviceVersion string) (*sdkmetric.MeterProvider, error) {
	exporter, err := otlpmetricgrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(10*time.Second),
		)),
	)
	otel.SetMeterProvider(mp)
	return mp, nil
}

// CreateCounter creates a new counter metric
func (m *Meter) CreateCounter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(
		name,
		metric.WithDescription(description),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return counter, nil
}

// CreateHistogram creates a new histogram metric
func (m *Meter) CreateHistogram(name, description, unit string) (metric.Float64Histogram, error) {
	histogram, err := m.meter.Float64Histogram(
		name,
		metric.WithDescription(description),
		metric.WithUnit(unit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create histogram %s: %w", name, err)
	}
	return histogram, nil
}

// Outcome values recorded on login and token verification counters.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidRequest     = "invalid_request"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeLocked             = "locked"
	OutcomeInactive           = "inactive"
	OutcomeMalformed          = "malformed"
	OutcomeBadSignature       = "bad_signature"
	OutcomeExpired            = "expired"
	OutcomeError              = "error"
)

// Instruments is the set of application metrics.
type Instruments struct {
	loginAttempts      metric.Int64Counter
	tokenVerifications metric.Int64Counter
	proxyErrors        metric.Int64Counter
	proxyDuration      metric.Float64Histogram
}

// NewInstruments registers every application instrument on m.
func NewInstruments(m *Meter) (*Instruments, error) {
	var (
		in  Instruments
		err error
	)
	if in.loginAttempts, err = m.CreateCounter("auth.login.attempts", "Login attempts by outcome"); err != nil {
		return nil, err
	}
	if in.tokenVerifications, err = m.CreateCounter("auth.token.verifications", "Bearer token verifications by outcome"); err != nil {
		return nil, err
	}
	if in.proxyErrors, err = m.CreateCounter("gateway.proxy.errors", "Forwarded requests that failed at the transport level"); err != nil {
		return nil, err
	}
	if in.proxyDuration, err = m.CreateHistogram("gateway.proxy.duration", "Duration of forwarded requests", "ms"); err != nil {
		return nil, err
	}
	return &in, nil
}

// Noop returns instruments that record nothing.
func Noop() *Instruments {
	in, _ := NewInstruments(New(Config{}, "noop"))
	return in
}

func (in *Instruments) LoginAttempt(ctx context.Context, outcome string) {
	in.loginAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (in *Instruments) TokenVerification(ctx context.Context, outcome string) {
	in.tokenVerifications.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (in *Instruments) ProxyError(ctx context.Context, kind string) {
	in.proxyErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (in *Instruments) ProxyDuration(ctx context.Context, d time.Duration, status int) {
	in.proxyDuration.Record(ctx, float64(d.Microseconds())/1000, metric.WithAttributes(attribute.Int("status", status)))
}

package registry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/ruikei/internal/telemetry"
)

var (
	kindType      = metric.WithAttributes(attribute.String("kind", "type"))
	kindAttribute = metric.WithAttributes(attribute.String("kind", "attribute_type"))
)

// RegisterMetrics publishes the partition sizes as observable gauges. Call it
// once per process, after telemetry is initialized.
func (r *Registry) RegisterMetrics() error {
	meter := telemetry.Meter("ruikei/registry")

	_, err := meter.Int64ObservableGauge("ruikei.registry.known",
		metric.WithDescription("Definitions in the known partition, by kind"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			s := r.Stats()
			o.Observe(int64(s.KnownTypes), kindType)
			o.Observe(int64(s.KnownAttributeTypes), kindAttribute)
			return nil
		}),
	)
	if err != nil {
		return err
	}
	_, err = meter.Int64ObservableGauge("ruikei.registry.active",
		metric.WithDescription("Definitions in the active partition, by kind"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			s := r.Stats()
			o.Observe(int64(s.ActiveTypes), kindType)
			o.Observe(int64(s.ActiveAttributeTypes), kindAttribute)
			return nil
		}),
	)
	return err
}

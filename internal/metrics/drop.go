package metrics

import "liqstream/logger"

// DropMetric names the reason an inbound element or frame was discarded.
type DropMetric string

const (
	// DropMetricMissingField marks an event element lacking one of T, s, S, v, p.
	DropMetricMissingField DropMetric = "missing_field"
	// DropMetricInvalidField marks an element whose field has the wrong JSON type.
	DropMetricInvalidField DropMetric = "invalid_field"
	// DropMetricMalformedFrame marks a frame that is not a JSON object.
	DropMetricMalformedFrame DropMetric = "malformed_frame"
	// DropMetricNoData marks a frame without a data array, e.g. a subscribe ack.
	DropMetricNoData DropMetric = "no_data"
)

// EmitDropMetric counts one dropped element in Prometheus and forwards the
// counter through the logger's metric path. Symbol is optional.
func EmitDropMetric(log *logger.Log, metric DropMetric, symbol string) {
	if log == nil {
		log = logger.GetLogger()
	}

	fields := logger.Fields{"reason": string(metric)}
	if symbol != "" {
		fields["symbol"] = symbol
	}

	switch metric {
	case DropMetricMalformedFrame, DropMetricNoData:
		IncrementFramesSkipped(string(metric))
		log.LogMetric("bybit_liq_reader", "frames_skipped", 1, "counter", fields)
	default:
		if elementsDropped != nil {
			elementsDropped.WithLabelValues(string(metric)).Inc()
		}
		log.LogMetric("bybit_liq_reader", "elements_dropped", 1, "counter", fields)
	}
}

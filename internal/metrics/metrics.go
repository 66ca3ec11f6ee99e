// Registers:
//
//	#liqstream_frames_received_total
//	#liqstream_frames_skipped_total{reason}
//	#liqstream_records_ingested_total{symbol}
//	#liqstream_elements_dropped_total{reason}
//	#liqstream_reconnects_total
//	#liqstream_subscriptions_total{result}
//	#liqstream_queries_total{route}
//	#liqstream_connection_state
//	#liqstream_buffer_length
//	#go_* and process_* system metrics
//
// Exposed through Handler on the query server's /metrics route.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once     sync.Once
	registry *prometheus.Registry

	framesReceived  prometheus.Counter
	framesSkipped   *prometheus.CounterVec
	recordsIngested *prometheus.CounterVec
	elementsDropped *prometheus.CounterVec
	reconnects      prometheus.Counter
	subscriptions   *prometheus.CounterVec
	queries         *prometheus.CounterVec
	connectionState prometheus.Gauge
	bufferLength    prometheus.Gauge
)

func Init() {
	once.Do(func() {
		registry = prometheus.NewRegistry()

		framesReceived = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liqstream_frames_received_total",
			Help: "Websocket frames read from the venue",
		})
		framesSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liqstream_frames_skipped_total",
			Help: "Frames ignored because they were malformed or carried no event list",
		}, []string{"reason"})
		recordsIngested = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liqstream_records_ingested_total",
			Help: "Liquidation records pushed into the buffer",
		}, []string{"symbol"})
		elementsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liqstream_elements_dropped_total",
			Help: "Event elements discarded during normalisation",
		}, []string{"reason"})
		reconnects = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "liqstream_reconnects_total",
			Help: "Times the ingestor fell back to the disconnected state",
		})
		subscriptions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liqstream_subscriptions_total",
			Help: "Subscription acknowledgements by result",
		}, []string{"result"})
		queries = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "liqstream_queries_total",
			Help: "Query requests served",
		}, []string{"route"})
		connectionState = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "liqstream_connection_state",
			Help: "0 disconnected, 1 connected, 2 subscribed",
		})
		bufferLength = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "liqstream_buffer_length",
			Help: "Records currently held in the buffer",
		})

		registry.MustRegister(
			framesReceived, framesSkipped, recordsIngested, elementsDropped,
			reconnects, subscriptions, queries, connectionState, bufferLength,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

func IncrementFramesReceived() {
	if framesReceived != nil {
		framesReceived.Inc()
	}
}

func IncrementFramesSkipped(reason string) {
	if framesSkipped != nil {
		framesSkipped.WithLabelValues(reason).Inc()
	}
}

func IncrementRecordsIngested(symbol string) {
	if recordsIngested != nil {
		recordsIngested.WithLabelValues(symbol).Inc()
	}
}

func IncrementReconnects() {
	if reconnects != nil {
		reconnects.Inc()
	}
}

func IncrementSubscriptions(result string) {
	if subscriptions != nil {
		subscriptions.WithLabelValues(result).Inc()
	}
}

func IncrementQueries(route string) {
	if queries != nil {
		queries.WithLabelValues(route).Inc()
	}
}

func SetConnectionState(state int) {
	if connectionState != nil {
		connectionState.Set(float64(state))
	}
}

func SetBufferLength(n int) {
	if bufferLength != nil {
		bufferLength.Set(float64(n))
	}
}

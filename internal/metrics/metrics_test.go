package metrics

import (
	"bytes"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"liqstream/logger"
)

func quietLogger() *logger.Log {
	log := logger.Logger()
	log.SetOutput(&bytes.Buffer{})
	return log
}

func TestHelpersAreNilSafeBeforeInit(t *testing.T) {
	if registry != nil {
		t.Skip("registry already initialised by another test")
	}
	IncrementFramesReceived()
	IncrementRecordsIngested("BTCUSDT")
	SetConnectionState(2)
}

func TestEmitDropMetricRoutesByReason(t *testing.T) {
	Init()

	beforeElem := testutil.ToFloat64(elementsDropped.WithLabelValues(string(DropMetricMissingField)))
	beforeFrame := testutil.ToFloat64(framesSkipped.WithLabelValues(string(DropMetricNoData)))

	EmitDropMetric(quietLogger(), DropMetricMissingField, "BTCUSDT")
	EmitDropMetric(quietLogger(), DropMetricNoData, "")

	if got := testutil.ToFloat64(elementsDropped.WithLabelValues(string(DropMetricMissingField))); got != beforeElem+1 {
		t.Fatalf("expected elements dropped to increase by 1, got %v", got-beforeElem)
	}
	if got := testutil.ToFloat64(framesSkipped.WithLabelValues(string(DropMetricNoData))); got != beforeFrame+1 {
		t.Fatalf("expected frames skipped to increase by 1, got %v", got-beforeFrame)
	}
}

func TestHandlerExposesRegisteredMetrics(t *testing.T) {
	Init()
	IncrementRecordsIngested("ETHUSDT")
	SetBufferLength(7)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		`liqstream_records_ingested_total{symbol="ETHUSDT"}`,
		"liqstream_buffer_length 7",
		"go_goroutines",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type streamStat struct {
	messages int64
	bytes    int64
}

var (
	warnsIngest     int64
	errorsIngest    int64
	warnsQuery      int64
	errorsQuery     int64
	recordsIngested int64
	reconnects      int64
	queriesServed   int64
	streams         sync.Map // map[string]*streamStat
)

func recordWarn(component string) {
	switch {
	case strings.Contains(component, "reader"):
		atomic.AddInt64(&warnsIngest, 1)
	case strings.Contains(component, "api"):
		atomic.AddInt64(&warnsQuery, 1)
	}
}

func recordError(component string) {
	switch {
	case strings.Contains(component, "reader"):
		atomic.AddInt64(&errorsIngest, 1)
	case strings.Contains(component, "api"):
		atomic.AddInt64(&errorsQuery, 1)
	}
}

// RecordStreamMessage counts one inbound frame of the given size on a named stream.
func RecordStreamMessage(name string, size int) {
	v, _ := streams.LoadOrStore(name, &streamStat{})
	s := v.(*streamStat)
	atomic.AddInt64(&s.messages, 1)
	atomic.AddInt64(&s.bytes, int64(size))
}

func IncrementRecordsIngested(n int) {
	atomic.AddInt64(&recordsIngested, int64(n))
}

func IncrementReconnect() {
	atomic.AddInt64(&reconnects, 1)
}

func IncrementQueryServed() {
	atomic.AddInt64(&queriesServed, 1)
}

// StartReport logs a runtime report every interval until ctx is done.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func streamSnapshot() map[string]map[string]int64 {
	out := map[string]map[string]int64{}
	streams.Range(func(k, v any) bool {
		s := v.(*streamStat)
		out[k.(string)] = map[string]int64{
			"messages": atomic.LoadInt64(&s.messages),
			"bytes":    atomic.LoadInt64(&s.bytes),
		}
		return true
	})
	return out
}

func logReport(ctx context.Context, log *Log) {
	cpuPct := 0.0
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		cpuPct = pct[0]
	}
	var memUsed, diskUsed, bytesSent, bytesRecv uint64
	if vm, err := mem.VirtualMemory(); err == nil {
		memUsed = vm.Used
	}
	if du, err := disk.Usage("/"); err == nil {
		diskUsed = du.Used
	}
	if io, err := gnet.IOCounters(false); err == nil && len(io) > 0 {
		bytesSent = io[0].BytesSent
		bytesRecv = io[0].BytesRecv
	}

	counters := map[string]int64{
		"warns_ingest":     atomic.LoadInt64(&warnsIngest),
		"errors_ingest":    atomic.LoadInt64(&errorsIngest),
		"warns_query":      atomic.LoadInt64(&warnsQuery),
		"errors_query":     atomic.LoadInt64(&errorsQuery),
		"records_ingested": atomic.LoadInt64(&recordsIngested),
		"reconnects":       atomic.LoadInt64(&reconnects),
		"queries_served":   atomic.LoadInt64(&queriesServed),
		"metrics_dropped":  atomic.LoadInt64(&metricsDropped),
	}
	streamData := streamSnapshot()

	fields := Fields{
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memUsed / 1024 / 1024),
		"disk_mb":        int64(diskUsed / 1024 / 1024),
		"net_bytes_sent": int64(bytesSent),
		"net_bytes_recv": int64(bytesRecv),
		"streams":        streamData,
	}
	for k, v := range counters {
		fields[k] = v
	}
	log.WithComponent("report").WithFields(fields).Info("runtime report")

	data := []cwtypes.MetricDatum{
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memUsed) / 1024 / 1024)},
		{MetricName: aws.String("DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskUsed) / 1024 / 1024)},
		{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	}
	for name, v := range counters {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Unit:       cwtypes.StandardUnitCount,
			Value:      aws.Float64(float64(v)),
		})
	}
	for name, stats := range streamData {
		dims := []cwtypes.Dimension{{Name: aws.String("Stream"), Value: aws.String(name)}}
		data = append(data,
			cwtypes.MetricDatum{MetricName: aws.String("StreamMessages"), Unit: cwtypes.StandardUnitCount, Dimensions: dims, Value: aws.Float64(float64(stats["messages"]))},
			cwtypes.MetricDatum{MetricName: aws.String("StreamBytes"), Unit: cwtypes.StandardUnitBytes, Dimensions: dims, Value: aws.Float64(float64(stats["bytes"]))},
		)
	}

	publishMetrics(ctx, data)
}

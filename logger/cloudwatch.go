package logger

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// metricPublisher is the subset of the CloudWatch client used here.
type metricPublisher interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

const (
	metricQueueSize     = 1024
	metricBatchSize     = 20
	metricFlushInterval = 5 * time.Second
	publishTimeout      = 5 * time.Second
)

// cloudWatchState owns the client and a queue of datums that a single
// background loop batches into PutMetricData calls.
type cloudWatchState struct {
	client    metricPublisher
	namespace string
	queue     chan cwtypes.MetricDatum
}

var (
	cwState atomic.Pointer[cloudWatchState]

	// datums discarded because the queue was full
	metricsDropped int64
)

func newCloudWatchState(client metricPublisher, namespace string, queueSize int) *cloudWatchState {
	if queueSize <= 0 {
		queueSize = metricQueueSize
	}
	return &cloudWatchState{
		client:    client,
		namespace: namespace,
		queue:     make(chan cwtypes.MetricDatum, queueSize),
	}
}

// CloudWatchOptions selects where metrics are published. Empty credentials
// fall back to the default AWS credential chain.
type CloudWatchOptions struct {
	Region          string
	Namespace       string
	AccessKeyID     string
	SecretAccessKey string
}

// InitCloudWatch creates the CloudWatch client. Failures leave publishing
// disabled and are only logged.
func InitCloudWatch(ctx context.Context, opts CloudWatchOptions) {
	log := GetLogger().WithComponent("cloudwatch")

	region := opts.Region
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}

	loadOpts := []func(*config.LoadOptions) error{}
	if region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		log.WithError(err).Warn("failed to load AWS configuration; CloudWatch metrics disabled")
		return
	}

	namespace := opts.Namespace
	if namespace == "" {
		namespace = "Liqstream"
	}
	state := newCloudWatchState(cloudwatch.NewFromConfig(cfg), namespace, metricQueueSize)
	cwState.Store(state)
	go state.run(ctx, metricFlushInterval)

	log.WithFields(Fields{"region": cfg.Region, "namespace": namespace}).Info("initialized CloudWatch client")
}

// enqueueMetric hands a datum to the background publisher without blocking.
// It reports false when CloudWatch is disabled or the queue is full.
func enqueueMetric(d cwtypes.MetricDatum) bool {
	state := cwState.Load()
	if state == nil || state.client == nil {
		return false
	}
	select {
	case state.queue <- d:
		return true
	default:
		atomic.AddInt64(&metricsDropped, 1)
		return false
	}
}

// run flushes queued datums every interval or once a batch is full. On
// shutdown whatever is still queued gets one last publish.
func (s *cloudWatchState) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batch := make([]cwtypes.MetricDatum, 0, metricBatchSize)
	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		s.publish(ctx, batch)
		batch = make([]cwtypes.MetricDatum, 0, metricBatchSize)
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case d := <-s.queue:
					batch = append(batch, d)
					if len(batch) >= metricBatchSize {
						flush(context.Background())
					}
				default:
					flush(context.Background())
					return
				}
			}
		case d := <-s.queue:
			batch = append(batch, d)
			if len(batch) >= metricBatchSize {
				flush(ctx)
			}
		case <-ticker.C:
			flush(ctx)
		}
	}
}

func (s *cloudWatchState) publish(ctx context.Context, data []cwtypes.MetricDatum) {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	log := GetLogger().WithComponent("cloudwatch")
	if _, err := s.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(s.namespace),
		MetricData: data,
	}); err != nil {
		log.WithError(err).Debug("failed to publish CloudWatch metrics")
		return
	}

	names := make([]string, 0, len(data))
	for _, datum := range data {
		if datum.MetricName != nil {
			names = append(names, *datum.MetricName)
		}
	}
	log.WithField("metrics", strings.Join(names, ",")).Debug("published metrics to CloudWatch")
}

// publishMetrics sends data right away. It is a no-op until InitCloudWatch
// succeeded.
func publishMetrics(ctx context.Context, data []cwtypes.MetricDatum) {
	state := cwState.Load()
	if state == nil || state.client == nil || len(data) == 0 {
		return
	}
	state.publish(ctx, data)
}

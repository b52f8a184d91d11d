// Package telemetry publishes API, search and rescoring metrics to CloudWatch.
// Datums are buffered and flushed in batches by Run, so recording never
// blocks a request on the network.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"fairweather/internal/config"
)

// Metric names.
const (
	MetricAPIRequestCount      = "APIRequestCount"
	MetricAPILatency           = "APILatency"
	MetricAlternativeSearch    = "AlternativeSearch"
	MetricCandidatesConsidered = "CandidatesConsidered"
	MetricAlternativesReturned = "AlternativesReturned"
	MetricSearchLatency        = "AlternativeSearchLatency"
	MetricEventsRescored       = "EventsRescored"
)

// Dimension names.
const (
	DimEndpoint  = "Endpoint"
	DimMethod    = "Method"
	DimStatus    = "Status"
	DimEventType = "EventType"
	DimPartial   = "Partial"
	DimOutcome   = "Outcome"
)

const (
	// maxBatch stays well under the PutMetricData per-call datum limit.
	maxBatch             = 150
	DefaultFlushInterval = 30 * time.Second
)

// CloudWatchClient is the subset of the CloudWatch API used here.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// NewCloudWatchClient builds a client from the default AWS credential chain.
// A non-empty endpoint URL (LocalStack) overrides service resolution.
func NewCloudWatchClient(ctx context.Context, cfg config.ObservabilityConfig) (*cloudwatch.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.AWSRegion != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.AWSRegion))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWSEndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
		}
	}), nil
}

// CloudWatchMetrics buffers datums and publishes them in batches.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
	now       func() time.Time

	mu   sync.Mutex
	buf  []cwtypes.MetricDatum
	kick chan struct{}
}

// NewCloudWatchMetrics returns a collector publishing under namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
		now:       time.Now,
		kick:      make(chan struct{}, 1),
	}
}

// RecordRequest records one API request.
func (m *CloudWatchMetrics) RecordRequest(_ context.Context, method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		dim(DimMethod, method),
		dim(DimEndpoint, endpoint),
		dim(DimStatus, status),
	}
	m.add(
		m.datum(MetricAPIRequestCount, 1, cwtypes.StandardUnitCount, dims),
		m.datum(MetricAPILatency, float64(duration.Milliseconds()), cwtypes.StandardUnitMilliseconds,
			[]cwtypes.Dimension{dim(DimEndpoint, endpoint)}),
	)
}

// RecordFind records one alternative-date search.
func (m *CloudWatchMetrics) RecordFind(_ context.Context, eventType string, considered, returned int, partial bool, elapsed time.Duration) {
	et := []cwtypes.Dimension{dim(DimEventType, eventType)}
	m.add(
		m.datum(MetricAlternativeSearch, 1, cwtypes.StandardUnitCount,
			[]cwtypes.Dimension{dim(DimEventType, eventType), dim(DimPartial, strconv.FormatBool(partial))}),
		m.datum(MetricCandidatesConsidered, float64(considered), cwtypes.StandardUnitCount, et),
		m.datum(MetricAlternativesReturned, float64(returned), cwtypes.StandardUnitCount, et),
		m.datum(MetricSearchLatency, float64(elapsed.Milliseconds()), cwtypes.StandardUnitMilliseconds, et),
	)
}

// RecordRescore records the outcome counts of one rescoring pass.
func (m *CloudWatchMetrics) RecordRescore(_ context.Context, scored, unknown, failed int) {
	m.add(
		m.datum(MetricEventsRescored, float64(scored), cwtypes.StandardUnitCount, []cwtypes.Dimension{dim(DimOutcome, "scored")}),
		m.datum(MetricEventsRescored, float64(unknown), cwtypes.StandardUnitCount, []cwtypes.Dimension{dim(DimOutcome, "unknown")}),
		m.datum(MetricEventsRescored, float64(failed), cwtypes.StandardUnitCount, []cwtypes.Dimension{dim(DimOutcome, "failed")}),
	)
}

// Run flushes on every tick and whenever the buffer fills, until ctx ends.
// A final flush is attempted on exit.
func (m *CloudWatchMetrics) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			_ = m.Flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			_ = m.Flush(ctx)
		case <-m.kick:
			_ = m.Flush(ctx)
		}
	}
}

// Flush publishes everything buffered so far. Publish errors are logged and
// the affected datums dropped.
func (m *CloudWatchMetrics) Flush(ctx context.Context) error {
	m.mu.Lock()
	pending := m.buf
	m.buf = nil
	m.mu.Unlock()

	var firstErr error
	for start := 0; start < len(pending); start += maxBatch {
		end := min(start+maxBatch, len(pending))
		_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(m.namespace),
			MetricData: pending[start:end],
		})
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to publish metrics", "error", err, "datums", end-start)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Close flushes the remaining datums.
func (m *CloudWatchMetrics) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.Flush(ctx)
}

// Pending reports the number of buffered datums.
func (m *CloudWatchMetrics) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buf)
}

func (m *CloudWatchMetrics) add(datums ...cwtypes.MetricDatum) {
	m.mu.Lock()
	m.buf = append(m.buf, datums...)
	full := len(m.buf) >= maxBatch
	m.mu.Unlock()

	if full {
		select {
		case m.kick <- struct{}{}:
		default:
		}
	}
}

func (m *CloudWatchMetrics) datum(name string, value float64, unit cwtypes.StandardUnit, dims []cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(m.now()),
		Dimensions: dims,
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

// Noop discards every metric. Used when publishing is disabled.
type Noop struct{}

func (Noop) RecordRequest(context.Context, string, string, string, time.Duration) {}
func (Noop) RecordFind(context.Context, string, int, int, bool, time.Duration) {}
func (Noop) RecordRescore(context.Context, int, int, int) {}
func (Noop) Close() error { return nil }

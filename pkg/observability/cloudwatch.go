package observability

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
)

// CloudWatchAPI is the subset of the CloudWatch client used here.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

const cloudWatchBatchSize = 20

// CloudWatchMetrics buffers datums in memory and ships them with PutMetricData on Flush.
type CloudWatchMetrics struct {
	namespace string
	client    CloudWatchAPI
	logger    *zap.Logger

	mu      sync.Mutex
	pending []types.MetricDatum
}

// NewCloudWatchMetrics creates a buffered CloudWatch sink. A nil client disables it.
func NewCloudWatchMetrics(namespace string, client CloudWatchAPI, logger *zap.Logger) *CloudWatchMetrics {
	return &CloudWatchMetrics{namespace: namespace, client: client, logger: logger}
}

func (m *CloudWatchMetrics) RecordProviderCall(provider, model, outcome string, duration time.Duration) {
	dims := []types.Dimension{
		{Name: aws.String("Provider"), Value: aws.String(provider)},
		{Name: aws.String("Model"), Value: aws.String(model)},
		{Name: aws.String("Outcome"), Value: aws.String(outcome)},
	}
	m.add(
		datum("ProviderCallLatency", dims, float64(duration.Milliseconds()), types.StandardUnitMilliseconds),
		datum("ProviderCallCount", dims, 1, types.StandardUnitCount),
	)
}

func (m *CloudWatchMetrics) RecordOperation(operation, outcome string, duration time.Duration) {
	dims := []types.Dimension{
		{Name: aws.String("Operation"), Value: aws.String(operation)},
		{Name: aws.String("Outcome"), Value: aws.String(outcome)},
	}
	m.add(
		datum("OperationLatency", dims, float64(duration.Milliseconds()), types.StandardUnitMilliseconds),
		datum("OperationCount", dims, 1, types.StandardUnitCount),
	)
}

func datum(name string, dims []types.Dimension, value float64, unit types.StandardUnit) types.MetricDatum {
	return types.MetricDatum{
		MetricName: aws.String(name),
		Dimensions: dims,
		Value:      aws.Float64(value),
		Unit:       unit,
		Timestamp:  aws.Time(time.Now()),
	}
}

func (m *CloudWatchMetrics) add(data ...types.MetricDatum) {
	if m.client == nil {
		return
	}
	m.mu.Lock()
	m.pending = append(m.pending, data...)
	m.mu.Unlock()
}

// Flush sends every buffered datum. Failed batches are logged and dropped.
func (m *CloudWatchMetrics) Flush(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	m.mu.Lock()
	data := m.pending
	m.pending = nil
	m.mu.Unlock()

	var firstErr error
	for start := 0; start < len(data); start += cloudWatchBatchSize {
		end := min(start+cloudWatchBatchSize, len(data))
		_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(m.namespace),
			MetricData: data[start:end],
		})
		if err != nil {
			m.logger.Warn("Failed to send metrics", zap.Error(err), zap.Int("datums", end-start))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Run flushes on every tick until ctx is done, then flushes once more.
func (m *CloudWatchMetrics) Run(ctx context.Context, interval time.Duration) {
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
		}
	}
}

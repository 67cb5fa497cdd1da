package delivery

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudlogs/log-router/internal/models"
)

type mockCloudWatchLogsClient struct {
	createLogGroupFunc     func(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error)
	createLogStreamFunc    func(ctx context.Context, params *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error)
	putLogEventsFunc       func(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error)
	describeLogGroupsFunc  func(ctx context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error)
	describeLogStreamsFunc func(ctx context.Context, params *cloudwatchlogs.DescribeLogStreamsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error)
}

func (m *mockCloudWatchLogsClient) CreateLogGroup(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error) {
	if m.createLogGroupFunc != nil {
		return m.createLogGroupFunc(ctx, params, optFns...)
	}
	return &cloudwatchlogs.CreateLogGroupOutput{}, nil
}

func (m *mockCloudWatchLogsClient) CreateLogStream(ctx context.Context, params *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error) {
	if m.createLogStreamFunc != nil {
		return m.createLogStreamFunc(ctx, params, optFns...)
	}
	return &cloudwatchlogs.CreateLogStreamOutput{}, nil
}

func (m *mockCloudWatchLogsClient) PutLogEvents(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error) {
	if m.putLogEventsFunc != nil {
		return m.putLogEventsFunc(ctx, params, optFns...)
	}
	return &cloudwatchlogs.PutLogEventsOutput{}, nil
}

func (m *mockCloudWatchLogsClient) DescribeLogGroups(ctx context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error) {
	if m.describeLogGroupsFunc != nil {
		return m.describeLogGroupsFunc(ctx, params, optFns...)
	}
	return &cloudwatchlogs.DescribeLogGroupsOutput{}, nil
}

func (m *mockCloudWatchLogsClient) DescribeLogStreams(ctx context.Context, params *cloudwatchlogs.DescribeLogStreamsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error) {
	if m.describeLogStreamsFunc != nil {
		return m.describeLogStreamsFunc(ctx, params, optFns...)
	}
	return &cloudwatchlogs.DescribeLogStreamsOutput{}, nil
}

func newTestStreamDeliverer() *StreamDeliverer {
	return &StreamDeliverer{logger: models.NewDefaultLogger(), maxRetries: 3}
}

func createEventsWithSize(count int, messageSize int) []types.InputLogEvent {
	events := make([]types.InputLogEvent, count)
	message := strings.Repeat("x", messageSize)
	for i := 0; i < count; i++ {
		events[i] = types.InputLogEvent{
			Timestamp: aws.Int64(1640995200000 + int64(i)),
			Message:   aws.String(message),
		}
	}
	return events
}

func calculateBatchSize(events []types.InputLogEvent) int64 {
	var size int64
	for _, event := range events {
		size += int64(len(*event.Message)) + perEventOverhead
	}
	return size
}

func TestDeliverEventsInBatchesMaxEvents(t *testing.T) {
	d := newTestStreamDeliverer()

	capturedBatches := make([][]types.InputLogEvent, 0)
	mockClient := &mockCloudWatchLogsClient{
		putLogEventsFunc: func(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error) {
			batch := make([]types.InputLogEvent, len(params.LogEvents))
			copy(batch, params.LogEvents)
			capturedBatches = append(capturedBatches, batch)
			return &cloudwatchlogs.PutLogEventsOutput{}, nil
		},
	}

	events := make([]types.InputLogEvent, 1500)
	for i := 0; i < 1500; i++ {
		events[i] = types.InputLogEvent{
			Timestamp: aws.Int64(time.Now().UnixMilli() + int64(i)),
			Message:   aws.String("Test log event"),
		}
	}

	stats, err := d.deliverEventsInBatches(context.Background(), mockClient, "test-group", "test-stream", events)

	require.NoError(t, err)
	assert.Len(t, capturedBatches, 2)
	assert.Len(t, capturedBatches[0], 1000)
	assert.Len(t, capturedBatches[1], 500)
	assert.Equal(t, 1500, stats.SuccessfulEvents)
	assert.Equal(t, 0, stats.FailedEvents)
}

func TestDeliverEventsInBatchesByteLimit(t *testing.T) {
	d := newTestStreamDeliverer()

	theoreticalMax := maxBytesPerBatch / (1 + perEventOverhead)
	numEvents := theoreticalMax + 100
	events := createEventsWithSize(numEvents, 1)

	var batches [][]types.InputLogEvent
	mockClient := &mockCloudWatchLogsClient{
		putLogEventsFunc: func(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error) {
			batch := make([]types.InputLogEvent, len(params.LogEvents))
			copy(batch, params.LogEvents)
			batches = append(batches, batch)
			return &cloudwatchlogs.PutLogEventsOutput{}, nil
		},
	}

	stats, err := d.deliverEventsInBatches(context.Background(), mockClient, "test-group", "test-stream", events)

	require.NoError(t, err)
	assert.Equal(t, numEvents, stats.SuccessfulEvents)
	assert.Equal(t, 0, stats.FailedEvents)

	// Append-first batching means the event that pushes a batch over the
	// limit is still part of that batch; size may overshoot by at most one
	// event's worth (here, 1+perEventOverhead bytes).
	for i, batch := range batches {
		assert.LessOrEqual(t, calculateBatchSize(batch), int64(maxBytesPerBatch)+1+perEventOverhead, "batch %d exceeds byte limit by more than one event", i)
	}
}

func TestDeliverEventsInBatchesPartialSuccess(t *testing.T) {
	d := newTestStreamDeliverer()

	mockClient := &mockCloudWatchLogsClient{
		putLogEventsFunc: func(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error) {
			return &cloudwatchlogs.PutLogEventsOutput{
				RejectedLogEventsInfo: &types.RejectedLogEventsInfo{
					TooOldLogEventEndIndex:   aws.Int32(1),
					TooNewLogEventStartIndex: aws.Int32(8),
				},
			}, nil
		},
	}

	events := make([]types.InputLogEvent, 10)
	baseTime := time.Now().UnixMilli()
	for i := 0; i < 10; i++ {
		events[i] = types.InputLogEvent{Timestamp: aws.Int64(baseTime + int64(i)), Message: aws.String("Test event")}
	}

	stats, err := d.deliverEventsInBatches(context.Background(), mockClient, "test-group", "test-stream", events)

	require.NoError(t, err)
	assert.Equal(t, 6, stats.SuccessfulEvents)
	assert.Equal(t, 4, stats.FailedEvents)
	assert.Equal(t, 10, stats.TotalProcessed)
}

func TestDeliverEventsInBatchesRetriesThenSucceeds(t *testing.T) {
	d := newTestStreamDeliverer()

	callCount := 0
	mockClient := &mockCloudWatchLogsClient{
		putLogEventsFunc: func(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error) {
			callCount++
			if callCount <= 2 {
				return nil, &types.ThrottlingException{Message: aws.String("Rate exceeded")}
			}
			return &cloudwatchlogs.PutLogEventsOutput{}, nil
		},
	}

	events := []types.InputLogEvent{{Timestamp: aws.Int64(time.Now().UnixMilli()), Message: aws.String("Test event")}}

	stats, err := d.deliverEventsInBatches(context.Background(), mockClient, "test-group", "test-stream", events)

	require.NoError(t, err)
	assert.Equal(t, 3, callCount)
	assert.Equal(t, 1, stats.SuccessfulEvents)
	assert.Equal(t, 0, stats.FailedEvents)
}

func TestDeliverEventsInBatchesMaxRetriesExhausted(t *testing.T) {
	d := newTestStreamDeliverer()

	callCount := 0
	mockClient := &mockCloudWatchLogsClient{
		putLogEventsFunc: func(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error) {
			callCount++
			return nil, &types.ThrottlingException{Message: aws.String("Rate exceeded")}
		},
	}

	events := []types.InputLogEvent{{Timestamp: aws.Int64(time.Now().UnixMilli()), Message: aws.String("Test event")}}

	stats, err := d.deliverEventsInBatches(context.Background(), mockClient, "test-group", "test-stream", events)

	require.Error(t, err)
	assert.Equal(t, 3, callCount)
	assert.Equal(t, 1, stats.FailedEvents)
}

func TestRetryableCloudWatchError(t *testing.T) {
	assert.True(t, retryableCloudWatchError(&types.ThrottlingException{Message: aws.String("slow down")}))
	assert.True(t, retryableCloudWatchError(&types.ServiceUnavailableException{Message: aws.String("down")}))
	assert.False(t, retryableCloudWatchError(&types.InvalidParameterException{Message: aws.String("bad param")}))
	assert.False(t, retryableCloudWatchError(&types.ResourceNotFoundException{Message: aws.String("missing")}))
	assert.False(t, retryableCloudWatchError(errors.New("plain error")))
}

func TestDeliverEventsInBatchesAbortsOnNonRetryableError(t *testing.T) {
	d := newTestStreamDeliverer()

	callCount := 0
	mockClient := &mockCloudWatchLogsClient{
		putLogEventsFunc: func(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error) {
			callCount++
			return nil, &types.InvalidParameterException{Message: aws.String("bad log group name")}
		},
	}

	events := []types.InputLogEvent{{Timestamp: aws.Int64(time.Now().UnixMilli()), Message: aws.String("Test event")}}

	stats, err := d.deliverEventsInBatches(context.Background(), mockClient, "test-group", "test-stream", events)

	require.Error(t, err)
	assert.Equal(t, 1, callCount, "non-retryable error should abort the flush on the first attempt")
	assert.Equal(t, 1, stats.FailedEvents)
}

func TestDeliverEventsInBatchesEmptyList(t *testing.T) {
	d := newTestStreamDeliverer()

	mockClient := &mockCloudWatchLogsClient{
		putLogEventsFunc: func(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error) {
			t.Fatal("PutLogEvents should not be called for empty events list")
			return nil, nil
		},
	}

	stats, err := d.deliverEventsInBatches(context.Background(), mockClient, "test-group", "test-stream", []types.InputLogEvent{})

	require.NoError(t, err)
	assert.Equal(t, 0, stats.SuccessfulEvents)
	assert.Equal(t, 0, stats.FailedEvents)
	assert.Equal(t, 0, stats.TotalProcessed)
}

func TestDeliverEventsInBatchesRejectedEventsHandling(t *testing.T) {
	d := newTestStreamDeliverer()

	testCases := []struct {
		name           string
		rejectionInfo  *types.RejectedLogEventsInfo
		totalEvents    int
		expectedFailed int
	}{
		{
			name:           "too_old_events",
			rejectionInfo:  &types.RejectedLogEventsInfo{TooOldLogEventEndIndex: aws.Int32(2)},
			totalEvents:    10,
			expectedFailed: 3,
		},
		{
			name:           "too_new_events",
			rejectionInfo:  &types.RejectedLogEventsInfo{TooNewLogEventStartIndex: aws.Int32(7)},
			totalEvents:    10,
			expectedFailed: 3,
		},
		{
			name:           "expired_events",
			rejectionInfo:  &types.RejectedLogEventsInfo{ExpiredLogEventEndIndex: aws.Int32(4)},
			totalEvents:    10,
			expectedFailed: 5,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mockClient := &mockCloudWatchLogsClient{
				putLogEventsFunc: func(ctx context.Context, params *cloudwatchlogs.PutLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.PutLogEventsOutput, error) {
					return &cloudwatchlogs.PutLogEventsOutput{RejectedLogEventsInfo: tc.rejectionInfo}, nil
				},
			}

			events := make([]types.InputLogEvent, tc.totalEvents)
			baseTime := time.Now().UnixMilli()
			for i := 0; i < tc.totalEvents; i++ {
				events[i] = types.InputLogEvent{Timestamp: aws.Int64(baseTime + int64(i)), Message: aws.String("Test event")}
			}

			stats, err := d.deliverEventsInBatches(context.Background(), mockClient, "test-group", "test-stream", events)

			require.NoError(t, err)
			assert.Equal(t, tc.totalEvents-tc.expectedFailed, stats.SuccessfulEvents)
			assert.Equal(t, tc.expectedFailed, stats.FailedEvents)
		})
	}
}

func TestEnsureLogGroupAndStreamExistCreatesNew(t *testing.T) {
	logger := models.NewDefaultLogger()

	createGroupCalled := false
	createStreamCalled := false

	mockClient := &mockCloudWatchLogsClient{
		describeLogGroupsFunc: func(ctx context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error) {
			return &cloudwatchlogs.DescribeLogGroupsOutput{LogGroups: []types.LogGroup{}}, nil
		},
		createLogGroupFunc: func(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error) {
			createGroupCalled = true
			assert.Equal(t, "/aws/logs/test-group", *params.LogGroupName)
			return &cloudwatchlogs.CreateLogGroupOutput{}, nil
		},
		describeLogStreamsFunc: func(ctx context.Context, params *cloudwatchlogs.DescribeLogStreamsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error) {
			return &cloudwatchlogs.DescribeLogStreamsOutput{LogStreams: []types.LogStream{}}, nil
		},
		createLogStreamFunc: func(ctx context.Context, params *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error) {
			createStreamCalled = true
			return &cloudwatchlogs.CreateLogStreamOutput{}, nil
		},
	}

	err := ensureLogGroupAndStreamExist(context.Background(), mockClient, "/aws/logs/test-group", "test-stream", logger)

	require.NoError(t, err)
	assert.True(t, createGroupCalled)
	assert.True(t, createStreamCalled)
}

func TestEnsureLogGroupAndStreamExistBothExist(t *testing.T) {
	logger := models.NewDefaultLogger()

	createGroupCalled := false
	createStreamCalled := false

	mockClient := &mockCloudWatchLogsClient{
		describeLogGroupsFunc: func(ctx context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error) {
			return &cloudwatchlogs.DescribeLogGroupsOutput{
				LogGroups: []types.LogGroup{{LogGroupName: aws.String("/aws/logs/test-group")}},
			}, nil
		},
		createLogGroupFunc: func(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error) {
			createGroupCalled = true
			return &cloudwatchlogs.CreateLogGroupOutput{}, nil
		},
		describeLogStreamsFunc: func(ctx context.Context, params *cloudwatchlogs.DescribeLogStreamsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error) {
			return &cloudwatchlogs.DescribeLogStreamsOutput{
				LogStreams: []types.LogStream{{LogStreamName: aws.String("test-stream")}},
			}, nil
		},
		createLogStreamFunc: func(ctx context.Context, params *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error) {
			createStreamCalled = true
			return &cloudwatchlogs.CreateLogStreamOutput{}, nil
		},
	}

	err := ensureLogGroupAndStreamExist(context.Background(), mockClient, "/aws/logs/test-group", "test-stream", logger)

	require.NoError(t, err)
	assert.False(t, createGroupCalled)
	assert.False(t, createStreamCalled)
}

func TestEnsureLogGroupAndStreamExistHandlesAlreadyExists(t *testing.T) {
	logger := models.NewDefaultLogger()

	mockClient := &mockCloudWatchLogsClient{
		describeLogGroupsFunc: func(ctx context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error) {
			return &cloudwatchlogs.DescribeLogGroupsOutput{LogGroups: []types.LogGroup{}}, nil
		},
		createLogGroupFunc: func(ctx context.Context, params *cloudwatchlogs.CreateLogGroupInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogGroupOutput, error) {
			return nil, &types.ResourceAlreadyExistsException{Message: aws.String("Log group already exists")}
		},
		describeLogStreamsFunc: func(ctx context.Context, params *cloudwatchlogs.DescribeLogStreamsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogStreamsOutput, error) {
			return &cloudwatchlogs.DescribeLogStreamsOutput{LogStreams: []types.LogStream{}}, nil
		},
		createLogStreamFunc: func(ctx context.Context, params *cloudwatchlogs.CreateLogStreamInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.CreateLogStreamOutput, error) {
			return nil, &types.ResourceAlreadyExistsException{Message: aws.String("Log stream already exists")}
		},
	}

	err := ensureLogGroupAndStreamExist(context.Background(), mockClient, "/aws/logs/test-group", "test-stream", logger)

	require.NoError(t, err)
}

func TestEnsureLogGroupAndStreamExistPropagatesOtherErrors(t *testing.T) {
	logger := models.NewDefaultLogger()

	mockClient := &mockCloudWatchLogsClient{
		describeLogGroupsFunc: func(ctx context.Context, params *cloudwatchlogs.DescribeLogGroupsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.DescribeLogGroupsOutput, error) {
			return nil, errors.New("service unavailable")
		},
	}

	err := ensureLogGroupAndStreamExist(context.Background(), mockClient, "/aws/logs/test-group", "test-stream", logger)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "service unavailable")
}

package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/llm-router/models"
	"github.com/upb/llm-router/services"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

// MockUsageRepository is a mock implementation of UsageRepository
type MockUsageRepository struct {
	mock.Mock
	mu       sync.Mutex
	inserted []*models.UsageRecord
}

func (m *MockUsageRepository) Insert(ctx context.Context, record *models.UsageRecord) error {
	args := m.Called(ctx, record)

	m.mu.Lock()
	defer m.mu.Unlock()
	if args.Error(0) == nil {
		m.inserted = append(m.inserted, record)
	}
	return args.Error(0)
}

func (m *MockUsageRepository) GetByRequestID(ctx context.Context, requestID string) ([]*models.UsageRecord, error) {
	args := m.Called(ctx, requestID)
	if records := args.Get(0); records != nil {
		return records.([]*models.UsageRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUsageRepository) ListRecent(ctx context.Context, limit int) ([]*models.UsageRecord, error) {
	args := m.Called(ctx, limit)
	if records := args.Get(0); records != nil {
		return records.([]*models.UsageRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockUsageRepository) Inserted() []*models.UsageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.UsageRecord(nil), m.inserted...)
}

func newRecord(requestID string, attempt int) *models.UsageRecord {
	return models.NewUsageRecord(requestID, attempt, "openai", "gpt-4o-mini").WithTokens(5, 5, 10).Succeeded()
}

func TestRecorder_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	mockRepo := new(MockUsageRepository)
	recorder := NewRecorder(mockRepo, zap.NewNop(), nil, Config{BufferSize: 10, WorkerCount: 2})

	require.NoError(t, recorder.Start())

	stats := recorder.GetStats()
	assert.True(t, stats.Started)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	assert.Error(t, recorder.Start(), "cannot start twice")

	require.NoError(t, recorder.Stop(5*time.Second))
	assert.False(t, recorder.GetStats().Started)
	assert.ErrorIs(t, recorder.Stop(time.Second), ErrNotStarted)
}

func TestRecorder_RecordBeforeStartAndAfterStop(t *testing.T) {
	mockRepo := new(MockUsageRepository)
	recorder := NewRecorder(mockRepo, zap.NewNop(), nil, DefaultConfig())

	assert.ErrorIs(t, recorder.Record(newRecord("r", 1)), ErrNotStarted)

	require.NoError(t, recorder.Start())
	require.NoError(t, recorder.Stop(time.Second))

	assert.ErrorIs(t, recorder.Record(newRecord("r", 1)), ErrNotStarted)
}

func TestRecorder_StopDrainsQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	mockRepo := new(MockUsageRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	recorder := NewRecorder(mockRepo, zap.NewNop(), nil, Config{BufferSize: 100, WorkerCount: 3})
	require.NoError(t, recorder.Start())

	const count = 50
	for i := 0; i < count; i++ {
		require.NoError(t, recorder.Record(newRecord("req", i+1)))
	}

	require.NoError(t, recorder.Stop(5*time.Second))

	assert.Len(t, mockRepo.Inserted(), count)
	assert.EqualValues(t, count, recorder.GetStats().Recorded)
}

func TestRecorder_ConcurrentRecording(t *testing.T) {
	mockRepo := new(MockUsageRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	recorder := NewRecorder(mockRepo, zap.NewNop(), nil, Config{BufferSize: 1000, WorkerCount: 5})
	require.NoError(t, recorder.Start())

	goroutineCount := 10
	recordsPerGoroutine := 10
	var wg sync.WaitGroup
	for i := 0; i < goroutineCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				_ = recorder.Record(newRecord("req", j+1))
			}
		}()
	}
	wg.Wait()

	require.NoError(t, recorder.Stop(5*time.Second))
	assert.Len(t, mockRepo.Inserted(), goroutineCount*recordsPerGoroutine)
}

func TestRecorder_InsertFailureIsSwallowed(t *testing.T) {
	mockRepo := new(MockUsageRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	recorder := NewRecorder(mockRepo, zap.NewNop(), nil, Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, recorder.Start())

	require.NoError(t, recorder.Record(newRecord("req-fail", 1)))
	require.NoError(t, recorder.Stop(5*time.Second))

	stats := recorder.GetStats()
	assert.EqualValues(t, 1, stats.Failed)
	assert.EqualValues(t, 0, stats.Recorded)
}

func TestRecorder_WriteTimeoutBoundsInsert(t *testing.T) {
	mockRepo := new(MockUsageRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		deadline, ok := ctx.Deadline()
		assert.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 50*time.Millisecond)
	})

	recorder := NewRecorder(mockRepo, zap.NewNop(), nil, Config{BufferSize: 1, WorkerCount: 1, WriteTimeout: 50 * time.Millisecond})
	require.NoError(t, recorder.Start())
	require.NoError(t, recorder.Record(newRecord("req", 1)))
	require.NoError(t, recorder.Stop(time.Second))

	mockRepo.AssertNumberOfCalls(t, "Insert", 1)
}

func TestRecorder_BufferFull(t *testing.T) {
	mockRepo := new(MockUsageRepository)

	release := make(chan struct{})
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil).Run(func(mock.Arguments) {
		<-release
	})

	recorder := NewRecorder(mockRepo, zap.NewNop(), nil, Config{BufferSize: 5, WorkerCount: 1})
	require.NoError(t, recorder.Start())

	accepted, dropped := 0, 0
	for i := 0; i < 20; i++ {
		err := recorder.Record(newRecord("req", i+1))
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ErrBufferFull):
			dropped++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	// one record may already be held by the blocked worker
	assert.GreaterOrEqual(t, accepted, 5)
	assert.LessOrEqual(t, accepted, 6)
	assert.Equal(t, 20-accepted, dropped)
	assert.EqualValues(t, dropped, recorder.GetStats().Dropped)

	close(release)
	require.NoError(t, recorder.Stop(5*time.Second))
}

func TestRecorder_Lookup(t *testing.T) {
	mockRepo := new(MockUsageRepository)
	records := []*models.UsageRecord{newRecord("req-1", 1), newRecord("req-1", 2)}
	mockRepo.On("GetByRequestID", mock.Anything, "req-1").Return(records, nil)
	mockRepo.On("GetByRequestID", mock.Anything, "missing").Return([]*models.UsageRecord{}, nil)
	mockRepo.On("GetByRequestID", mock.Anything, "broken").Return(nil, errors.New("db down"))

	recorder := NewRecorder(mockRepo, zap.NewNop(), nil, DefaultConfig())
	ctx := context.Background()

	got, err := recorder.Lookup(ctx, "req-1")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = recorder.Lookup(ctx, "missing")
	assert.True(t, services.IsNotFoundError(err))

	_, err = recorder.Lookup(ctx, "broken")
	assert.True(t, services.IsInternalError(err))

	_, err = recorder.Lookup(ctx, "")
	assert.True(t, services.IsValidationError(err))
}

func TestRecorder_RecentClampsLimit(t *testing.T) {
	mockRepo := new(MockUsageRepository)
	mockRepo.On("ListRecent", mock.Anything, 20).Return([]*models.UsageRecord{newRecord("a", 1)}, nil)
	mockRepo.On("ListRecent", mock.Anything, maxListLimit).Return([]*models.UsageRecord{}, nil)

	recorder := NewRecorder(mockRepo, zap.NewNop(), nil, DefaultConfig())

	got, err := recorder.Recent(context.Background(), 20)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = recorder.Recent(context.Background(), 0)
	require.NoError(t, err)
	_, err = recorder.Recent(context.Background(), 10000)
	require.NoError(t, err)

	mockRepo.AssertNumberOfCalls(t, "ListRecent", 3)
}

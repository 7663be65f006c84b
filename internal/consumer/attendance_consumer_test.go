package consumer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	commonredis "edufocus-notify/common/redis"
	"edufocus-notify/internal/dispatcher"
	"edufocus-notify/internal/models"
)

type processedEvent struct {
	schoolID  int64
	studentID int64
	eventType string
	timestamp time.Time
}

type fakeNotifier struct {
	mu       sync.Mutex
	recorded []processedEvent
	notified []processedEvent
	outcome  dispatcher.Outcome
}

func (n *fakeNotifier) RecordAttendance(_ context.Context, schoolID, studentID int64, eventType string, ts time.Time) (int64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.recorded = append(n.recorded, processedEvent{schoolID, studentID, eventType, ts})
	return int64(len(n.recorded)), nil
}

func (n *fakeNotifier) NotifyAttendance(_ context.Context, schoolID, studentID int64, eventType string, eventTime time.Time) (dispatcher.Outcome, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notified = append(n.notified, processedEvent{schoolID, studentID, eventType, eventTime})
	return n.outcome, nil
}

func (n *fakeNotifier) notifiedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notified)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func setupStream(t *testing.T) (*commonredis.Client, string) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, "attendance:events"
}

func TestConsumer_ProcessesAndAcksEvents(t *testing.T) {
	client, stream := setupStream(t)
	notifier := &fakeNotifier{outcome: dispatcher.OutcomeDelivered}

	eventTime := time.Date(2026, 3, 9, 7, 45, 0, 0, time.UTC)
	_, err := commonredis.PublishToStream(context.Background(), client, stream, map[string]interface{}{
		"school_id":  "3",
		"student_id": "42",
		"event_type": models.EventEntry,
		"timestamp":  eventTime.Format(time.RFC3339),
	})
	require.NoError(t, err)

	c := NewAttendanceConsumer(client, Options{
		Stream: stream,
		Group:  "notify-dispatcher",
		Batch:  10,
		Block:  50 * time.Millisecond,
	}, notifier, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Start(ctx)

	waitFor(t, 2*time.Second, func() bool { return notifier.notifiedCount() == 1 })

	notifier.mu.Lock()
	got := notifier.notified[0]
	recorded := notifier.recorded[0]
	notifier.mu.Unlock()

	assert.Equal(t, int64(3), got.schoolID)
	assert.Equal(t, int64(42), got.studentID)
	assert.Equal(t, models.EventEntry, got.eventType)
	assert.True(t, got.timestamp.Equal(eventTime))
	assert.Equal(t, got, recorded)

	// 处理完成后消息被确认，不再挂起
	waitFor(t, 2*time.Second, func() bool {
		pending, err := client.XPending(context.Background(), stream, "notify-dispatcher").Result()
		return err == nil && pending.Count == 0
	})
}

func TestConsumer_DiscardsMalformedEvents(t *testing.T) {
	client, stream := setupStream(t)
	notifier := &fakeNotifier{}

	_, err := commonredis.PublishToStream(context.Background(), client, stream, map[string]interface{}{
		"school_id": "not-a-number",
	})
	require.NoError(t, err)
	_, err = commonredis.PublishToStream(context.Background(), client, stream, map[string]interface{}{
		"school_id":  "3",
		"student_id": "42",
		"event_type": models.EventExit,
	})
	require.NoError(t, err)

	c := NewAttendanceConsumer(client, Options{
		Stream: stream,
		Group:  "notify-dispatcher",
		Block:  50 * time.Millisecond,
	}, notifier, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Start(ctx)

	// 毒消息被丢弃，合法消息照常处理
	waitFor(t, 2*time.Second, func() bool { return notifier.notifiedCount() == 1 })

	notifier.mu.Lock()
	got := notifier.notified[0]
	notifier.mu.Unlock()
	assert.Equal(t, models.EventExit, got.eventType)
}

func TestParseAttendanceEvent(t *testing.T) {
	t.Run("unix timestamp", func(t *testing.T) {
		event, err := parseAttendanceEvent(map[string]interface{}{
			"school_id":  "3",
			"student_id": "42",
			"event_type": models.EventEntry,
			"timestamp":  "1767954300",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(1767954300), event.Timestamp.Unix())
	})

	t.Run("missing timestamp defaults to now", func(t *testing.T) {
		event, err := parseAttendanceEvent(map[string]interface{}{
			"school_id":  "3",
			"student_id": "42",
			"event_type": models.EventEntry,
		})
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now(), event.Timestamp, time.Minute)
	})

	t.Run("missing ids are rejected", func(t *testing.T) {
		_, err := parseAttendanceEvent(map[string]interface{}{
			"event_type": models.EventEntry,
		})
		assert.Error(t, err)
	})

	t.Run("garbage timestamp is rejected", func(t *testing.T) {
		_, err := parseAttendanceEvent(map[string]interface{}{
			"school_id":  "3",
			"student_id": "42",
			"event_type": models.EventEntry,
			"timestamp":  "yesterday",
		})
		assert.Error(t, err)
	})
}

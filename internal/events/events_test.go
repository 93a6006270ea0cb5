package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"food-auth-service/internal/bucketing"
	"food-auth-service/internal/config"
	"food-auth-service/internal/model"
)

type fakeProducer struct {
	topic   string
	key     []byte
	value   []byte
	headers map[string]string
	err     error
}

func (f *fakeProducer) ProduceMessage(_ context.Context, topic string, key, value []byte, headers map[string]string) error {
	f.topic, f.key, f.value, f.headers = topic, key, value, headers
	return f.err
}

func (f *fakeProducer) Close() error { return nil }

func TestKafkaPublisherStampsAndKeysByUser(t *testing.T) {
	producer := &fakeProducer{}
	pub := NewKafkaPublisher(producer, "auth-events", zaptest.NewLogger(t))

	require.NoError(t, pub.Publish(context.Background(), model.AuthEvent{
		Type:      model.EventSessionCreated,
		UserID:    "user-1",
		PhoneHash: "ph",
	}))

	assert.Equal(t, "auth-events", producer.topic)
	assert.Equal(t, "user-1", string(producer.key))
	assert.Equal(t, model.EventSessionCreated, producer.headers["event-type"])

	var decoded model.AuthEvent
	require.NoError(t, json.Unmarshal(producer.value, &decoded))
	assert.NotEmpty(t, decoded.EventID)
	assert.False(t, decoded.OccurredAt.IsZero())
}

func TestPartitionKey(t *testing.T) {
	tests := []struct {
		name  string
		event model.AuthEvent
		want  string
	}{
		{"user wins", model.AuthEvent{EventID: "e", UserID: "u", PhoneHash: "p"}, "u"},
		{"phone hash before user exists", model.AuthEvent{EventID: "e", PhoneHash: "p"}, "p"},
		{"event id as last resort", model.AuthEvent{EventID: "e"}, "e"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PartitionKey(tt.event))
		})
	}
}

type fakeClickHouse struct {
	mu    sync.Mutex
	ddl   []string
	query string
	rows  [][]interface{}
}

func (f *fakeClickHouse) Exec(_ context.Context, query string, _ ...interface{}) error {
	f.ddl = append(f.ddl, query)
	return nil
}

func (f *fakeClickHouse) BatchInsert(_ context.Context, query string, data [][]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.query = query
	f.rows = append(f.rows, data...)
	return nil
}

func TestClickHouseSink(t *testing.T) {
	buckets := bucketing.NewBucketingManager(&config.Config{})
	ch := &fakeClickHouse{}
	sink := NewClickHouseSink(ch, "security_events", buckets)

	require.NoError(t, sink.EnsureTable(context.Background()))
	require.Len(t, ch.ddl, 1)
	assert.Contains(t, ch.ddl[0], "CREATE TABLE IF NOT EXISTS security_events")

	at := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	event := model.AuthEvent{EventID: "evt-1", Type: model.EventOTPVerified, UserID: "u", OccurredAt: at}
	require.NoError(t, sink.Write(context.Background(), event))

	require.Len(t, ch.rows, 1)
	row := ch.rows[0]
	assert.Equal(t, uint16(buckets.GetEventBucket("evt-1")), row[0])
	assert.Equal(t, "evt-1", row[1])
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), row[2])
	assert.Equal(t, model.EventOTPVerified, row[4])

	sec := ToSecurityEvent(event, buckets)
	assert.Equal(t, "2025-06-01", sec.EventDate)
}

type fakeSink struct {
	name   string
	mu     sync.Mutex
	events []model.AuthEvent
	fail   int
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Write(_ context.Context, event model.AuthEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail > 0 {
		f.fail--
		return errors.New("sink down")
	}
	f.events = append(f.events, event)
	return nil
}

type fakeSource struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []kafka.Message
	cancel    context.CancelFunc
}

func (f *fakeSource) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		f.cancel()
		return kafka.Message{}, ctx.Err()
	}
	msg := f.messages[0]
	f.messages = f.messages[1:]
	return msg, nil
}

func (f *fakeSource) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed = append(f.committed, msgs...)
	return nil
}

func encode(t *testing.T, event model.AuthEvent) kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestProcessorDeliversToAllSinksThenCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := &fakeSource{cancel: cancel, messages: []kafka.Message{
		encode(t, model.AuthEvent{EventID: "e1", Type: model.EventOTPRequested}),
		{Value: []byte("not json")},
		encode(t, model.AuthEvent{EventID: "e2", Type: model.EventSessionRevoked}),
	}}
	flaky := &fakeSink{name: "flaky", fail: 2}
	steady := &fakeSink{name: "steady"}

	p := NewProcessor(source, []Sink{flaky, steady}, zaptest.NewLogger(t))
	p.minBackoff = time.Millisecond
	p.maxBackoff = 2 * time.Millisecond

	require.NoError(t, p.Run(ctx))

	assert.Len(t, source.committed, 3)
	require.Len(t, flaky.events, 2)
	assert.Equal(t, "e1", flaky.events[0].EventID)
	assert.Equal(t, "e2", flaky.events[1].EventID)
	// steady sees e1 again on each retry; sinks are idempotent by event id.
	assert.GreaterOrEqual(t, len(steady.events), 2)
}

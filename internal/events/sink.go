package events

import (
	"context"
	"fmt"
	"time"

	"food-auth-service/internal/bucketing"
	"food-auth-service/internal/model"
	"food-auth-service/internal/models"
)

// Sink stores one auth event. Writes must be idempotent by event id
// because the worker redelivers on partial failure.
type Sink interface {
	Name() string
	Write(ctx context.Context, event model.AuthEvent) error
}

// ClickHouseWriter is satisfied by client.ClickHouseClient.
type ClickHouseWriter interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	BatchInsert(ctx context.Context, query string, data [][]interface{}) error
}

// ClickHouseSink appends events to a ReplacingMergeTree keyed by event id.
type ClickHouseSink struct {
	writer  ClickHouseWriter
	table   string
	buckets *bucketing.BucketingManager
}

func NewClickHouseSink(writer ClickHouseWriter, table string, buckets *bucketing.BucketingManager) *ClickHouseSink {
	return &ClickHouseSink{writer: writer, table: table, buckets: buckets}
}

func (s *ClickHouseSink) Name() string { return "clickhouse" }

func (s *ClickHouseSink) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            event_bucket UInt16,
            event_id String,
            event_date Date,
            event_time DateTime64(3, 'UTC'),
            event_type LowCardinality(String),
            user_id String,
            session_id String,
            request_id String,
            phone_hash String,
            client_descriptor String,
            reason String
        ) ENGINE = ReplacingMergeTree
        PARTITION BY toYYYYMM(event_date)
        ORDER BY (event_bucket, event_date, event_id)`, s.table)
	if err := s.writer.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create %s: %w", s.table, err)
	}
	return nil
}

// ToSecurityEvent flattens an auth event into its ClickHouse row.
func ToSecurityEvent(event model.AuthEvent, buckets *bucketing.BucketingManager) models.SecurityEvent {
	return models.SecurityEvent{
		EventBucket:      buckets.GetEventBucket(event.EventID),
		EventID:          event.EventID,
		EventDate:        buckets.GetDateBucket(event.OccurredAt),
		EventTime:        event.OccurredAt.UTC(),
		EventType:        event.Type,
		UserID:           event.UserID,
		SessionID:        event.SessionID,
		RequestID:        event.RequestID,
		PhoneHash:        event.PhoneHash,
		ClientDescriptor: event.ClientDescriptor,
		Reason:           event.Reason,
	}
}

func (s *ClickHouseSink) Write(ctx context.Context, event model.AuthEvent) error {
	row := ToSecurityEvent(event, s.buckets)
	query := fmt.Sprintf(`INSERT INTO %s (
        event_bucket, event_id, event_date, event_time, event_type, user_id,
        session_id, request_id, phone_hash, client_descriptor, reason)`, s.table)

	// The Date column is appended as a time; row.EventDate is its string form.
	eventDate := row.EventTime.Truncate(24 * time.Hour)
	return s.writer.BatchInsert(ctx, query, [][]interface{}{{
		uint16(row.EventBucket), row.EventID, eventDate, row.EventTime, row.EventType, row.UserID,
		row.SessionID, row.RequestID, row.PhoneHash, row.ClientDescriptor, row.Reason,
	}})
}

// DocumentIndexer is satisfied by client.ESClient.
type DocumentIndexer interface {
	IndexDocument(ctx context.Context, index, id string, document interface{}) error
}

// ElasticsearchSink indexes events by event id.
type ElasticsearchSink struct {
	indexer DocumentIndexer
	index   string
}

func NewElasticsearchSink(indexer DocumentIndexer, index string) *ElasticsearchSink {
	return &ElasticsearchSink{indexer: indexer, index: index}
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchSink) Write(ctx context.Context, event model.AuthEvent) error {
	return s.indexer.IndexDocument(ctx, s.index, event.EventID, event)
}

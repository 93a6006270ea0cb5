package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"food-auth-service/internal/model"
)

// MessageSource is satisfied by client.KafkaConsumer.
type MessageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Processor drains auth events into every sink. A message is committed only
// after all sinks accepted it, so delivery is at-least-once.
type Processor struct {
	source     MessageSource
	sinks      []Sink
	logger     *zap.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewProcessor(source MessageSource, sinks []Sink, logger *zap.Logger) *Processor {
	return &Processor{
		source:     source,
		sinks:      sinks,
		logger:     logger,
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

// Run blocks until ctx is cancelled or the source fails.
func (p *Processor) Run(ctx context.Context) error {
	for {
		msg, err := p.source.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := p.deliver(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		if err := p.source.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// deliver retries the sinks with backoff until they succeed or ctx ends.
// Undecodable messages are logged and skipped.
func (p *Processor) deliver(ctx context.Context, msg kafka.Message) error {
	var event model.AuthEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil || event.EventID == "" {
		p.logger.Warn("Skipping undecodable auth event",
			zap.Int64("offset", msg.Offset),
			zap.Int("partition", msg.Partition),
			zap.Error(err))
		return nil
	}

	backoff := p.minBackoff
	for {
		err := p.Handle(ctx, event)
		if err == nil {
			return nil
		}

		p.logger.Warn("Audit sink write failed, retrying",
			zap.String("event_id", event.EventID),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > p.maxBackoff {
			backoff = p.maxBackoff
		}
	}
}

// Handle writes one event to every sink concurrently.
func (p *Processor) Handle(ctx context.Context, event model.AuthEvent) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, sink := range p.sinks {
		g.Go(func() error {
			if err := sink.Write(gctx, event); err != nil {
				return fmt.Errorf("%s sink: %w", sink.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/guild-achievements/internal/config"
	"github.com/guild-achievements/internal/domain"
)

// EventHandler processes platform events
type EventHandler interface {
	HandleEvent(ctx context.Context, event domain.PlatformEvent) error
}

// Consumer consumes platform events from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	handler       EventHandler
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, handler EventHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	c := newConsumer(cfg, handler, logger)
	c.consumerGroup = consumerGroup
	return c, nil
}

func newConsumer(cfg *config.KafkaConfig, handler EventHandler, logger *slog.Logger) *Consumer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		config:  cfg,
		handler: handler,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins consuming messages from Kafka. It returns once the first
// session is set up, or fails if that takes longer than ReadyTimeout.
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	firstReady := make(chan bool)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ready := firstReady
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			if c.ctx.Err() != nil {
				return
			}

			// a rebalance starts a new session with its own setup signal
			ready = make(chan bool)
		}
	}()

	timeout := c.config.ReadyTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-firstReady:
	case <-c.ctx.Done():
		c.wg.Wait()
		return c.ctx.Err()
	case <-timer.C:
		c.cancel()
		c.wg.Wait()
		if err := c.consumerGroup.Close(); err != nil {
			c.logger.Warn("failed to close consumer group", "error", err)
		}
		return fmt.Errorf("kafka consumer not ready after %s", timeout)
	}
	c.logger.Info("Kafka consumer ready")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// processBatch hands events to the handler in arrival order. Validation
// failures are dropped; other failures are retried up to RetryAttempts times.
func (c *Consumer) processBatch(ctx context.Context, events []domain.PlatformEvent) (handled, failed int) {
	for _, event := range events {
		if err := c.handleWithRetry(ctx, event); err != nil {
			c.logger.Error("failed to process event",
				"event_id", event.ID,
				"type", event.Type,
				"community_id", event.CommunityID,
				"member_id", event.MemberID,
				"error", err,
			)
			failed++
			continue
		}
		handled++
	}
	return handled, failed
}

func (c *Consumer) handleWithRetry(ctx context.Context, event domain.PlatformEvent) error {
	attempts := c.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = c.handler.HandleEvent(ctx, event); err == nil {
			return nil
		}
		if domain.IsValidationError(err) || domain.IsNotFoundError(err) || attempt == attempts {
			return err
		}

		c.logger.Warn("retrying event", "event_id", event.ID, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.config.RetryDelay):
		}
	}
	return err
}

// decodeEvent parses and validates a message value
func decodeEvent(value []byte) (domain.PlatformEvent, error) {
	var event domain.PlatformEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return domain.PlatformEvent{}, err
	}
	if err := event.Validate(); err != nil {
		return domain.PlatformEvent{}, err
	}
	return event, nil
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	c := h.consumer
	cfg := c.config
	batch := make([]domain.PlatformEvent, 0, cfg.BatchSize)
	pending := make([]*sarama.ConsumerMessage, 0, cfg.BatchSize)
	batchTimer := time.NewTimer(cfg.BatchTimeout)
	defer batchTimer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		handled, failed := c.processBatch(ctx, batch)
		c.logger.Debug("processed batch", "batch_size", len(batch), "handled", handled, "failed", failed)

		// offsets are committed only once the batch has been applied
		for _, message := range pending {
			session.MarkMessage(message, "")
		}
		batch = batch[:0]
		pending = pending[:0]
	}

	for {
		select {
		case <-session.Context().Done():
			flush()
			return nil

		case <-batchTimer.C:
			flush()
			batchTimer.Reset(cfg.BatchTimeout)

		case message, ok := <-claim.Messages():
			if !ok {
				flush()
				return nil
			}

			event, err := decodeEvent(message.Value)
			if err != nil {
				c.logger.Warn("invalid platform event",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				session.MarkMessage(message, "")
				continue
			}

			batch = append(batch, event)
			pending = append(pending, message)

			if len(batch) >= cfg.BatchSize {
				flush()
				batchTimer.Reset(cfg.BatchTimeout)
			}
		}
	}
}

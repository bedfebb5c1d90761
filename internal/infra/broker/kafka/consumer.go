package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"
)

// RoomUpdateEvent is the backend's broadcast when a workflow changes outside
// this process, e.g. the peer acted from another device.
type RoomUpdateEvent struct {
	RoomID             string `json:"roomId"`
	WorkflowID         string `json:"workflowId"`
	Status             string `json:"status"`
	StatusBeforeCancel string `json:"statusBeforeCancel,omitempty"`
}

// RoomUpdateHandler applies a room update to the live sessions of that room.
type RoomUpdateHandler interface {
	HandleRoomUpdate(ctx context.Context, event RoomUpdateEvent) error
}

// Consumer subscribes to room update topics and feeds them to the handler.
type Consumer struct {
	group   sarama.ConsumerGroup
	handler RoomUpdateHandler
	log     *slog.Logger
}

func NewConsumer(brokers []string, groupID string, cfg *sarama.Config, handler RoomUpdateHandler, log *slog.Logger) (*Consumer, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Version = sarama.V2_5_0_0
	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka: consumer group %s: %w", groupID, err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{group: group, handler: handler, log: log}, nil
}

// Run consumes until the context is cancelled. Rebalances restart the claim
// loop; decode failures are logged and the offset advanced so a poison
// message cannot wedge the partition.
func (c *Consumer) Run(ctx context.Context, topics []string) error {
	for {
		if err := c.group.Consume(ctx, topics, claimHandler{consumer: c}); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type claimHandler struct {
	consumer *Consumer
}

func (h claimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h claimHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		var event RoomUpdateEvent
		if err := json.Unmarshal(message.Value, &event); err != nil {
			h.consumer.log.Warn("room update decode failed", "error", err, "offset", message.Offset)
			sess.MarkMessage(message, "")
			continue
		}
		if event.RoomID == "" {
			sess.MarkMessage(message, "")
			continue
		}
		if err := h.consumer.handler.HandleRoomUpdate(sess.Context(), event); err != nil {
			h.consumer.log.Warn("room update handling failed", "error", err, "room_id", event.RoomID)
			continue
		}
		sess.MarkMessage(message, "")
	}
	return nil
}

package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypePipelineStart   MessageType = "pipelines.start"
	MessageTypeStartOperation  MessageType = "pipelines.start_operation"
	MessageTypeStopOperations  MessageType = "pipelines.stop_operations"
	MessageTypeSkipOperations  MessageType = "pipelines.skip_operations"
	MessageTypeCheckStatuses   MessageType = "pipelines.check_statuses"
	MessageTypeOperationStatus MessageType = "operations.status"
	MessageTypeOperationReady  MessageType = "operations.ready"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — конверт сообщения.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// PipelineRunPayload — payload для pipelines.start.
type PipelineRunPayload struct {
	PipelineRunID uuid.UUID `json:"pipeline_run_id"`
}

// OperationRunPayload — payload для pipelines.start_operation.
type OperationRunPayload struct {
	OperationRunID uuid.UUID `json:"operation_run_id"`
}

// PropagationPayload — payload для stop/skip operations.
type PropagationPayload struct {
	PipelineRunID uuid.UUID `json:"pipeline_run_id"`
	Message       string    `json:"message,omitempty"`
}

// CheckStatusesPayload — payload для pipelines.check_statuses.
type CheckStatusesPayload struct {
	PipelineRunID uuid.UUID `json:"pipeline_run_id"`
	Status        string    `json:"status"`
	Message       string    `json:"message,omitempty"`
}

// OperationStatusPayload — отчёт исполнителя о статусе operation run.
type OperationStatusPayload struct {
	OperationRunID uuid.UUID `json:"operation_run_id"`
	Status         string    `json:"status"`
	Message        string    `json:"message,omitempty"`
}

// OperationReadyPayload — operation run допущен и ждёт исполнителя.
type OperationReadyPayload struct {
	OperationRunID   uuid.UUID      `json:"operation_run_id"`
	PipelineRunID    uuid.UUID      `json:"pipeline_run_id"`
	Name             string         `json:"name"`
	Kind             string         `json:"kind"`
	ConcurrencyClass string         `json:"concurrency_class"`
	Config           map[string]any `json:"config,omitempty"`
}

// NewMessage создаёт конверт с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	return p.publish(ctx, exchange, routingKey, msg, "")
}

// PublishDelayed публикует сообщение, которое будет доставлено в ExchangeTasks
// с routing key через delay. При delay <= 0 публикует сразу.
func (p *Publisher) PublishDelayed(ctx context.Context, routingKey RoutingKey, msg *Message, delay time.Duration) error {
	if delay <= 0 {
		return p.Publish(ctx, ExchangeTasks, routingKey, msg)
	}
	return p.publish(ctx, ExchangeDelay, routingKey, msg, Expiration(delay))
}

// publish сериализует и отправляет сообщение.
func (p *Publisher) publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message, expiration string) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,              // mandatory
			false,              // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Type:         string(msg.Type),
				Expiration:   expiration,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
			"expiration", expiration,
		)

		return nil
	})
}

// Expiration переводит задержку в значение AMQP expiration (миллисекунды).
func Expiration(delay time.Duration) string {
	ms := delay.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return strconv.FormatInt(ms, 10)
}

// PublishPipelineStart запрашивает запуск цикла допуска для pipeline run.
// Потребитель: scheduler.
func (p *Publisher) PublishPipelineStart(ctx context.Context, pipelineRunID uuid.UUID, delay time.Duration) error {
	msg := NewMessage(MessageTypePipelineStart, PipelineRunPayload{PipelineRunID: pipelineRunID})
	return p.PublishDelayed(ctx, RoutingKeyStart, msg, delay)
}

// PublishStartOperation запрашивает допуск одного operation run.
func (p *Publisher) PublishStartOperation(ctx context.Context, operationRunID uuid.UUID) error {
	msg := NewMessage(MessageTypeStartOperation, OperationRunPayload{OperationRunID: operationRunID})
	return p.Publish(ctx, ExchangeTasks, RoutingKeyStartOperation, msg)
}

// PublishStopOperations запрашивает остановку pipeline run.
func (p *Publisher) PublishStopOperations(ctx context.Context, pipelineRunID uuid.UUID, message string) error {
	msg := NewMessage(MessageTypeStopOperations, PropagationPayload{PipelineRunID: pipelineRunID, Message: message})
	return p.Publish(ctx, ExchangeTasks, RoutingKeyStopOperations, msg)
}

// PublishSkipOperations запрашивает остановку и пропуск операций pipeline run.
func (p *Publisher) PublishSkipOperations(ctx context.Context, pipelineRunID uuid.UUID, message string) error {
	msg := NewMessage(MessageTypeSkipOperations, PropagationPayload{PipelineRunID: pipelineRunID, Message: message})
	return p.Publish(ctx, ExchangeTasks, RoutingKeySkipOperations, msg)
}

// PublishCheckStatuses запрашивает пересчёт статуса pipeline run.
func (p *Publisher) PublishCheckStatuses(ctx context.Context, pipelineRunID uuid.UUID, status, message string) error {
	msg := NewMessage(MessageTypeCheckStatuses, CheckStatusesPayload{
		PipelineRunID: pipelineRunID,
		Status:        status,
		Message:       message,
	})
	return p.Publish(ctx, ExchangeTasks, RoutingKeyCheckStatuses, msg)
}

// PublishOperationStatus публикует отчёт о статусе operation run.
// Отправители: исполнители и CLI.
func (p *Publisher) PublishOperationStatus(ctx context.Context, payload OperationStatusPayload) error {
	msg := NewMessage(MessageTypeOperationStatus, payload)
	return p.Publish(ctx, ExchangeTasks, RoutingKeyStatus, msg)
}

// PublishOperationReady передаёт допущенный operation run исполнителям.
// Потребитель: executors.
func (p *Publisher) PublishOperationReady(ctx context.Context, payload OperationReadyPayload) error {
	msg := NewMessage(MessageTypeOperationReady, payload)
	return p.Publish(ctx, ExchangeTasks, RoutingKeyReady, msg)
}

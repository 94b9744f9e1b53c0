package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	// ExchangeTasks — точки входа планировщика и события операций.
	ExchangeTasks Exchange = "pipelines.tasks"

	// ExchangeDelay — отложенные сообщения. Сообщение ждёт в QueueDelayed
	// до истечения TTL и возвращается в ExchangeTasks с исходным routing key.
	ExchangeDelay Exchange = "pipelines.delay"

	// ExchangeDLQ — dead letter exchange для некорректных сообщений.
	ExchangeDLQ Exchange = "pipelines.dlq"
)

// Queues — имена очередей.
const (
	QueuePipelinesStart          Queue = "pipelines.start"
	QueuePipelinesStartOperation Queue = "pipelines.start_operation"
	QueuePipelinesStopOperations Queue = "pipelines.stop_operations"
	QueuePipelinesSkipOperations Queue = "pipelines.skip_operations"
	QueuePipelinesCheckStatuses  Queue = "pipelines.check_statuses"
	QueueOperationsStatus        Queue = "operations.status"
	QueueOperationsReady         Queue = "operations.ready"
	QueueDelayed                 Queue = "pipelines.delayed"
	QueueDLQ                     Queue = "dlq.pipelines"
)

// Routing keys.
const (
	RoutingKeyStart          RoutingKey = "start"
	RoutingKeyStartOperation RoutingKey = "start_operation"
	RoutingKeyStopOperations RoutingKey = "stop_operations"
	RoutingKeySkipOperations RoutingKey = "skip_operations"
	RoutingKeyCheckStatuses  RoutingKey = "check_statuses"
	RoutingKeyStatus         RoutingKey = "status"
	RoutingKeyReady          RoutingKey = "ready"
	RoutingKeyDLQ            RoutingKey = "dead"
)

// SetupTopology объявляет exchanges, queues и bindings.
// Повторный вызов безопасен: объявления идемпотентны.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Создаём exchanges
		if err := declareExchanges(ch); err != nil {
			return err
		}

		// 2. Создаём queues
		if err := declareQueues(ch); err != nil {
			return err
		}

		// 3. Привязываем queues к exchanges
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeTasks, "direct"},
		{ExchangeDelay, "fanout"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// queueDefinitions возвращает очереди с их аргументами.
func queueDefinitions() []struct {
	name Queue
	args amqp.Table
} {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQ),
	}

	// Истёкшие сообщения возвращаются в ExchangeTasks с исходным routing key
	delayedArgs := amqp.Table{
		"x-dead-letter-exchange": string(ExchangeTasks),
	}

	return []struct {
		name Queue
		args amqp.Table
	}{
		{QueuePipelinesStart, dlqArgs},
		{QueuePipelinesStartOperation, dlqArgs},
		{QueuePipelinesStopOperations, dlqArgs},
		{QueuePipelinesSkipOperations, dlqArgs},
		{QueuePipelinesCheckStatuses, dlqArgs},
		{QueueOperationsStatus, dlqArgs},
		{QueueOperationsReady, dlqArgs},
		{QueueDelayed, delayedArgs},
		{QueueDLQ, nil},
	}
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	for _, q := range queueDefinitions() {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindings — привязки очередей к обменникам.
var bindings = []struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
}{
	{QueuePipelinesStart, RoutingKeyStart, ExchangeTasks},
	{QueuePipelinesStartOperation, RoutingKeyStartOperation, ExchangeTasks},
	{QueuePipelinesStopOperations, RoutingKeyStopOperations, ExchangeTasks},
	{QueuePipelinesSkipOperations, RoutingKeySkipOperations, ExchangeTasks},
	{QueuePipelinesCheckStatuses, RoutingKeyCheckStatuses, ExchangeTasks},
	{QueueOperationsStatus, RoutingKeyStatus, ExchangeTasks},
	{QueueOperationsReady, RoutingKeyReady, ExchangeTasks},
	{QueueDelayed, "", ExchangeDelay},
	{QueueDLQ, RoutingKeyDLQ, ExchangeDLQ},
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  Pipelines RabbitMQ Topology:

    pipelines.tasks (direct)
    ├── pipelines.start            [start]            Consumer: scheduler
    ├── pipelines.start_operation  [start_operation]  Consumer: scheduler
    ├── pipelines.stop_operations  [stop_operations]  Consumer: scheduler
    ├── pipelines.skip_operations  [skip_operations]  Consumer: scheduler
    ├── pipelines.check_statuses   [check_statuses]   Consumer: scheduler
    ├── operations.status          [status]           Consumer: scheduler
    └── operations.ready           [ready]            Consumer: executors

    pipelines.delay (fanout)
    └── pipelines.delayed  TTL per message → pipelines.tasks

    pipelines.dlq (direct)
    └── dlq.pipelines [dead]  Manual processing
  `
}

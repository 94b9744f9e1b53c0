// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с автоматическим переподключением
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений, в том числе отложенных
//   - consumer.go   — потребление сообщений из очередей
//
// Точки входа планировщика (exchange pipelines.tasks):
//   - pipelines.start           — цикл допуска для pipeline run
//   - pipelines.start_operation — допуск одного operation run
//   - pipelines.stop_operations — остановка pipeline run
//   - pipelines.skip_operations — остановка и пропуск операций
//   - pipelines.check_statuses  — пересчёт статуса pipeline run
//   - operations.status         — отчёты исполнителей
//
// Отложенный перезапуск публикуется в pipelines.delay с TTL сообщения:
// после истечения TTL очередь pipelines.delayed возвращает сообщение
// в pipelines.tasks с исходным routing key.
package mq

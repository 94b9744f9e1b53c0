// Package cli реализует инструмент командной строки pipelines.
//
// # Обзор
//
// CLI работает напрямую с run-store (PostgreSQL) и очередями RabbitMQ:
// создаёт pipeline runs из файлов определения и публикует триггеры
// планировщика. Само планирование выполняет сервис pipelines-scheduler.
//
// # Ключевые компоненты
//
// ## Backend
//
// Store и Publisher, нужные командам. Connect строит их из config.Config;
// команды получают Backend лениво через BackendFunc, после разбора флагов.
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
//
// ## Commands
//
//   - validate FILE          — разбор и проверка определения
//   - simulate FILE          — прогон определения в памяти, без БД и брокера
//   - create FILE            — pipeline + run + триггер запуска
//   - start|stop|skip|check  — триггеры планировщика для pipeline run
//   - report ID STATUS       — отчёт о статусе operation run
//   - show ID                — статус pipeline run и его operation runs
package cli

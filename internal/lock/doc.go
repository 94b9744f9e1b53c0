// Package lock сериализует работу с одним pipeline run между процессами.
//
// Цикл допуска для одного pipeline run не должен выполняться дважды
// одновременно: иначе бюджет будет превышен. Locker берёт неблокирующую
// блокировку по ключу; если она занята, вызывающий откладывает работу.
//
// Реализации:
//   - Local    — в пределах процесса (тесты, один экземпляр)
//   - Postgres — pg_try_advisory_lock на выделенном соединении
//   - Redis    — redsync поверх go-redis
package lock

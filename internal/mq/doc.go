// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — соединение с reconnect и graceful shutdown
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация dispatch и подсказок воркерам
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - notification.dispatch — уведомление для службы доставки канала
//   - workitems.changed     — набор items владельца изменился, стоит сделать тик
//
// Exchanges:
//   - herald.dispatch  — очереди каналов (email, sms)
//   - herald.workitems — подсказки воркерам
//   - herald.dlq       — dead letter queue
package mq

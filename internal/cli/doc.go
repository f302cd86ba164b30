// Package cli реализует операторский инструмент командной строки Herald.
//
// # Обзор
//
// CLI работает напрямую с хранилищем work items (PostgreSQL или SQLite,
// по той же конфигурации, что и воркер): применяет миграции, показывает
// items владельца и отменяет отдельные items.
//
// # Ключевые компоненты
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: herald items list ... --json | jq .
//
// ## Commands
//
//   - migrate
//   - items: list, show, cancel, stats
//
// Каждая группа создаётся через фабричную функцию (NewItemsCmd и т.д.),
// принимающую storeFn и outputFn — замыкания для ленивого открытия
// хранилища и Output после парсинга PersistentFlags.
package cli

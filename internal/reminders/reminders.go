// Package reminders — напоминания о событиях: якорь events, due time
// отсчитывается от начала события.
package reminders

import (
	"fmt"
	"time"

	"github.com/shaiso/Herald/internal/domain"
	"github.com/shaiso/Herald/internal/engine"
)

// Kind — тип якоря напоминаний о событиях.
const Kind = domain.AnchorKindEvent

// NewEngine создаёт Engine для напоминаний о событиях.
func NewEngine(cfg engine.Config) (*engine.Engine, error) {
	cfg.Kind = Kind
	return engine.New(cfg)
}

// Composer формирует текст напоминания о событии.
type Composer struct{}

// Compose возвращает тему и текст.
//
// Пустая тема заменяется на "Reminder: <title>", пустое сообщение на
// время начала события в timezone получателя.
func (Composer) Compose(item *domain.ClaimedWorkItem) (subject, body string) {
	subject = item.Payload.Subject
	if subject == "" {
		subject = "Reminder: " + item.Anchor.Title
	}

	body = item.Payload.Message
	if body == "" {
		local := item.Anchor.Time.In(location(item.Payload.Timezone))
		body = fmt.Sprintf("%s starts at %s", item.Anchor.Title, local.Format("Mon, 02 Jan 2006 15:04 MST"))
	}
	return subject, body
}

// location загружает timezone, при ошибке UTC.
func location(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

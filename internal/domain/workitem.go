package domain

import (
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxMessageLength — максимальная длина сообщения в символах.
const MaxMessageLength = 500

// Channel — канал доставки.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Valid проверяет, что канал известен.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelSMS
}

// Payload — содержимое напоминания и метаданные каналов.
type Payload struct {
	Subject  string `json:"subject,omitempty"`
	Message  string `json:"message"`
	Timezone string `json:"timezone"`

	// Recipients — получатель по каналу (адрес email, номер телефона).
	Recipients map[Channel]string `json:"recipients,omitempty"`

	// Metadata — произвольные данные вызывающей стороны.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Definition — то, что задаёт владелец: когда, куда и что отправить.
type Definition struct {
	Timing   TimingRule `json:"timing"`
	Channels []Channel  `json:"channels"`
	Payload  Payload    `json:"payload"`

	// Actor — кто создаёт или изменяет определение (created_by / modified_by).
	Actor string `json:"actor,omitempty"`
}

// Normalize приводит определение к каноническому виду и валидирует его.
// Ошибки — *ValidationError.
func (d Definition) Normalize() (Definition, error) {
	d.Timing = d.Timing.Normalize()
	if err := d.Timing.Validate(); err != nil {
		return Definition{}, err
	}

	channels := make([]Channel, 0, len(d.Channels))
	for _, ch := range d.Channels {
		ch = Channel(strings.ToLower(strings.TrimSpace(string(ch))))
		if !ch.Valid() {
			return Definition{}, NewValidationError("channels", "unknown channel "+string(ch), ErrUnknownChannel)
		}
		if !slices.Contains(channels, ch) {
			channels = append(channels, ch)
		}
	}
	if len(channels) == 0 {
		return Definition{}, NewValidationError("channels", "at least one channel must be enabled", ErrNoChannels)
	}
	slices.Sort(channels)
	d.Channels = channels

	if utf8.RuneCountInString(d.Payload.Message) > MaxMessageLength {
		return Definition{}, NewValidationError("payload.message", "message must be at most 500 characters", ErrMessageTooLong)
	}

	d.Payload.Timezone = strings.TrimSpace(d.Payload.Timezone)
	if d.Payload.Timezone == "" {
		return Definition{}, NewValidationError("payload.timezone", "timezone is required", ErrMissingTimezone)
	}

	d.Actor = strings.TrimSpace(d.Actor)
	return d, nil
}

// Patch — частичное изменение определения. nil-поля не меняются.
type Patch struct {
	Timing     *TimingRule
	Channels   []Channel
	Subject    *string
	Message    *string
	Timezone   *string
	Recipients map[Channel]string
	Metadata   map[string]any
	Actor      string
}

// Apply накладывает patch поверх определения.
func (p Patch) Apply(d Definition) Definition {
	if p.Timing != nil {
		d.Timing = *p.Timing
	}
	if p.Channels != nil {
		d.Channels = slices.Clone(p.Channels)
	}
	if p.Subject != nil {
		d.Payload.Subject = *p.Subject
	}
	if p.Message != nil {
		d.Payload.Message = *p.Message
	}
	if p.Timezone != nil {
		d.Payload.Timezone = *p.Timezone
	}
	if p.Recipients != nil {
		d.Payload.Recipients = p.Recipients
	}
	if p.Metadata != nil {
		d.Payload.Metadata = p.Metadata
	}
	d.Actor = p.Actor
	return d
}

// WorkItem — единица отложенной работы с вычисляемым due time.
//
// Due time не хранится: он выводится из Timing и текущего состояния якоря.
// После записи попытки (AttemptedAt != nil) item неизменяем для владельца.
type WorkItem struct {
	// ID — уникальный идентификатор, неизменяемый.
	ID uuid.UUID `json:"id"`

	// Owner — якорь, определяющий due time.
	Owner OwnerRef `json:"owner"`

	Timing   TimingRule `json:"timing"`
	Channels []Channel  `json:"channels"`
	Payload  Payload    `json:"payload"`

	// State — состояние жизненного цикла.
	State LifecycleState `json:"state"`

	// ClaimedAt — время последнего claim; nil вне claimed.
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`

	// AttemptCount — сколько раз item был claim'нут.
	AttemptCount int `json:"attempt_count"`

	// Поля попытки, заполняются только Attempt Result Recorder.
	AttemptedAt    *time.Time      `json:"attempted_at,omitempty"`
	AttemptStatus  AttemptStatus   `json:"attempt_status,omitempty"`
	AttemptSummary *AttemptSummary `json:"attempt_summary,omitempty"`
	LastError      string          `json:"last_error,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	CreatedBy  string    `json:"created_by,omitempty"`
	ModifiedBy string    `json:"modified_by,omitempty"`
}

// NewWorkItem создаёт pending item из нормализованного определения.
func NewWorkItem(owner OwnerRef, def Definition, now time.Time) *WorkItem {
	now = now.UTC()
	return &WorkItem{
		ID:         uuid.New(),
		Owner:      owner,
		Timing:     def.Timing,
		Channels:   def.Channels,
		Payload:    def.Payload,
		State:      LifecycleStatePending,
		CreatedAt:  now,
		UpdatedAt:  now,
		CreatedBy:  def.Actor,
		ModifiedBy: def.Actor,
	}
}

// IsAttempted возвращает true, если попытка уже записана.
func (w *WorkItem) IsAttempted() bool {
	return w.AttemptedAt != nil
}

// Definition возвращает текущее определение item.
func (w *WorkItem) Definition() Definition {
	return Definition{
		Timing:   w.Timing,
		Channels: slices.Clone(w.Channels),
		Payload:  w.Payload,
		Actor:    w.ModifiedBy,
	}
}

// ApplyDefinition записывает нормализованное определение в item.
func (w *WorkItem) ApplyDefinition(def Definition, now time.Time) {
	w.Timing = def.Timing
	w.Channels = def.Channels
	w.Payload = def.Payload
	w.ModifiedBy = def.Actor
	w.UpdatedAt = now.UTC()
}

// ClaimedWorkItem — item, захваченный воркером, вместе с контекстом якоря.
type ClaimedWorkItem struct {
	WorkItem

	// DueAt — вычисленный due time на момент claim.
	DueAt time.Time `json:"due_at"`

	// Anchor — состояние якоря на момент claim.
	Anchor Anchor `json:"anchor"`
}

// Reclaimed возвращает true, если item claim'ится не в первый раз.
func (c *ClaimedWorkItem) Reclaimed() bool {
	return c.AttemptCount > 1
}

package repo

import (
	"time"

	"github.com/shaiso/Herald/internal/domain"
)

// nullString возвращает nil для пустой строки.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// timingColumns раскладывает TimingRule на offset_minutes / absolute_at.
func timingColumns(rule domain.TimingRule) (*int, *time.Time) {
	switch rule.Kind {
	case domain.TimingRelative:
		offset := rule.OffsetMinutes
		return &offset, nil
	case domain.TimingAbsolute:
		return nil, utcPtr(rule.At)
	default:
		return nil, nil
	}
}

// timingFromColumns собирает TimingRule обратно.
func timingFromColumns(kind string, offset *int, at *time.Time) domain.TimingRule {
	rule := domain.TimingRule{Kind: domain.TimingKind(kind)}
	if offset != nil {
		rule.OffsetMinutes = *offset
	}
	rule.At = utcPtr(at)
	return rule
}

func channelStrings(channels []domain.Channel) []string {
	out := make([]string, len(channels))
	for i, ch := range channels {
		out[i] = string(ch)
	}
	return out
}

func toChannels(values []string) []domain.Channel {
	out := make([]domain.Channel, len(values))
	for i, v := range values {
		out[i] = domain.Channel(v)
	}
	return out
}

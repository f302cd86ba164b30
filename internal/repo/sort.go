package repo

import (
	"slices"

	"github.com/shaiso/Herald/internal/domain"
)

// SortByDue упорядочивает claimed items по due time, при равенстве по ID.
// Используется всеми реализациями Store для порядка результата Claim.
func SortByDue(items []domain.ClaimedWorkItem) {
	slices.SortStableFunc(items, func(a, b domain.ClaimedWorkItem) int {
		if c := a.DueAt.Compare(b.DueAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
}

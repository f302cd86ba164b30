package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/Herald/internal/domain"
	"github.com/shaiso/Herald/internal/engine"
	"github.com/shaiso/Herald/internal/repo"
)

// StoreFunc открывает хранилище для команды.
type StoreFunc func(ctx context.Context) (repo.Store, error)

// NewItemsCmd создаёт группу команд для просмотра и отмены work items.
func NewItemsCmd(storeFn StoreFunc, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Inspect and cancel work items",
	}

	cmd.AddCommand(
		newItemsListCmd(storeFn, outputFn),
		newItemsShowCmd(storeFn, outputFn),
		newItemsCancelCmd(storeFn, outputFn),
		newItemsStatsCmd(storeFn, outputFn),
	)

	return cmd
}

func newItemsListCmd(storeFn StoreFunc, outputFn func() *Output) *cobra.Command {
	var ownerKind, ownerID string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List work items of an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseOwner(ownerKind, ownerID)
			if err != nil {
				return err
			}
			store, err := storeFn(cmd.Context())
			if err != nil {
				return err
			}

			items, err := store.ListByOwner(cmd.Context(), owner)
			if err != nil {
				return err
			}

			headers := []string{"ID", "TIMING", "CHANNELS", "STATE", "ATTEMPTS", "STATUS", "CREATED"}
			rows := make([][]string, len(items))
			for i, item := range items {
				rows[i] = []string{
					item.ID.String(),
					formatTiming(item.Timing),
					formatChannels(item.Channels),
					string(item.State),
					strconv.Itoa(item.AttemptCount),
					string(item.AttemptStatus),
					formatTime(&item.CreatedAt),
				}
			}

			outputFn().Print(headers, rows, items)
			return nil
		},
	}

	cmd.Flags().StringVar(&ownerKind, "owner-kind", "", "Owner kind (event, follow_up)")
	cmd.Flags().StringVar(&ownerID, "owner-id", "", "Owner ID")
	_ = cmd.MarkFlagRequired("owner-kind")
	_ = cmd.MarkFlagRequired("owner-id")

	return cmd
}

func newItemsShowCmd(storeFn StoreFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show work item details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid work item id %q", args[0])
			}
			store, err := storeFn(cmd.Context())
			if err != nil {
				return err
			}

			item, err := findItem(cmd.Context(), store, id)
			if err != nil {
				return err
			}

			fields := [][2]string{
				{"ID", item.ID.String()},
				{"Owner", item.Owner.String()},
				{"Timing", formatTiming(item.Timing)},
				{"Channels", formatChannels(item.Channels)},
				{"State", string(item.State)},
				{"Claimed at", formatTime(item.ClaimedAt)},
				{"Attempts", strconv.Itoa(item.AttemptCount)},
				{"Attempted at", formatTime(item.AttemptedAt)},
				{"Attempt status", string(item.AttemptStatus)},
				{"Last error", item.LastError},
				{"Created", formatTime(&item.CreatedAt) + " by " + item.CreatedBy},
				{"Updated", formatTime(&item.UpdatedAt) + " by " + item.ModifiedBy},
			}
			outputFn().Detail(fields, item)
			return nil
		},
	}
}

func newItemsCancelCmd(storeFn StoreFunc, outputFn func() *Output) *cobra.Command {
	var actor string

	cmd := &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a work item that has not been attempted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid work item id %q", args[0])
			}
			store, err := storeFn(cmd.Context())
			if err != nil {
				return err
			}

			item, err := findItem(cmd.Context(), store, id)
			if err != nil {
				return err
			}

			eng, err := engine.New(engine.Config{Store: store, Kind: item.Owner.Kind})
			if err != nil {
				return err
			}
			if err := eng.Cancel(cmd.Context(), item.Owner, id, actor); err != nil {
				var terminal *domain.TerminalStateError
				if errors.As(err, &terminal) {
					return fmt.Errorf("work item %s was already attempted at %s", id, formatTime(terminal.AttemptedAt))
				}
				return err
			}

			outputFn().Success(fmt.Sprintf("Work item cancelled: %s", id))
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "herald-cli", "Actor recorded as modified_by")

	return cmd
}

func newItemsStatsCmd(storeFn StoreFunc, outputFn func() *Output) *cobra.Command {
	var kinds []string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show work item counts by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storeFn(cmd.Context())
			if err != nil {
				return err
			}

			type stat struct {
				Kind  domain.AnchorKind     `json:"kind"`
				State domain.LifecycleState `json:"state"`
				Count int                   `json:"count"`
			}
			var stats []stat
			for _, k := range kinds {
				kind := domain.AnchorKind(k)
				if !kind.Valid() {
					return fmt.Errorf("unknown owner kind %q", k)
				}
				counts, err := store.Stats(cmd.Context(), kind)
				if err != nil {
					return err
				}
				for state, n := range counts {
					stats = append(stats, stat{Kind: kind, State: state, Count: n})
				}
			}
			sort.Slice(stats, func(i, j int) bool {
				if stats[i].Kind != stats[j].Kind {
					return stats[i].Kind < stats[j].Kind
				}
				return stats[i].State < stats[j].State
			})

			headers := []string{"KIND", "STATE", "COUNT"}
			rows := make([][]string, len(stats))
			for i, s := range stats {
				rows[i] = []string{string(s.Kind), string(s.State), strconv.Itoa(s.Count)}
			}
			outputFn().Print(headers, rows, stats)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&kinds, "kind", []string{string(domain.AnchorKindEvent), string(domain.AnchorKindFollowUp)}, "Owner kinds")

	return cmd
}

func findItem(ctx context.Context, store repo.Store, id uuid.UUID) (*domain.WorkItem, error) {
	item, err := store.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("work item %s not found", id)
	}
	return item, err
}

func parseOwner(kind, id string) (domain.OwnerRef, error) {
	owner := domain.OwnerRef{Kind: domain.AnchorKind(kind)}
	if !owner.Kind.Valid() {
		return domain.OwnerRef{}, fmt.Errorf("unknown owner kind %q", kind)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return domain.OwnerRef{}, fmt.Errorf("invalid owner id %q", id)
	}
	owner.ID = parsed
	return owner, nil
}

func formatTiming(r domain.TimingRule) string {
	switch r.Kind {
	case domain.TimingRelative:
		return fmt.Sprintf("%dm before", r.OffsetMinutes)
	case domain.TimingAbsolute:
		return "at " + formatTime(r.At)
	default:
		return string(r.Kind)
	}
}

func formatChannels(chs []domain.Channel) string {
	s := ""
	for i, ch := range chs {
		if i > 0 {
			s += ","
		}
		s += string(ch)
	}
	return s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

package registry

import (
	"cmp"
	"context"
	"slices"

	"github.com/ethereum/go-ethereum/common"
)

// ChangeLog walks the registry's previousChange pointers back from the latest
// change of identity and returns its whole history, oldest first.
//
// Every step must move to a strictly older block, so a cyclic or stale pointer
// ends the walk instead of looping.
func (c *Client) ChangeLog(ctx context.Context, identity common.Address) (*ChangeLog, error) {
	pointer, err := c.Changed(ctx, identity)
	if err != nil {
		return nil, err
	}

	controller := identity
	if pointer != 0 {
		controller, err = c.IdentityController(ctx, identity)
		if err != nil {
			return nil, err
		}
	}

	var history []ChangeEvent
	for pointer != 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		events, err := c.ChangesAt(ctx, identity, pointer)
		if err != nil {
			return nil, err
		}

		slices.SortStableFunc(events, func(a, b ChangeEvent) int {
			return cmp.Compare(a.LogIndex, b.LogIndex)
		})

		var next uint64
		for _, ev := range events {
			if ev.PreviousChange < pointer {
				next = ev.PreviousChange
			}
		}

		c.logger.Debug("walked change block", "identity", identity.Hex(), "block", pointer, "events", len(events), "next", next)

		history = append(events, history...)
		pointer = next
	}

	return &ChangeLog{
		Controller: controller,
		History:    history,
	}, nil
}

// Package stage reveals the tiers of a stage group in order as earlier
// tiers sell out.
package stage

import (
	"context"
	"fmt"
	"sort"

	"boxoffice/entity"
	"boxoffice/event"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"golang.org/x/sync/singleflight"
)

type TierRepo interface {
	TiersInStageGroup(ctx context.Context, stageGroup string) ([]entity.TicketTier, error)
	RevealTiers(ctx context.Context, tierIDs []string) error
}

type Publisher interface {
	Publish(ctx context.Context, event any) error
}

// Plan returns the IDs of the tiers that should be visible and hidden. Tiers
// are ordered by stage order then ID; the first tier that is not sold out is
// the frontier. It and every tier before it are visible.
func Plan(tiers []entity.TicketTier) (visible, hidden []string) {
	ordered := make([]entity.TicketTier, len(tiers))
	copy(ordered, tiers)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].StageOrder != ordered[j].StageOrder {
			return ordered[i].StageOrder < ordered[j].StageOrder
		}
		return ordered[i].ID < ordered[j].ID
	})

	frontierFound := false
	for _, t := range ordered {
		if frontierFound {
			hidden = append(hidden, t.ID)
			continue
		}
		visible = append(visible, t.ID)
		if !t.SoldOut() {
			frontierFound = true
		}
	}

	return visible, hidden
}

type Controller struct {
	tiers     TierRepo
	publisher Publisher
	inflight  singleflight.Group
}

func NewController(t TierRepo, p Publisher) *Controller {
	return &Controller{
		tiers:     t,
		publisher: p,
	}
}

// ReevaluateStage recomputes the visible tiers of stageGroup and reveals
// those still hidden. It never hides a visible tier, so running it
// redundantly or out of order is safe. It returns the revealed tier IDs.
func (c *Controller) ReevaluateStage(ctx context.Context, stageGroup string) ([]string, error) {
	if stageGroup == "" {
		return nil, nil
	}

	revealed, err, _ := c.inflight.Do(stageGroup, func() (any, error) {
		return c.reevaluate(ctx, stageGroup)
	})
	if err != nil {
		return nil, err
	}

	return revealed.([]string), nil
}

func (c *Controller) reevaluate(ctx context.Context, stageGroup string) ([]string, error) {
	tiers, err := c.tiers.TiersInStageGroup(ctx, stageGroup)
	if err != nil {
		return nil, fmt.Errorf("loading tiers of stage group %s: %w", stageGroup, err)
	}

	hiddenNow := make(map[string]bool, len(tiers))
	for _, t := range tiers {
		hiddenNow[t.ID] = t.Hidden
	}

	visible, _ := Plan(tiers)

	var reveal []string
	for _, id := range visible {
		if hiddenNow[id] {
			reveal = append(reveal, id)
		}
	}
	if len(reveal) == 0 {
		return []string{}, nil
	}

	if err := c.tiers.RevealTiers(ctx, reveal); err != nil {
		return nil, fmt.Errorf("revealing tiers: %w", err)
	}

	logger := log.FromContext(ctx).WithField("stage_group", stageGroup)
	for _, id := range reveal {
		logger.WithField("tier_id", id).Info("Tier revealed")

		if err := c.publisher.Publish(ctx, event.NewStageRevealed(stageGroup, id)); err != nil {
			logger.WithError(err).WithField("tier_id", id).Error("Failed to publish stage revealed event")
		}
	}

	return reveal, nil
}

package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ordelio/go-ordelio/pkg/call"
	"github.com/ordelio/go-ordelio/pkg/prompt"
)

// Resolver builds the per-call context from the database: restaurant
// lookup by called number, then menu, zones and hours assembled into the
// system prompt.
type Resolver struct {
	store *Store
}

// NewResolver creates a database-backed call resolver.
func NewResolver(s *Store) *Resolver {
	return &Resolver{store: s}
}

// Resolve implements the coordinator's resolver interface.
func (r *Resolver) Resolve(ctx context.Context, calledNumber string) (*call.CallContext, error) {
	restaurant, err := r.store.RestaurantByPhone(ctx, calledNumber)
	if err != nil {
		return nil, err
	}

	menu, err := r.store.Menu(ctx, restaurant.ID)
	if err != nil {
		return nil, err
	}
	zones, err := r.store.DeliveryZones(ctx, restaurant.ID)
	if err != nil {
		return nil, err
	}
	hours, err := r.store.OpeningHours(ctx, restaurant.ID)
	if err != nil {
		return nil, err
	}

	r.store.logger.Debug("call context loaded",
		"restaurant", restaurant.Name,
		"menu_items", len(menu),
		"zones", len(zones),
	)

	return &call.CallContext{
		Restaurant: restaurant,
		System:     prompt.Build(restaurant, menu, zones, hours, time.Now()),
	}, nil
}

// RecordCall saves a finished call as an open order carrying the full
// transcript, so the restaurant can review what was discussed.
func (s *Store) RecordCall(ctx context.Context, sess *call.Session) error {
	_, err := s.CreateOrder(ctx, &Order{
		RestaurantID: sess.RestaurantID,
		CallSid:      sess.CallSid,
		Type:         "phone",
		Items:        json.RawMessage(`[]`),
		Transcript:   sess.History(0),
	})
	return err
}

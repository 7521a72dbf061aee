package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ordelio/go-ordelio/pkg/llm"
	"github.com/ordelio/go-ordelio/pkg/prompt"
)

// ErrNotFound indicates the requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// RestaurantByPhone returns the active restaurant routed to the given
// number. ErrNotFound when no active restaurant owns the number.
func (s *Store) RestaurantByPhone(ctx context.Context, phone string) (*prompt.Restaurant, error) {
	var r prompt.Restaurant
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, phone, owner_phone, COALESCE(email, ''),
		       address, city, COALESCE(custom_prompt, ''), is_active, created_at
		FROM restaurants
		WHERE phone = $1 AND is_active`, phone,
	).Scan(&r.ID, &r.Name, &r.Phone, &r.OwnerPhone, &r.Email,
		&r.Address, &r.City, &r.CustomPrompt, &r.Active, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("restaurant for %s: %w", phone, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query restaurant: %w", err)
	}
	return &r, nil
}

// Menu returns the available items of a restaurant.
func (s *Store) Menu(ctx context.Context, restaurantID string) ([]prompt.MenuItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, restaurant_id, name, category, prices, COALESCE(description, ''), available
		FROM menu_items
		WHERE restaurant_id = $1 AND available`, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("query menu: %w", err)
	}
	defer rows.Close()

	var menu []prompt.MenuItem
	for rows.Next() {
		var item prompt.MenuItem
		var prices []byte
		if err := rows.Scan(&item.ID, &item.RestaurantID, &item.Name,
			&item.Category, &prices, &item.Description, &item.Available); err != nil {
			return nil, fmt.Errorf("scan menu item: %w", err)
		}
		var p struct {
			Senior *float64 `json:"senior"`
			Mega   *float64 `json:"mega"`
			Unique *float64 `json:"unique"`
		}
		if err := json.Unmarshal(prices, &p); err != nil {
			return nil, fmt.Errorf("decode prices for %s: %w", item.ID, err)
		}
		item.Prices = prompt.MenuPrices{Senior: p.Senior, Mega: p.Mega, Unique: p.Unique}
		menu = append(menu, item)
	}
	return menu, rows.Err()
}

// DeliveryZones returns the delivery zones of a restaurant.
func (s *Store) DeliveryZones(ctx context.Context, restaurantID string) ([]prompt.DeliveryZone, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, restaurant_id, city, postal_code, streets, min_order_amount, delivery_fee
		FROM delivery_zones
		WHERE restaurant_id = $1`, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("query delivery zones: %w", err)
	}
	defer rows.Close()

	var zones []prompt.DeliveryZone
	for rows.Next() {
		var z prompt.DeliveryZone
		var streets []byte
		if err := rows.Scan(&z.ID, &z.RestaurantID, &z.City, &z.PostalCode,
			&streets, &z.MinOrder, &z.DeliveryFee); err != nil {
			return nil, fmt.Errorf("scan delivery zone: %w", err)
		}
		if err := json.Unmarshal(streets, &z.Streets); err != nil {
			return nil, fmt.Errorf("decode streets for %s: %w", z.ID, err)
		}
		zones = append(zones, z)
	}
	return zones, rows.Err()
}

// OpeningHours returns the weekly schedule of a restaurant.
func (s *Store) OpeningHours(ctx context.Context, restaurantID string) ([]prompt.OpeningHour, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, restaurant_id, day_of_week, open_time, close_time, is_closed
		FROM opening_hours
		WHERE restaurant_id = $1
		ORDER BY day_of_week`, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("query opening hours: %w", err)
	}
	defer rows.Close()

	var hours []prompt.OpeningHour
	for rows.Next() {
		var h prompt.OpeningHour
		if err := rows.Scan(&h.ID, &h.RestaurantID, &h.Weekday,
			&h.OpenTime, &h.CloseTime, &h.Closed); err != nil {
			return nil, fmt.Errorf("scan opening hour: %w", err)
		}
		hours = append(hours, h)
	}
	return hours, rows.Err()
}

// RestaurantSummary is the monitor view of a restaurant.
type RestaurantSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	City   string `json:"city"`
	Phone  string `json:"phone"`
	Active bool   `json:"active"`
}

// Restaurants lists all restaurants for the monitor endpoint.
func (s *Store) Restaurants(ctx context.Context) ([]RestaurantSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, city, phone, is_active
		FROM restaurants
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query restaurants: %w", err)
	}
	defer rows.Close()

	var out []RestaurantSummary
	for rows.Next() {
		var r RestaurantSummary
		if err := rows.Scan(&r.ID, &r.Name, &r.City, &r.Phone, &r.Active); err != nil {
			return nil, fmt.Errorf("scan restaurant: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ActiveRestaurantCount returns how many restaurants can take calls,
// for the health endpoint.
func (s *Store) ActiveRestaurantCount(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM restaurants WHERE is_active`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count restaurants: %w", err)
	}
	return n, nil
}

// Order is a finalized phone order with its conversation transcript.
type Order struct {
	ID            string
	RestaurantID  string
	CallSid       string
	CustomerPhone string
	CustomerName  string
	Type          string // takeaway or delivery
	Items         json.RawMessage
	Total         float64
	Address       json.RawMessage
	Status        string
	Transcript    []llm.Exchange
	CreatedAt     time.Time
}

// CreateOrder persists an order. A missing ID gets a generated one,
// which is also returned.
func (s *Store) CreateOrder(ctx context.Context, o *Order) (string, error) {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}

	transcript, err := json.Marshal(o.Transcript)
	if err != nil {
		return "", fmt.Errorf("encode transcript: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO orders
		(id, restaurant_id, call_sid, customer_phone, customer_name,
		 order_type, items, total_amount, delivery_address, status, transcript)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		o.ID, o.RestaurantID, o.CallSid, o.CustomerPhone, o.CustomerName,
		o.Type, o.Items, o.Total, o.Address, orderStatus(o.Status), transcript)
	if err != nil {
		return "", fmt.Errorf("insert order: %w", err)
	}
	return o.ID, nil
}

func orderStatus(status string) string {
	if status == "" {
		return "in_progress"
	}
	return status
}

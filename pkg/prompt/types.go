// Package prompt builds the per-restaurant context handed to the
// completion provider at the start of every call.
package prompt

import "time"

// Restaurant is the restaurant record a call is routed to.
type Restaurant struct {
	ID         string
	Name       string
	Phone      string // routing key: the number callers dial
	OwnerPhone string
	Email      string
	Address    string
	City       string

	// CustomPrompt holds restaurant-specific instructions for the
	// assistant. Empty means the generic courteous fallback applies.
	CustomPrompt string

	Active    bool
	CreatedAt time.Time
}

// MenuPrices holds the price tiers of a menu item. Items are either
// single-priced (Unique) or two-tier by size (Senior/Mega). Nil means the
// tier does not apply.
type MenuPrices struct {
	Senior *float64
	Mega   *float64
	Unique *float64
}

// MenuItem is one orderable item.
type MenuItem struct {
	ID           string
	RestaurantID string
	Name         string
	Category     string // pizza, boisson, dessert, accompagnement
	Prices       MenuPrices
	Description  string
	Available    bool
}

// Priced reports whether the item carries at least one usable price.
// Unpriced items are skipped in the context rather than failing the build.
func (m *MenuItem) Priced() bool {
	return m.Prices.Unique != nil || m.Prices.Senior != nil || m.Prices.Mega != nil
}

// DeliveryZone is one area the restaurant delivers to.
type DeliveryZone struct {
	ID           string
	RestaurantID string
	City         string
	PostalCode   string
	Streets      []string
	MinOrder     float64
	DeliveryFee  float64
}

// OpeningHour is one weekly opening window.
// Weekday follows the schedule convention: 0=Monday .. 6=Sunday.
type OpeningHour struct {
	ID           string
	RestaurantID string
	Weekday      int
	OpenTime     string // "HH:MM"
	CloseTime    string // "HH:MM"
	Closed       bool
}

// scheduleWeekday converts a time.Weekday (Sunday=0) to the schedule
// convention (Monday=0).
func scheduleWeekday(d time.Weekday) int {
	return (int(d) + 6) % 7
}

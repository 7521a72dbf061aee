package prompt

import (
	"fmt"
	"strings"
	"time"
)

// fallbackInstructions applies when a restaurant has no custom prompt.
const fallbackInstructions = "Tu prends les commandes avec courtoisie et efficacité. " +
	"Tes réponses sont courtes et adaptées à une conversation téléphonique. " +
	"Tu confirmes toujours la commande avant de conclure."

// Build assembles the system context for one call from the restaurant
// record, its menu, delivery zones and opening hours. The result is
// deterministic for a fixed snapshot: menu categories appear in first-seen
// order and items keep their input order. now selects today's hours.
func Build(r *Restaurant, menu []MenuItem, zones []DeliveryZone, hours []OpeningHour, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Tu es l'assistant téléphonique du restaurant %s", r.Name)
	if r.City != "" {
		fmt.Fprintf(&b, " à %s", r.City)
	}
	b.WriteString(".\n\n")

	if strings.TrimSpace(r.CustomPrompt) != "" {
		b.WriteString(strings.TrimSpace(r.CustomPrompt))
	} else {
		b.WriteString(fallbackInstructions)
	}
	b.WriteString("\n")

	writeMenu(&b, menu)
	writeZones(&b, zones)
	writeHours(&b, hours, now)

	return b.String()
}

// writeMenu renders available, priced items grouped by category.
func writeMenu(b *strings.Builder, menu []MenuItem) {
	var order []string
	byCategory := make(map[string][]MenuItem)
	for _, item := range menu {
		if !item.Available || !item.Priced() {
			continue
		}
		if _, ok := byCategory[item.Category]; !ok {
			order = append(order, item.Category)
		}
		byCategory[item.Category] = append(byCategory[item.Category], item)
	}

	if len(order) == 0 {
		return
	}

	b.WriteString("\n## MENU\n")
	for _, cat := range order {
		fmt.Fprintf(b, "\n### %s\n", strings.ToUpper(cat))
		for _, item := range byCategory[cat] {
			fmt.Fprintf(b, "- %s : %s", item.Name, formatPrices(item.Prices))
			if item.Description != "" {
				fmt.Fprintf(b, " (%s)", item.Description)
			}
			b.WriteString("\n")
		}
	}
}

// formatPrices renders either the single price or the size tiers.
func formatPrices(p MenuPrices) string {
	if p.Unique != nil {
		return formatEuro(*p.Unique)
	}
	var parts []string
	if p.Senior != nil {
		parts = append(parts, "Senior "+formatEuro(*p.Senior))
	}
	if p.Mega != nil {
		parts = append(parts, "Mega "+formatEuro(*p.Mega))
	}
	return strings.Join(parts, " / ")
}

func formatEuro(v float64) string {
	return strings.Replace(fmt.Sprintf("%.2f€", v), ".00€", "€", 1)
}

func writeZones(b *strings.Builder, zones []DeliveryZone) {
	if len(zones) == 0 {
		b.WriteString("\nPas de livraison : commandes à emporter uniquement.\n")
		return
	}

	b.WriteString("\n## ZONES DE LIVRAISON\n")
	for _, z := range zones {
		fmt.Fprintf(b, "- %s (%s) : minimum %s", z.City, z.PostalCode, formatEuro(z.MinOrder))
		if z.DeliveryFee > 0 {
			fmt.Fprintf(b, ", frais %s", formatEuro(z.DeliveryFee))
		}
		b.WriteString("\n")
	}
}

// writeHours renders today's opening window only. Missing or closed days
// fall back to an explicit closed notice so the assistant never invents
// hours.
func writeHours(b *strings.Builder, hours []OpeningHour, now time.Time) {
	today := scheduleWeekday(now.Weekday())

	b.WriteString("\n## HORAIRES\n")
	for _, h := range hours {
		if h.Weekday != today {
			continue
		}
		if h.Closed {
			break
		}
		fmt.Fprintf(b, "Aujourd'hui : ouvert de %s à %s\n", h.OpenTime, h.CloseTime)
		return
	}
	b.WriteString("Aujourd'hui : fermé\n")
}

package marketplace

import (
	"regexp"
	"strings"
)

const maxTitleLen = 200

var (
	controlChars = regexp.MustCompile(`[\x00-\x1F\x7F\x{200B}-\x{200F}\x{FEFF}]`)
	whitespace   = regexp.MustCompile(`\s+`)
)

// SanitizeTitle strips control and zero-width characters, collapses
// whitespace and caps the result at 200 characters.
func SanitizeTitle(raw string) string {
	clean := controlChars.ReplaceAllString(raw, "")
	clean = strings.TrimSpace(whitespace.ReplaceAllString(clean, " "))
	if r := []rune(clean); len(r) > maxTitleLen {
		clean = string(r[:maxTitleLen])
	}
	return clean
}

// pickupCities are the towns close enough for a local pickup.
var pickupCities = []string{"miramar", "miami", "pembroke", "hollywood", "fort lauderdale", "davie"}

// cityDistances is the rough drive in miles from the operator's base.
var cityDistances = []struct {
	city  string
	miles float64
}{
	{"miramar", 0},
	{"pembroke", 3},
	{"hollywood", 5},
	{"davie", 7},
	{"fort lauderdale", 12},
	{"miami", 15},
	{"doral", 10},
	{"hialeah", 12},
	{"boca raton", 30},
	{"west palm", 55},
}

// IsLocalPickup reports whether the item's city is in pickup range.
func IsLocalPickup(city string) bool {
	c := strings.ToLower(city)
	for _, p := range pickupCities {
		if strings.Contains(c, p) {
			return true
		}
	}
	return false
}

// EstimateDistance returns the miles to city, or nil when it is unknown.
func EstimateDistance(city string) *float64 {
	c := strings.ToLower(city)
	for _, d := range cityDistances {
		if strings.Contains(c, d.city) {
			miles := d.miles
			return &miles
		}
	}
	return nil
}

package stream

import (
	"fmt"
	"hash/fnv"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultGiftPoints maps gift names to battle points. Gifts not listed fall
// back to a value proportional to their coin cost.
var defaultGiftPoints = map[string]int{
	"Rose":           1,
	"TikTok":         1,
	"Panda":          5,
	"Ice Cream Cone": 5,
	"Finger Heart":   5,
	"Sunglasses":     10,
	"Heart Me":       10,
	"Rainbow Puke":   50,
	"Drama Queen":    100,
	"Interstellar":   100,
	"Lion":           500,
	"Universe":       1000,
}

// coinsPerPoint is the fallback rate: 1 point per 100 coins, minimum 1.
const coinsPerPoint = 100

// PointsTable resolves gifts to battle points.
type PointsTable struct {
	gifts map[string]int
}

// NewPointsTable returns the built-in gift table.
func NewPointsTable() *PointsTable {
	return &PointsTable{gifts: defaultGiftPoints}
}

// LoadPointsTable reads a YAML gift table, overlaying the defaults.
func LoadPointsTable(path string) (*PointsTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read gift points file: %w", err)
	}

	var overrides map[string]int
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse gift points file: %w", err)
	}

	gifts := make(map[string]int, len(defaultGiftPoints)+len(overrides))
	for name, pts := range defaultGiftPoints {
		gifts[name] = pts
	}
	for name, pts := range overrides {
		gifts[name] = pts
	}
	return &PointsTable{gifts: gifts}, nil
}

// GiftPoints converts a gift into battle points. Unknown gifts award
// max(1, coins/100).
func (p *PointsTable) GiftPoints(name string, coins int) int {
	if pts, ok := p.gifts[name]; ok {
		return pts
	}
	if pts := coins / coinsPerPoint; pts > 1 {
		return pts
	}
	return 1
}

// DetectCountry finds the first battle country mentioned in a comment,
// case-insensitively. Empty string when none is mentioned.
func DetectCountry(comment string, countries []string) string {
	lower := strings.ToLower(comment)
	for _, country := range countries {
		if strings.Contains(lower, strings.ToLower(country)) {
			return country
		}
	}
	return ""
}

// CountryForUser deterministically assigns a user to one of the battle
// countries by hashing the user id. Stable across events, so a viewer's
// gifts always score for the same side within a battle. Not cryptographic,
// just a uniform stable spread.
func CountryForUser(userID string, countries []string) string {
	if len(countries) == 0 {
		return ""
	}
	h := fnv.New32a()
	h.Write([]byte(userID))
	return countries[int(h.Sum32())%len(countries)]
}

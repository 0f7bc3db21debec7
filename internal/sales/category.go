package sales

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Category is the ordinal business label derived from cluster revenue rank.
type Category int

const (
	Underperforming Category = iota
	Performing
	TopPerforming
)

// Categories lists all categories in rank order.
var Categories = []Category{Underperforming, Performing, TopPerforming}

func (c Category) String() string {
	switch c {
	case Underperforming:
		return "Underperforming"
	case Performing:
		return "Performing"
	case TopPerforming:
		return "TopPerforming"
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// Label returns the business-facing label shown to store operators.
func (c Category) Label() string {
	switch c {
	case Underperforming:
		return "Kurang Laris"
	case Performing:
		return "Laris"
	case TopPerforming:
		return "Sangat Laris"
	}
	return ""
}

// Valid reports whether c is one of the three defined categories.
func (c Category) Valid() bool {
	return c >= Underperforming && c <= TopPerforming
}

// ParseCategory accepts either the identifier or the business label, case-insensitively.
func ParseCategory(s string) (Category, error) {
	t := strings.TrimSpace(s)
	for _, c := range Categories {
		if strings.EqualFold(t, c.String()) || strings.EqualFold(t, c.Label()) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("sales: unknown category %q", s)
}

func (c Category) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Category) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseCategory(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

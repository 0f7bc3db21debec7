package insights

import "github.com/vinodismyname/mcpsales/internal/sales"

const (
	adviceTop = "maintain stock and routine promotion"
	adviceMid = "increase promotion toward top-performing"
	adviceLow = "evaluate product or create bundling"
)

// Recommend returns the fixed strategy for a category.
func Recommend(c sales.Category) string {
	switch c {
	case sales.TopPerforming:
		return adviceTop
	case sales.Performing:
		return adviceMid
	default:
		return adviceLow
	}
}

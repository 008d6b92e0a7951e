package viewmodel

// Category is the visual treatment of an order status.
type Category string

const (
	CategoryPositive Category = "positive"
	CategoryNegative Category = "negative"
	CategoryNeutral  Category = "neutral"
)

// Statuses are open-ended; anything not listed here is neutral.
var statusCategories = map[string]Category{
	"completed": CategoryPositive,
	"cancelled": CategoryNegative,
}

func CategoryFor(status string) Category {
	if c, ok := statusCategories[status]; ok {
		return c
	}
	return CategoryNeutral
}

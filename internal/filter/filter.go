// Package filter narrows customer lists by free-text query.
//
// Matching is a linear scan over the in-memory list, which is fine for the
// page-sized lists the directory returns. Large datasets should be searched
// server-side through the query parameters the client forwards.
package filter

import (
	"slices"
	"strings"

	"github.com/jogardn/customer-directory/internal/viewmodel"
)

// FilterCustomers keeps the customers whose first name, last name or email
// contains query, ignoring case. The input is never modified and the result
// keeps input order. An empty query returns a copy of the whole list.
func FilterCustomers(customers []viewmodel.CustomerSummary, query string) []viewmodel.CustomerSummary {
	if query == "" {
		return slices.Clone(customers)
	}

	needle := strings.ToLower(query)
	matched := make([]viewmodel.CustomerSummary, 0, len(customers))
	for _, c := range customers {
		if Matches(c, needle) {
			matched = append(matched, c)
		}
	}
	return matched
}

// Matches reports whether c matches an already lower-cased needle.
func Matches(c viewmodel.CustomerSummary, needle string) bool {
	return strings.Contains(strings.ToLower(c.FirstName), needle) ||
		strings.Contains(strings.ToLower(c.LastName), needle) ||
		strings.Contains(strings.ToLower(c.Email), needle)
}

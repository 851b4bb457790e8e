// Package team finds the competitor row that represents the user's own entry.
package team

import (
	"strconv"
	"strings"

	"github.com/samber/lo"

	"live-timing/internal/models"
)

// Resolve returns the first competitor in list order matching token under the
// given search type. An empty token resolves to the leading competitor. No
// match is a normal outcome reported through the boolean.
func Resolve(competitors []models.Competitor, token string, searchType models.SearchType) (models.Competitor, bool) {
	if len(competitors) == 0 {
		return models.Competitor{}, false
	}

	needle := strings.ToLower(strings.TrimSpace(token))
	if needle == "" {
		return competitors[0], true
	}

	return lo.Find(competitors, matcher(needle, searchType))
}

func matcher(needle string, searchType models.SearchType) func(models.Competitor) bool {
	switch searchType {
	case models.SearchKart:
		return func(c models.Competitor) bool { return kartMatches(c.KartNumber, needle) }
	case models.SearchDriver:
		return func(c models.Competitor) bool { return nameMatches(c, needle) }
	case models.SearchTeam:
		return func(c models.Competitor) bool { return contains(c.Team, needle) }
	default:
		return func(c models.Competitor) bool {
			return nameMatches(c, needle) || contains(c.Team, needle) || kartMatches(c.KartNumber, needle)
		}
	}
}

func nameMatches(c models.Competitor, needle string) bool {
	return contains(c.DriverName, needle) || contains(c.FirstName, needle) || contains(c.LastName, needle)
}

// kartMatches compares kart numbers exactly or as integers, so "07" and "7"
// are the same kart.
func kartMatches(kart, needle string) bool {
	kart = strings.ToLower(strings.TrimSpace(kart))
	if kart == "" {
		return false
	}
	if kart == needle {
		return true
	}
	a, errA := strconv.Atoi(kart)
	b, errB := strconv.Atoi(needle)
	return errA == nil && errB == nil && a == b
}

func contains(haystack, needle string) bool {
	return haystack != "" && strings.Contains(strings.ToLower(haystack), needle)
}

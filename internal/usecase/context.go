package usecase

import (
	"fmt"
	"slices"
	"strings"
)

// HistoryOrder controls how recalled history lines are laid out.
type HistoryOrder string

const (
	// OrderRecentFirst joins lines in the order the store returns them,
	// newest first.
	OrderRecentFirst HistoryOrder = "recent_first"
	// OrderChronological joins lines oldest first.
	OrderChronological HistoryOrder = "chronological"
)

const (
	contextWindow        = 5
	firstContactLine     = "First message from user"
	currentMessagePrefix = "User: "
)

// ParseHistoryOrder maps a configuration value to a HistoryOrder.
// An empty value selects OrderRecentFirst.
func ParseHistoryOrder(s string) (HistoryOrder, error) {
	switch o := HistoryOrder(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return OrderRecentFirst, nil
	case OrderRecentFirst, OrderChronological:
		return o, nil
	default:
		return "", fmt.Errorf("usecase: unknown history order %q", s)
	}
}

// buildContext renders recalled history plus the current message.
// history is newest first, as returned by the store. An empty history is
// replaced by a single placeholder line.
func buildContext(history []string, text string, order HistoryOrder) string {
	lines := slices.Clone(history)
	if len(lines) == 0 {
		lines = []string{firstContactLine}
	}
	if order == OrderChronological {
		slices.Reverse(lines)
	}
	return strings.Join(lines, "\n") + "\n" + currentMessagePrefix + text
}

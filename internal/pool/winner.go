package pool

import "github.com/alanyoungcy/yieldbet/internal/domain"

// closest returns the ticket whose guess is nearest to value. tickets must be
// in ascending id order and non-empty; the first of equally near tickets wins.
func closest(tickets []domain.Ticket, value int64) domain.Ticket {
	best := tickets[0]
	bestDist := distance(best.Guess, value)
	for _, t := range tickets[1:] {
		if d := distance(t.Guess, value); d < bestDist {
			best, bestDist = t, d
		}
	}
	return best
}

// distance is |a-b| for non-negative a and b.
func distance(a, b int64) uint64 {
	if a >= b {
		return uint64(a - b)
	}
	return uint64(b - a)
}

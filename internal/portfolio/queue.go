package portfolio

import "tradegovernor/internal/domain"

// positionQueue is an ordered FIFO queue of open lots for one symbol.
// Lots are appended on open and popped oldest-first on close, making the
// "oldest position closes first" rule a property of the type rather than a
// convention on a raw slice.
type positionQueue struct {
	lots []*domain.OpenPosition
}

// push appends a lot to the back of the queue.
func (q *positionQueue) push(p *domain.OpenPosition) {
	q.lots = append(q.lots, p)
}

// popOldest removes and returns the front (oldest) lot.
// Returns nil when the queue is empty.
func (q *positionQueue) popOldest() *domain.OpenPosition {
	if len(q.lots) == 0 {
		return nil
	}
	p := q.lots[0]
	q.lots = q.lots[1:]
	return p
}

// peekOldest returns the front lot without removing it.
func (q *positionQueue) peekOldest() *domain.OpenPosition {
	if len(q.lots) == 0 {
		return nil
	}
	return q.lots[0]
}

func (q *positionQueue) len() int { return len(q.lots) }

func (q *positionQueue) empty() bool { return len(q.lots) == 0 }

package domain

import (
	"errors"
	"fmt"
)

// CardType is the learning stage of a card.
type CardType int

const (
	TypeNew CardType = iota
	TypeLearning
	TypeReview
	TypeRelearning
)

func (t CardType) String() string {
	switch t {
	case TypeNew:
		return "new"
	case TypeLearning:
		return "learning"
	case TypeReview:
		return "review"
	case TypeRelearning:
		return "relearning"
	}
	return fmt.Sprintf("type(%d)", int(t))
}

// Queue is where the scheduler currently draws a card from. Negative queues
// take the card out of rotation.
type Queue int

const (
	QueueSchedBuried Queue = -3
	QueueUserBuried  Queue = -2
	QueueSuspended   Queue = -1
	QueueNew         Queue = 0
	QueueLearning    Queue = 1
	QueueReview      Queue = 2
	QueueDayLearning Queue = 3
	QueuePreview     Queue = 4
)

// Parked reports whether the queue is suspended or buried.
func (q Queue) Parked() bool { return q < 0 }

// Buried reports whether the queue is one of the two buried queues.
func (q Queue) Buried() bool { return q == QueueUserBuried || q == QueueSchedBuried }

func (q Queue) String() string {
	switch q {
	case QueueSchedBuried:
		return "sched-buried"
	case QueueUserBuried:
		return "user-buried"
	case QueueSuspended:
		return "suspended"
	case QueueNew:
		return "new"
	case QueueLearning:
		return "learning"
	case QueueReview:
		return "review"
	case QueueDayLearning:
		return "day-learning"
	case QueuePreview:
		return "preview"
	}
	return fmt.Sprintf("queue(%d)", int(q))
}

// MaxDue bounds the stored due column.
const MaxDue int64 = 1 << 32

// learnTimestampFloor separates day numbers from unix timestamps in the due
// column of learning cards that have been parked.
const learnTimestampFloor = 1_000_000_000

var (
	ErrDueUnset    = errors.New("card due is unset")
	ErrDueOverflow = errors.New("card due does not fit in 32 bits")
	ErrDueMismatch = errors.New("card due kind does not match its queue")
)

// Due is the due column, typed by what it means for the card's queue.
type Due interface {
	Raw() int64
	due()
}

// NewPosition orders new cards: a note id or a running position.
type NewPosition int64

// DueDay is a day number relative to collection creation.
type DueDay int64

// DueAt is a unix timestamp in seconds, used by intraday learning.
type DueAt int64

func (d NewPosition) Raw() int64 { return int64(d) }
func (d DueDay) Raw() int64      { return int64(d) }
func (d DueAt) Raw() int64       { return int64(d) }

func (NewPosition) due() {}
func (DueDay) due()      {}
func (DueAt) due()       {}

// DueFromRow interprets a stored due value.
func DueFromRow(q Queue, t CardType, raw int64) Due {
	switch q {
	case QueueNew:
		return NewPosition(raw)
	case QueueLearning, QueuePreview:
		return DueAt(raw)
	case QueueReview, QueueDayLearning:
		return DueDay(raw)
	}
	// Parked cards keep the due of the queue they will return to.
	switch t {
	case TypeNew:
		return NewPosition(raw)
	case TypeReview:
		return DueDay(raw)
	}
	if raw > learnTimestampFloor {
		return DueAt(raw)
	}
	return DueDay(raw)
}

func dueMatches(q Queue, t CardType, d Due) bool {
	switch q {
	case QueueNew:
		_, ok := d.(NewPosition)
		return ok
	case QueueLearning, QueuePreview:
		_, ok := d.(DueAt)
		return ok
	case QueueReview, QueueDayLearning:
		_, ok := d.(DueDay)
		return ok
	}
	switch t {
	case TypeNew:
		_, ok := d.(NewPosition)
		return ok
	case TypeReview:
		_, ok := d.(DueDay)
		return ok
	}
	switch d.(type) {
	case DueAt, DueDay:
		return true
	}
	return false
}

// Left encodes learning steps: remaining steps overall and those that can be
// completed before the day cutoff.
type Left struct {
	Today     int
	Remaining int
}

// LeftFromRow splits the stored composite.
func LeftFromRow(raw int) Left {
	return Left{Today: raw / 1000, Remaining: raw % 1000}
}

// Raw is the stored composite.
func (l Left) Raw() int { return l.Today*1000 + l.Remaining }

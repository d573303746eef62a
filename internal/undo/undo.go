// Package undo keeps the bounded stack of reversible collection changes.
//
// An Action captures everything it needs to revert when it is created;
// callers snapshot cards and notes before mutating them and hand the
// snapshots to the action. Nothing may modify a snapshot afterwards.
package undo

import (
	"context"
	"errors"
	"fmt"
)

// DefaultLimit is how many actions are remembered.
const DefaultLimit = 20

// ErrEmpty is returned by Undo when there is nothing to undo.
var ErrEmpty = errors.New("nothing to undo")

// Kind identifies an undoable change.
type Kind int

const (
	Review Kind = iota
	SuspendCard
	SuspendCardMulti
	BuryCard
	BuryNote
	SuspendNote
	DeleteNote
	DeleteNoteMulti
	ChangeDeckMulti
	MarkNoteMulti
	RepositionRescheduleReset
)

var kindNames = map[Kind]string{
	Review:                    "Review",
	SuspendCard:               "Suspend Card",
	SuspendCardMulti:          "Suspend Cards",
	BuryCard:                  "Bury Card",
	BuryNote:                  "Bury Note",
	SuspendNote:               "Suspend Note",
	DeleteNote:                "Delete Note",
	DeleteNoteMulti:           "Delete Notes",
	ChangeDeckMulti:           "Change Deck",
	MarkNoteMulti:             "Mark Notes",
	RepositionRescheduleReset: "Reposition / Reschedule / Reset",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Result tells the reviewer what to show after an undo.
type Result struct {
	kind   resultKind
	cardID int64
}

type resultKind int

const (
	noReview resultKind = iota
	multiCard
	singleCard
)

var (
	// NoReview means reset and fetch a fresh card.
	NoReview = Result{kind: noReview}
	// MultiCard means several cards changed and none is to be shown.
	MultiCard = Result{kind: multiCard}
)

// Card asks for the card with id to be shown again.
func Card(id int64) Result {
	return Result{kind: singleCard, cardID: id}
}

// CardID returns the card to show, if the result names one.
func (r Result) CardID() (int64, bool) {
	return r.cardID, r.kind == singleCard
}

func (r Result) String() string {
	switch r.kind {
	case multiCard:
		return "multi-card"
	case singleCard:
		return fmt.Sprintf("card %d", r.cardID)
	}
	return "no-review"
}

// RevertFunc restores the collection to the state captured by the action.
type RevertFunc func(ctx context.Context) (Result, error)

// Action is one undoable change.
type Action struct {
	Kind   Kind
	revert RevertFunc
}

// NewAction pairs a kind with the function that reverts it.
func NewAction(kind Kind, revert RevertFunc) Action {
	return Action{Kind: kind, revert: revert}
}

// Name is the label shown for the action.
func (a Action) Name() string { return a.Kind.String() }

// Stack is a bounded LIFO of actions. The oldest action is dropped once the
// limit is exceeded. It is not safe for concurrent use.
type Stack struct {
	limit   int
	actions []Action
}

// NewStack returns a stack holding at most limit actions. A limit below one
// uses DefaultLimit.
func NewStack(limit int) *Stack {
	if limit < 1 {
		limit = DefaultLimit
	}
	return &Stack{limit: limit}
}

// Mark records a new action.
func (s *Stack) Mark(a Action) {
	s.actions = append(s.actions, a)
	if over := len(s.actions) - s.limit; over > 0 {
		s.actions = append(s.actions[:0:0], s.actions[over:]...)
	}
}

// Undo pops the newest action and reverts it. The action is gone even when
// reverting fails.
func (s *Stack) Undo(ctx context.Context) (Result, error) {
	a, ok := s.pop()
	if !ok {
		return NoReview, ErrEmpty
	}
	res, err := a.revert(ctx)
	if err != nil {
		return NoReview, fmt.Errorf("undo %s: %w", a.Name(), err)
	}
	return res, nil
}

func (s *Stack) pop() (Action, bool) {
	if len(s.actions) == 0 {
		return Action{}, false
	}
	a := s.actions[len(s.actions)-1]
	s.actions = s.actions[:len(s.actions)-1]
	return a, true
}

// Available reports whether there is anything to undo.
func (s *Stack) Available() bool { return len(s.actions) > 0 }

// Name is the label of the action Undo would revert, or "".
func (s *Stack) Name() string {
	a, ok := s.Peek()
	if !ok {
		return ""
	}
	return a.Name()
}

// Peek returns the newest action without removing it.
func (s *Stack) Peek() (Action, bool) {
	if len(s.actions) == 0 {
		return Action{}, false
	}
	return s.actions[len(s.actions)-1], true
}

// Clear forgets every action.
func (s *Stack) Clear() { s.actions = nil }

// Len is the number of remembered actions.
func (s *Stack) Len() int { return len(s.actions) }

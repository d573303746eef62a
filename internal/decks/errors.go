package decks

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("deck not found")
	ErrConfNotFound = errors.New("deck config not found")
	ErrDefaultConf  = errors.New("the default deck config cannot be removed")
)

// Reason says why a deck name was refused.
type Reason int

const (
	ReasonAlreadyExists Reason = iota + 1
	ReasonFilteredNoSubdecks
	ReasonInvalidName
)

func (r Reason) String() string {
	switch r {
	case ReasonAlreadyExists:
		return "already exists"
	case ReasonFilteredNoSubdecks:
		return "filtered decks cannot have subdecks"
	case ReasonInvalidName:
		return "invalid name"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// RenameError is returned when a deck cannot take a name.
type RenameError struct {
	Name   string
	Reason Reason
}

func (e *RenameError) Error() string {
	return fmt.Sprintf("deck %q: %s", e.Name, e.Reason)
}

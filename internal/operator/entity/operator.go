package entity

import (
	"errors"
	"fmt"
)

// Kind tags which identity table an operator lives in. Users and volunteers
// are disjoint identity spaces, so an ID is meaningless without its Kind.
type Kind string

const (
	KindUser      Kind = "user"
	KindVolunteer Kind = "volunteer"
)

var ErrUnknownKind = errors.New("unknown operator kind")

// ParseKind maps the wire form to a Kind. There is no fallback kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindUser:
		return KindUser, nil
	case KindVolunteer:
		return KindVolunteer, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Operator is the person driving a scanner.
type Operator struct {
	Kind Kind  `json:"type"`
	ID   int64 `json:"id"`
}

func (o Operator) String() string { return fmt.Sprintf("%s:%d", o.Kind, o.ID) }

// Valid reports whether o names a concrete identity.
func (o Operator) Valid() bool {
	return (o.Kind == KindUser || o.Kind == KindVolunteer) && o.ID > 0
}

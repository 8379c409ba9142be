package scantoken

import "github.com/golang-jwt/jwt/v5"

// Kind is the identity class encoded in a scan token.
type Kind string

const (
	KindParticipant Kind = "participant"
	KindStall       Kind = "stall"
)

// Identity is what a verified token vouches for.
type Identity struct {
	Kind      Kind
	SubjectID int64
	EventID   int64
}

// Claims is the signed payload carried by a QR scan token.
type Claims struct {
	Kind      Kind  `json:"knd"`
	SubjectID int64 `json:"sid"`
	EventID   int64 `json:"eid"`
	jwt.RegisteredClaims
}
